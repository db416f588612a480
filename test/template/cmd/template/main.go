package main

import (
	"fmt"
	"os"

	"github.com/palantir/batch-record-editor/pkg/batch/engine"
	"github.com/palantir/batch-record-editor/pkg/batch/instruction"
	"github.com/palantir/batch-record-editor/test/template/processor"
)

func main() {
	set, err := instruction.ParseText("=rank=$rand\n=suit=spades\n")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	card := processor.NewCard(1, 0)
	out, err := engine.New().Apply(card, set)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	rank, _ := card.Get("rank")
	suit, _ := card.Get("suit")
	fmt.Printf("%s: rank=%d suit=%d\n", out, rank.Int, suit.Int)
}
