package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/palantir/batch-record-editor/internal/app"
	"github.com/palantir/batch-record-editor/internal/version"
	"github.com/palantir/batch-record-editor/pkg/batch/core"
	"github.com/palantir/batch-record-editor/pkg/batch/instruction"
	"github.com/palantir/batch-record-editor/pkg/batch/io/local"
	"github.com/palantir/batch-record-editor/pkg/batch/schema"
	"github.com/palantir/batch-record-editor/pkg/batch/value"
)

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	case "version":
		_, _ = fmt.Fprintln(os.Stdout, version.String())
		return
	case "bulk":
		os.Exit(runBulk(ctx, os.Args[2:]))
	case "tree":
		os.Exit(runTree(ctx, os.Args[2:]))
	case "run":
		os.Exit(runJob(ctx, os.Args[2:]))
	case "attrs":
		os.Exit(runAttrs(os.Args[2:], os.Stdout))
	case "check":
		os.Exit(runCheck(os.Args[2:], os.Stdout))
	case "stub":
		os.Exit(runStub(os.Args[2:], os.Stdout))
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
}

// runFlags are shared by the bulk and tree commands.
type runFlags struct {
	instructions string
	allowEmpty   bool
	workers      int
	maxRetries   int
	rateLimitRPS float64
	seed         string
	logLevel     string
	logFormat    string
}

func (f *runFlags) register(fs *flag.FlagSet, env envConfig) {
	fs.StringVar(&f.instructions, "instructions", "", "Instruction file path, or - for stdin (required)")
	fs.BoolVar(&f.allowEmpty, "allow-empty", false, "Allow directives with an empty value")
	fs.IntVar(&f.workers, "workers", env.Workers, "Concurrent file workers in tree mode (env: WORKERS)")
	fs.IntVar(&f.maxRetries, "max-retries", env.MaxRetries, "Retries per file for transient IO failures (env: MAX_RETRIES)")
	fs.Float64Var(&f.rateLimitRPS, "rate-limit-rps", env.RateLimitRPS, "Files per second across workers, 0 disables (env: RATE_LIMIT_RPS)")
	fs.StringVar(&f.seed, "seed", env.Seed, "Seed for $rand and $shiny (env: BATCHEDIT_SEED)")
	fs.StringVar(&f.logLevel, "log-level", env.LogLevel, "debug, info, warn or error (env: LOG_LEVEL)")
	fs.StringVar(&f.logFormat, "log-format", env.LogFormat, "text or json (env: LOG_FORMAT)")
}

func (f *runFlags) request(mode core.Mode) (app.Request, error) {
	text, err := readInstructions(f.instructions)
	if err != nil {
		return app.Request{}, err
	}
	req := app.Request{
		Mode:         mode,
		Instructions: text,
		AllowEmpty:   f.allowEmpty,
		Workers:      f.workers,
		MaxRetries:   f.maxRetries,
		RateLimitRPS: f.rateLimitRPS,
	}
	if s := strings.TrimSpace(f.seed); s != "" {
		seed, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return app.Request{}, fmt.Errorf("invalid seed %q: %w", s, err)
		}
		req.Seed = &seed
	}
	return req, nil
}

func runBulk(ctx context.Context, args []string) int {
	env, err := loadEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}

	fs := flag.NewFlagSet("bulk", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var rf runFlags
	rf.register(fs, env)
	source := fs.String("source", "", "Box file or SQLite database holding the records (required)")
	format := fs.String("format", app.FormatBox, "Store format: box or sqlite")
	boxSchema := fs.String("schema", "pk7", "Record schema of a box file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *source == "" || rf.instructions == "" {
		_, _ = fmt.Fprintln(os.Stderr, "bulk requires --source and --instructions")
		return 2
	}

	req, err := rf.request(core.ModeBulk)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}
	store, closeFn, err := app.OpenStore(*format, *source, *boxSchema)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}
	defer func() {
		_ = closeFn()
	}()
	req.Store = store

	return execute(ctx, req, app.NewLogger(rf.logLevel, rf.logFormat, os.Stderr))
}

func runTree(ctx context.Context, args []string) int {
	env, err := loadEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}

	fs := flag.NewFlagSet("tree", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var rf runFlags
	rf.register(fs, env)
	source := fs.String("source", "", "Directory searched recursively for record files (required)")
	dest := fs.String("dest", "", "Directory receiving modified record files (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *source == "" || *dest == "" || rf.instructions == "" {
		_, _ = fmt.Fprintln(os.Stderr, "tree requires --source, --dest and --instructions")
		return 2
	}

	req, err := rf.request(core.ModeTree)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}
	req.Root = *source
	req.Destination = *dest

	return execute(ctx, req, app.NewLogger(rf.logLevel, rf.logFormat, os.Stderr))
}

func runJob(ctx context.Context, args []string) int {
	env, err := loadEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	jobPath := fs.String("job", "", "YAML job file (required)")
	logLevel := fs.String("log-level", env.LogLevel, "debug, info, warn or error (env: LOG_LEVEL)")
	logFormat := fs.String("log-format", env.LogFormat, "text or json (env: LOG_FORMAT)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *jobPath == "" {
		_, _ = fmt.Fprintln(os.Stderr, "run requires --job")
		return 2
	}

	job, err := app.LoadJob(*jobPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}
	if job.Workers == 0 {
		job.Workers = env.Workers
	}
	req, closeFn, err := job.Request()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}
	defer func() {
		_ = closeFn()
	}()

	return execute(ctx, req, app.NewLogger(*logLevel, *logFormat, os.Stderr))
}

func execute(ctx context.Context, req app.Request, logger *slog.Logger) int {
	runner := app.NewRunner(logger, schema.Default())
	run, err := runner.Start(ctx, req)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "setup error: %s\n", err)
		return 2
	}
	for range run.Progress() {
	}

	sum := run.Wait()
	if sum.Err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%s run failed: %s\n", req.Mode, sum.Err)
		return 1
	}
	_, _ = fmt.Fprintln(os.Stdout, sum.String())
	return 0
}

func runAttrs(args []string, w io.Writer) int {
	fs := flag.NewFlagSet("attrs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	group := fs.String("group", "any", "Selector group: all, any, or a schema name")
	op := fs.String("op", "", "Print instruction stubs with this prefix (. ! or =) instead of types")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	reg := schema.Default()
	idx, g, err := reg.GroupByName(*group)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}
	if *op != "" && len(*op) != 1 {
		_, _ = fmt.Fprintf(os.Stderr, "config error: --op must be one of . ! =\n")
		return 2
	}

	for _, name := range g.Attributes {
		if *op != "" {
			_, _ = fmt.Fprintln(w, instruction.Line(instruction.Op((*op)[0]), name))
			continue
		}
		f, err := reg.GroupAttributeType(idx, name)
		if err != nil {
			_, _ = fmt.Fprintf(w, "%s\t?\n", name)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", name, f.TypeName())
	}
	return 0
}

func runCheck(args []string, w io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	path := fs.String("instructions", "", "Instruction file path, or - for stdin (required)")
	group := fs.String("group", "any", "Selector group the attributes must belong to")
	allowEmpty := fs.Bool("allow-empty", false, "Allow directives with an empty value")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *path == "" {
		_, _ = fmt.Fprintln(os.Stderr, "check requires --instructions")
		return 2
	}

	text, err := readInstructions(*path)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}
	set, err := app.Prepare(text, *allowEmpty)
	if err != nil {
		_, _ = fmt.Fprintf(w, "invalid: %s\n", err)
		return 1
	}
	_, g, err := schema.Default().GroupByName(*group)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}

	unknown := 0
	for _, f := range set.Filters {
		if !g.Has(f.Attribute) {
			unknown++
			_, _ = fmt.Fprintf(w, "line %d: %s is not an attribute of %s\n", f.Line, f.Attribute, g.Name)
		}
	}
	for _, d := range set.Directives {
		if !g.Has(d.Attribute) {
			unknown++
			_, _ = fmt.Fprintf(w, "line %d: %s is not an attribute of %s\n", d.Line, d.Attribute, g.Name)
		}
	}
	if unknown > 0 {
		return 1
	}
	dynamic := 0
	for _, d := range set.Directives {
		if value.IsDynamic(d.Operand) {
			dynamic++
		}
	}
	_, _ = fmt.Fprintf(w, "ok: %d filters, %d directives, %d dynamic\n", len(set.Filters), len(set.Directives), dynamic)
	return 0
}

// runStub appends "<op><attr>=<value>" to an instruction file, creating it if needed.
func runStub(args []string, w io.Writer) int {
	fs := flag.NewFlagSet("stub", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	path := fs.String("instructions", "", "Instruction file to append to (required)")
	op := fs.String("op", "=", "Line prefix: . ! or =")
	attr := fs.String("attr", "", "Attribute name (required)")
	val := fs.String("value", "", "Operand; left empty for editing later")
	group := fs.String("group", "any", "Selector group the attribute must belong to")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *path == "" || *attr == "" {
		_, _ = fmt.Fprintln(os.Stderr, "stub requires --instructions and --attr")
		return 2
	}
	if len(*op) != 1 || !strings.Contains(".!=", *op) {
		_, _ = fmt.Fprintln(os.Stderr, "config error: --op must be one of . ! =")
		return 2
	}
	_, g, err := schema.Default().GroupByName(*group)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}
	if !g.Has(*attr) {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s is not an attribute of %s\n", *attr, g.Name)
		return 2
	}

	text, err := os.ReadFile(*path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}
	line := instruction.Line(instruction.Op((*op)[0]), *attr) + *val
	out := instruction.Append(string(text), line) + "\n"
	if err := local.WriteFileAtomic(*path, []byte(out)); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "write error: %s\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(w, line)
	return 0
}

func readInstructions(path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("instruction file %s does not exist", path)
		}
		return "", err
	}
	return string(b), nil
}

func usage(w *os.File) {
	_, _ = fmt.Fprintf(w, `batchedit: filter and edit record collections in bulk

Usage:
  batchedit <command> [flags]

Commands:
  bulk     Edit every record in a box file or SQLite store in place
  tree     Edit record files under a directory, writing modified ones to --dest
  run      Run a YAML job file
  attrs    List the attributes of a selector group
  check    Validate an instruction file
  stub     Append an instruction line to a file
  version  Print the version

Instruction lines:
  .Attr=value   keep records whose Attr equals value
  !Attr=value   keep records whose Attr does not equal value
  =Attr=value   set Attr; value may be $rand or $shiny

Examples:
  batchedit bulk --source box.bin --schema pk6 --instructions edits.txt
  batchedit tree --source ./records --dest ./edited --instructions edits.txt
  batchedit attrs --group all
  batchedit stub --instructions edits.txt --attr Level --value 100

Environment:
  WORKERS         Concurrent file workers in tree mode (default 1)
  MAX_RETRIES     Retries per file for transient IO failures (default 2)
  RATE_LIMIT_RPS  Files per second, 0 disables
  BATCHEDIT_SEED  Seed for $rand and $shiny
  LOG_LEVEL       debug, info, warn or error (default info)
  LOG_FORMAT      text or json (default text)

`)
}

type envConfig struct {
	Workers      int
	MaxRetries   int
	RateLimitRPS float64
	Seed         string
	LogLevel     string
	LogFormat    string
}

func loadEnv() (envConfig, error) {
	workers, err := envInt("WORKERS", 1)
	if err != nil {
		return envConfig{}, err
	}
	maxRetries, err := envInt("MAX_RETRIES", 2)
	if err != nil {
		return envConfig{}, err
	}
	rateLimitRPS, err := envFloat("RATE_LIMIT_RPS", 0)
	if err != nil {
		return envConfig{}, err
	}
	return envConfig{
		Workers:      workers,
		MaxRetries:   maxRetries,
		RateLimitRPS: rateLimitRPS,
		Seed:         strings.TrimSpace(os.Getenv("BATCHEDIT_SEED")),
		LogLevel:     envString("LOG_LEVEL", "info"),
		LogFormat:    envString("LOG_FORMAT", "text"),
	}, nil
}

func envString(varName, fallback string) string {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(varName string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}
