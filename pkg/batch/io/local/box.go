package local

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/palantir/batch-record-editor/pkg/batch/core"
	"github.com/palantir/batch-record-editor/pkg/record"
)

var _ core.Store[*record.Record] = (*BoxFile)(nil)

// BoxFile is a bulk store: one file holding consecutive records of a single layout.
type BoxFile struct {
	Path   string
	Layout *record.Layout
}

// Load decodes every slot of the file. The file must exist; an empty file is an empty box.
func (b *BoxFile) Load(ctx context.Context) ([]*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.Layout == nil {
		return nil, errors.New("box file: layout is required")
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		return nil, fmt.Errorf("read box file: %w", err)
	}
	size := b.Layout.Size
	if len(data)%size != 0 {
		return nil, fmt.Errorf("box file %s: %d bytes is not a multiple of %s size %d", b.Path, len(data), b.Layout.Name, size)
	}

	out := make([]*record.Record, 0, len(data)/size)
	for off := 0; off < len(data); off += size {
		rec, err := record.DecodeAs(b.Layout, data[off:off+size])
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", off/size, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Store replaces the whole file with rows, in order.
func (b *BoxFile) Store(ctx context.Context, rows []*record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.Layout == nil {
		return errors.New("box file: layout is required")
	}
	buf := make([]byte, 0, len(rows)*b.Layout.Size)
	for i, rec := range rows {
		if rec.Layout() != b.Layout {
			return fmt.Errorf("slot %d: layout %s does not match box layout %s", i, rec.Layout().Name, b.Layout.Name)
		}
		buf = append(buf, rec.Bytes()...)
	}
	return WriteFileAtomic(b.Path, buf)
}
