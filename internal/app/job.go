package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/palantir/batch-record-editor/pkg/batch/core"
	"github.com/palantir/batch-record-editor/pkg/batch/io/local"
	"github.com/palantir/batch-record-editor/pkg/batch/io/sqlite"
	"github.com/palantir/batch-record-editor/pkg/record"
)

// Store formats for bulk mode.
const (
	FormatBox    = "box"
	FormatSQLite = "sqlite"
)

// Job is a batch run described in a YAML file.
type Job struct {
	Mode   string `yaml:"mode"`
	Source string `yaml:"source"`

	// StoreFormat and BoxSchema apply to bulk mode only.
	StoreFormat string `yaml:"store_format"`
	BoxSchema   string `yaml:"box_schema"`

	// Destination receives modified files in tree mode.
	Destination      string  `yaml:"destination"`
	Instructions     string  `yaml:"instructions"`
	AllowEmptyValues bool    `yaml:"allow_empty_values"`
	Workers          int     `yaml:"workers"`
	MaxRetries       int     `yaml:"max_retries"`
	RateLimitRPS     float64 `yaml:"rate_limit_rps"`
	Seed             *uint64 `yaml:"seed"`
}

// LoadJob reads and validates a job file.
func LoadJob(path string) (Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return Job{}, err
	}
	defer func() {
		_ = f.Close()
	}()
	return ReadJob(f)
}

// ReadJob decodes a job document. Unknown keys are rejected.
func ReadJob(r io.Reader) (Job, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var j Job
	if err := dec.Decode(&j); err != nil {
		if errors.Is(err, io.EOF) {
			return Job{}, errors.New("job file is empty")
		}
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, nil
}

// Validate fills defaults and checks required fields.
func (j *Job) Validate() error {
	mode, err := core.ParseMode(j.Mode)
	if err != nil {
		return fmt.Errorf("job: %w", err)
	}
	j.Mode = string(mode)
	j.Source = strings.TrimSpace(j.Source)
	if j.Source == "" {
		return errors.New("job: source is required")
	}

	switch core.Mode(j.Mode) {
	case core.ModeTree:
		if strings.TrimSpace(j.Destination) == "" {
			return errors.New("job: destination is required in tree mode")
		}
	case core.ModeBulk:
		j.StoreFormat = strings.ToLower(strings.TrimSpace(j.StoreFormat))
		if j.StoreFormat == "" {
			j.StoreFormat = FormatBox
		}
		switch j.StoreFormat {
		case FormatBox:
			if _, ok := record.LayoutByName(j.BoxSchema); !ok {
				return fmt.Errorf("job: unknown box_schema %q", j.BoxSchema)
			}
		case FormatSQLite:
		default:
			return fmt.Errorf("job: unknown store_format %q", j.StoreFormat)
		}
	}
	if j.Workers < 0 || j.MaxRetries < 0 {
		return errors.New("job: workers and max_retries must not be negative")
	}
	return nil
}

// Request converts the job into a run request. The returned close func releases
// the bulk store and is never nil.
func (j Job) Request() (Request, func() error, error) {
	req := Request{
		Mode:         core.Mode(j.Mode),
		Instructions: j.Instructions,
		AllowEmpty:   j.AllowEmptyValues,
		Root:         j.Source,
		Destination:  j.Destination,
		Workers:      j.Workers,
		MaxRetries:   j.MaxRetries,
		RateLimitRPS: j.RateLimitRPS,
		Seed:         j.Seed,
	}
	if req.Mode != core.ModeBulk {
		return req, func() error { return nil }, nil
	}
	store, closeFn, err := OpenStore(j.StoreFormat, j.Source, j.BoxSchema)
	if err != nil {
		return Request{}, nil, err
	}
	req.Store = store
	return req, closeFn, nil
}

// OpenStore opens a bulk record store.
func OpenStore(format, path, boxSchema string) (core.Store[*record.Record], func() error, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatBox, "":
		l, ok := record.LayoutByName(boxSchema)
		if !ok {
			return nil, nil, fmt.Errorf("unknown box schema %q", boxSchema)
		}
		return &local.BoxFile{Path: path, Layout: l}, func() error { return nil }, nil
	case FormatSQLite:
		s, err := sqlite.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store format %q", format)
	}
}
