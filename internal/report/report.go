// Package report persists the outcome of migration runs.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/lockplane/lockstep/internal/migrate"
)

// Report is one run, with where it ran.
type Report struct {
	Environment  string          `json:"environment"`
	DatabaseType string          `json:"database_type"`
	Database     string          `json:"database"`
	DryRun       bool            `json:"dry_run,omitempty"`
	Committed    bool            `json:"committed"`
	Result       *migrate.Result `json:"result"`
}

// Sink stores a report somewhere and says where.
type Sink interface {
	Put(ctx context.Context, r *Report) (location string, err error)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Name is the file or object name of a report: <plan>-<run id>.json.
func Name(r *Report) string {
	plan := "plan"
	runID := "run"
	if r.Result != nil {
		if r.Result.Plan != "" {
			plan = unsafeChars.ReplaceAllString(r.Result.Plan, "_")
		}
		if r.Result.RunID != "" {
			runID = unsafeChars.ReplaceAllString(r.Result.RunID, "_")
		}
	}
	return plan + "-" + runID + ".json"
}

// Encode renders r as indented JSON.
func Encode(r *Report) ([]byte, error) {
	if r.Result == nil {
		return nil, errors.New("report has no result")
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return append(data, '\n'), nil
}

// FileSink writes reports into a directory.
type FileSink struct {
	Dir string
}

func (s FileSink) Put(_ context.Context, r *Report) (string, error) {
	return WriteFile(s.Dir, r)
}

// WriteFile writes r into dir and returns the file path.
func WriteFile(dir string, r *Report) (string, error) {
	data, err := Encode(r)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(dir, Name(r))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}
	return path, nil
}

// PutAll stores r in every sink. It keeps going after a failure and
// returns the locations it managed together with the joined errors.
func PutAll(ctx context.Context, r *Report, sinks ...Sink) ([]string, error) {
	var (
		locations []string
		errs      []error
	)
	for _, sink := range sinks {
		loc, err := sink.Put(ctx, r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		locations = append(locations, loc)
	}
	return locations, errors.Join(errs...)
}
