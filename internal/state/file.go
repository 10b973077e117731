package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lockplane/lockstep/internal/migrate"
)

// StateFile is the default file FileTracker writes, in the project root
// (git-ignored).
const StateFile = ".lockstep-state.json"

const fileVersion = "1"

// fileState is the layout of the state file.
type fileState struct {
	Version string                `json:"version"`
	Plans   map[string]*planEntry `json:"plans"`
}

type planEntry struct {
	Entry
	LastRun *RunSummary `json:"last_run,omitempty"`
}

// RunSummary is what the state file remembers about the latest run of a
// plan.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Successful bool      `json:"successful"`
	FromState  string    `json:"from_state"`
	FinalState string    `json:"final_state"`
	Completed  []string  `json:"completed"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// SummarizeRun condenses a result for the state file.
func SummarizeRun(result *migrate.Result) *RunSummary {
	s := &RunSummary{
		RunID:      result.RunID,
		Successful: result.Successful,
		FromState:  result.InitialState,
		FinalState: result.FinalState,
		Completed:  make([]string, 0, len(result.CompletedTransitions)),
		FinishedAt: result.FinishedAt,
	}
	for _, t := range result.CompletedTransitions {
		s.Completed = append(s.Completed, t.Kind.Name)
	}
	if result.Err != nil {
		s.Error = result.Err.Error()
	}
	return s
}

// FileTracker keeps states in a JSON file. It cannot commit together with
// the run's transaction, so it suits local SQLite work and dry runs.
type FileTracker struct {
	mu   sync.Mutex
	path string
}

func NewFileTracker(path string) *FileTracker {
	if path == "" {
		path = StateFile
	}
	return &FileTracker{path: path}
}

func (f *FileTracker) Path() string {
	return f.path
}

func (f *FileTracker) Current(_ context.Context, plan string) (Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.load()
	if err != nil {
		return Entry{}, false, err
	}
	pe, ok := st.Plans[plan]
	if !ok {
		return Entry{}, false, nil
	}
	return pe.Entry, true, nil
}

func (f *FileTracker) Save(_ context.Context, entry Entry) error {
	return f.update(entry.Plan, func(pe *planEntry) {
		if entry.UpdatedAt.IsZero() {
			entry.UpdatedAt = time.Now()
		}
		pe.Entry = entry
	})
}

// RecordRun stores the summary of the latest run of plan.
func (f *FileTracker) RecordRun(plan string, summary *RunSummary) error {
	return f.update(plan, func(pe *planEntry) {
		pe.Plan = plan
		pe.LastRun = summary
	})
}

// LastRun returns the summary of the latest run of plan, if any.
func (f *FileTracker) LastRun(plan string) (*RunSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.load()
	if err != nil {
		return nil, err
	}
	if pe, ok := st.Plans[plan]; ok {
		return pe.LastRun, nil
	}
	return nil, nil
}

func (f *FileTracker) update(plan string, fn func(*planEntry)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.load()
	if err != nil {
		return err
	}
	pe, ok := st.Plans[plan]
	if !ok {
		pe = &planEntry{Entry: Entry{Plan: plan}}
		st.Plans[plan] = pe
	}
	fn(pe)
	return f.save(st)
}

// load returns an empty state when the file does not exist yet.
func (f *FileTracker) load() (*fileState, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return &fileState{Version: fileVersion, Plans: map[string]*planEntry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", f.path, err)
	}
	if st.Version != fileVersion {
		return nil, fmt.Errorf("state file %s has version %q, expected %q", f.path, st.Version, fileVersion)
	}
	if st.Plans == nil {
		st.Plans = map[string]*planEntry{}
	}
	return &st, nil
}

func (f *FileTracker) save(st *fileState) error {
	if dir := filepath.Dir(f.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write atomically (write to temp file, then rename)
	tempFile := f.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tempFile, f.path); err != nil {
		return fmt.Errorf("failed to save state file: %w", err)
	}
	return nil
}
