// Package store keeps records of script runs and the persistent update
// marks scripts read and write.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lemonberrylabs/amend/pkg/types"
)

// RunState represents the state of a script run.
type RunState string

const (
	RunActive    RunState = "ACTIVE"
	RunSucceeded RunState = "SUCCEEDED"
	RunFailed    RunState = "FAILED"
)

// Run is the record of one script execution.
type Run struct {
	ID         string    `json:"id"`
	State      RunState  `json:"state"`
	Source     string    `json:"source"`
	ResultCode int       `json:"resultCode"`
	Error      *RunError `json:"error,omitempty"`
	Output     string    `json:"output,omitempty"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime,omitempty"`
}

// RunError describes why a run failed.
type RunError struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
	Command string `json:"command,omitempty"`
	Line    int    `json:"line,omitempty"`
	Code    int64  `json:"code,omitempty"`
}

// ErrNotFound is returned for unknown run IDs.
var ErrNotFound = errors.New("not found")

// Store is a thread-safe in-memory storage for runs.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// New creates a new empty store.
func New() *Store {
	return &Store{runs: make(map[string]*Run)}
}

// CreateRun records a new active run of source.
func (s *Store) CreateRun(source string) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := &Run{
		ID:        uuid.New().String(),
		State:     RunActive,
		Source:    source,
		StartTime: time.Now(),
	}
	s.runs[run.ID] = run
	c := *run
	return &c
}

// FinishRun marks a run as succeeded when err is nil and failed otherwise.
func (s *Store) FinishRun(id string, resultCode int, output string, err error) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run '%s': %w", id, ErrNotFound)
	}
	if run.State != RunActive {
		return nil, fmt.Errorf("run '%s' is not active (state: %s)", id, run.State)
	}

	run.EndTime = time.Now()
	run.ResultCode = resultCode
	run.Output = output
	if err == nil {
		run.State = RunSucceeded
	} else {
		run.State = RunFailed
		run.Error = &RunError{Message: err.Error()}
		var se *types.ScriptError
		if errors.As(err, &se) {
			run.Error = &RunError{
				Kind:    se.Kind(),
				Message: se.Message,
				Command: se.Name,
				Line:    se.Line,
				Code:    se.Code,
			}
		}
	}
	c := *run
	return &c, nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run '%s': %w", id, ErrNotFound)
	}
	c := *run
	return &c, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		c := *run
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartTime.Equal(result[j].StartTime) {
			return result[i].ID > result[j].ID
		}
		return result[i].StartTime.After(result[j].StartTime)
	})
	return result
}
