package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lemonberrylabs/amend/pkg/types"
)

func TestRunLifecycle(t *testing.T) {
	s := New()

	run := s.CreateRun("format SYSTEM:")
	if _, err := uuid.Parse(run.ID); err != nil {
		t.Errorf("run ID %q is not a UUID: %v", run.ID, err)
	}
	if run.State != RunActive {
		t.Errorf("state = %s, want ACTIVE", run.State)
	}

	done, err := s.FinishRun(run.ID, 0, "ok\n", nil)
	if err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	if done.State != RunSucceeded || done.Output != "ok\n" || done.EndTime.IsZero() {
		t.Errorf("finished run = %+v", done)
	}

	if _, err := s.FinishRun(run.ID, 0, "", nil); err == nil {
		t.Error("finishing a run twice should fail")
	}
	if _, err := s.FinishRun("nope", 0, "", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown run: got %v", err)
	}
}

func TestFailedRunKeepsErrorDetails(t *testing.T) {
	s := New()
	run := s.CreateRun("assert \"a\" == \"b\"")
	scriptErr := types.NewHookFailure("assert", 1).AtLine(3)

	failed, err := s.FinishRun(run.ID, 3, "", scriptErr)
	if err != nil {
		t.Fatal(err)
	}
	want := RunError{Kind: types.TagHookFailure, Message: "returned status 1", Command: "assert", Line: 3, Code: 1}
	if failed.State != RunFailed || failed.Error == nil || *failed.Error != want {
		t.Errorf("failed run = %+v, error = %+v", failed, failed.Error)
	}
	if failed.ResultCode != 3 {
		t.Errorf("result code = %d", failed.ResultCode)
	}

	got, err := s.GetRun(run.ID)
	if err != nil || got.State != RunFailed {
		t.Errorf("GetRun = %+v, %v", got, err)
	}

	other, _ := s.FinishRun(s.CreateRun("x").ID, -5, "", errors.New("plain"))
	if other.Error.Message != "plain" || other.Error.Kind != "" {
		t.Errorf("plain error = %+v", other.Error)
	}
}

func TestReturnedRunsAreCopies(t *testing.T) {
	s := New()
	run := s.CreateRun("x")
	run.State = RunFailed
	got, _ := s.GetRun(run.ID)
	if got.State != RunActive {
		t.Error("mutating a returned run changed the store")
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := New()
	first := s.CreateRun("one")
	time.Sleep(2 * time.Millisecond)
	second := s.CreateRun("two")

	runs := s.ListRuns()
	if len(runs) != 2 {
		t.Fatalf("got %d runs", len(runs))
	}
	if runs[0].ID != second.ID || runs[1].ID != first.ID {
		t.Errorf("order = %s, %s", runs[0].Source, runs[1].Source)
	}
	if _, err := s.GetRun("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(missing) = %v", err)
	}
}

func testMarkStore(t *testing.T, m MarkStore) {
	t.Helper()
	if got, err := m.GetMark("SYSTEM:"); err != nil || got != "" {
		t.Errorf("unset mark = %q, %v", got, err)
	}
	if err := m.SetMark("SYSTEM:", MarkDirty); err != nil {
		t.Fatal(err)
	}
	if err := m.SetMark("SYSTEM:", MarkClean); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.GetMark("SYSTEM:"); got != MarkClean {
		t.Errorf("mark = %q, want %q", got, MarkClean)
	}
	if err := m.SetMark("", MarkDirty); err == nil {
		t.Error("empty resource accepted")
	}
}

func TestMemoryMarks(t *testing.T) {
	m, err := OpenMarks("")
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	if _, ok := m.(*MemoryMarks); !ok {
		t.Fatalf("OpenMarks(\"\") = %T", m)
	}
	testMarkStore(t, m)
}

func TestSQLiteMarks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "marks.db")
	m, err := OpenSQLiteMarks(path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	testMarkStore(t, m)
	if err := m.SetMark("DATA:", MarkDirty); err != nil {
		t.Fatal(err)
	}
	m.Close()

	reopened, err := OpenSQLiteMarks(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if got, _ := reopened.GetMark("DATA:"); got != MarkDirty {
		t.Errorf("mark after reopen = %q", got)
	}
}
