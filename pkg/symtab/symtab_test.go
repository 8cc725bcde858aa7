package symtab

import (
	"errors"
	"fmt"
	"testing"
)

func TestCreateAndClose(t *testing.T) {
	tab := New()
	if tab == nil {
		t.Fatal("New returned nil")
	}
	tab.Close()
	tab.Close()

	var nilTab *Table
	nilTab.Close()
	if nilTab.Len() != 0 {
		t.Errorf("nil table Len = %d, want 0", nilTab.Len())
	}
}

func TestAddInvalidArguments(t *testing.T) {
	tab := New()
	defer tab.Close()

	var nilTab *Table
	if err := nilTab.Add("x", 0, 1); !errors.Is(err, ErrInvalid) {
		t.Errorf("nil table: got %v, want ErrInvalid", err)
	}
	if err := tab.Add("", 0, 1); !errors.Is(err, ErrInvalid) {
		t.Errorf("empty name: got %v, want ErrInvalid", err)
	}
	if err := tab.Add("null", 0, nil); !errors.Is(err, ErrInvalid) {
		t.Errorf("nil cookie: got %v, want ErrInvalid", err)
	}
	if tab.Len() != 0 {
		t.Errorf("Len = %d after invalid adds, want 0", tab.Len())
	}
}

func TestFindInvalidArguments(t *testing.T) {
	var nilTab *Table
	if _, ok := nilTab.Find("x", 0); ok {
		t.Error("nil table should not find anything")
	}
	tab := New()
	if _, ok := tab.Find("", 0); ok {
		t.Error("empty name should not be found")
	}
}

func TestAddAndFind(t *testing.T) {
	tab := New()
	defer tab.Close()

	for i, name := range []string{"one", "two", "three"} {
		if err := tab.Add(name, 0, i+1); err != nil {
			t.Fatalf("Add(%q): %v", name, err)
		}
	}

	tests := []struct {
		name  string
		want  any
		found bool
	}{
		{"one", 1, true},
		{"two", 2, true},
		{"three", 3, true},
		{"FOUR", nil, false},
		{"on", nil, false},
		{"onee", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tab.Find(tt.name, 0)
			if ok != tt.found || got != tt.want {
				t.Errorf("Find(%q) = %v, %v; want %v, %v", tt.name, got, ok, tt.want, tt.found)
			}
		})
	}
}

func TestDuplicateKeepsOriginal(t *testing.T) {
	tab := New()
	if err := tab.Add("one", 0, 1); err != nil {
		t.Fatal(err)
	}
	if err := tab.Add("one", 0, 1111); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate add: got %v, want ErrExists", err)
	}
	if got, _ := tab.Find("one", 0); got != 1 {
		t.Errorf("cookie clobbered: got %v, want 1", got)
	}
}

func TestFlagsAreSecondaryKey(t *testing.T) {
	tab := New()
	if err := tab.Add("one", 0, 1); err != nil {
		t.Fatal(err)
	}
	if err := tab.Add("ten", 333, 10); err != nil {
		t.Fatal(err)
	}
	if got, ok := tab.Find("ten", 333); !ok || got != 10 {
		t.Errorf("Find(ten, 333) = %v, %v", got, ok)
	}
	if _, ok := tab.Find("ten", 0); ok {
		t.Error("ten should not be visible with flags 0")
	}

	if err := tab.Add("one", 333, 11); err != nil {
		t.Fatalf("same name with different flags: %v", err)
	}
	if got, _ := tab.Find("one", 333); got != 11 {
		t.Errorf("Find(one, 333) = %v, want 11", got)
	}
	if got, _ := tab.Find("one", 0); got != 1 {
		t.Errorf("Find(one, 0) = %v, want 1", got)
	}
	tab.Close()
}

func TestGrowthPreservesOrder(t *testing.T) {
	tab := New()
	const n = 100
	for i := 0; i < n; i++ {
		if err := tab.Add(fmt.Sprintf("sym%d", i), i%2, i+1); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
	}
	if tab.Len() != n {
		t.Fatalf("Len = %d, want %d", tab.Len(), n)
	}

	i := 0
	tab.Each(func(name string, flags int, cookie any) bool {
		if name != fmt.Sprintf("sym%d", i) || flags != i%2 || cookie != i+1 {
			t.Errorf("entry %d = (%q, %d, %v)", i, name, flags, cookie)
		}
		i++
		return true
	})
	if i != n {
		t.Errorf("Each visited %d entries, want %d", i, n)
	}

	visited := 0
	tab.Each(func(string, int, any) bool {
		visited++
		return visited < 3
	})
	if visited != 3 {
		t.Errorf("Each did not stop early: visited %d", visited)
	}
}
