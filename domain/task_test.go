package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseStatus(t *testing.T) {
	for _, s := range Statuses {
		got, err := ParseStatus(string(s))
		if err != nil || got != s {
			t.Fatalf("ParseStatus(%s) = %s, %v", s, got, err)
		}
	}
	for _, bad := range []string{"", "done", "not_started", "BLOCKED"} {
		if _, err := ParseStatus(bad); !errors.Is(err, ErrInvalidStatus) {
			t.Fatalf("expected ErrInvalidStatus for %q, got %v", bad, err)
		}
	}
}

func TestPatchApplyAndRestore(t *testing.T) {
	desc := "old"
	orig := Task{ID: "1", Name: "A", Status: StatusNotStarted, Description: &desc}
	name := "B"
	newDesc := "new"
	due := time.Date(2024, 3, 10, 18, 30, 0, 0, time.UTC)
	p := TaskPatch{Name: &name, Description: &newDesc, DueDate: &due}

	patched := p.ApplyTo(orig)
	if patched.Name != "B" || *patched.Description != "new" || !patched.DueDate.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected patched task %+v", patched)
	}
	if *orig.Description != "old" {
		t.Fatal("ApplyTo must not modify the original task")
	}

	restored := p.Restore(patched, orig)
	if restored.Name != "A" || *restored.Description != "old" || restored.DueDate != nil || restored.Status != StatusNotStarted {
		t.Fatalf("unexpected restored task %+v", restored)
	}
}

func TestPatchValidate(t *testing.T) {
	blank := " "
	bad := Status("DONE")
	tests := []struct {
		name  string
		patch TaskPatch
		want  error
	}{
		{"empty", TaskPatch{}, ErrEmptyPatch},
		{"blank name", TaskPatch{Name: &blank}, ErrEmptyName},
		{"bad status", TaskPatch{Status: &bad}, ErrInvalidStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.patch.Validate(); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParseDueDate(t *testing.T) {
	want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-01-02", "2024-01-02T23:59:59Z", "2024-01-02T10:00:00.123Z"} {
		got, err := ParseDueDate(in)
		if err != nil || !got.Equal(want) {
			t.Fatalf("ParseDueDate(%s) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseDueDate("next week"); err == nil {
		t.Fatal("expected error")
	}
}
