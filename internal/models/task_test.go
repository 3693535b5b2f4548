package models

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{StatusQueued, StatusRunning, true},
		{StatusQueued, StatusCompleted, false},
		{StatusQueued, StatusFailed, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusQueued, false},
		{StatusCompleted, StatusRunning, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusRunning, false},
		{StatusFailed, StatusCompleted, false},
		{"bogus", StatusRunning, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%q, %q) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, status := range []string{StatusCompleted, StatusFailed} {
		if !IsTerminal(status) {
			t.Errorf("IsTerminal(%q) = false, want true", status)
		}
	}
	for _, status := range []string{StatusQueued, StatusRunning, ""} {
		if IsTerminal(status) {
			t.Errorf("IsTerminal(%q) = true, want false", status)
		}
	}
}

func TestInvalidTransitionErrorMessage(t *testing.T) {
	err := &InvalidTransitionError{TaskID: "abc", From: StatusQueued, To: StatusCompleted}
	want := "task abc: illegal transition queued -> completed"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}

	var target *InvalidTransitionError
	if !errors.As(error(err), &target) {
		t.Fatal("errors.As failed to match *InvalidTransitionError")
	}
}
