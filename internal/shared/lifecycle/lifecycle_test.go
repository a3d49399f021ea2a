package lifecycle

import (
	"errors"
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	s := New()
	if got := s.Get(); got != Initializing {
		t.Fatalf("Expected %q, but got %q", Initializing, got)
	}

	s.Set(Running)
	_, since, _ := s.Snapshot()
	time.Sleep(2 * time.Millisecond)
	s.Set(Running)
	if _, again, _ := s.Snapshot(); !again.Equal(since) {
		t.Errorf("Expected timestamp to stay %v, but got %v", since, again)
	}

	boom := errors.New("bind failed")
	s.Fail(boom)
	phase, _, err := s.Snapshot()
	if phase != Failed {
		t.Errorf("Expected %q, but got %q", Failed, phase)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Expected error %v, but got %v", boom, err)
	}
}
