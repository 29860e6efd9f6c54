package ledgerq

import (
	"errors"
	"fmt"
	"testing"
)

func TestAnomalyError(t *testing.T) {
	err := NewAnomalyError(42, "commit feed carried an error response")
	if err.Height != 42 {
		t.Errorf("expected height 42, got %d", err.Height)
	}

	expected := "anomaly in block stream after height 42: commit feed carried an error response"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
}

func TestIsAnomaly(t *testing.T) {
	anomaly := NewAnomalyError(10, "unexpected error variant")

	a, ok := IsAnomaly(anomaly)
	if !ok {
		t.Fatal("expected IsAnomaly to return true")
	}
	if a.Height != 10 {
		t.Errorf("expected height 10, got %d", a.Height)
	}

	wrapped := fmt.Errorf("stream: %w", anomaly)
	a2, ok := IsAnomaly(wrapped)
	if !ok {
		t.Fatal("expected IsAnomaly to unwrap wrapped error")
	}
	if a2.Height != 10 {
		t.Errorf("expected height 10, got %d", a2.Height)
	}

	if _, ok := IsAnomaly(ErrStreamClosed); ok {
		t.Fatal("expected IsAnomaly to return false for sentinel error")
	}
	if _, ok := IsAnomaly(nil); ok {
		t.Fatal("expected IsAnomaly to return false for nil")
	}
}

func TestSentinelsWrap(t *testing.T) {
	err := fmt.Errorf("create executor: %w", ErrServiceUnavailable)
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatal("expected wrapped ErrServiceUnavailable to match")
	}
	if errors.Is(err, ErrBlockNotFound) {
		t.Fatal("sentinels must be distinct")
	}
}
