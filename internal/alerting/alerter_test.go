package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type captureAlerter struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (c *captureAlerter) Name() string { return "capture" }

func (c *captureAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
	return c.err
}

func TestSeverityString(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityInfo, "INFO"},
		{SeverityWarning, "WARNING"},
		{SeverityCritical, "CRITICAL"},
		{Severity(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.severity.String(); got != tt.want {
			t.Errorf("Severity(%d).String() = %q, want %q", tt.severity, got, tt.want)
		}
	}
}

func TestEventSeverity(t *testing.T) {
	if got := EventSeverity(EventUpdateError); got != SeverityCritical {
		t.Errorf("update error severity = %s, want CRITICAL", got)
	}
	if got := EventSeverity(EventFeedError); got != SeverityWarning {
		t.Errorf("feed error severity = %s, want WARNING", got)
	}
	if got := EventSeverity(EventPositionOpened); got != SeverityInfo {
		t.Errorf("position opened severity = %s, want INFO", got)
	}
}

func TestMultiAlerterFanOut(t *testing.T) {
	a := &captureAlerter{}
	b := &captureAlerter{}
	m := NewMultiAlerter(nil, a, b)

	if err := m.Alert(context.Background(), SeverityInfo, "hello"); err != nil {
		t.Fatalf("Alert: %v", err)
	}
	if len(a.messages) != 1 || len(b.messages) != 1 {
		t.Errorf("fan out delivered %d/%d messages, want 1/1", len(a.messages), len(b.messages))
	}
}

func TestMultiAlerterJoinsErrors(t *testing.T) {
	failing := &captureAlerter{err: errors.New("boom")}
	ok := &captureAlerter{}
	m := NewMultiAlerter(nil, failing, ok)

	err := m.Alert(context.Background(), SeverityWarning, "hello")
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(ok.messages) != 1 {
		t.Error("healthy alerter skipped when sibling failed")
	}
}

func TestMultiAlerterEmpty(t *testing.T) {
	m := NewMultiAlerter(nil)
	if err := m.Alert(context.Background(), SeverityInfo, "hello"); err != nil {
		t.Fatalf("Alert with no channels: %v", err)
	}
}
