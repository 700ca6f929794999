// Package alerting provides notification capabilities for the trader.
package alerting

import (
	"context"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityCritical is for critical alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// Event represents a pre-defined alert event type.
type Event string

const (
	// EventTraderStarted is sent when the trader starts.
	EventTraderStarted Event = "trader_started"
	// EventTraderStopped is sent when the trader stops.
	EventTraderStopped Event = "trader_stopped"
	// EventPositionOpened is sent when a position is opened.
	EventPositionOpened Event = "position_opened"
	// EventPositionClosed is sent when a position is closed.
	EventPositionClosed Event = "position_closed"
	// EventFeedError is sent when market data cannot be fetched.
	EventFeedError Event = "feed_error"
	// EventUpdateError is sent when a portfolio update fails.
	EventUpdateError Event = "update_error"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event Event) Severity {
	switch event {
	case EventUpdateError:
		return SeverityCritical
	case EventFeedError:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
