package alerting

import "context"

// NopAlerter discards all alerts.
type NopAlerter struct{}

// NewNopAlerter creates an alerter that does nothing.
func NewNopAlerter() *NopAlerter {
	return &NopAlerter{}
}

// Name returns the name of the alerter.
func (n *NopAlerter) Name() string {
	return "nop"
}

// Alert discards the alert.
func (n *NopAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	return nil
}
