// Package notify sends short crawl progress messages to an operator.
package notify

import "context"

// Notifier delivers a text message.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Nop discards every message.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, string) error { return nil }
