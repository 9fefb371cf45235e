package workflow

import "github.com/hugo-lorenzo-mato/rehab-flow/internal/events"

// Notifier receives progress events. *events.Bus satisfies it.
type Notifier interface {
	Publish(event events.Event)
}

// NopNotifier discards events.
type NopNotifier struct{}

func (NopNotifier) Publish(events.Event) {}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(events.Event)

func (f NotifierFunc) Publish(event events.Event) { f(event) }
