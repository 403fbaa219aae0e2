package service

import "github.com/liftcheck/fieldaudit/audit-sync/internal/notify"

// Effects collects work that depends on how the surrounding transaction ends:
// notifications and removal of replaced files happen only after commit, and
// files uploaded during a transaction that rolls back are removed.
type Effects struct {
	events   []notify.Event
	stale    []string
	uploaded []string
}

func (fx *Effects) notify(ev notify.Event) { fx.events = append(fx.events, ev) }

func (fx *Effects) dropAfterCommit(key string) { fx.stale = append(fx.stale, key) }

func (fx *Effects) dropOnRollback(key string) { fx.uploaded = append(fx.uploaded, key) }

// Events returns the notifications queued so far.
func (fx *Effects) Events() []notify.Event {
	return append([]notify.Event(nil), fx.events...)
}

// Field is an optional value in a partial update. Set distinguishes an
// explicit zero or null from an absent field.
type Field[T any] struct {
	Set   bool
	Value T
}

func Some[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}
