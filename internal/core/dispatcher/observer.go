package dispatcher

import (
	"ipclick/internal/core/retry"
	"ipclick/model"
)

// Observer receives task lifecycle events. Methods are called synchronously
// on the dispatching goroutine and must not block.
type Observer interface {
	TaskStarted(task *model.Task)
	// TaskRetried reports a failed attempt. used is the adapter that ran it,
	// which differs from task.Adapter after a fallback.
	TaskRetried(task *model.Task, used model.AdapterKind, ev retry.Event)
	TaskFinished(res *Result)
	AdapterFallback(requested, used model.AdapterKind, err error)
}

// NopObserver can be embedded to implement only some methods.
type NopObserver struct{}

func (NopObserver) TaskStarted(*model.Task)                                     {}
func (NopObserver) TaskRetried(*model.Task, model.AdapterKind, retry.Event)     {}
func (NopObserver) TaskFinished(*Result)                                        {}
func (NopObserver) AdapterFallback(model.AdapterKind, model.AdapterKind, error) {}
