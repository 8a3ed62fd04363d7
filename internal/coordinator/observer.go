package coordinator

import (
	"log/slog"

	"github.com/nadimtuhin/loopwork/internal/taskstore"
)

// Observer receives lifecycle callbacks from the coordinator. All
// methods are invoked synchronously from the worker goroutine that
// produced the event and must not block — a slow observer stalls that
// worker's round.
type Observer interface {
	OnTaskStart(taskID string, worker, round int)
	OnTaskComplete(taskID string, worker, round int)
	OnTaskFailed(taskID string, worker, round int, status taskstore.Status, cause error)
	OnTaskRetry(taskID string, worker, round, attempt int)
	OnTaskAbort(taskID string, worker, round int)
	OnWorkerStatus(worker int, status string)
}

// multiObserver fans a single callback out to every registered
// Observer. Each call is wrapped with a recover: an observer that
// panics never takes down the worker that produced the event, only
// gets logged and skipped.
type multiObserver struct {
	observers []Observer
	logger    *slog.Logger
}

func (m multiObserver) safe(name string, fn func(o Observer)) {
	for _, o := range m.observers {
		func(o Observer) {
			defer func() {
				if r := recover(); r != nil && m.logger != nil {
					m.logger.Error("observer panicked", "callback", name, "recovered", r)
				}
			}()
			fn(o)
		}(o)
	}
}

func (m multiObserver) OnTaskStart(taskID string, worker, round int) {
	m.safe("OnTaskStart", func(o Observer) { o.OnTaskStart(taskID, worker, round) })
}

func (m multiObserver) OnTaskComplete(taskID string, worker, round int) {
	m.safe("OnTaskComplete", func(o Observer) { o.OnTaskComplete(taskID, worker, round) })
}

func (m multiObserver) OnTaskFailed(taskID string, worker, round int, status taskstore.Status, cause error) {
	m.safe("OnTaskFailed", func(o Observer) { o.OnTaskFailed(taskID, worker, round, status, cause) })
}

func (m multiObserver) OnTaskRetry(taskID string, worker, round, attempt int) {
	m.safe("OnTaskRetry", func(o Observer) { o.OnTaskRetry(taskID, worker, round, attempt) })
}

func (m multiObserver) OnTaskAbort(taskID string, worker, round int) {
	m.safe("OnTaskAbort", func(o Observer) { o.OnTaskAbort(taskID, worker, round) })
}

func (m multiObserver) OnWorkerStatus(worker int, status string) {
	m.safe("OnWorkerStatus", func(o Observer) { o.OnWorkerStatus(worker, status) })
}
