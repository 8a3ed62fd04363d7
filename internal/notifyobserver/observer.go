// Package notifyobserver adapts the coordinator's Observer callbacks to
// the engine's Slack/Discord notification fan-out.
package notifyobserver

import (
	"context"
	"fmt"

	"github.com/nadimtuhin/loopwork/internal/notify"
	"github.com/nadimtuhin/loopwork/internal/taskstore"
)

// Observer fans coordinator lifecycle callbacks out to notify.Manager.
type Observer struct {
	manager *notify.Manager
	ctx     context.Context

	threadState string
}

// New builds an Observer bound to manager. ctx is used for every
// outbound notification call.
func New(ctx context.Context, manager *notify.Manager) *Observer {
	return &Observer{manager: manager, ctx: ctx}
}

func (o *Observer) notify(event, message string) {
	state, err := o.manager.Notify(o.ctx, event, message, o.threadState)
	if err == nil {
		o.threadState = state
	}
}

// OnTaskStart implements coordinator.Observer.
func (o *Observer) OnTaskStart(taskID string, worker, round int) {
	o.notify(notify.EventTaskStart, fmt.Sprintf("worker %d (round %d) started task %s", worker, round, taskID))
}

// OnTaskComplete implements coordinator.Observer.
func (o *Observer) OnTaskComplete(taskID string, worker, round int) {
	o.notify(notify.EventTaskComplete, fmt.Sprintf("worker %d (round %d) completed task %s", worker, round, taskID))
}

// OnTaskFailed implements coordinator.Observer.
func (o *Observer) OnTaskFailed(taskID string, worker, round int, status taskstore.Status, cause error) {
	msg := fmt.Sprintf("worker %d (round %d) %s task %s", worker, round, status, taskID)
	if cause != nil {
		msg += ": " + cause.Error()
	}
	o.notify(notify.EventTaskFailed, msg)
}

// OnTaskRetry implements coordinator.Observer.
func (o *Observer) OnTaskRetry(taskID string, worker, round, attempt int) {
	o.notify(notify.EventTaskRetry, fmt.Sprintf("worker %d (round %d) retrying task %s (attempt %d)", worker, round, taskID, attempt))
}

// OnTaskAbort implements coordinator.Observer.
func (o *Observer) OnTaskAbort(taskID string, worker, round int) {
	o.notify(notify.EventTaskAbort, fmt.Sprintf("worker %d (round %d) aborted task %s", worker, round, taskID))
}

// OnWorkerStatus implements coordinator.Observer.
func (o *Observer) OnWorkerStatus(worker int, status string) {
	o.notify(notify.EventWorkerStatus, fmt.Sprintf("worker %d is now %s", worker, status))
}
