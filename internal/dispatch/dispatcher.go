// Package dispatch serializes user and UI intents into outbound frames.
// Every send is best-effort through the channel manager: no retries, no
// acknowledgment tracking. Confirmation is implicit in the next matching
// inbound event.
package dispatch

import (
	"errors"
	"log/slog"

	"github.com/ashureev/akai-desk/internal/protocol"
	"github.com/ashureev/akai-desk/internal/transport"
)

// ErrMissingID rejects task actions without the ids they require before
// anything reaches the wire.
var ErrMissingID = errors.New("task action requires an id")

// Sender is the best-effort frame writer, satisfied by *transport.Manager.
type Sender interface {
	Send(v any) error
}

// Dispatcher emits outbound control commands for one session.
type Dispatcher struct {
	sender Sender
}

// New creates a dispatcher over the given sender.
func New(sender Sender) *Dispatcher {
	return &Dispatcher{sender: sender}
}

// CreateFromTemplate asks the server to instantiate a plan from a
// detected template. The answer arrives as a task_created event.
func (d *Dispatcher) CreateFromTemplate(templateID string) error {
	if templateID == "" {
		return ErrMissingID
	}
	cmd := protocol.NewTaskAction(protocol.ActionCreateFromTemplate)
	cmd.TemplateID = templateID
	return d.send(cmd)
}

// StartPlan asks the server to start a created plan. The answer arrives
// as a task_started event.
func (d *Dispatcher) StartPlan(planID string) error {
	if planID == "" {
		return ErrMissingID
	}
	cmd := protocol.NewTaskAction(protocol.ActionStartPlan)
	cmd.PlanID = planID
	return d.send(cmd)
}

// CompleteStep marks the given step done. The answer arrives as a
// step_completed event.
func (d *Dispatcher) CompleteStep(planID, stepID string) error {
	if planID == "" || stepID == "" {
		return ErrMissingID
	}
	cmd := protocol.NewTaskAction(protocol.ActionCompleteStep)
	cmd.PlanID = planID
	cmd.StepID = stepID
	return d.send(cmd)
}

// SkipStep skips the given step. The server answers with a
// step_completed event carrying the advanced snapshot.
func (d *Dispatcher) SkipStep(planID, stepID string) error {
	if planID == "" || stepID == "" {
		return ErrMissingID
	}
	cmd := protocol.NewTaskAction(protocol.ActionSkipStep)
	cmd.PlanID = planID
	cmd.StepID = stepID
	return d.send(cmd)
}

func (d *Dispatcher) send(cmd protocol.TaskActionCommand) error {
	err := d.sender.Send(cmd)
	if errors.Is(err, transport.ErrNotConnected) {
		// Dropped by design; the user re-issues after reconnect if the
		// action is still relevant.
		slog.Info("Task action dropped while disconnected", "action", cmd.Action, "plan_id", cmd.PlanID)
		return err
	}
	if err != nil {
		slog.Warn("Task action send failed", "action", cmd.Action, "plan_id", cmd.PlanID, "error", err)
	}
	return err
}
