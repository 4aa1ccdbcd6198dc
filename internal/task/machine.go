// Package task tracks the active guided-repair plan. The server is
// authoritative: every inbound snapshot replaces the held plan wholesale,
// and user actions only become visible state once the matching event
// arrives. The one transition the client initiates is auto-starting a
// plan delivered in created state.
package task

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/akai-desk/internal/domain"
)

// CompleteHideDelay is how long the completion notice stays before the
// plan panel auto-hides.
const CompleteHideDelay = 2 * time.Second

// NoticeKind classifies the transient plan notice.
type NoticeKind string

const (
	NoticeNone      NoticeKind = ""
	NoticeNextStep  NoticeKind = "next_step"
	NoticeCompleted NoticeKind = "completed"
	NoticeFailed    NoticeKind = "step_failed"
)

// Notice is the short message surfaced next to the plan panel.
type Notice struct {
	Kind NoticeKind `json:"kind"`
	Text string     `json:"text"`
}

// PlanStarter issues the auto-start command for a freshly created plan.
type PlanStarter interface {
	StartPlan(planID string) error
}

// Machine holds the client's view of the active plan. Not safe for
// concurrent use; the session engine serializes access.
type Machine struct {
	starter PlanStarter

	plan         *domain.TaskPlan
	template     *domain.TaskTemplate
	panelVisible bool
	notice       Notice
}

// NewMachine creates an empty plan machine.
func NewMachine(starter PlanStarter) *Machine {
	return &Machine{starter: starter}
}

// ApplyTemplateDetected records the template the server matched against
// the user's message, so the UI can offer to instantiate it.
func (m *Machine) ApplyTemplateDetected(t domain.TaskTemplate) {
	m.template = &t
}

// ApplyCreated replaces the plan with a freshly created snapshot. When
// the snapshot arrives in created state the machine immediately issues
// start_plan; this is best-effort like every send, and re-receiving the
// same snapshot re-issues the command without changing rendered state.
func (m *Machine) ApplyCreated(plan domain.TaskPlan) {
	m.replace(plan)
	m.notice = Notice{}
	m.template = nil

	if plan.Status == domain.PlanCreated && m.starter != nil {
		if err := m.starter.StartPlan(plan.ID); err != nil {
			slog.Debug("Auto-start dropped", "plan_id", plan.ID, "error", err)
		}
	}
}

// ApplyStarted replaces the plan with the post-start snapshot and points
// the notice at the step the server put in progress.
func (m *Machine) ApplyStarted(plan domain.TaskPlan, currentStep *domain.TaskStep) {
	m.replace(plan)
	if currentStep != nil {
		m.notice = Notice{Kind: NoticeNextStep, Text: fmt.Sprintf("Next step: %s", currentStep.Title)}
		return
	}
	m.notice = Notice{}
}

// ApplyStepCompleted replaces the plan after a step completed or was
// skipped. It returns true when the plan finished, in which case the
// caller shows the completion notice and schedules the panel auto-hide.
func (m *Machine) ApplyStepCompleted(plan domain.TaskPlan, nextStep *domain.TaskStep, isComplete bool) bool {
	m.replace(plan)

	if isComplete {
		m.notice = Notice{Kind: NoticeCompleted, Text: fmt.Sprintf("All steps of %q are done.", plan.Title)}
		return true
	}
	if nextStep != nil {
		m.notice = Notice{Kind: NoticeNextStep, Text: fmt.Sprintf("Next step: %s", nextStep.Title)}
	} else {
		m.notice = Notice{}
	}
	return false
}

// ApplyStepFailed replaces the plan and surfaces the failure message
// verbatim. The plan stays actionable: one failed remediation step is
// expected and recoverable, not fatal to the session.
func (m *Machine) ApplyStepFailed(plan domain.TaskPlan, failedStep domain.TaskStep, errorMessage string) {
	m.replace(plan)
	m.notice = Notice{Kind: NoticeFailed, Text: errorMessage}
	slog.Warn("Plan step failed", "plan_id", plan.ID, "step_id", failedStep.ID, "error_message", errorMessage)
}

func (m *Machine) replace(plan domain.TaskPlan) {
	if !plan.StepsConsistent() {
		// Render as received anyway; the server owns step state.
		slog.Warn("Plan snapshot has inconsistent step ordering", "plan_id", plan.ID)
	}
	m.plan = &plan
	m.panelVisible = true
}

// HidePanel hides the plan panel after completion. The caller is
// responsible for the delay and for skipping the hide while the
// knowledge panel is showing.
func (m *Machine) HidePanel() {
	m.panelVisible = false
	m.notice = Notice{}
}

// Plan returns a copy of the held snapshot, or nil when no plan is held.
func (m *Machine) Plan() *domain.TaskPlan {
	if m.plan == nil {
		return nil
	}
	cp := *m.plan
	cp.Steps = append([]domain.TaskStep(nil), m.plan.Steps...)
	return &cp
}

// Template returns the last detected template, or nil.
func (m *Machine) Template() *domain.TaskTemplate {
	if m.template == nil {
		return nil
	}
	cp := *m.template
	return &cp
}

// PanelVisible reports whether the plan panel renders.
func (m *Machine) PanelVisible() bool {
	return m.panelVisible
}

// CurrentNotice returns the transient notice, if any.
func (m *Machine) CurrentNotice() Notice {
	return m.notice
}

// ActiveStep returns the single step rendered with action buttons, or
// nil when no step is actionable.
func (m *Machine) ActiveStep() *domain.TaskStep {
	if m.plan == nil {
		return nil
	}
	return m.plan.CurrentStep()
}
