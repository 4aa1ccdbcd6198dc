package task

import (
	"errors"
	"testing"

	"github.com/ashureev/akai-desk/internal/domain"
)

type recordingStarter struct {
	started []string
	err     error
}

func (r *recordingStarter) StartPlan(planID string) error {
	r.started = append(r.started, planID)
	return r.err
}

func testPlan(status domain.PlanStatus, steps ...domain.TaskStep) domain.TaskPlan {
	return domain.TaskPlan{
		ID:     "plan-1",
		Title:  "Fix VPN",
		Status: status,
		Steps:  steps,
	}
}

func step(id string, status domain.StepStatus) domain.TaskStep {
	return domain.TaskStep{ID: id, Title: "Step " + id, Status: status}
}

func TestCreatedPlanAutoStarts(t *testing.T) {
	starter := &recordingStarter{}
	m := NewMachine(starter)

	m.ApplyCreated(testPlan(domain.PlanCreated, step("a", domain.StepPending)))

	if len(starter.started) != 1 || starter.started[0] != "plan-1" {
		t.Fatalf("started = %v, want [plan-1]", starter.started)
	}
	if !m.PanelVisible() {
		t.Error("panel must show on plan creation")
	}
}

func TestCreatedPlanAutoStartIsBestEffort(t *testing.T) {
	starter := &recordingStarter{err: errors.New("channel down")}
	m := NewMachine(starter)

	m.ApplyCreated(testPlan(domain.PlanCreated, step("a", domain.StepPending)))

	// The dropped command must not disturb the rendered snapshot.
	if m.Plan() == nil || m.Plan().Status != domain.PlanCreated {
		t.Errorf("plan = %+v", m.Plan())
	}
	if !m.PanelVisible() {
		t.Error("panel must still show after a dropped auto-start")
	}
}

func TestDuplicateCreatedSnapshotReissuesStart(t *testing.T) {
	starter := &recordingStarter{}
	m := NewMachine(starter)

	plan := testPlan(domain.PlanCreated, step("a", domain.StepPending))
	m.ApplyCreated(plan)
	m.ApplyCreated(plan)

	if len(starter.started) != 2 {
		t.Errorf("started %d times, want 2", len(starter.started))
	}
}

func TestNonCreatedSnapshotDoesNotAutoStart(t *testing.T) {
	starter := &recordingStarter{}
	m := NewMachine(starter)

	m.ApplyCreated(testPlan(domain.PlanInProgress, step("a", domain.StepInProgress)))

	if len(starter.started) != 0 {
		t.Errorf("started = %v, want none", starter.started)
	}
}

func TestStepCompletedAdvancesNotice(t *testing.T) {
	m := NewMachine(nil)

	next := step("b", domain.StepInProgress)
	done := m.ApplyStepCompleted(
		testPlan(domain.PlanInProgress, step("a", domain.StepCompleted), next),
		&next, false,
	)

	if done {
		t.Error("ApplyStepCompleted() = true for a mid-plan step")
	}
	notice := m.CurrentNotice()
	if notice.Kind != NoticeNextStep {
		t.Errorf("notice kind = %q, want next_step", notice.Kind)
	}
	if active := m.ActiveStep(); active == nil || active.ID != "b" {
		t.Errorf("active step = %+v, want b", active)
	}
}

func TestFinalStepCompletion(t *testing.T) {
	m := NewMachine(nil)

	done := m.ApplyStepCompleted(
		testPlan(domain.PlanCompleted, step("a", domain.StepCompleted), step("b", domain.StepCompleted)),
		nil, true,
	)

	if !done {
		t.Fatal("ApplyStepCompleted() = false for the final step")
	}
	if m.CurrentNotice().Kind != NoticeCompleted {
		t.Errorf("notice kind = %q, want completed", m.CurrentNotice().Kind)
	}
	if !m.PanelVisible() {
		t.Error("panel must stay visible until the hide delay elapses")
	}

	m.HidePanel()
	if m.PanelVisible() {
		t.Error("panel must hide after HidePanel")
	}
	if m.CurrentNotice().Kind != NoticeNone {
		t.Error("hide must clear the notice")
	}
}

func TestStepFailedKeepsPlanActionable(t *testing.T) {
	m := NewMachine(nil)

	failed := step("a", domain.StepFailed)
	m.ApplyStepFailed(
		testPlan(domain.PlanInProgress, failed, step("b", domain.StepPending)),
		failed, "driver install failed: not found",
	)

	notice := m.CurrentNotice()
	if notice.Kind != NoticeFailed {
		t.Fatalf("notice kind = %q, want step_failed", notice.Kind)
	}
	// The server's message passes through verbatim.
	if notice.Text != "driver install failed: not found" {
		t.Errorf("notice text = %q", notice.Text)
	}
	if !m.PanelVisible() {
		t.Error("panel must stay visible after a step failure")
	}
	if active := m.ActiveStep(); active == nil || active.ID != "b" {
		t.Errorf("active step = %+v, want b", active)
	}
}

func TestTemplateClearedWhenPlanCreated(t *testing.T) {
	m := NewMachine(&recordingStarter{})

	m.ApplyTemplateDetected(domain.TaskTemplate{ID: "t1", Name: "Printer setup"})
	if m.Template() == nil {
		t.Fatal("template must be held after detection")
	}

	m.ApplyCreated(testPlan(domain.PlanCreated, step("a", domain.StepPending)))
	if m.Template() != nil {
		t.Error("template must clear once a plan is created")
	}
}

func TestInconsistentSnapshotRendersAsReceived(t *testing.T) {
	m := NewMachine(nil)

	// Two in-progress steps: invalid, but the server owns step state.
	plan := testPlan(domain.PlanInProgress,
		step("a", domain.StepInProgress),
		step("b", domain.StepInProgress),
	)
	m.ApplyStarted(plan, nil)

	got := m.Plan()
	if got == nil || len(got.Steps) != 2 {
		t.Fatalf("plan = %+v", got)
	}
	if got.Steps[0].Status != domain.StepInProgress || got.Steps[1].Status != domain.StepInProgress {
		t.Error("snapshot must render exactly as received")
	}
}

func TestPlanReturnsCopy(t *testing.T) {
	m := NewMachine(nil)
	m.ApplyStarted(testPlan(domain.PlanInProgress, step("a", domain.StepInProgress)), nil)

	cp := m.Plan()
	cp.Steps[0].Status = domain.StepCompleted

	if m.Plan().Steps[0].Status != domain.StepInProgress {
		t.Error("mutating the returned plan must not affect held state")
	}
}

func TestStartedSnapshotSurfacesCurrentStep(t *testing.T) {
	m := NewMachine(nil)

	first := step("a", domain.StepInProgress)
	m.ApplyStarted(testPlan(domain.PlanInProgress, first, step("b", domain.StepPending)), &first)

	notice := m.CurrentNotice()
	if notice.Kind != NoticeNextStep {
		t.Fatalf("notice kind = %q, want %q", notice.Kind, NoticeNextStep)
	}
	if notice.Text != "Next step: Step a" {
		t.Errorf("notice text = %q", notice.Text)
	}
}

func TestStartedSnapshotWithoutCurrentStepClearsNotice(t *testing.T) {
	m := NewMachine(nil)
	m.ApplyStepFailed(testPlan(domain.PlanInProgress, step("a", domain.StepFailed)), step("a", domain.StepFailed), "command not found")

	m.ApplyStarted(testPlan(domain.PlanInProgress, step("a", domain.StepInProgress)), nil)

	if m.CurrentNotice().Kind != NoticeNone {
		t.Errorf("notice = %+v, want none", m.CurrentNotice())
	}
}
