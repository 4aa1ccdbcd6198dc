package domain

// PlanStatus is the server-confirmed lifecycle state of a task plan.
type PlanStatus string

const (
	PlanCreated    PlanStatus = "created"
	PlanInProgress PlanStatus = "in_progress"
	PlanCompleted  PlanStatus = "completed"
	PlanFailed     PlanStatus = "failed"
)

// StepStatus is the server-confirmed state of one plan step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepSkipped    StepStatus = "skipped"
	StepFailed     StepStatus = "failed"
)

// TaskStep is one unit of a guided plan.
type TaskStep struct {
	ID           string     `json:"id"`
	PlanID       string     `json:"plan_id,omitempty"`
	Order        int        `json:"order,omitempty"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       StepStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Progress summarizes step completion as the server reports it.
type Progress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Percent    int `json:"percent"`
}

// TaskPlan is a server-defined ordered remediation plan. The client holds
// at most one active plan and replaces it wholesale on every snapshot;
// it never merges fields from two snapshots.
type TaskPlan struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	TemplateID  string     `json:"template_id,omitempty"`
	Status      PlanStatus `json:"status"`
	Steps       []TaskStep `json:"steps"`
	Progress    Progress   `json:"progress"`
}

// CurrentStep returns the step rendered as active: the in-progress step,
// or the first pending one when nothing is in progress.
func (p *TaskPlan) CurrentStep() *TaskStep {
	for i := range p.Steps {
		if p.Steps[i].Status == StepInProgress {
			return &p.Steps[i]
		}
	}
	for i := range p.Steps {
		if p.Steps[i].Status == StepPending {
			return &p.Steps[i]
		}
	}
	return nil
}

// StepsConsistent reports whether the snapshot satisfies the ordering
// invariant: at most one in-progress step, every step before it
// completed or skipped, every step after it pending.
func (p *TaskPlan) StepsConsistent() bool {
	activeIdx := -1
	for i, s := range p.Steps {
		if s.Status == StepInProgress {
			if activeIdx != -1 {
				return false
			}
			activeIdx = i
		}
	}
	if activeIdx == -1 {
		return true
	}
	for i, s := range p.Steps {
		switch {
		case i < activeIdx:
			if s.Status != StepCompleted && s.Status != StepSkipped {
				return false
			}
		case i > activeIdx:
			if s.Status != StepPending {
				return false
			}
		}
	}
	return true
}

// TaskTemplate is a reusable plan blueprint the server can detect from a
// chat message.
type TaskTemplate struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Category    string         `json:"category,omitempty"`
	Steps       []TemplateStep `json:"steps"`
}

// TemplateStep is a step blueprint inside a template.
type TemplateStep struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}
