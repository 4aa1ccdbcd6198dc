package protocol

// TaskAction names the plan/step control actions a client may issue.
type TaskAction string

const (
	ActionCreateFromTemplate TaskAction = "create_from_template"
	ActionStartPlan          TaskAction = "start_plan"
	ActionCompleteStep       TaskAction = "complete_step"
	ActionSkipStep           TaskAction = "skip_step"
)

// TaskActionCommand is the outbound envelope for plan/step control.
// Sends are best-effort; acknowledgment is implicit in the matching
// inbound event (task_started answers start_plan, and so on).
type TaskActionCommand struct {
	Type       string     `json:"type"`
	Action     TaskAction `json:"action"`
	PlanID     string     `json:"plan_id,omitempty"`
	StepID     string     `json:"step_id,omitempty"`
	TemplateID string     `json:"template_id,omitempty"`
}

// NewTaskAction builds a task_action envelope.
func NewTaskAction(action TaskAction) TaskActionCommand {
	return TaskActionCommand{Type: "task_action", Action: action}
}

// PingCommand is the keep-alive probe; the server answers with pong.
type PingCommand struct {
	Type string `json:"type"`
}

// NewPing builds a ping envelope.
func NewPing() PingCommand {
	return PingCommand{Type: "ping"}
}
