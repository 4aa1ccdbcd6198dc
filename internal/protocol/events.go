// Package protocol defines the wire envelope exchanged with the Akai
// server and the decoder that turns inbound frames into typed events.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashureev/akai-desk/internal/domain"
)

// ErrUnknownEvent marks frames whose type is not in the recognized set.
// Unknown events are dropped without failing the channel so that newer
// servers can add event types without breaking older clients.
var ErrUnknownEvent = errors.New("unknown event type")

// ErrMalformedEvent marks frames that name a known type but fail
// structural validation. Treated exactly like unknown events.
var ErrMalformedEvent = errors.New("malformed event payload")

// Event is the decoded form of one inbound frame.
type Event interface {
	eventType() string
}

// AIResponse carries an assistant reply pushed over the channel.
type AIResponse struct {
	Response string `json:"response"`
}

// Transcript carries the server-side transcription of submitted audio.
type Transcript struct {
	Text string `json:"text"`
}

// KBMatch replaces the knowledge-suggestion set for the current problem.
type KBMatch struct {
	Problems     []domain.Problem  `json:"problems"`
	TopSolutions []domain.Solution `json:"top_solutions"`
}

// TemplateDetected announces a task template matching the user's message.
type TemplateDetected struct {
	Template domain.TaskTemplate `json:"template"`
}

// TaskCreated delivers a freshly created plan snapshot.
type TaskCreated struct {
	Plan domain.TaskPlan `json:"plan"`
}

// TaskStarted confirms a start_plan command with the updated snapshot.
type TaskStarted struct {
	Plan        domain.TaskPlan  `json:"plan"`
	CurrentStep *domain.TaskStep `json:"current_step"`
}

// StepCompleted delivers the snapshot after a step completed or was
// skipped, plus the step now active and whether the plan finished.
type StepCompleted struct {
	Plan       domain.TaskPlan  `json:"plan"`
	NextStep   *domain.TaskStep `json:"next_step"`
	IsComplete bool             `json:"is_complete"`
}

// StepFailed delivers the snapshot after a step failed. The plan is not
// terminated client-side; the error is surfaced verbatim.
type StepFailed struct {
	Plan         domain.TaskPlan `json:"plan"`
	FailedStep   domain.TaskStep `json:"failed_step"`
	ErrorMessage string          `json:"error_message"`
}

// Pong answers a keep-alive ping.
type Pong struct{}

func (AIResponse) eventType() string       { return "ai_response" }
func (Transcript) eventType() string       { return "transcript" }
func (KBMatch) eventType() string          { return "kb_match" }
func (TemplateDetected) eventType() string { return "template_detected" }
func (TaskCreated) eventType() string      { return "task_created" }
func (TaskStarted) eventType() string      { return "task_started" }
func (StepCompleted) eventType() string    { return "step_completed" }
func (StepFailed) eventType() string       { return "step_failed" }
func (Pong) eventType() string             { return "pong" }

type envelope struct {
	Type string `json:"type"`
}

// Decode parses one inbound frame into its typed event. It returns
// ErrUnknownEvent for unrecognized types and ErrMalformedEvent for
// frames that do not match their declared shape; callers log and drop
// both without closing the channel.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch env.Type {
	case "ai_response":
		return decodeAs[AIResponse](data)
	case "transcript":
		return decodeAs[Transcript](data)
	case "kb_match":
		return decodeAs[KBMatch](data)
	case "template_detected":
		return decodeAs[TemplateDetected](data)
	case "task_created":
		return decodeAs[TaskCreated](data)
	case "task_started":
		return decodeAs[TaskStarted](data)
	case "step_completed":
		return decodeAs[StepCompleted](data)
	case "step_failed":
		return decodeAs[StepFailed](data)
	case "pong":
		return Pong{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

// planCarrier is implemented by events that replace the plan snapshot.
type planCarrier interface {
	planID() string
}

func (e TaskCreated) planID() string   { return e.Plan.ID }
func (e TaskStarted) planID() string   { return e.Plan.ID }
func (e StepCompleted) planID() string { return e.Plan.ID }
func (e StepFailed) planID() string    { return e.Plan.ID }

func decodeAs[T Event](data []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	// Plan snapshots without an id cannot be applied or acted on.
	if pc, ok := Event(ev).(planCarrier); ok && pc.planID() == "" {
		return nil, fmt.Errorf("%w: plan snapshot missing id", ErrMalformedEvent)
	}
	return ev, nil
}
