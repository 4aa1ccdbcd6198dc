package session

import (
	"github.com/ashureev/akai-desk/internal/domain"
	"github.com/ashureev/akai-desk/internal/task"
)

// View is a self-contained snapshot of everything a renderer needs.
// Slices and pointers are copies; the caller may hold them freely.
type View struct {
	Session    domain.Session         `json:"session"`
	Connection domain.ConnectionState `json:"connection"`

	Turns []domain.Turn `json:"turns"`

	Problems           []domain.Problem  `json:"problems"`
	Solutions          []domain.Solution `json:"solutions"`
	SuggestionsVisible bool              `json:"suggestions_visible"`

	Plan        *domain.TaskPlan     `json:"plan,omitempty"`
	PlanVisible bool                 `json:"plan_visible"`
	ActiveStep  *domain.TaskStep     `json:"active_step,omitempty"`
	Notice      task.Notice          `json:"notice"`
	Template    *domain.TaskTemplate `json:"template,omitempty"`
}

// View snapshots the current render state. The snapshot is taken on the
// event loop, so it is always internally consistent: no event is half
// applied. After teardown it returns the zero view.
func (e *Engine) View() View {
	var v View
	e.do(func() {
		v = View{
			Session:            *e.session,
			Connection:         e.connState,
			Turns:              e.conv.Visible(),
			Problems:           e.kb.Problems(),
			Solutions:          e.kb.TopSolutions(),
			SuggestionsVisible: e.kb.HasSuggestions(),
			Plan:               e.plan.Plan(),
			PlanVisible:        e.plan.PanelVisible(),
			ActiveStep:         e.plan.ActiveStep(),
			Notice:             e.plan.CurrentNotice(),
			Template:           e.plan.Template(),
		}
	})
	return v
}

// History returns the full transcript including hidden and failed
// turns, for archival and the history endpoint.
func (e *Engine) History() []domain.Turn {
	var turns []domain.Turn
	e.do(func() {
		turns = e.conv.Turns()
	})
	return turns
}
