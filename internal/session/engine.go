// Package session runs the synchronization engine for one assistance
// session: it owns the live channel, reduces inbound events into
// conversation, knowledge, and plan state in strict arrival order, and
// originates all outbound commands.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/akai-desk/internal/conversation"
	"github.com/ashureev/akai-desk/internal/dispatch"
	"github.com/ashureev/akai-desk/internal/domain"
	"github.com/ashureev/akai-desk/internal/knowledge"
	"github.com/ashureev/akai-desk/internal/protocol"
	"github.com/ashureev/akai-desk/internal/store"
	"github.com/ashureev/akai-desk/internal/task"
	"github.com/ashureev/akai-desk/internal/transport"
)

// ErrEmptyMessage rejects blank chat submissions before any network call.
var ErrEmptyMessage = errors.New("message is empty")

// ErrTornDown is returned by intents issued after the session ended.
var ErrTornDown = errors.New("session ended")

// Timing bundles the engine's fixed delays. Production uses the
// defaults; tests shrink them.
type Timing struct {
	RevealDelay       time.Duration
	CompleteHideDelay time.Duration
	ReconnectDelay    time.Duration
	KeepaliveInterval time.Duration
}

// DefaultTiming returns the production delays.
func DefaultTiming() Timing {
	return Timing{
		RevealDelay:       conversation.RevealDelay,
		CompleteHideDelay: task.CompleteHideDelay,
		ReconnectDelay:    transport.DefaultReconnectDelay,
		KeepaliveInterval: 25 * time.Second,
	}
}

// Chatter is the backend surface the engine needs for chat turns and
// feedback, satisfied by *backend.Client.
type Chatter interface {
	SubmitChat(ctx context.Context, sessionID, message string, screenshot []byte) (string, error)
	SubmitSolutionFeedback(ctx context.Context, solutionID string, success bool) error
}

// Options configures an Engine.
type Options struct {
	Session *domain.Session
	// ChannelURL is the websocket endpoint for this session.
	ChannelURL string
	// Dial overrides the websocket dialer (tests).
	Dial transport.Dialer
	// Backend handles chat round trips and feedback delivery.
	Backend Chatter
	// Archive persists sessions and turns locally; nil disables archiving.
	Archive store.Archive
	Timing  Timing
}

// Engine is the per-session synchronization core. All state reduction
// happens on one event loop: inbound frames, timer callbacks, and user
// intents are funneled through the same inbox and each runs to
// completion before the next.
type Engine struct {
	session *domain.Session
	timing  Timing
	backend Chatter
	archive store.Archive

	channel    *transport.Manager
	dispatcher *dispatch.Dispatcher

	// Loop-owned state. Touched only from run().
	conv      *conversation.Log
	kb        *knowledge.Store
	plan      *task.Machine
	connState domain.ConnectionState

	inbox    chan func()
	archiveQ chan domain.Turn
	done     chan struct{}
	once     sync.Once

	timersMu sync.Mutex
	timers   map[int]*time.Timer
	timerSeq int
}

// New creates an engine for one session and starts its event loop. The
// channel is not opened until Start.
func New(opts Options) *Engine {
	if opts.Timing == (Timing{}) {
		opts.Timing = DefaultTiming()
	}

	e := &Engine{
		session:   opts.Session,
		timing:    opts.Timing,
		backend:   opts.Backend,
		archive:   opts.Archive,
		conv:      conversation.NewLog(),
		connState: domain.ConnDisconnected,
		inbox:     make(chan func(), 64),
		archiveQ:  make(chan domain.Turn, 256),
		done:      make(chan struct{}),
		timers:    make(map[int]*time.Timer),
	}
	e.kb = knowledge.NewStore(feedbackSender{opts.Backend})
	e.channel = transport.NewManager(transport.Options{
		URL:               opts.ChannelURL,
		Dial:              opts.Dial,
		ReconnectDelay:    opts.Timing.ReconnectDelay,
		KeepaliveInterval: opts.Timing.KeepaliveInterval,
		OnMessage:         func(data []byte) { e.post(func() { e.handleFrame(data) }) },
		OnState:           func(s domain.ConnectionState) { e.post(func() { e.connState = s }) },
	})
	e.dispatcher = dispatch.New(e.channel)
	e.plan = task.NewMachine(e.dispatcher)

	go e.run()
	if e.archive != nil {
		go e.archiveLoop()
	}
	return e
}

// feedbackSender adapts the backend to the knowledge store without
// dragging the full Chatter surface into that package.
type feedbackSender struct {
	backend Chatter
}

func (f feedbackSender) SubmitSolutionFeedback(ctx context.Context, solutionID string, success bool) error {
	if f.backend == nil {
		return nil
	}
	return f.backend.SubmitSolutionFeedback(ctx, solutionID, success)
}

func (e *Engine) run() {
	for {
		select {
		case <-e.done:
			return
		case f := <-e.inbox:
			f()
		}
	}
}

// post queues work for the event loop. Work posted after teardown is
// dropped: timers must not mutate state once the session ended.
func (e *Engine) post(f func()) {
	select {
	case <-e.done:
	case e.inbox <- f:
	}
}

// do runs f on the event loop and waits for it. Returns false after
// teardown.
func (e *Engine) do(f func()) bool {
	ran := make(chan struct{})
	select {
	case <-e.done:
		return false
	case e.inbox <- func() {
		f()
		close(ran)
	}:
	}
	select {
	case <-ran:
		return true
	case <-e.done:
		return false
	}
}

// afterFunc schedules f on the event loop after d. All pending timers
// are cancelled at teardown.
func (e *Engine) afterFunc(d time.Duration, f func()) {
	e.timersMu.Lock()
	e.timerSeq++
	id := e.timerSeq
	timer := time.AfterFunc(d, func() {
		e.timersMu.Lock()
		delete(e.timers, id)
		e.timersMu.Unlock()
		e.post(f)
	})
	e.timers[id] = timer
	e.timersMu.Unlock()
}

// Start opens the live channel. Reconnects run until Teardown.
func (e *Engine) Start() {
	e.channel.Open()
}

// Teardown ends the session: it cancels every pending reconnect, reveal,
// and hide timer, closes the channel, and stops the event loop. No state
// mutation happens after Teardown returns.
func (e *Engine) Teardown() {
	e.once.Do(func() {
		close(e.done)

		e.timersMu.Lock()
		for id, t := range e.timers {
			t.Stop()
			delete(e.timers, id)
		}
		e.timersMu.Unlock()

		e.channel.Close()
		slog.Info("Session torn down", "session_id", e.session.ID)
	})
}

// Session returns the immutable session identity.
func (e *Engine) Session() *domain.Session {
	return e.session
}

// handleFrame decodes and reduces one inbound frame. Protocol errors are
// logged and dropped; the channel stays open and later events still
// apply.
func (e *Engine) handleFrame(data []byte) {
	ev, err := protocol.Decode(data)
	if err != nil {
		slog.Warn("Dropping undecodable event", "error", err)
		return
	}

	switch ev := ev.(type) {
	case protocol.AIResponse:
		e.appendAssistant(ev.Response)
	case protocol.Transcript:
		e.appendTranscribedUser(ev.Text)
	case protocol.KBMatch:
		e.kb.SetSuggestions(ev.Problems, ev.TopSolutions)
		slog.Info("Knowledge suggestions updated", "problems", len(ev.Problems), "solutions", len(ev.TopSolutions))
	case protocol.TemplateDetected:
		e.plan.ApplyTemplateDetected(ev.Template)
		slog.Info("Template detected", "template_id", ev.Template.ID, "name", ev.Template.Name)
	case protocol.TaskCreated:
		e.plan.ApplyCreated(ev.Plan)
	case protocol.TaskStarted:
		e.plan.ApplyStarted(ev.Plan, ev.CurrentStep)
	case protocol.StepCompleted:
		if e.plan.ApplyStepCompleted(ev.Plan, ev.NextStep, ev.IsComplete) {
			e.appendAssistant("All steps are done. Let me know if anything else is acting up.")
			e.afterFunc(e.timing.CompleteHideDelay, e.hideCompletedPlan)
		}
	case protocol.StepFailed:
		e.plan.ApplyStepFailed(ev.Plan, ev.FailedStep, ev.ErrorMessage)
	case protocol.Pong:
		slog.Debug("Pong received", "session_id", e.session.ID)
	}
}

// hideCompletedPlan hides the plan panel after the completion delay,
// unless the knowledge panel is showing: hiding one panel must not take
// an unrelated still-active panel with it.
func (e *Engine) hideCompletedPlan() {
	if e.kb.HasSuggestions() {
		slog.Debug("Plan panel hide skipped, knowledge panel active")
		return
	}
	e.plan.HidePanel()
}

func (e *Engine) appendAssistant(text string) {
	before := len(e.conv.Turns())
	hidden := e.conv.AppendAssistant(text)
	for i, id := range hidden {
		turnID := id
		e.afterFunc(e.timing.RevealDelay*time.Duration(i+1), func() {
			e.conv.Reveal(turnID)
		})
	}
	for _, turn := range e.conv.Turns()[before:] {
		e.archiveTurn(turn)
	}
}

func (e *Engine) appendTranscribedUser(text string) {
	id := e.conv.AppendUser(text)
	// Transcriptions arrive from the server, already recorded there.
	e.conv.MarkDelivered(id)
	e.archiveTurnByID(id)
}

// archiveTurn enqueues one turn for persistence. Writes are drained by a
// single worker so archived order matches transcript order; a full queue
// drops the write. Archive failures never affect session state.
func (e *Engine) archiveTurn(turn domain.Turn) {
	if e.archive == nil {
		return
	}
	select {
	case e.archiveQ <- turn:
	default:
		slog.Warn("Archive queue full, dropping turn", "turn_id", turn.ID)
	}
}

func (e *Engine) archiveLoop() {
	for {
		select {
		case <-e.done:
			return
		case turn := <-e.archiveQ:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := e.archive.AppendTurn(ctx, e.session.ID, turn); err != nil {
				slog.Warn("Failed to archive turn", "session_id", e.session.ID, "turn_id", turn.ID, "error", err)
			}
			cancel()
		}
	}
}

// archiveTurnByID re-archives a turn after its delivery status changed.
func (e *Engine) archiveTurnByID(id string) {
	if e.archive == nil {
		return
	}
	for _, turn := range e.conv.Turns() {
		if turn.ID == id {
			e.archiveTurn(turn)
			return
		}
	}
}

// SendMessage submits a chat turn. The turn is appended pending, then
// the backend round trip marks it delivered or failed; a failed turn is
// never retried automatically. The assistant reply (or a degraded
// apology on backend failure) is appended when the round trip finishes.
func (e *Engine) SendMessage(text string, screenshot []byte) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	var turnID string
	if !e.do(func() {
		turnID = e.conv.AppendUser(text)
		e.archiveTurnByID(turnID)
	}) {
		return ErrTornDown
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		reply, err := e.backend.SubmitChat(ctx, e.session.ID, text, screenshot)
		e.post(func() {
			if err != nil {
				slog.Warn("Chat round trip failed", "session_id", e.session.ID, "error", err)
				e.conv.MarkFailed(turnID)
				e.archiveTurnByID(turnID)
				e.appendAssistant("Sorry, I couldn't reach the assistant just now. Please try sending that again.")
				return
			}
			e.conv.MarkDelivered(turnID)
			e.archiveTurnByID(turnID)
			e.appendAssistant(reply)
		})
	}()

	return nil
}

// SubmitFeedback records the outcome of a suggested solution,
// fire-and-forget.
func (e *Engine) SubmitFeedback(solutionID string, success bool) error {
	if !e.do(func() {
		e.kb.SubmitFeedback(context.Background(), solutionID, success)
	}) {
		return ErrTornDown
	}
	return nil
}

// StartPlan issues a start_plan command for the held plan.
func (e *Engine) StartPlan(planID string) error {
	return e.dispatcher.StartPlan(planID)
}

// CompleteStep issues a complete_step command. State advances only when
// the server's step_completed event arrives.
func (e *Engine) CompleteStep(planID, stepID string) error {
	return e.dispatcher.CompleteStep(planID, stepID)
}

// SkipStep issues a skip_step command.
func (e *Engine) SkipStep(planID, stepID string) error {
	return e.dispatcher.SkipStep(planID, stepID)
}

// InstantiateTemplate issues a create_from_template command.
func (e *Engine) InstantiateTemplate(templateID string) error {
	return e.dispatcher.CreateFromTemplate(templateID)
}

// inject feeds one raw frame into the event loop, as if it arrived on
// the channel. Used by tests.
func (e *Engine) inject(data []byte) bool {
	return e.do(func() { e.handleFrame(data) })
}
