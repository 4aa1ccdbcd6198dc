package session

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/akai-desk/internal/domain"
	"github.com/ashureev/akai-desk/internal/store"
	"github.com/ashureev/akai-desk/internal/task"
	"github.com/ashureev/akai-desk/internal/transport"
)

type fakeBackend struct {
	mu       sync.Mutex
	reply    string
	err      error
	messages []string
	feedback []string
}

func (f *fakeBackend) SubmitChat(_ context.Context, _, message string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeBackend) SubmitSolutionFeedback(_ context.Context, solutionID string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedback = append(f.feedback, solutionID)
	return nil
}

func (f *fakeBackend) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

// fakeChannel is an in-memory Conn capturing outbound frames.
type fakeChannel struct {
	inbound chan []byte

	mu     sync.Mutex
	writes [][]byte
	closed chan struct{}
	once   sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{inbound: make(chan []byte, 8), closed: make(chan struct{})}
}

func (c *fakeChannel) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, errors.New("connection closed")
	case data := <-c.inbound:
		return data, nil
	}
}

func (c *fakeChannel) Write(_ context.Context, data []byte) error {
	c.mu.Lock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeChannel) sentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

func testTiming() Timing {
	return Timing{
		RevealDelay:       5 * time.Millisecond,
		CompleteHideDelay: 30 * time.Millisecond,
		ReconnectDelay:    10 * time.Millisecond,
	}
}

func newTestEngine(t *testing.T, backend Chatter) (*Engine, *fakeChannel) {
	t.Helper()
	channel := newFakeChannel()
	eng := New(Options{
		Session:    &domain.Session{ID: "sess-1", ShortCode: "483920", CreatedAt: time.Now()},
		ChannelURL: "ws://test/ws/sess-1",
		Dial: func(_ context.Context, _ string) (transport.Conn, error) {
			return channel, nil
		},
		Backend: backend,
		Timing:  testTiming(),
	})
	t.Cleanup(eng.Teardown)
	return eng, channel
}

func waitForView(t *testing.T, eng *Engine, what string, cond func(View) bool) View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		v := eng.View()
		if cond(v) {
			return v
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
	return View{}
}

func TestCreatedPlanAutoStartReachesWire(t *testing.T) {
	eng, channel := newTestEngine(t, &fakeBackend{})
	eng.Start()
	waitForView(t, eng, "connect", func(v View) bool { return v.Connection == domain.ConnConnected })

	eng.inject([]byte(`{"type":"task_created","plan":{"id":"plan-1","title":"Fix VPN","status":"created","steps":[{"id":"st-1","title":"Restart adapter","status":"pending"}]}}`))

	v := eng.View()
	if !v.PlanVisible || v.Plan == nil || v.Plan.ID != "plan-1" {
		t.Fatalf("view = %+v, want visible plan-1", v.Plan)
	}

	frames := channel.sentFrames()
	if len(frames) != 1 {
		t.Fatalf("sent %d frames, want 1 auto-start", len(frames))
	}
	var cmd struct {
		Type   string `json:"type"`
		Action string `json:"action"`
		PlanID string `json:"plan_id"`
	}
	if err := json.Unmarshal(frames[0], &cmd); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if cmd.Type != "task_action" || cmd.Action != "start_plan" || cmd.PlanID != "plan-1" {
		t.Errorf("auto-start frame = %s", frames[0])
	}
}

func TestCompletionHidesPanelAfterDelay(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeBackend{})

	eng.inject([]byte(`{"type":"task_started","plan":{"id":"plan-1","title":"Fix VPN","status":"in_progress","steps":[{"id":"st-1","status":"in_progress"}]}}`))
	eng.inject([]byte(`{"type":"step_completed","plan":{"id":"plan-1","title":"Fix VPN","status":"completed","steps":[{"id":"st-1","status":"completed"}]},"next_step":null,"is_complete":true}`))

	v := eng.View()
	if !v.PlanVisible {
		t.Fatal("panel must stay visible through the completion notice")
	}
	if v.Notice.Kind != task.NoticeCompleted {
		t.Errorf("notice = %+v, want completed", v.Notice)
	}

	waitForView(t, eng, "panel hide", func(v View) bool { return !v.PlanVisible })

	// The completion message lands in the transcript and survives the hide.
	v = waitForView(t, eng, "completion turn", func(v View) bool { return len(v.Turns) >= 1 })
	if v.Turns[0].Role != domain.RoleAssistant {
		t.Errorf("completion turn role = %q", v.Turns[0].Role)
	}
}

func TestCompletionHideSkippedWhileSuggestionsShow(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeBackend{})

	eng.inject([]byte(`{"type":"kb_match","problems":[{"id":"p1","title":"VPN drops"}],"top_solutions":[{"id":"s1","title":"Reset adapter"}]}`))
	eng.inject([]byte(`{"type":"step_completed","plan":{"id":"plan-1","title":"Fix VPN","status":"completed","steps":[]},"next_step":null,"is_complete":true}`))

	time.Sleep(3 * testTiming().CompleteHideDelay)

	v := eng.View()
	if !v.PlanVisible {
		t.Error("hide must be skipped while the suggestion panel is active")
	}
	if !v.SuggestionsVisible {
		t.Error("suggestion panel must still be visible")
	}
}

func TestSplitReplyRevealsInOrder(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeBackend{})

	eng.inject([]byte(`{"type":"ai_response","response":"First check the cable.\n\nThen restart the router.\n\nFinally rejoin the network."}`))

	v := eng.View()
	if len(v.Turns) != 1 {
		t.Fatalf("visible turns right after arrival = %d, want 1", len(v.Turns))
	}

	v = waitForView(t, eng, "all bubbles revealed", func(v View) bool { return len(v.Turns) == 3 })
	want := []string{"First check the cable.", "Then restart the router.", "Finally rejoin the network."}
	for i, turn := range v.Turns {
		if turn.Content != want[i] {
			t.Errorf("bubble %d = %q, want %q", i, turn.Content, want[i])
		}
	}
}

func TestUndecodableFramesAreDropped(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeBackend{})

	eng.inject([]byte(`{"type":"ai_response","response":"before"}`))
	eng.inject([]byte(`{"type":"screen_share_offer","sdp":"..."}`))
	eng.inject([]byte(`not json at all`))
	eng.inject([]byte(`{"type":"ai_response","response":"after"}`))

	v := eng.View()
	if len(v.Turns) != 2 {
		t.Fatalf("visible turns = %d, want 2", len(v.Turns))
	}
	if v.Turns[0].Content != "before" || v.Turns[1].Content != "after" {
		t.Errorf("turns = %q / %q", v.Turns[0].Content, v.Turns[1].Content)
	}
}

func TestSendMessageRoundTrip(t *testing.T) {
	backend := &fakeBackend{reply: "Have you tried turning it off and on?"}
	eng, _ := newTestEngine(t, backend)

	if err := eng.SendMessage("my pc is slow", nil); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	v := waitForView(t, eng, "delivered turn with reply", func(v View) bool {
		return len(v.Turns) == 2 && v.Turns[0].Delivery == domain.DeliveryDelivered
	})
	if v.Turns[0].Role != domain.RoleUser || v.Turns[0].Content != "my pc is slow" {
		t.Errorf("user turn = %+v", v.Turns[0])
	}
	if v.Turns[1].Role != domain.RoleAssistant || v.Turns[1].Content != backend.reply {
		t.Errorf("assistant turn = %+v", v.Turns[1])
	}
	if got := backend.sentMessages(); len(got) != 1 || got[0] != "my pc is slow" {
		t.Errorf("backend received %v", got)
	}
}

func TestFailedRoundTripMarksTurnAndApologizes(t *testing.T) {
	backend := &fakeBackend{err: errors.New("server unreachable")}
	eng, _ := newTestEngine(t, backend)

	if err := eng.SendMessage("anyone there?", nil); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	v := waitForView(t, eng, "failed turn", func(v View) bool {
		return len(v.Turns) >= 1 && v.Turns[0].Delivery == domain.DeliveryFailed
	})
	// The failed turn stays in the transcript, followed by a degraded
	// assistant response.
	v = waitForView(t, eng, "apology turn", func(v View) bool { return len(v.Turns) == 2 })
	if v.Turns[1].Role != domain.RoleAssistant {
		t.Errorf("second turn = %+v, want assistant apology", v.Turns[1])
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeBackend{})

	for _, text := range []string{"", "   ", "\n\t"} {
		if err := eng.SendMessage(text, nil); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("SendMessage(%q) error = %v, want ErrEmptyMessage", text, err)
		}
	}
	if v := eng.View(); len(v.Turns) != 0 {
		t.Errorf("rejected message produced %d turns", len(v.Turns))
	}
}

func TestStepFailedSurfacesErrorVerbatim(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeBackend{})

	eng.inject([]byte(`{"type":"step_failed","plan":{"id":"plan-1","title":"Fix VPN","status":"in_progress","steps":[{"id":"st-1","status":"failed"},{"id":"st-2","status":"pending"}]},"failed_step":{"id":"st-1","status":"failed"},"error_message":"adapter reset timed out"}`))

	v := eng.View()
	if v.Notice.Kind != task.NoticeFailed || v.Notice.Text != "adapter reset timed out" {
		t.Errorf("notice = %+v", v.Notice)
	}
	if !v.PlanVisible {
		t.Error("panel must stay visible after a step failure")
	}
	if v.ActiveStep == nil || v.ActiveStep.ID != "st-2" {
		t.Errorf("active step = %+v, want st-2", v.ActiveStep)
	}
}

func TestTranscriptEventAppendsDeliveredUserTurn(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeBackend{})

	eng.inject([]byte(`{"type":"transcript","text":"my vpn keeps dropping"}`))

	v := eng.View()
	if len(v.Turns) != 1 {
		t.Fatalf("got %d turns, want 1", len(v.Turns))
	}
	if v.Turns[0].Role != domain.RoleUser || v.Turns[0].Delivery != domain.DeliveryDelivered {
		t.Errorf("turn = %+v", v.Turns[0])
	}
}

func TestSuggestionLimitInView(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeBackend{})

	eng.inject([]byte(`{"type":"kb_match","problems":[{"id":"p1"}],"top_solutions":[{"id":"s1"},{"id":"s2"},{"id":"s3"},{"id":"s4"}]}`))

	v := eng.View()
	if len(v.Solutions) != 3 {
		t.Errorf("view solutions = %d, want 3", len(v.Solutions))
	}
}

func TestFeedbackReachesBackend(t *testing.T) {
	backend := &fakeBackend{}
	eng, _ := newTestEngine(t, backend)

	eng.inject([]byte(`{"type":"kb_match","problems":[],"top_solutions":[{"id":"s1","title":"Reset adapter"}]}`))
	if err := eng.SubmitFeedback("s1", true); err != nil {
		t.Fatalf("SubmitFeedback() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		backend.mu.Lock()
		n := len(backend.feedback)
		backend.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("feedback never reached the backend")
}

func TestTurnsArchivedInTranscriptOrder(t *testing.T) {
	archive, err := store.NewSQLite(filepath.Join(t.TempDir(), "akai.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = archive.Close() })

	eng := New(Options{
		Session:    &domain.Session{ID: "sess-1", ShortCode: "483920", CreatedAt: time.Now()},
		ChannelURL: "ws://test/ws/sess-1",
		Dial: func(_ context.Context, _ string) (transport.Conn, error) {
			return newFakeChannel(), nil
		},
		Backend: &fakeBackend{},
		Archive: archive,
		Timing:  testTiming(),
	})
	t.Cleanup(eng.Teardown)

	eng.inject([]byte(`{"type":"ai_response","response":"First.\n\nSecond.\n\nThird."}`))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		turns, err := archive.ListTurns(context.Background(), "sess-1")
		if err != nil {
			t.Fatalf("ListTurns() error = %v", err)
		}
		if len(turns) == 3 {
			want := []string{"First.", "Second.", "Third."}
			for i, turn := range turns {
				if turn.Content != want[i] {
					t.Errorf("archived turn %d = %q, want %q", i, turn.Content, want[i])
				}
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("turns never reached the archive")
}

func TestTeardownStopsIntents(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeBackend{})

	eng.Teardown()

	if err := eng.SendMessage("hello", nil); !errors.Is(err, ErrTornDown) {
		t.Errorf("SendMessage() after teardown error = %v, want ErrTornDown", err)
	}
	if err := eng.SubmitFeedback("s1", true); !errors.Is(err, ErrTornDown) {
		t.Errorf("SubmitFeedback() after teardown error = %v, want ErrTornDown", err)
	}
}
