package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sidechat/internal/domain/session"
	"sidechat/internal/domain/transcript"
	"sidechat/internal/infrastructure/store"
	"sidechat/internal/transport"
	"sidechat/internal/utils/platformerrors"
)

// fakeTransport records outbound requests.
type fakeTransport struct {
	mu       sync.Mutex
	requests []transport.Request
}

func (f *fakeTransport) Send(ctx context.Context, req transport.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) sent() []transport.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

func newTestEngine(t *testing.T) (*Engine, *fakeTransport, *store.MemoryStore) {
	t.Helper()
	records := store.NewMemoryStore(zerolog.Nop())
	sess := &session.Session{SessionID: "sess_test", ModelName: "test-model"}
	eng := New(sess, records, time.Second, zerolog.Nop())
	tr := &fakeTransport{}
	eng.AttachTransport(tr)
	return eng, tr, records
}

func TestAskAppendsPairAndDispatches(t *testing.T) {
	eng, tr, _ := newTestEngine(t)

	if err := eng.Ask(context.Background(), "hi"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}

	items := eng.Items()
	if len(items) != 2 {
		t.Fatalf("expected question + placeholder, got %d items", len(items))
	}
	if eng.Ready() {
		t.Fatal("engine must not be ready while a turn is in flight")
	}

	sent := tr.sent()
	if len(sent) != 1 || sent[0].Session == nil {
		t.Fatalf("expected one session request, got %#v", sent)
	}
	if sent[0].Session.Question != "hi" {
		t.Fatalf("outbound question mismatch: %q", sent[0].Session.Question)
	}
}

func TestAskWhileInFlightRejected(t *testing.T) {
	eng, tr, _ := newTestEngine(t)

	if err := eng.Ask(context.Background(), "one"); err != nil {
		t.Fatalf("first ask failed: %v", err)
	}
	err := eng.Ask(context.Background(), "two")
	if err == nil {
		t.Fatal("expected second ask to be rejected")
	}
	if !platformerrors.IsErrorType(err, platformerrors.ErrorTypeConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if len(tr.sent()) != 1 {
		t.Fatalf("expected a single outbound request, got %d", len(tr.sent()))
	}
}

func TestFullTurnPersistsRecord(t *testing.T) {
	eng, _, records := newTestEngine(t)
	ctx := context.Background()

	if err := eng.Ask(ctx, "hi"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}

	eng.HandleMessage(transport.Message{
		Type:             transport.TypeThinkingUpdate,
		ReasoningContent: transport.String("step1"),
		ThinkingTime:     transport.Int64(400),
		IsThinking:       transport.Bool(true),
	})
	eng.HandleMessage(transport.Message{
		Type:             transport.TypeContentUpdate,
		ReasoningContent: transport.String("step1"),
		ActualContent:    transport.String("Hello"),
		ThinkingTime:     transport.Int64(400),
		IsThinking:       transport.Bool(false),
		Done:             transport.Bool(true),
	})

	if !eng.Ready() {
		t.Fatal("engine must be ready after done")
	}

	saved, err := records.Get(ctx, "sess_test")
	if err != nil {
		t.Fatalf("expected persisted session: %v", err)
	}
	if len(saved.ConversationRecords) != 1 {
		t.Fatalf("expected one record, got %#v", saved.ConversationRecords)
	}
	rec := saved.ConversationRecords[0]
	if rec.Question != "hi" || rec.Answer != "Hello" {
		t.Fatalf("unexpected record %#v", rec)
	}
	if rec.ThinkingData == nil || rec.ThinkingData.ReasoningContent != "step1" ||
		!rec.ThinkingData.HasReasoning || rec.ThinkingData.IsThinking {
		t.Fatalf("unexpected thinkingData %#v", rec.ThinkingData)
	}
}

func TestStickyReasoningAcrossUpdates(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	if err := eng.Ask(ctx, "q"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}

	eng.HandleMessage(transport.Message{
		Type:             transport.TypeThinkingUpdate,
		ReasoningContent: transport.String("thinking"),
		IsThinking:       transport.Bool(true),
	})
	// Later update omits reasoning entirely.
	eng.HandleMessage(transport.Message{
		Type:          transport.TypeContentUpdate,
		ActualContent: transport.String("answer"),
		IsThinking:    transport.Bool(false),
		Done:          transport.Bool(true),
	})

	items := eng.Items()
	answer := items[len(items)-1]
	if answer.Thinking == nil || !answer.Thinking.HasReasoning {
		t.Fatal("hasReasoning must stay true when later updates omit reasoning")
	}
	if answer.Thinking.ReasoningContent != "thinking" {
		t.Fatalf("reasoning content lost: %q", answer.Thinking.ReasoningContent)
	}
}

func TestIdempotentDoneMessages(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	if err := eng.Ask(ctx, "q"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	eng.HandleMessage(transport.Message{
		Type:          transport.TypeContentUpdate,
		ActualContent: transport.String("final"),
		Done:          transport.Bool(true),
	})
	after := eng.Items()

	eng.HandleMessage(transport.Message{Done: transport.Bool(true)})
	again := eng.Items()

	if len(after) != len(again) {
		t.Fatalf("repeated done changed item count: %d vs %d", len(after), len(again))
	}
	if after[len(after)-1].Content != again[len(again)-1].Content {
		t.Fatal("repeated done changed item content")
	}
}

func TestErrorMessageBecomesErrorItem(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	if err := eng.Ask(ctx, "x"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	eng.HandleMessage(transport.Message{Error: transport.String(`{"code":1}`)})

	items := eng.Items()
	last := items[len(items)-1]
	if last.Kind != transcript.KindError {
		t.Fatalf("expected error item, got %#v", last)
	}
	if last.Content != "{\n  \"code\": 1\n}" {
		t.Fatalf("expected pretty-printed error, got %q", last.Content)
	}
	if !eng.Ready() {
		t.Fatal("failure must end the turn")
	}

	// A duplicate failure for the same turn does not stack items.
	eng.HandleMessage(transport.Message{Error: transport.String("again")})
	if got := eng.Items(); len(got) != len(items) {
		t.Fatalf("duplicate error stacked items: %d vs %d", len(got), len(items))
	}
}

func TestLegacyAnswerShape(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	if err := eng.Ask(ctx, "q"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	eng.HandleMessage(transport.Message{Answer: transport.String("plain"), Done: transport.Bool(true)})

	items := eng.Items()
	last := items[len(items)-1]
	if last.Content != "plain" || !last.Done {
		t.Fatalf("legacy answer mishandled: %#v", last)
	}
}

func TestRetryGuardSingleFlight(t *testing.T) {
	eng, tr, _ := newTestEngine(t)
	ctx := context.Background()

	if err := eng.Ask(ctx, "q"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	eng.HandleMessage(transport.Message{Error: transport.String("boom")})
	itemsBefore := len(eng.Items())

	if err := eng.Retry(ctx); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if err := eng.Retry(ctx); err != nil {
		t.Fatalf("guarded retry must be a silent no-op, got %v", err)
	}

	sent := tr.sent()
	if len(sent) != 2 {
		t.Fatalf("expected ask + one retry request, got %d", len(sent))
	}
	retryReq := sent[1]
	if retryReq.Session == nil || !retryReq.Session.IsRetry {
		t.Fatalf("retry request must carry isRetry, got %#v", retryReq)
	}
	if retryReq.Session.Question != "q" {
		t.Fatalf("retry must re-derive the last question, got %q", retryReq.Session.Question)
	}

	// Error item replaced by exactly one fresh placeholder.
	if got := len(eng.Items()); got != itemsBefore {
		t.Fatalf("expected item count unchanged after remove+append, got %d want %d", got, itemsBefore)
	}
}

func TestRetryExcludesRemovedTurnFromHistory(t *testing.T) {
	eng, tr, _ := newTestEngine(t)
	ctx := context.Background()

	// First turn completes.
	if err := eng.Ask(ctx, "first"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	eng.HandleMessage(transport.Message{
		Type:          transport.TypeContentUpdate,
		ActualContent: transport.String("answer one"),
		Done:          transport.Bool(true),
	})

	// Second turn fails and is retried.
	if err := eng.Ask(ctx, "second"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	eng.HandleMessage(transport.Message{Error: transport.String("boom")})
	if err := eng.Retry(ctx); err != nil {
		t.Fatalf("retry failed: %v", err)
	}

	sent := tr.sent()
	retryReq := sent[len(sent)-1]
	for _, rec := range retryReq.Session.ConversationRecords {
		if rec.Question == "second" {
			t.Fatalf("removed turn must be excluded from retry history: %#v", rec)
		}
	}
	found := false
	for _, rec := range retryReq.Session.ConversationRecords {
		if rec.Question == "first" {
			found = true
		}
	}
	if !found {
		t.Fatal("earlier history must be carried on retry")
	}
}

func TestRetryWithNothingToRetry(t *testing.T) {
	eng, tr, _ := newTestEngine(t)
	if err := eng.Retry(context.Background()); err == nil {
		t.Fatal("expected error when there is nothing to retry")
	}
	if len(tr.sent()) != 0 {
		t.Fatalf("no request must go out, got %d", len(tr.sent()))
	}
}

func TestStopKeepsPartialState(t *testing.T) {
	eng, tr, _ := newTestEngine(t)
	ctx := context.Background()

	if err := eng.Ask(ctx, "q"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	eng.HandleMessage(transport.Message{
		Type:             transport.TypeThinkingUpdate,
		ReasoningContent: transport.String("partial reasoning"),
		IsThinking:       transport.Bool(true),
	})

	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if !eng.Ready() {
		t.Fatal("stop must make the engine ready again")
	}

	sent := tr.sent()
	if !sent[len(sent)-1].Stop {
		t.Fatalf("expected stop request, got %#v", sent[len(sent)-1])
	}

	items := eng.Items()
	last := items[len(items)-1]
	if last.Thinking == nil || last.Thinking.ReasoningContent != "partial reasoning" {
		t.Fatal("partial state must be retained after stop")
	}
}

func TestUnchangedProjectionSkipsPersistence(t *testing.T) {
	eng, _, records := newTestEngine(t)
	ctx := context.Background()

	if err := eng.Ask(ctx, "q"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	eng.HandleMessage(transport.Message{
		Type:          transport.TypeContentUpdate,
		ActualContent: transport.String("done"),
		Done:          transport.Bool(true),
	})
	saved, err := records.Get(ctx, "sess_test")
	if err != nil {
		t.Fatalf("expected persisted session: %v", err)
	}

	// A progress tick after completion must not touch persistence.
	eng.HandleMessage(transport.Message{
		Type:         transport.TypeThinkingProgress,
		ThinkingTime: transport.Int64(9999),
		IsThinking:   transport.Bool(false),
	})
	again, err := records.Get(ctx, "sess_test")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(saved.ConversationRecords) != len(again.ConversationRecords) {
		t.Fatal("progress tick changed persisted records")
	}
}

// TestConversationLifecycle walks one session through the full flow:
// a reasoning turn that completes, a failing turn, a guarded retry, and a
// repeated completion marker — checking the persisted shape at each step.
func TestConversationLifecycle(t *testing.T) {
	eng, tr, records := newTestEngine(t)
	ctx := context.Background()

	// Turn 1: reasoning, then content, then finish.
	if err := eng.Ask(ctx, "first"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	eng.HandleMessage(transport.Message{
		Type:             transport.TypeThinkingUpdate,
		ReasoningContent: transport.String("working it out"),
		ThinkingTime:     transport.Int64(300),
		IsThinking:       transport.Bool(true),
	})
	eng.HandleMessage(transport.Message{
		Type:             transport.TypeContentUpdate,
		ReasoningContent: transport.String("working it out"),
		ActualContent:    transport.String("answer one"),
		ThinkingTime:     transport.Int64(300),
		IsThinking:       transport.Bool(false),
		Done:             transport.Bool(true),
	})

	saved, err := records.Get(ctx, "sess_test")
	if err != nil {
		t.Fatalf("expected persisted session: %v", err)
	}
	if len(saved.ConversationRecords) != 1 {
		t.Fatalf("expected one record, got %#v", saved.ConversationRecords)
	}
	rec := saved.ConversationRecords[0]
	if rec.Answer != "answer one" || rec.ThinkingData == nil ||
		rec.ThinkingData.ThinkingTime != 300 ||
		!rec.ThinkingData.HasReasoning || rec.ThinkingData.IsThinking {
		t.Fatalf("unexpected record shape %#v", rec)
	}

	// Turn 2 fails; the raw JSON error is pretty-printed into an error item.
	if err := eng.Ask(ctx, "second"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	eng.HandleMessage(transport.Message{Error: transport.String(`{"status":503}`)})
	items := eng.Items()
	if items[len(items)-1].Content != "{\n  \"status\": 503\n}" {
		t.Fatalf("expected pretty-printed error item, got %q", items[len(items)-1].Content)
	}

	// Two retries inside the cooldown collapse to one outbound request, and
	// the removed turn is excluded from the retry history.
	if err := eng.Retry(ctx); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if err := eng.Retry(ctx); err != nil {
		t.Fatalf("guarded retry must be a silent no-op, got %v", err)
	}
	sent := tr.sent()
	if len(sent) != 3 {
		t.Fatalf("expected two asks + one retry, got %d requests", len(sent))
	}
	retryReq := sent[2]
	if !retryReq.Session.IsRetry || retryReq.Session.Question != "second" {
		t.Fatalf("unexpected retry request %#v", retryReq.Session)
	}
	for _, r := range retryReq.Session.ConversationRecords {
		if r.Question == "second" {
			t.Fatalf("removed turn leaked into retry history: %#v", r)
		}
	}

	// Retry succeeds; a duplicate done marker changes nothing.
	eng.HandleMessage(transport.Message{
		Type:          transport.TypeContentUpdate,
		ActualContent: transport.String("answer two"),
		Done:          transport.Bool(true),
	})
	before := eng.Items()
	eng.HandleMessage(transport.Message{Done: transport.Bool(true)})
	after := eng.Items()
	if len(before) != len(after) || before[len(before)-1].Content != after[len(after)-1].Content {
		t.Fatal("repeated done marker changed the transcript")
	}

	saved, err = records.Get(ctx, "sess_test")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(saved.ConversationRecords) != 2 {
		t.Fatalf("expected both turns persisted, got %#v", saved.ConversationRecords)
	}
	if saved.ConversationRecords[1].Answer != "answer two" {
		t.Fatalf("retried answer not persisted: %#v", saved.ConversationRecords[1])
	}
}
