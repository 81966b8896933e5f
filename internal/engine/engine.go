// Package engine is the conversation core: it owns the live transcript,
// folds inbound transport messages into it, and reconciles the durable
// session after every mutation. All state changes run under one mutex, so
// the domain packages stay lock-free.
package engine

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sidechat/internal/domain/session"
	"sidechat/internal/domain/thinking"
	"sidechat/internal/domain/transcript"
	"sidechat/internal/infrastructure/metrics"
	"sidechat/internal/infrastructure/store"
	"sidechat/internal/transport"
	"sidechat/internal/utils/platformerrors"
)

const persistTimeout = 5 * time.Second

// Engine drives one conversation. Construct it, then attach the transport
// whose sink is HandleMessage.
type Engine struct {
	mu sync.Mutex

	items   *transcript.Store
	sess    *session.Session
	records store.SessionStore
	tr      transport.Transport
	log     zerolog.Logger

	ready bool

	retryCooldown time.Duration
	retrying      bool
}

func New(sess *session.Session, records store.SessionStore, retryCooldown time.Duration, log zerolog.Logger) *Engine {
	return &Engine{
		items:         transcript.NewStore(),
		sess:          sess.Clone(),
		records:       records,
		log:           log.With().Str("component", "engine").Logger(),
		ready:         true,
		retryCooldown: retryCooldown,
	}
}

// AttachTransport wires the outbound channel. The transport must deliver its
// inbound messages to HandleMessage.
func (e *Engine) AttachTransport(tr transport.Transport) {
	e.mu.Lock()
	e.tr = tr
	e.mu.Unlock()
}

// Ready reports whether a new turn can start.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// Items returns a snapshot of the live transcript.
func (e *Engine) Items() []transcript.Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.items.Items()
}

// Session returns a snapshot of the durable session.
func (e *Engine) Session() *session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Clone()
}

// Ask starts a new turn: appends the question with its placeholder answer
// and dispatches the rebuilt history to the provider.
func (e *Engine) Ask(ctx context.Context, question string) error {
	e.mu.Lock()
	if !e.ready {
		e.mu.Unlock()
		return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeConflict, "a turn is already in flight", nil, "4e0c7d2a-91b5-4c38-a6fd-8027e3c15b9a")
	}
	e.ready = false
	e.items.BeginTurn(question)
	e.sess.Question = question
	outbound := e.outboundSession(question, false)
	tr := e.tr
	e.mu.Unlock()

	return e.dispatch(ctx, tr, outbound)
}

// Stop cancels the in-flight provider request. Accumulated partial state
// stays in the transcript so a later retry has context.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	tr := e.tr
	e.ready = true
	e.mu.Unlock()

	if tr == nil {
		return nil
	}
	return tr.Send(ctx, transport.Request{Stop: true})
}

// HandleMessage is the inbound sink. Transports call it sequentially; every
// mutation is followed by a reconcile pass.
func (e *Engine) HandleMessage(m transport.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case m.Error != nil:
		e.items.Fail(*m.Error)
		e.finishTurn()

	case m.Session != nil:
		e.sess.Merge(m.Session)
		if m.IsDone() {
			e.closeOpenAnswer()
			e.finishTurn()
		}

	case m.Type == transport.TypeThinkingProgress:
		// Display smoothing only: no content, no reconcile, nothing
		// persisted from this message. Finalized items are left alone so a
		// stray late tick cannot leak a smoothed time into a later
		// projection.
		e.items.UpdateLast(func(it *transcript.Item) {
			if it.Thinking == nil || !it.IsOpen() {
				return
			}
			it.Thinking.Merge(nil, nil, m.ThinkingTime, m.IsThinking)
		}, e.freshAnswer())
		return

	case m.Type == transport.TypeThinkingUpdate:
		e.items.UpdateLast(func(it *transcript.Item) {
			e.mergeThinking(it, m)
		}, e.freshAnswer())

	case m.Type == transport.TypeContentUpdate:
		e.items.UpdateLast(func(it *transcript.Item) {
			e.mergeThinking(it, m)
			if m.IsDone() {
				it.Done = true
			}
		}, e.freshAnswer())
		if m.IsDone() {
			e.finishTurn()
		}

	case m.Answer != nil:
		// Legacy shape: plain answer text, no thinking channel.
		e.items.UpdateLast(func(it *transcript.Item) {
			it.Content = *m.Answer
			if m.IsDone() {
				it.Done = true
			}
		}, transcript.Item{Kind: transcript.KindAnswer, Content: *m.Answer, Done: m.IsDone()})
		if m.IsDone() {
			e.finishTurn()
		}

	case m.IsDone():
		e.closeOpenAnswer()
		e.finishTurn()

	default:
		e.log.Debug().Msg("dropping message with no recognized fields")
		return
	}

	e.reconcile()
}

func (e *Engine) mergeThinking(it *transcript.Item, m transport.Message) {
	if it.Thinking == nil {
		it.Thinking = newThinkingState()
	}
	it.Thinking.Merge(m.ReasoningContent, m.ActualContent, m.ThinkingTime, m.IsThinking)
	it.Content = it.Thinking.Display()
	if it.Content == "" {
		it.Content = transcript.LoadingPlaceholder
	}
}

// closeOpenAnswer marks the trailing open answer done. Repeated completion
// markers find nothing open and change nothing.
func (e *Engine) closeOpenAnswer() {
	e.items.UpdateLast(func(it *transcript.Item) {
		it.Done = true
		if it.Thinking != nil {
			it.Thinking.IsThinking = false
		}
	}, e.freshAnswer())
}

// finishTurn reopens the engine for the next question. The retry guard is
// not cleared here; its release is time-based.
func (e *Engine) finishTurn() {
	e.ready = true
	e.sess.Question = ""
}

// reconcile projects the transcript into durable records and persists only
// when the projection differs from the stored state.
func (e *Engine) reconcile() {
	projected := session.Project(e.items.Items(), e.sess)
	if reflect.DeepEqual(projected.ConversationRecords, e.sess.ConversationRecords) {
		metrics.SessionWritesSkipped.Inc()
		return
	}

	e.sess.ConversationRecords = projected.ConversationRecords

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := e.records.Save(ctx, e.sess); err != nil {
		perr := platformerrors.AsError(ctx, platformerrors.LayerRepository, err, "persist session")
		platformerrors.LogError(e.log, perr)
		return
	}
	metrics.SessionWrites.Inc()
}

func (e *Engine) dispatch(ctx context.Context, tr transport.Transport, outbound *session.Session) error {
	if tr == nil {
		e.mu.Lock()
		e.ready = true
		e.mu.Unlock()
		return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeInternal, "no transport attached", nil, "b83f1a6e-2d45-49c7-8e01-5fd9c24a7b36")
	}
	if err := tr.Send(ctx, transport.Request{Session: outbound}); err != nil {
		e.mu.Lock()
		e.items.Fail(err.Error())
		e.finishTurn()
		e.reconcile()
		e.mu.Unlock()
		return err
	}
	return nil
}

// outboundSession rebuilds the request payload: prior durable records as
// history plus the in-flight question. On retry the removed turn's record is
// excluded.
func (e *Engine) outboundSession(question string, isRetry bool) *session.Session {
	out := e.sess.Clone()
	out.Question = question
	out.IsRetry = isRetry
	if isRetry {
		kept := out.ConversationRecords[:0]
		for _, rec := range out.ConversationRecords {
			if rec.Question == question {
				continue
			}
			kept = append(kept, rec)
		}
		out.ConversationRecords = kept
	}
	return out
}

func newThinkingState() *thinking.State {
	return &thinking.State{}
}

func (e *Engine) freshAnswer() transcript.Item {
	return transcript.Item{
		Kind:     transcript.KindAnswer,
		Content:  transcript.LoadingPlaceholder,
		Thinking: newThinkingState(),
	}
}
