// Package provider runs one streaming turn against an AI provider and
// translates the token stream into transport messages.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"sidechat/internal/config"
	"sidechat/internal/domain/session"
	"sidechat/internal/domain/stream"
	"sidechat/internal/domain/thinking"
	"sidechat/internal/infrastructure/metrics"
	"sidechat/internal/transport"
	"sidechat/internal/utils/httpclients"
	"sidechat/internal/utils/httpclients/chat"
)

const progressInterval = time.Second

// Runner implements transport.Streamer over OpenAI-compatible chat
// completion endpoints. One Runner serves many turns; per-turn state lives in
// the decoder and synthesizer created inside Stream.
type Runner struct {
	cfg     *config.Config
	catalog *config.Catalog
	clients map[string]*chat.ChatCompletionClient
	mu      sync.Mutex
	log     zerolog.Logger
}

func NewRunner(cfg *config.Config, catalog *config.Catalog, log zerolog.Logger) *Runner {
	return &Runner{
		cfg:     cfg,
		catalog: catalog,
		clients: make(map[string]*chat.ChatCompletionClient),
		log:     log.With().Str("component", "provider-runner").Logger(),
	}
}

// Stream runs one turn: posts the rebuilt history plus the in-flight
// question, decodes the delta stream, and pushes synthesized updates through
// emit. Transport failures become error messages, never returned errors;
// only cancellation propagates.
func (r *Runner) Stream(ctx context.Context, sess *session.Session, emit transport.Sink) error {
	model := sess.ModelName
	if model == "" {
		model = r.cfg.DefaultModel
	}
	apiMode, baseURL := r.cfg.Resolve(r.catalog, model)
	if sess.APIMode != "" {
		apiMode = sess.APIMode
	}
	if apiMode != config.APIModeChatCompletions {
		r.log.Warn().Str("model", model).Str("api_mode", apiMode).Msg("unsupported api mode")
		emit(transport.Message{Error: transport.String(fmt.Sprintf("unsupported api mode %q for model %q", apiMode, model))})
		emit(transport.Message{Done: transport.Bool(true)})
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	decoder := stream.NewDecoder(r.log)
	synth := thinking.NewSynthesizer()

	// The progress ticker and the payload callback both touch the
	// synthesizer.
	var synthMu sync.Mutex

	metrics.RecordStreamStarted()
	outcome := "finished"
	defer func() {
		metrics.RecordStreamFinished(outcome)
	}()

	tickerDone := make(chan struct{})
	defer close(tickerDone)
	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-tickerDone:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				synthMu.Lock()
				em, ok := synth.Progress()
				synthMu.Unlock()
				if ok {
					emit(toMessage(em))
				}
			}
		}
	}()

	request := openai.ChatCompletionRequest{
		Model:    model,
		Messages: buildMessages(sess),
	}

	onPayload := func(payload string) bool {
		synthMu.Lock()
		defer synthMu.Unlock()
		for _, ev := range decoder.Decode(payload) {
			metrics.StreamEvents.WithLabelValues(eventKind(ev)).Inc()
			for _, em := range synth.Apply(ev) {
				emit(toMessage(em))
			}
		}
		return !decoder.Terminated()
	}

	err := r.clientFor(baseURL).StreamChatCompletion(ctx, r.cfg.ProviderAPIKey, request, onPayload,
		chat.WithHeader("X-Session-ID", sess.SessionID))

	synthMu.Lock()
	defer synthMu.Unlock()

	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)):
		// Stopped by the user; accumulated state stays with the engine.
		outcome = "cancelled"
		return context.Canceled
	case err != nil:
		outcome = "failed"
		for _, ev := range decoder.Fail(err.Error()) {
			for _, em := range synth.Apply(ev) {
				emit(toMessage(em))
			}
		}
	case !decoder.Terminated():
		// Body ended without a sentinel or finish_reason.
		for _, ev := range decoder.Decode("[DONE]") {
			for _, em := range synth.Apply(ev) {
				emit(toMessage(em))
			}
		}
	}

	if synth.Phase() == thinking.PhaseErrored {
		outcome = "failed"
	}
	if st := synth.State(); st.HasReasoning {
		metrics.ReasoningDuration.Observe(float64(st.ThinkingTimeMs) / 1000)
	}

	emit(transport.Message{Done: transport.Bool(true)})
	return nil
}

func (r *Runner) clientFor(baseURL string) *chat.ChatCompletionClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[baseURL]; ok {
		return c
	}
	c := chat.NewChatCompletionClient(httpclients.NewClient("chat-completion"), "chat-completion", baseURL)
	r.clients[baseURL] = c
	return c
}

// buildMessages rebuilds the provider history from the durable records plus
// the in-flight question. Error records carry no usable answer and are left
// out.
func buildMessages(sess *session.Session) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(sess.ConversationRecords)*2+1)
	for _, rec := range sess.ConversationRecords {
		if rec.IsError {
			continue
		}
		answer := rec.Answer
		if rec.ThinkingData != nil && rec.ThinkingData.ActualContent != "" {
			answer = rec.ThinkingData.ActualContent
		}
		msgs = append(msgs,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: rec.Question},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: answer},
		)
	}
	if sess.Question != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: sess.Question})
	}
	return msgs
}

func toMessage(em thinking.Emission) transport.Message {
	switch em.Kind {
	case thinking.EmitThinkingProgress:
		return transport.Message{
			Type:         transport.TypeThinkingProgress,
			ThinkingTime: transport.Int64(em.ThinkingTimeMs),
			IsThinking:   transport.Bool(em.IsThinking),
		}
	case thinking.EmitThinkingUpdate:
		return transport.Message{
			Type:             transport.TypeThinkingUpdate,
			ReasoningContent: transport.String(em.ReasoningContent),
			ThinkingTime:     transport.Int64(em.ThinkingTimeMs),
			IsThinking:       transport.Bool(em.IsThinking),
		}
	case thinking.EmitContentUpdate:
		return transport.Message{
			Type:             transport.TypeContentUpdate,
			ReasoningContent: transport.String(em.ReasoningContent),
			ActualContent:    transport.String(em.ActualContent),
			ThinkingTime:     transport.Int64(em.ThinkingTimeMs),
			IsThinking:       transport.Bool(em.IsThinking),
			Done:             transport.Bool(em.Done),
		}
	default:
		return transport.Message{Error: transport.String(em.ErrorDetail)}
	}
}

func eventKind(ev stream.Event) string {
	switch ev.(type) {
	case stream.ReasoningDelta:
		return "reasoning_delta"
	case stream.ContentDelta:
		return "content_delta"
	case stream.Finished:
		return "finished"
	default:
		return "failed"
	}
}
