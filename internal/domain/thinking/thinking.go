// Package thinking holds the per-answer synthesis state machine. The
// Synthesizer is the producer half: it folds decoded deltas into accumulated
// reasoning and answer text and decides which updates are worth emitting.
// State is the shared value both halves exchange.
package thinking

import (
	"strings"
	"time"

	"sidechat/internal/domain/stream"
)

// Emission throttling: reasoning progress is emitted at most once per window
// of elapsed stream time, except while the reasoning text is still short.
const (
	throttleWindow     = 500 * time.Millisecond
	throttleGraceChars = 100
)

// Phase is the lifecycle position of one answer.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseReasoning
	PhaseAnswering
	PhaseDone
	PhaseErrored
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseReasoning:
		return "reasoning"
	case PhaseAnswering:
		return "answering"
	case PhaseDone:
		return "done"
	case PhaseErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// State is the thinking view of one answer. HasReasoning is sticky: once a
// delta carries reasoning text it stays true for the lifetime of the answer.
type State struct {
	ReasoningContent string `json:"reasoningContent"`
	ActualContent    string `json:"actualContent"`
	ThinkingTimeMs   int64  `json:"thinkingTime"`
	IsThinking       bool   `json:"isThinking"`
	HasReasoning     bool   `json:"hasReasoning"`
}

// Merge folds an inbound update into the state. The update carries full
// accumulated text, not fragments, so non-empty fields replace. Empty or
// omitted reasoning never clears HasReasoning and never truncates
// previously seen reasoning text.
func (s *State) Merge(reasoningContent, actualContent *string, thinkingTimeMs *int64, isThinking *bool) {
	if reasoningContent != nil && *reasoningContent != "" {
		s.ReasoningContent = *reasoningContent
		s.HasReasoning = true
	}
	if actualContent != nil && *actualContent != "" {
		s.ActualContent = *actualContent
	}
	if thinkingTimeMs != nil {
		s.ThinkingTimeMs = *thinkingTimeMs
	}
	if isThinking != nil {
		s.IsThinking = *isThinking
	}
}

// Display composes the externally visible answer text: a block-quoted
// rendering of the reasoning followed by the answer when reasoning occurred,
// the answer alone otherwise.
func (s State) Display() string {
	if !s.HasReasoning || s.ReasoningContent == "" {
		return s.ActualContent
	}
	quoted := BlockQuote(s.ReasoningContent)
	if s.ActualContent == "" {
		return quoted
	}
	return quoted + "\n\n" + s.ActualContent
}

// BlockQuote prefixes every line of text with a markdown quote marker.
func BlockQuote(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}

// EmissionKind discriminates Synthesizer outputs.
type EmissionKind int

const (
	EmitThinkingProgress EmissionKind = iota
	EmitThinkingUpdate
	EmitContentUpdate
	EmitError
)

// Emission is one update the Synthesizer wants pushed to the consumer side.
// Text fields carry the full accumulation so far, not deltas.
type Emission struct {
	Kind             EmissionKind
	ReasoningContent string
	ActualContent    string
	ThinkingTimeMs   int64
	IsThinking       bool
	Done             bool
	ErrorDetail      string
}

// Synthesizer drives one answer through
// Idle -> Reasoning -> Answering -> Done, with Errored reachable from any
// phase. Accumulation never drops a delta; throttling only suppresses
// emissions. The throttle window is counted from turn start, so a burst of
// reasoning deltas inside one window collapses to a single emission.
type Synthesizer struct {
	phase      Phase
	state      State
	turnStart  time.Time
	lastWindow int64
	now        func() time.Time
}

// SynthesizerOption configures a Synthesizer.
type SynthesizerOption func(*Synthesizer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) SynthesizerOption {
	return func(s *Synthesizer) {
		s.now = now
	}
}

func NewSynthesizer(opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{
		phase:      PhaseIdle,
		lastWindow: -1,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.turnStart = s.now()
	return s
}

// Phase returns the current lifecycle phase.
func (s *Synthesizer) Phase() Phase {
	return s.phase
}

// State returns a copy of the accumulated thinking state.
func (s *Synthesizer) State() State {
	return s.state
}

// Apply folds one decoded event into the state machine and returns the
// emissions it produces, possibly none when a reasoning update is throttled.
func (s *Synthesizer) Apply(ev stream.Event) []Emission {
	switch e := ev.(type) {
	case stream.ReasoningDelta:
		return s.applyReasoning(e.Text)
	case stream.ContentDelta:
		return s.applyContent(e.Text)
	case stream.Finished:
		return s.applyFinished()
	case stream.Failed:
		return s.applyFailed(e.Detail)
	default:
		return nil
	}
}

func (s *Synthesizer) applyReasoning(text string) []Emission {
	if s.terminal() {
		return nil
	}

	s.state.ReasoningContent += text
	s.state.HasReasoning = true
	s.state.IsThinking = true
	s.state.ThinkingTimeMs = s.elapsedMs()
	if s.phase == PhaseIdle {
		s.phase = PhaseReasoning
	}

	window := int64(s.now().Sub(s.turnStart) / throttleWindow)
	if len(s.state.ReasoningContent) >= throttleGraceChars && window <= s.lastWindow {
		return nil
	}
	s.lastWindow = window

	return []Emission{{
		Kind:             EmitThinkingUpdate,
		ReasoningContent: s.state.ReasoningContent,
		ThinkingTimeMs:   s.state.ThinkingTimeMs,
		IsThinking:       true,
	}}
}

func (s *Synthesizer) applyContent(text string) []Emission {
	if s.terminal() {
		return nil
	}

	if s.phase != PhaseAnswering {
		// Reasoning channel closes at the first answer token; the thinking
		// time freezes at its last reasoning value.
		s.phase = PhaseAnswering
		s.state.IsThinking = false
	}
	s.state.ActualContent += text

	return []Emission{s.contentEmission(false)}
}

func (s *Synthesizer) applyFinished() []Emission {
	if s.terminal() {
		return nil
	}

	s.phase = PhaseDone
	s.state.IsThinking = false

	return []Emission{s.contentEmission(true)}
}

func (s *Synthesizer) applyFailed(detail string) []Emission {
	if s.terminal() {
		return nil
	}

	s.phase = PhaseErrored
	s.state.IsThinking = false

	return []Emission{{
		Kind:        EmitError,
		ErrorDetail: detail,
	}}
}

// Progress returns a liveness emission carrying only elapsed thinking time,
// or false when the reasoning channel is not open. Used by a periodic ticker,
// never by delta processing.
func (s *Synthesizer) Progress() (Emission, bool) {
	if s.phase != PhaseReasoning || !s.state.IsThinking {
		return Emission{}, false
	}
	return Emission{
		Kind:           EmitThinkingProgress,
		ThinkingTimeMs: s.elapsedMs(),
		IsThinking:     true,
	}, true
}

func (s *Synthesizer) contentEmission(done bool) Emission {
	return Emission{
		Kind:             EmitContentUpdate,
		ReasoningContent: s.state.ReasoningContent,
		ActualContent:    s.state.ActualContent,
		ThinkingTimeMs:   s.state.ThinkingTimeMs,
		IsThinking:       false,
		Done:             done,
	}
}

func (s *Synthesizer) terminal() bool {
	return s.phase == PhaseDone || s.phase == PhaseErrored
}

func (s *Synthesizer) elapsedMs() int64 {
	return s.now().Sub(s.turnStart).Milliseconds()
}
