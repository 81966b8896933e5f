package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// InProcess runs the provider pipeline in the same process. Send with a
// session starts a streaming turn on a goroutine; stop cancels it. Inbound
// delivery is serialized so the engine sees the same single-writer behaviour
// as over a real channel.
type InProcess struct {
	streamer Streamer
	sink     Sink
	log      zerolog.Logger

	deliverMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	active sync.WaitGroup
}

func NewInProcess(streamer Streamer, sink Sink, log zerolog.Logger) *InProcess {
	return &InProcess{
		streamer: streamer,
		sink:     sink,
		log:      log.With().Str("component", "inproc-transport").Logger(),
	}
}

// Send starts a turn or cancels the in-flight one. A new session send while
// a turn is still streaming cancels the old turn first.
func (t *InProcess) Send(ctx context.Context, req Request) error {
	if req.Stop {
		t.stopCurrent()
		return nil
	}
	if req.Session == nil {
		return errors.New("request carries neither session nor stop")
	}

	t.stopCurrent()

	// The turn outlives the Send call; it gets its own context.
	runCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	sess := req.Session.Clone()

	t.active.Add(1)
	go func() {
		defer t.active.Done()
		defer cancel()

		err := t.streamer.Stream(runCtx, sess, t.deliver)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		t.log.Warn().Err(err).Msg("provider stream ended with error")
		t.deliver(Message{Error: String(err.Error()), Done: Bool(true)})
	}()

	return nil
}

// Close cancels any in-flight turn and waits for it to drain.
func (t *InProcess) Close() error {
	t.stopCurrent()
	t.active.Wait()
	return nil
}

func (t *InProcess) stopCurrent() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (t *InProcess) deliver(m Message) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()
	t.sink(m)
}
