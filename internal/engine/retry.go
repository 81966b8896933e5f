package engine

import (
	"context"
	"time"

	"sidechat/internal/infrastructure/metrics"
	"sidechat/internal/utils/platformerrors"
)

// Retry removes the trailing answer-or-error item and re-dispatches the last
// question with the removed turn excluded from the history. A single boolean
// guard with a timed release absorbs duplicate triggers: a second call while
// one retry is pending, or within the cooldown, is a silent no-op.
func (e *Engine) Retry(ctx context.Context) error {
	e.mu.Lock()

	if e.retrying {
		e.mu.Unlock()
		metrics.RecordRetry("dropped")
		return nil
	}
	e.retrying = true
	time.AfterFunc(e.retryCooldown, func() {
		e.mu.Lock()
		e.retrying = false
		e.mu.Unlock()
	})

	if _, ok := e.items.RemoveTrailing(); !ok {
		e.mu.Unlock()
		metrics.RecordRetry("dropped")
		return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, "nothing to retry", nil, "2a7d9c40-6f13-4be8-95d2-c18e04b7f6a3")
	}
	question, ok := e.items.LastQuestion()
	if !ok {
		e.mu.Unlock()
		metrics.RecordRetry("dropped")
		return platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, "no question to retry", nil, "91f3c5b8-0ad2-47e6-b394-7c60d1e8a524")
	}

	e.items.Append(e.freshAnswer())
	e.ready = false
	e.sess.Question = question
	outbound := e.outboundSession(question, true)
	tr := e.tr
	e.mu.Unlock()

	metrics.RecordRetry("accepted")
	return e.dispatch(ctx, tr, outbound)
}
