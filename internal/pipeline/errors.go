// Package pipeline drives a video through the fixed stage sequence: media
// analysis, parent document creation, bounded per-segment fan-out
// (transcription, enrichment, child indexing), aggregation, terminal status.
package pipeline

import (
	"context"
	"errors"

	"github.com/veeky/veeky-indexer/internal/media"
)

// FailureKind selects the retry policy for a failed external call.
type FailureKind int

const (
	// FailTransient failures (timeouts, 5xx, connection refused) are retried
	// with bounded backoff.
	FailTransient FailureKind = iota
	// FailPermanent failures (malformed input, 4xx) are not retried; the
	// step is marked failed immediately.
	FailPermanent
	// FailStructural failures (corrupt or missing media) fail the whole job
	// without retrying.
	FailStructural
)

type retryable interface {
	IsRetryable() bool
}

// Classify maps an adapter error onto a failure kind. Adapters carry their
// own classification via IsRetryable; anything unclassified is assumed
// transient so a flaky dependency gets its retry budget.
func Classify(err error) FailureKind {
	var structural *media.StructuralError
	if errors.As(err, &structural) {
		return FailStructural
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return FailPermanent
	}
	var r retryable
	if errors.As(err, &r) {
		if r.IsRetryable() {
			return FailTransient
		}
		return FailPermanent
	}
	return FailTransient
}
