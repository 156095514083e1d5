package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/telhawk-systems/causeway/internal/logging"
	"github.com/telhawk-systems/causeway/internal/metrics"
	"github.com/telhawk-systems/causeway/internal/models"
	"github.com/telhawk-systems/causeway/internal/store"
)

// Publisher pushes finalized findings to downstream consumers. Implementations
// must be safe for use by a single emitter goroutine.
type Publisher interface {
	PublishEventFinding(ctx context.Context, f *EventFinding) error
	PublishAnomaly(ctx context.Context, ac *models.AnomalyCorrelation) error
}

// emitter drains the output queue: persist to the primary store with retry,
// then index and publish best effort. A finding leaves the queue only after
// the primary write settles, so store outages back the queue up into
// admission instead of dropping finalized work.
type emitter struct {
	store   store.Store
	archive *store.Archive
	pub     Publisher
	log     *logging.Logger
	done    chan struct{}
}

func (e *emitter) run(ctx context.Context, out <-chan finding) {
	defer close(e.done)
	for f := range out {
		e.emit(ctx, f)
		metrics.OutputQueueDepth.Set(float64(len(out)))
	}
}

func (e *emitter) emit(ctx context.Context, f finding) {
	switch {
	case f.Event != nil:
		corr := f.Event.Correlation
		if err := e.persist(ctx, "correlation "+corr.ID, func() error {
			return e.store.SaveCorrelation(ctx, corr)
		}); err != nil {
			return
		}
		if e.archive != nil {
			if err := e.archive.IndexCorrelation(ctx, corr); err != nil {
				e.log.Warn("archive index failed", "correlation_id", corr.ID, "error", err)
			}
		}
		if e.pub != nil {
			if err := e.pub.PublishEventFinding(ctx, f.Event); err != nil {
				metrics.PublishErrors.Inc()
				e.log.Warn("publish failed", "correlation_id", corr.ID, "error", err)
			}
		}

	case f.Anomaly != nil:
		ac := f.Anomaly
		if err := e.persist(ctx, "anomaly correlation "+ac.ID, func() error {
			return e.store.SaveAnomaly(ctx, ac)
		}); err != nil {
			return
		}
		if e.archive != nil {
			if err := e.archive.IndexAnomaly(ctx, ac); err != nil {
				e.log.Warn("archive index failed", "anomaly_correlation_id", ac.ID, "error", err)
			}
		}
		if e.pub != nil {
			if err := e.pub.PublishAnomaly(ctx, ac); err != nil {
				metrics.PublishErrors.Inc()
				e.log.Warn("publish failed", "anomaly_correlation_id", ac.ID, "error", err)
			}
		}
	}
}

// persist writes through the primary store, retrying unavailability with
// exponential backoff. Anything other than unavailability is permanent: the
// record is logged and dropped rather than wedging the queue forever.
func (e *emitter) persist(ctx context.Context, what string, save func() error) error {
	op := func() error {
		start := time.Now()
		err := save()
		metrics.StoreWriteDuration.Observe(time.Since(start).Seconds())
		if err == nil {
			return nil
		}
		if models.IsStoreUnavailable(err) {
			metrics.StoreRetries.Inc()
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 2 * time.Minute

	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	if err != nil {
		e.log.Error("store write failed", "record", what, "error", err)
	}
	return err
}
