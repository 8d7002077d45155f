// Package worker drains the issue delivery queue. Each cycle claims one task
// under a row lock, attempts transport delivery, and settles the task in the
// same transaction: delete on success, defer with backoff on failure, abandon
// (delete + log) once the retry budget is exhausted. The queue only ever
// contains rows whose newsletter issue committed, so the worker never has to
// reason about partial publishes.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/email"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

var queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "delivery_queue_depth",
	Help: "Number of delivery tasks currently waiting in the queue.",
})

var deliveries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "delivery_attempts_total",
		Help: "Total delivery attempts by outcome.",
	},
	[]string{"outcome"}, // sent | deferred | abandoned
)

func init() {
	prometheus.MustRegister(queueDepth, deliveries)
}

// Worker consumes the delivery queue.
type Worker struct {
	DB     *gorm.DB
	Sender email.Sender
	Log    zerolog.Logger

	// PollInterval is how long to sleep when the queue is empty (default 2s).
	PollInterval time.Duration
	// MaxRetries bounds attempts per task before it is abandoned (default 3).
	MaxRetries int
	// RetryBackoff is the base delay before a failed task is retried; it
	// doubles with each further failure (default 10s).
	RetryBackoff time.Duration
	// SendTimeout caps one transport attempt (default 30s). The send runs
	// inside the claim transaction, so its latency directly extends how long
	// the claimed row and a connection-pool slot are held.
	SendTimeout time.Duration
}

// Run processes tasks until ctx is cancelled. Claim errors are logged and
// retried after the poll interval rather than terminating the loop.
func (w *Worker) Run(ctx context.Context) error {
	for {
		processed, err := w.Tick(ctx)
		if err != nil {
			w.Log.Error().Err(err).Msg("delivery cycle failed")
		}
		if depth, derr := repo.QueueDepth(ctx, w.DB); derr == nil {
			queueDepth.Set(float64(depth))
		}
		if processed && err == nil {
			// More work may be waiting; go straight back for it.
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.pollInterval()):
		}
	}
}

// Tick executes one claim-deliver-settle cycle. It reports whether a task was
// claimed; (false, nil) means the queue had nothing due.
func (w *Worker) Tick(ctx context.Context) (bool, error) {
	now := time.Now().UTC()

	tx := w.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return false, tx.Error
	}
	defer tx.Rollback()

	task, err := repo.ClaimNextTask(tx, now)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	issue, err := repo.GetIssue(ctx, tx, task.NewsletterIssueID)
	if err != nil {
		return true, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout())
	sendErr := w.Sender.Send(sendCtx, task.SubscriberEmail, issue.Title, issue.HTMLContent, issue.TextContent)
	cancel()
	switch {
	case sendErr == nil:
		if err := repo.DeleteTask(tx, task.NewsletterIssueID, task.SubscriberEmail); err != nil {
			return true, err
		}
		deliveries.WithLabelValues("sent").Inc()

	case task.NRetries+1 >= w.maxRetries():
		// Out of budget: drop the task so it cannot block the rest of the
		// queue, and flag it loudly for operators.
		if err := repo.DeleteTask(tx, task.NewsletterIssueID, task.SubscriberEmail); err != nil {
			return true, err
		}
		deliveries.WithLabelValues("abandoned").Inc()
		w.Log.Error().
			Err(sendErr).
			Str("issue_id", task.NewsletterIssueID).
			Str("recipient", task.SubscriberEmail).
			Int("attempts", task.NRetries+1).
			Msg("delivery abandoned after exhausting retries")

	default:
		backoff := w.retryBackoff() << uint(task.NRetries)
		if err := repo.DeferTask(tx, task.NewsletterIssueID, task.SubscriberEmail, task.NRetries+1, now.Add(backoff)); err != nil {
			return true, err
		}
		deliveries.WithLabelValues("deferred").Inc()
		w.Log.Warn().
			Err(sendErr).
			Str("issue_id", task.NewsletterIssueID).
			Str("recipient", task.SubscriberEmail).
			Int("n_retries", task.NRetries+1).
			Dur("backoff", backoff).
			Msg("delivery deferred")
	}

	if err := tx.Commit().Error; err != nil {
		return true, err
	}
	return true, nil
}

func (w *Worker) pollInterval() time.Duration {
	if w.PollInterval > 0 {
		return w.PollInterval
	}
	return 2 * time.Second
}

func (w *Worker) maxRetries() int {
	if w.MaxRetries > 0 {
		return w.MaxRetries
	}
	return 3
}

func (w *Worker) retryBackoff() time.Duration {
	if w.RetryBackoff > 0 {
		return w.RetryBackoff
	}
	return 10 * time.Second
}

func (w *Worker) sendTimeout() time.Duration {
	if w.SendTimeout > 0 {
		return w.SendTimeout
	}
	return 30 * time.Second
}
