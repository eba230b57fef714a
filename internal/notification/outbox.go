package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jo-hoe/testimonials/internal/metrics"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultOutboxKey   = "testimonials:notifications"
	defaultPollTimeout = 5 * time.Second
)

// FailedKey is the list that collects jobs the dispatcher could not deliver.
func FailedKey(key string) string {
	return key + ":failed"
}

type job struct {
	ID           string       `json:"id"`
	EnqueuedAt   time.Time    `json:"enqueuedAt"`
	Notification Notification `json:"notification"`
	Error        string       `json:"error,omitempty"`
}

// Outbox queues notifications in a redis list so that submissions never wait
// on the mail server.
type Outbox struct {
	client redis.UniversalClient
	key    string
}

func NewOutbox(client redis.UniversalClient, key string) *Outbox {
	if key == "" {
		key = DefaultOutboxKey
	}
	return &Outbox{client: client, key: key}
}

func (o *Outbox) Notify(ctx context.Context, n Notification) error {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Errorf("failed to generate job id: %w", err)
	}
	payload, err := json.Marshal(job{ID: id.String(), EnqueuedAt: time.Now().UTC(), Notification: n})
	if err != nil {
		return fmt.Errorf("failed to encode notification job: %w", err)
	}
	if err := o.client.LPush(ctx, o.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue notification on %s: %w", o.key, err)
	}
	slog.Info("Outbox: queued notification", "job_id", id.String(), "testimonial_id", n.TestimonialID, "key", o.key)
	return nil
}

// Pending returns how many notifications wait in the outbox.
func (o *Outbox) Pending(ctx context.Context) (int64, error) {
	return o.client.LLen(ctx, o.key).Result()
}

// Dispatcher takes queued notifications and sends each one once. Jobs that
// fail are moved to the failed list and not retried.
type Dispatcher struct {
	client      redis.UniversalClient
	key         string
	composer    *Composer
	sender      Sender
	metrics     *metrics.Metrics
	pollTimeout time.Duration
}

func NewDispatcher(client redis.UniversalClient, key string, composer *Composer, sender Sender, m *metrics.Metrics) *Dispatcher {
	if key == "" {
		key = DefaultOutboxKey
	}
	return &Dispatcher{
		client:      client,
		key:         key,
		composer:    composer,
		sender:      sender,
		metrics:     m,
		pollTimeout: defaultPollTimeout,
	}
}

// Run blocks until ctx is done, delivering jobs as they arrive.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("Dispatcher: started", "key", d.key)
	for {
		if ctx.Err() != nil {
			slog.Info("Dispatcher: stopped", "key", d.key)
			return nil
		}

		result, err := d.client.BRPop(ctx, d.pollTimeout, d.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Dispatcher: stopped", "key", d.key)
				return nil
			}
			slog.Error("Dispatcher: failed to read outbox", "key", d.key, "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(d.pollTimeout):
			}
			continue
		}
		// BRPOP answers with the key and the value
		d.handle(ctx, result[1])
	}
}

// DispatchPending delivers everything currently queued without waiting for
// new jobs and returns how many jobs were taken.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	taken := 0
	for {
		if err := ctx.Err(); err != nil {
			return taken, err
		}
		payload, err := d.client.RPop(ctx, d.key).Result()
		if errors.Is(err, redis.Nil) {
			return taken, nil
		}
		if err != nil {
			return taken, fmt.Errorf("failed to read outbox %s: %w", d.key, err)
		}
		taken++
		d.handle(ctx, payload)
	}
}

func (d *Dispatcher) handle(ctx context.Context, payload string) {
	var j job
	if err := json.Unmarshal([]byte(payload), &j); err != nil {
		slog.Error("Dispatcher: dropping malformed job", "error", err)
		d.fail(ctx, payload)
		return
	}

	msg, err := d.composer.Compose(j.Notification)
	if err == nil {
		err = d.sender.Send(ctx, msg)
	}
	if err != nil {
		slog.Error("Dispatcher: failed to deliver notification", "job_id", j.ID, "testimonial_id", j.Notification.TestimonialID, "error", err)
		j.Error = err.Error()
		failed, merr := json.Marshal(j)
		if merr != nil {
			failed = []byte(payload)
		}
		d.fail(ctx, string(failed))
		return
	}

	d.metrics.DispatchResult("sent")
	slog.Info("Dispatcher: delivered notification", "job_id", j.ID, "testimonial_id", j.Notification.TestimonialID, "queued_for", time.Since(j.EnqueuedAt).Round(time.Millisecond))
}

func (d *Dispatcher) fail(ctx context.Context, payload string) {
	d.metrics.DispatchResult("failed")
	// the job is already off the outbox, keep it even when ctx is cancelled
	if err := d.client.LPush(context.WithoutCancel(ctx), FailedKey(d.key), payload).Err(); err != nil {
		slog.Error("Dispatcher: failed to record failed job", "key", FailedKey(d.key), "error", err)
	}
}
