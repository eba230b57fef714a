package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jo-hoe/testimonials/internal/metrics"
	"github.com/jo-hoe/testimonials/internal/notification"
	"github.com/redis/go-redis/v9"
)

// Notifications bundles the configured notifier with what has to run or be
// closed alongside it.
type Notifications struct {
	Notifier notification.Notifier
	// Dispatcher is only set when notifications go through the outbox.
	Dispatcher *notification.Dispatcher
	client     *redis.Client
}

// NewNotifications builds the notifier described by the configuration:
// Noop when disabled, direct SMTP delivery, or the redis outbox.
func NewNotifications(ctx context.Context, config *ServiceConfig, m *metrics.Metrics) (*Notifications, error) {
	cfg := config.Notification
	if !cfg.Enabled {
		slog.Info("notifications disabled")
		return &Notifications{Notifier: notification.Noop{}}, nil
	}

	templates, err := notification.LoadTemplates(cfg.SubjectTemplate, cfg.PlainTemplate, cfg.HTMLTemplate)
	if err != nil {
		return nil, err
	}
	composer, err := notification.NewComposer(templates, cfg.Recipient, cfg.From, cfg.AttachImage)
	if err != nil {
		return nil, fmt.Errorf("invalid notification addressing: %w", err)
	}
	sender, err := notification.NewSMTPSender(cfg.SMTP)
	if err != nil {
		return nil, fmt.Errorf("invalid smtp configuration: %w", err)
	}

	if !cfg.Outbox.Enabled {
		slog.Info("notifications sent directly", "smtp_host", cfg.SMTP.Host, "recipient", cfg.Recipient.Email)
		return &Notifications{Notifier: notification.NewDirectNotifier(composer, sender)}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Outbox.RedisAddr,
		Password: cfg.Outbox.RedisPassword,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Outbox.RedisAddr, err)
	}
	slog.Info("notifications queued in redis outbox", "redis_addr", cfg.Outbox.RedisAddr, "key", cfg.Outbox.Key)

	return &Notifications{
		Notifier:   notification.NewOutbox(client, cfg.Outbox.Key),
		Dispatcher: notification.NewDispatcher(client, cfg.Outbox.Key, composer, sender, m),
		client:     client,
	}, nil
}

func (n *Notifications) Close() error {
	if n.client != nil {
		return n.client.Close()
	}
	return nil
}
