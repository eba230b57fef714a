package notification

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
)

// Contact is a mailbox with an optional display name.
type Contact struct {
	Name  string `json:"name,omitempty" yaml:"name"`
	Email string `json:"email" yaml:"email"`
}

// Field is one line of additional information shown to the reviewer.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Notification tells a reviewer that a testimonial was submitted.
type Notification struct {
	TestimonialID  int64    `json:"testimonialId"`
	SubmitterName  string   `json:"submitterName"`
	Testimonial    string   `json:"testimonial"`
	Heading        string   `json:"heading,omitempty"`
	AdditionalInfo []Field  `json:"additionalInfo,omitempty"`
	ImagePath      string   `json:"imagePath,omitempty"`
	ReplyTo        *Contact `json:"replyTo,omitempty"`
}

// Notifier delivers notifications. Implementations attempt delivery once.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// FieldsFromMap renders additional info as key/value lines sorted by key.
func FieldsFromMap(info map[string]any) []Field {
	if len(info) == 0 {
		return nil
	}
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]Field, 0, len(keys))
	for _, k := range keys {
		v := info[k]
		if v == nil {
			continue
		}
		fields = append(fields, Field{Key: k, Value: fmt.Sprint(v)})
	}
	return fields
}

// Noop drops every notification. It is used when notifications are disabled.
type Noop struct{}

func (Noop) Notify(context.Context, Notification) error {
	return nil
}

// Composer turns a notification into a mail message for the configured reviewer.
type Composer struct {
	templates   *Templates
	recipient   Contact
	from        Contact
	attachImage bool
}

func NewComposer(templates *Templates, recipient, from Contact, attachImage bool) (*Composer, error) {
	if templates == nil {
		return nil, fmt.Errorf("templates must not be nil")
	}
	if recipient.Email == "" {
		return nil, fmt.Errorf("recipient email must not be empty")
	}
	if from.Email == "" {
		return nil, fmt.Errorf("sender email must not be empty")
	}
	return &Composer{
		templates:   templates,
		recipient:   recipient,
		from:        from,
		attachImage: attachImage,
	}, nil
}

func (c *Composer) Compose(n Notification) (Message, error) {
	var attachments []string
	if c.attachImage && n.ImagePath != "" {
		if _, err := os.Stat(n.ImagePath); err == nil {
			attachments = append(attachments, n.ImagePath)
		} else {
			slog.Warn("Composer: image not attached", "path", n.ImagePath, "error", err)
		}
	}

	subject, plain, html, err := c.templates.Render(TemplateData{
		RecipientName:  c.recipient.Name,
		SubmitterName:  n.SubmitterName,
		TestimonialID:  n.TestimonialID,
		Testimonial:    n.Testimonial,
		Heading:        n.Heading,
		AdditionalInfo: n.AdditionalInfo,
		ImageAttached:  len(attachments) > 0,
	})
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		To:          c.recipient,
		From:        c.from,
		Subject:     subject,
		Plain:       plain,
		HTML:        html,
		Attachments: attachments,
	}
	if n.ReplyTo != nil && n.ReplyTo.Email != "" {
		replyTo := *n.ReplyTo
		msg.ReplyTo = &replyTo
	}
	return msg, nil
}

// DirectNotifier renders and sends within the caller's request.
type DirectNotifier struct {
	composer *Composer
	sender   Sender
}

func NewDirectNotifier(composer *Composer, sender Sender) *DirectNotifier {
	return &DirectNotifier{composer: composer, sender: sender}
}

func (d *DirectNotifier) Notify(ctx context.Context, n Notification) error {
	msg, err := d.composer.Compose(n)
	if err != nil {
		return fmt.Errorf("failed to compose notification for testimonial %d: %w", n.TestimonialID, err)
	}
	if err := d.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send notification for testimonial %d: %w", n.TestimonialID, err)
	}
	slog.Info("DirectNotifier: sent notification", "testimonial_id", n.TestimonialID, "to", msg.To.Email)
	return nil
}
