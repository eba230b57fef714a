package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jo-hoe/testimonials/internal/backend/database"
	"github.com/jo-hoe/testimonials/internal/backend/upload"
	"github.com/jo-hoe/testimonials/internal/common"
	"github.com/jo-hoe/testimonials/internal/notification"
)

// Status is the moderation state of a testimonial.
type Status int

const (
	StatusPending  Status = 0
	StatusApproved Status = 1
)

func (s Status) IsValid() bool {
	return s == StatusPending || s == StatusApproved
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Testimonial is a stored testimonial record.
type Testimonial struct {
	ID             int64          `json:"id"`
	Name           string         `json:"name"`
	Testimonial    string         `json:"testimonial"`
	Heading        *string        `json:"heading"`
	Image          *string        `json:"image"`
	Width          int            `json:"width"`
	Height         int            `json:"height"`
	Approved       Status         `json:"approved"`
	Submitted      time.Time      `json:"submitted"`
	AdditionalInfo map[string]any `json:"additionalInfo,omitempty"`
}

// Submission is a new testimonial as handed in by a submitter.
type Submission struct {
	Name        string
	Testimonial string
	Heading     *string
	// Image is optional; an empty upload means no image.
	Image *upload.Upload
	// AdditionalInfo is merged into the stored fields and wins over them.
	AdditionalInfo map[string]any
	// SubmittedBy receives replies to the reviewer notification.
	SubmittedBy *notification.Contact
}

// Update changes an existing testimonial. Nil fields are left as they are.
type Update struct {
	Name           *string
	Testimonial    *string
	Heading        *string
	Image          *upload.Upload
	AdditionalInfo map[string]any
	Submitted      *time.Time
}

// Query selects testimonials. The zero value matches every record in no
// particular order.
type Query struct {
	Status *Status
	// Search holds equality filters keyed by column.
	Search map[string]any
	Order  []database.Order
	// Random shuffles the result and excludes Order.
	Random bool
	Limit  int
}

// ParseID validates an identifier received as text.
func ParseID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, common.NewInputError("testimonial id must be numeric, got %q", value)
	}
	if id <= 0 {
		return 0, common.NewInputError("testimonial id must be positive, got %d", id)
	}
	return id, nil
}

// ParseStatus validates an approval flag received as text.
func ParseStatus(value string) (Status, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, common.NewInputError("approval status must be numeric, got %q", value)
	}
	status := Status(n)
	if !status.IsValid() {
		return 0, common.NewInputError("approval status must be 0 or 1, got %d", n)
	}
	return status, nil
}

var coreColumns = map[string]bool{
	database.ColumnID:          true,
	database.ColumnName:        true,
	database.ColumnTestimonial: true,
	database.ColumnHeading:     true,
	database.ColumnImage:       true,
	database.ColumnWidth:       true,
	database.ColumnHeight:      true,
	database.ColumnApproved:    true,
	database.ColumnSubmitted:   true,
}

func testimonialFromRow(row database.Row, schema database.Schema) (*Testimonial, error) {
	t := &Testimonial{}
	var err error

	if t.ID, err = toInt64(row[database.ColumnID]); err != nil {
		return nil, fmt.Errorf("column %s: %w", database.ColumnID, err)
	}
	t.Name = toString(row[database.ColumnName])
	t.Testimonial = toString(row[database.ColumnTestimonial])
	t.Heading = toOptionalString(row[database.ColumnHeading])
	t.Image = toOptionalString(row[database.ColumnImage])

	width, err := toInt64(row[database.ColumnWidth])
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", database.ColumnWidth, err)
	}
	height, err := toInt64(row[database.ColumnHeight])
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", database.ColumnHeight, err)
	}
	approved, err := toInt64(row[database.ColumnApproved])
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", database.ColumnApproved, err)
	}
	t.Width, t.Height, t.Approved = int(width), int(height), Status(approved)

	if t.Submitted, err = toTime(row[database.ColumnSubmitted]); err != nil {
		return nil, fmt.Errorf("column %s: %w", database.ColumnSubmitted, err)
	}

	for _, c := range schema.Columns {
		if coreColumns[c.Name] {
			continue
		}
		if v, ok := row[c.Name]; ok && v != nil {
			if t.AdditionalInfo == nil {
				t.AdditionalInfo = make(map[string]any)
			}
			t.AdditionalInfo[c.Name] = v
		}
	}

	return t, nil
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	}
	return fmt.Sprint(v)
}

func toOptionalString(v any) *string {
	if v == nil {
		return nil
	}
	s := toString(v)
	return &s
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	}
	return 0, fmt.Errorf("unexpected integer value of type %T", v)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func toTime(v any) (time.Time, error) {
	switch ts := v.(type) {
	case time.Time:
		return ts.UTC(), nil
	case int64:
		return time.Unix(ts, 0).UTC(), nil
	case string:
		return parseTimestamp(ts)
	case []byte:
		return parseTimestamp(string(ts))
	}
	return time.Time{}, fmt.Errorf("unexpected timestamp value of type %T", v)
}

func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}
