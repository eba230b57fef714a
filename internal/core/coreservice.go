package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/jo-hoe/testimonials/internal/backend/database"
	"github.com/jo-hoe/testimonials/internal/backend/upload"
	"github.com/jo-hoe/testimonials/internal/common"
	"github.com/jo-hoe/testimonials/internal/metrics"
	"github.com/jo-hoe/testimonials/internal/notification"
)

// managedColumns are maintained by the service and cannot be set through
// additional info. Approval goes through ApproveTestimonial or auto-approve,
// the submission time through Update.Submitted.
var managedColumns = map[string]bool{
	database.ColumnID:        true,
	database.ColumnImage:     true,
	database.ColumnWidth:     true,
	database.ColumnHeight:    true,
	database.ColumnApproved:  true,
	database.ColumnSubmitted: true,
}

// TestimonialService runs the testimonial lifecycle: submissions with an
// optional image, moderation, listing and removal.
type TestimonialService struct {
	config          *ServiceConfig
	schema          database.Schema
	databaseService database.DatabaseService
	images          *upload.Pipeline
	notifier        notification.Notifier
	metrics         *metrics.Metrics
	now             func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewTestimonialService opens the record store and prepares the image
// pipeline. A nil notifier disables notifications.
func NewTestimonialService(ctx context.Context, config *ServiceConfig, notifier notification.Notifier, m *metrics.Metrics) (*TestimonialService, error) {
	schema, err := config.Schema()
	if err != nil {
		return nil, fmt.Errorf("invalid database schema: %w", err)
	}
	images, err := upload.NewPipeline(config.PipelineConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize image pipeline: %w", err)
	}
	databaseService, err := database.NewDatabase(ctx, config.Database.Type, config.Database.ConnectionString, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type, "table", schema.Table)

	if notifier == nil {
		notifier = notification.Noop{}
	}

	service := &TestimonialService{
		config:          config,
		schema:          schema,
		databaseService: databaseService,
		images:          images,
		notifier:        notifier,
		metrics:         m,
		now:             time.Now,
	}
	if seed := config.Testimonials.RandomSeed; seed != nil {
		service.rng = rand.New(rand.NewPCG(uint64(*seed), 0))
	}
	return service, nil
}

func (s *TestimonialService) Close() error {
	return s.databaseService.Close()
}

// Images exposes the pipeline so callers can resolve stored image paths.
func (s *TestimonialService) Images() *upload.Pipeline {
	return s.images
}

// AddTestimonial validates and stores a submission and returns the new id.
// An attached image is validated first; any failure aborts without a record.
// The reviewer is notified only after the record is stored.
func (s *TestimonialService) AddTestimonial(ctx context.Context, sub Submission) (int64, error) {
	extra, err := s.checkAdditionalInfo(sub.AdditionalInfo)
	if err != nil {
		return 0, err
	}

	approved := StatusPending
	if s.config.Testimonials.AutoApprove {
		approved = StatusApproved
	}
	fields := database.Fields{
		database.ColumnName:        sub.Name,
		database.ColumnTestimonial: sub.Testimonial,
		database.ColumnHeading:     nil,
		database.ColumnWidth:       0,
		database.ColumnHeight:      0,
		database.ColumnApproved:    int(approved),
		database.ColumnSubmitted:   s.now().UTC(),
	}
	if sub.Heading != nil {
		fields[database.ColumnHeading] = *sub.Heading
	}
	for k, v := range extra {
		fields[k] = v
	}
	if err := requireText(fields, database.ColumnName, database.ColumnTestimonial); err != nil {
		return 0, err
	}

	stored, err := s.storeImage(ctx, sub.Image)
	if err != nil {
		return 0, err
	}
	if stored != nil {
		fields[database.ColumnImage] = stored.Name
		fields[database.ColumnWidth] = stored.Width
		fields[database.ColumnHeight] = stored.Height
	}

	id, err := s.databaseService.Insert(ctx, s.schema.Table, fields)
	if err != nil {
		if stored != nil {
			s.discardImage(ctx, stored.Name)
		}
		return 0, common.NewStorageError(err, "failed to store testimonial")
	}

	status := StatusPending
	if v, ok := fields[database.ColumnApproved].(int); ok {
		status = Status(v)
	}
	s.metrics.SubmissionStored(status.String())
	slog.Info("TestimonialService: testimonial added", "id", id, "status", status, "image", stored != nil)

	s.notifySubmission(ctx, id, fields, extra, stored, sub.SubmittedBy)
	return id, nil
}

// UpdateTestimonial changes an existing testimonial and returns the result.
// A new image replaces the stored dimensions; the previous file is kept.
func (s *TestimonialService) UpdateTestimonial(ctx context.Context, id int64, u Update) (*Testimonial, error) {
	if _, err := s.GetTestimonial(ctx, id); err != nil {
		return nil, err
	}

	extra, err := s.checkAdditionalInfo(u.AdditionalInfo)
	if err != nil {
		return nil, err
	}

	fields := database.Fields{}
	if u.Name != nil {
		fields[database.ColumnName] = *u.Name
	}
	if u.Testimonial != nil {
		fields[database.ColumnTestimonial] = *u.Testimonial
	}
	if u.Heading != nil {
		fields[database.ColumnHeading] = *u.Heading
	}
	if u.Submitted != nil {
		fields[database.ColumnSubmitted] = u.Submitted.UTC()
	}
	for k, v := range extra {
		fields[k] = v
	}
	for _, column := range []string{database.ColumnName, database.ColumnTestimonial} {
		if _, ok := fields[column]; ok {
			if err := requireText(fields, column); err != nil {
				return nil, err
			}
		}
	}

	stored, err := s.storeImage(ctx, u.Image)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		fields[database.ColumnImage] = stored.Name
		fields[database.ColumnWidth] = stored.Width
		fields[database.ColumnHeight] = stored.Height
	}

	if len(fields) > 0 {
		ok, err := s.databaseService.Update(ctx, s.schema.Table, fields, id)
		if err != nil || !ok {
			if stored != nil {
				s.discardImage(ctx, stored.Name)
			}
			if err != nil {
				return nil, common.NewStorageError(err, "failed to update testimonial %d", id)
			}
			return nil, common.NewNotFoundError("testimonial %d does not exist", id)
		}
		slog.Info("TestimonialService: testimonial updated", "id", id, "columns", len(fields), "image", stored != nil)
	}

	return s.GetTestimonial(ctx, id)
}

func (s *TestimonialService) GetTestimonial(ctx context.Context, id int64) (*Testimonial, error) {
	row, err := s.databaseService.Select(ctx, s.schema.Table, database.Where{database.ColumnID: id})
	if errors.Is(err, database.ErrNoRows) {
		return nil, common.NewNotFoundError("testimonial %d does not exist", id)
	}
	if err != nil {
		return nil, common.NewStorageError(err, "failed to load testimonial %d", id)
	}
	t, err := testimonialFromRow(row, s.schema)
	if err != nil {
		return nil, common.NewStorageError(err, "failed to read testimonial %d", id)
	}
	return t, nil
}

// ListTestimonials returns the testimonials matching q. Without an explicit
// order or random mode the order is whatever the store returns.
func (s *TestimonialService) ListTestimonials(ctx context.Context, q Query) ([]Testimonial, error) {
	where, err := s.where(q)
	if err != nil {
		return nil, err
	}
	if q.Limit < 0 {
		return nil, common.NewInputError("limit must not be negative, got %d", q.Limit)
	}
	if q.Random && len(q.Order) > 0 {
		return nil, common.NewInputError("random order cannot be combined with an explicit order")
	}
	for _, o := range q.Order {
		if !s.schema.HasColumn(o.Column) {
			return nil, common.NewInputError("cannot order by unknown field %q", o.Column)
		}
	}

	limit := q.Limit
	if q.Random {
		// the whole selection takes part in the shuffle
		limit = 0
	}
	rows, err := s.databaseService.SelectAll(ctx, s.schema.Table, where, q.Order, limit)
	if err != nil {
		return nil, common.NewStorageError(err, "failed to list testimonials")
	}
	if q.Random {
		s.shuffle(rows)
		if q.Limit > 0 && len(rows) > q.Limit {
			rows = rows[:q.Limit]
		}
	}

	testimonials := make([]Testimonial, 0, len(rows))
	for _, row := range rows {
		t, err := testimonialFromRow(row, s.schema)
		if err != nil {
			return nil, common.NewStorageError(err, "failed to read testimonial")
		}
		testimonials = append(testimonials, *t)
	}
	return testimonials, nil
}

// CountTestimonials counts what ListTestimonials would match, ignoring order
// and limit.
func (s *TestimonialService) CountTestimonials(ctx context.Context, q Query) (int, error) {
	where, err := s.where(q)
	if err != nil {
		return 0, err
	}
	count, err := s.databaseService.Count(ctx, s.schema.Table, where)
	if err != nil {
		return 0, common.NewStorageError(err, "failed to count testimonials")
	}
	return count, nil
}

func (s *TestimonialService) ApproveTestimonial(ctx context.Context, id int64, status Status) error {
	if !status.IsValid() {
		return common.NewInputError("approval status must be 0 or 1, got %d", int(status))
	}
	ok, err := s.databaseService.Update(ctx, s.schema.Table, database.Fields{database.ColumnApproved: int(status)}, id)
	if err != nil {
		return common.NewStorageError(err, "failed to change approval of testimonial %d", id)
	}
	if !ok {
		return common.NewNotFoundError("testimonial %d does not exist", id)
	}
	slog.Info("TestimonialService: approval changed", "id", id, "status", status)
	return nil
}

// DeleteTestimonial removes the image of the testimonial and then the
// record. A failure to remove the image leaves the record in place.
func (s *TestimonialService) DeleteTestimonial(ctx context.Context, id int64) error {
	t, err := s.GetTestimonial(ctx, id)
	if err != nil {
		return err
	}

	if t.Image != nil {
		if err := s.deleteImageFile(ctx, id, *t.Image); err != nil {
			return err
		}
	}

	ok, err := s.databaseService.Delete(ctx, s.schema.Table, database.Where{database.ColumnID: id})
	if err != nil {
		return common.NewStorageError(err, "failed to delete testimonial %d", id)
	}
	if !ok {
		return common.NewNotFoundError("testimonial %d does not exist", id)
	}
	slog.Info("TestimonialService: testimonial deleted", "id", id, "image", t.Image != nil)
	return nil
}

// RemoveImage detaches the image from the testimonial and deletes the file.
// The record is cleared first so it never points at a missing file. The
// image named by the stored record is removed, not the one the caller saw.
func (s *TestimonialService) RemoveImage(ctx context.Context, record *Testimonial) (*Testimonial, error) {
	if record == nil {
		return nil, common.NewInputError("no testimonial given")
	}
	t, err := s.GetTestimonial(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	if t.Image == nil {
		return t, nil
	}

	ok, err := s.databaseService.Update(ctx, s.schema.Table, database.Fields{
		database.ColumnImage:  nil,
		database.ColumnWidth:  0,
		database.ColumnHeight: 0,
	}, t.ID)
	if err != nil {
		return nil, common.NewStorageError(err, "failed to detach image from testimonial %d", t.ID)
	}
	if !ok {
		return nil, common.NewNotFoundError("testimonial %d does not exist", t.ID)
	}

	if err := s.deleteImageFile(ctx, t.ID, *t.Image); err != nil {
		slog.Error("TestimonialService: image detached but file not deleted", "id", t.ID, "image", *t.Image, "error", err)
		return nil, err
	}
	slog.Info("TestimonialService: image removed", "id", t.ID, "image", *t.Image)

	return s.GetTestimonial(ctx, t.ID)
}

// deleteImageFile removes a stored image. Names the pipeline would never
// produce, such as rows carried over from older installs, are left on disk
// with a warning so the record can still be cleaned up.
func (s *TestimonialService) deleteImageFile(ctx context.Context, id int64, name string) error {
	err := s.images.Delete(ctx, name)
	switch {
	case err == nil:
		return nil
	case common.KindOf(err) == common.KindInput:
		slog.Warn("TestimonialService: skipping image with unmanaged name", "id", id, "image", name, "error", err)
		return nil
	case common.KindOf(err) == common.KindStorage:
		return err
	}
	return common.NewStorageError(err, "failed to delete image of testimonial %d", id)
}

func (s *TestimonialService) storeImage(ctx context.Context, u *upload.Upload) (*upload.StoredImage, error) {
	stored, err := s.images.ValidateAndStore(ctx, u)
	if err != nil {
		if kind := common.KindOf(err); kind.IsValidation() {
			s.metrics.ImageRejected(kind.String())
		}
		return nil, err
	}
	return stored, nil
}

// discardImage removes an image whose record could not be written.
func (s *TestimonialService) discardImage(ctx context.Context, name string) {
	if err := s.images.Delete(context.WithoutCancel(ctx), name); err != nil {
		slog.Error("TestimonialService: failed to remove orphaned image", "image", name, "error", err)
	}
}

// notifySubmission never fails the submission; problems are logged and counted.
func (s *TestimonialService) notifySubmission(ctx context.Context, id int64, fields database.Fields, extra map[string]any, stored *upload.StoredImage, submittedBy *notification.Contact) {
	if !s.config.Notification.Enabled {
		return
	}

	n := notification.Notification{
		TestimonialID:  id,
		SubmitterName:  toString(fields[database.ColumnName]),
		Testimonial:    toString(fields[database.ColumnTestimonial]),
		Heading:        toString(fields[database.ColumnHeading]),
		AdditionalInfo: notification.FieldsFromMap(extra),
		ReplyTo:        submittedBy,
	}
	if stored != nil {
		n.ImagePath = stored.Path
	}

	if err := s.notifier.Notify(ctx, n); err != nil {
		s.metrics.NotificationResult("failed")
		slog.Error("TestimonialService: notification failed", "id", id, "error", err)
		return
	}
	s.metrics.NotificationResult("ok")
}

// checkAdditionalInfo accepts keys that are columns of the table, except the
// ones the service maintains itself.
func (s *TestimonialService) checkAdditionalInfo(info map[string]any) (map[string]any, error) {
	if len(info) == 0 {
		return nil, nil
	}
	extra := make(map[string]any, len(info))
	for k, v := range info {
		key := strings.ToLower(k)
		if managedColumns[key] {
			return nil, common.NewInputError("field %q cannot be set directly", k)
		}
		if !s.schema.HasColumn(key) {
			return nil, common.NewInputError("unknown field %q", k)
		}
		extra[key] = v
	}
	return extra, nil
}

func (s *TestimonialService) where(q Query) (database.Where, error) {
	where := database.Where{}
	for k, v := range q.Search {
		if !s.schema.HasColumn(k) {
			return nil, common.NewInputError("cannot filter by unknown field %q", k)
		}
		where[k] = v
	}
	if q.Status != nil {
		if !q.Status.IsValid() {
			return nil, common.NewInputError("approval status must be 0 or 1, got %d", int(*q.Status))
		}
		where[database.ColumnApproved] = int(*q.Status)
	}
	return where, nil
}

func (s *TestimonialService) shuffle(rows []database.Row) {
	swap := func(i, j int) { rows[i], rows[j] = rows[j], rows[i] }
	if s.rng == nil {
		rand.Shuffle(len(rows), swap)
		return
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	s.rng.Shuffle(len(rows), swap)
}

func requireText(fields database.Fields, columns ...string) error {
	for _, column := range columns {
		value, ok := fields[column].(string)
		if !ok || strings.TrimSpace(value) == "" {
			return common.NewInputError("%s is required", column)
		}
	}
	return nil
}
