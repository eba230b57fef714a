package core

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jo-hoe/testimonials/internal/backend/database"
	"github.com/jo-hoe/testimonials/internal/backend/upload"
	"github.com/jo-hoe/testimonials/internal/common"
	"github.com/jo-hoe/testimonials/internal/metrics"
	"github.com/jo-hoe/testimonials/internal/notification"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeNotifier struct {
	mu            sync.Mutex
	notifications []notification.Notification
	err           error
}

func (f *fakeNotifier) Notify(_ context.Context, n notification.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, n)
	return f.err
}

func (f *fakeNotifier) sent() []notification.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notification.Notification(nil), f.notifications...)
}

type testService struct {
	*TestimonialService
	notifier *fakeNotifier
	metrics  *metrics.Metrics
}

func newTestService(t *testing.T, mutate func(*ServiceConfig)) *testService {
	t.Helper()

	config := &ServiceConfig{}
	config.applyDefaults()
	config.Database.ConnectionString = ":memory:"
	config.Images.StorageRoot = t.TempDir()
	config.Notification.Enabled = true
	if mutate != nil {
		mutate(config)
	}

	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("metrics.New error: %v", err)
	}
	notifier := &fakeNotifier{}
	svc, err := NewTestimonialService(context.Background(), config, notifier, m)
	if err != nil {
		t.Fatalf("NewTestimonialService error: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	clock := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	return &testService{TestimonialService: svc, notifier: notifier, metrics: m}
}

func createPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 100, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode PNG: %v", err)
	}
	return buf.Bytes()
}

func ptr[T any](v T) *T {
	return &v
}

func assertKind(t *testing.T, err error, want common.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", want)
	}
	if got := common.KindOf(err); got != want {
		t.Fatalf("expected %v error, got %v (%v)", want, got, err)
	}
}

func fileExists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	if err == nil {
		return true
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Stat %s: %v", path, err)
	}
	return false
}

func (s *testService) add(t *testing.T, sub Submission) int64 {
	t.Helper()
	id, err := s.AddTestimonial(context.Background(), sub)
	if err != nil {
		t.Fatalf("AddTestimonial error: %v", err)
	}
	return id
}

func TestAddTestimonial_RequiresNameAndText(t *testing.T) {
	svc := newTestService(t, nil)

	tests := []struct {
		name string
		sub  Submission
	}{
		{"empty name", Submission{Name: "", Testimonial: "text"}},
		{"blank name", Submission{Name: "   ", Testimonial: "text"}},
		{"empty name with image", Submission{Name: "", Testimonial: "text", Image: upload.FromBytes("x.png", createPNG(t, 200, 150))}},
		{"empty testimonial", Submission{Name: "Alice", Testimonial: ""}},
		{"name cleared through additional info", Submission{Name: "Alice", Testimonial: "text", AdditionalInfo: map[string]any{"name": ""}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddTestimonial(context.Background(), tt.sub)
			assertKind(t, err, common.KindInput)
		})
	}

	if fileExists(t, svc.images.Path("x.png")) {
		t.Errorf("image stored although the submission was rejected")
	}
	count, err := svc.CountTestimonials(context.Background(), Query{})
	if err != nil || count != 0 {
		t.Errorf("expected no records, got %d (%v)", count, err)
	}
}

func TestAddTestimonial_WithImage(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	id := svc.add(t, Submission{
		Name:        "Alice",
		Testimonial: "Great service",
		Image:       upload.FromBytes("Alice Photo.PNG", createPNG(t, 200, 150)),
		SubmittedBy: &notification.Contact{Name: "Alice", Email: "alice@example.com"},
	})

	got, err := svc.GetTestimonial(ctx, id)
	if err != nil {
		t.Fatalf("GetTestimonial error: %v", err)
	}
	if got.Approved != StatusPending {
		t.Errorf("expected pending, got %v", got.Approved)
	}
	if got.Image == nil || *got.Image != "alicephoto.png" {
		t.Errorf("expected image alicephoto.png, got %v", got.Image)
	}
	if got.Width != 200 || got.Height != 150 {
		t.Errorf("expected 200x150, got %dx%d", got.Width, got.Height)
	}
	if got.Heading != nil {
		t.Errorf("expected no heading, got %q", *got.Heading)
	}
	if !got.Submitted.Equal(time.Date(2024, 3, 9, 12, 1, 0, 0, time.UTC)) {
		t.Errorf("unexpected submitted time %v", got.Submitted)
	}
	if !fileExists(t, svc.images.Path("alicephoto.png")) {
		t.Errorf("expected stored image file")
	}

	sent := svc.notifier.sent()
	if len(sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(sent))
	}
	if sent[0].TestimonialID != id || sent[0].SubmitterName != "Alice" || sent[0].Testimonial != "Great service" {
		t.Errorf("unexpected notification %+v", sent[0])
	}
	if sent[0].ImagePath != svc.images.Path("alicephoto.png") {
		t.Errorf("expected image path in notification, got %q", sent[0].ImagePath)
	}
	if sent[0].ReplyTo == nil || sent[0].ReplyTo.Email != "alice@example.com" {
		t.Errorf("expected reply-to of the submitter, got %v", sent[0].ReplyTo)
	}

	if v := testutil.ToFloat64(svc.metrics.Submissions.WithLabelValues("pending")); v != 1 {
		t.Errorf("expected one pending submission counted, got %v", v)
	}
	if v := testutil.ToFloat64(svc.metrics.Notifications.WithLabelValues("ok")); v != 1 {
		t.Errorf("expected one notification counted, got %v", v)
	}
}

func TestAddTestimonial_AutoApprove(t *testing.T) {
	svc := newTestService(t, func(c *ServiceConfig) { c.Testimonials.AutoApprove = true })

	id := svc.add(t, Submission{Name: "Bob", Testimonial: "Good"})
	got, err := svc.GetTestimonial(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTestimonial error: %v", err)
	}
	if got.Approved != StatusApproved {
		t.Errorf("expected approved, got %v", got.Approved)
	}
}

func TestAddTestimonial_InvalidImageAbortsWithoutRecord(t *testing.T) {
	tests := []struct {
		name  string
		image *upload.Upload
		want  common.Kind
	}{
		{"not an image", upload.FromBytes("a.png", []byte("text")), common.KindInvalidFormat},
		{"wrong extension", upload.FromBytes("a.bmp", createPNG(t, 200, 150)), common.KindDisallowedExtension},
		{"too small", upload.FromBytes("a.png", createPNG(t, 100, 100)), common.KindImageTooSmall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, nil)
			_, err := svc.AddTestimonial(context.Background(), Submission{Name: "Alice", Testimonial: "Hi", Image: tt.image})
			assertKind(t, err, tt.want)

			count, err := svc.CountTestimonials(context.Background(), Query{})
			if err != nil || count != 0 {
				t.Errorf("expected no record, got %d (%v)", count, err)
			}
			if len(svc.notifier.sent()) != 0 {
				t.Errorf("expected no notification")
			}
			if v := testutil.ToFloat64(svc.metrics.ImageRejections.WithLabelValues(tt.want.String())); v != 1 {
				t.Errorf("expected rejection counted, got %v", v)
			}
		})
	}
}

func TestAddTestimonial_DuplicateImageName(t *testing.T) {
	svc := newTestService(t, nil)
	svc.add(t, Submission{Name: "Alice", Testimonial: "First", Image: upload.FromBytes("team.png", createPNG(t, 200, 150))})

	_, err := svc.AddTestimonial(context.Background(), Submission{Name: "Bob", Testimonial: "Second", Image: upload.FromBytes("Team.png", createPNG(t, 300, 300))})
	assertKind(t, err, common.KindDuplicateName)
}

func TestAddTestimonial_NotificationFailureKeepsRecord(t *testing.T) {
	svc := newTestService(t, nil)
	svc.notifier.err = errors.New("smtp down")

	id, err := svc.AddTestimonial(context.Background(), Submission{Name: "Alice", Testimonial: "Hi"})
	if err != nil {
		t.Fatalf("notification failure must not fail the submission: %v", err)
	}
	if _, err := svc.GetTestimonial(context.Background(), id); err != nil {
		t.Errorf("expected stored record: %v", err)
	}
	if v := testutil.ToFloat64(svc.metrics.Notifications.WithLabelValues("failed")); v != 1 {
		t.Errorf("expected failed notification counted, got %v", v)
	}
}

func TestAddTestimonial_NotificationsDisabled(t *testing.T) {
	svc := newTestService(t, func(c *ServiceConfig) { c.Notification.Enabled = false })

	svc.add(t, Submission{Name: "Alice", Testimonial: "Hi"})
	if len(svc.notifier.sent()) != 0 {
		t.Errorf("expected no notification when disabled")
	}
}

func TestAddTestimonial_StoreFailureRemovesImage(t *testing.T) {
	svc := newTestService(t, nil)
	if err := svc.databaseService.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	_, err := svc.AddTestimonial(context.Background(), Submission{Name: "Alice", Testimonial: "Hi", Image: upload.FromBytes("orphan.png", createPNG(t, 200, 150))})
	assertKind(t, err, common.KindStorage)

	if fileExists(t, svc.images.Path("orphan.png")) {
		t.Errorf("expected image of the failed submission to be removed")
	}
	if len(svc.notifier.sent()) != 0 {
		t.Errorf("expected no notification for a failed submission")
	}
}

func TestAddTestimonial_AdditionalInfo(t *testing.T) {
	svc := newTestService(t, func(c *ServiceConfig) {
		c.Database.AdditionalColumns = []database.Column{
			{Name: "instructor", Type: database.TypeText},
			{Name: "rating", Type: database.TypeInteger},
		}
	})
	ctx := context.Background()

	id := svc.add(t, Submission{
		Name:           "Alice",
		Testimonial:    "Hi",
		Heading:        ptr("Original"),
		AdditionalInfo: map[string]any{"instructor": "Bob", "rating": 5, "heading": "Override"},
	})

	got, err := svc.GetTestimonial(ctx, id)
	if err != nil {
		t.Fatalf("GetTestimonial error: %v", err)
	}
	if got.Heading == nil || *got.Heading != "Override" {
		t.Errorf("expected caller supplied heading to win, got %v", got.Heading)
	}
	if got.AdditionalInfo["instructor"] != "Bob" {
		t.Errorf("expected instructor Bob, got %v", got.AdditionalInfo["instructor"])
	}
	if rating, err := toInt64(got.AdditionalInfo["rating"]); err != nil || rating != 5 {
		t.Errorf("expected rating 5, got %v", got.AdditionalInfo["rating"])
	}

	sent := svc.notifier.sent()
	if len(sent) != 1 || len(sent[0].AdditionalInfo) != 3 || sent[0].AdditionalInfo[0].Key != "heading" {
		t.Errorf("expected sorted additional info in notification, got %+v", sent)
	}

	for _, info := range []map[string]any{
		{"unknown": "x"},
		{"image": "../../etc/passwd"},
		{"id": 99},
		{"approved": 7},
	} {
		_, err := svc.AddTestimonial(ctx, Submission{Name: "Alice", Testimonial: "Hi", AdditionalInfo: info})
		assertKind(t, err, common.KindInput)
	}
}

func TestAddTestimonial_ManagedFieldsCannotBeSubmitted(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	for _, info := range []map[string]any{
		{"approved": "1"},
		{"Approved": 1},
		{"submitted": "garbage"},
		{"submitted": time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)},
	} {
		_, err := svc.AddTestimonial(ctx, Submission{Name: "Eve", Testimonial: "Hi", AdditionalInfo: info})
		assertKind(t, err, common.KindInput)
	}

	count, err := svc.CountTestimonials(ctx, Query{})
	if err != nil || count != 0 {
		t.Fatalf("expected no stored testimonials, got %d (%v)", count, err)
	}

	id := svc.add(t, Submission{Name: "Alice", Testimonial: "Hi"})
	_, err = svc.UpdateTestimonial(ctx, id, Update{AdditionalInfo: map[string]any{"approved": 1}})
	assertKind(t, err, common.KindInput)
	_, err = svc.UpdateTestimonial(ctx, id, Update{AdditionalInfo: map[string]any{"submitted": "garbage"}})
	assertKind(t, err, common.KindInput)

	list, err := svc.ListTestimonials(ctx, Query{})
	if err != nil {
		t.Fatalf("ListTestimonials error: %v", err)
	}
	if len(list) != 1 || list[0].Approved != StatusPending {
		t.Errorf("expected one pending testimonial, got %+v", list)
	}
}

func TestAddTestimonial_DimensionCheckDisabled(t *testing.T) {
	svc := newTestService(t, func(c *ServiceConfig) {
		c.Images.MinWidth = ptr(0)
		c.Images.MinHeight = ptr(0)
	})

	id := svc.add(t, Submission{Name: "Alice", Testimonial: "Hi", Image: upload.FromBytes("tiny.png", createPNG(t, 10, 10))})
	got, err := svc.GetTestimonial(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTestimonial error: %v", err)
	}
	if got.Width != 10 || got.Height != 10 {
		t.Errorf("expected 10x10 image, got %dx%d", got.Width, got.Height)
	}
}

func TestUpdateTestimonial(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	id := svc.add(t, Submission{Name: "Alice", Testimonial: "Hi", Image: upload.FromBytes("first.png", createPNG(t, 200, 150))})

	submitted := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	got, err := svc.UpdateTestimonial(ctx, id, Update{
		Name:      ptr("Alice B."),
		Heading:   ptr("Updated"),
		Image:     upload.FromBytes("second.png", createPNG(t, 400, 300)),
		Submitted: &submitted,
	})
	if err != nil {
		t.Fatalf("UpdateTestimonial error: %v", err)
	}

	if got.Name != "Alice B." || got.Testimonial != "Hi" {
		t.Errorf("unexpected text fields %q %q", got.Name, got.Testimonial)
	}
	if got.Heading == nil || *got.Heading != "Updated" {
		t.Errorf("expected heading Updated, got %v", got.Heading)
	}
	if got.Image == nil || *got.Image != "second.png" || got.Width != 400 || got.Height != 300 {
		t.Errorf("expected new image with its dimensions, got %v %dx%d", got.Image, got.Width, got.Height)
	}
	if !got.Submitted.Equal(submitted) {
		t.Errorf("expected submitted %v, got %v", submitted, got.Submitted)
	}
	if !fileExists(t, svc.images.Path("first.png")) {
		t.Errorf("update must not delete the previous image")
	}
	if len(svc.notifier.sent()) != 1 {
		t.Errorf("update must not notify")
	}
}

func TestUpdateTestimonial_Errors(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	id := svc.add(t, Submission{Name: "Alice", Testimonial: "Hi"})

	_, err := svc.UpdateTestimonial(ctx, id+100, Update{Name: ptr("Bob")})
	assertKind(t, err, common.KindNotFound)

	_, err = svc.UpdateTestimonial(ctx, id, Update{Name: ptr("")})
	assertKind(t, err, common.KindInput)

	_, err = svc.UpdateTestimonial(ctx, id, Update{Image: upload.FromBytes("tiny.png", createPNG(t, 10, 10))})
	assertKind(t, err, common.KindImageTooSmall)

	got, err := svc.GetTestimonial(ctx, id)
	if err != nil {
		t.Fatalf("GetTestimonial error: %v", err)
	}
	if got.Name != "Alice" || got.Image != nil {
		t.Errorf("failed updates must leave the record unchanged, got %+v", got)
	}
}

func TestGetTestimonial_NotFound(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.GetTestimonial(context.Background(), 42)
	assertKind(t, err, common.KindNotFound)
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected errors.Is ErrNotFound")
	}
}

func TestApproveTestimonial(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	id := svc.add(t, Submission{Name: "Alice", Testimonial: "Hi"})

	if err := svc.ApproveTestimonial(ctx, id, StatusApproved); err != nil {
		t.Fatalf("ApproveTestimonial error: %v", err)
	}

	approved, err := svc.ListTestimonials(ctx, Query{Status: ptr(StatusApproved), Search: map[string]any{"id": id}})
	if err != nil {
		t.Fatalf("ListTestimonials error: %v", err)
	}
	if len(approved) != 1 || approved[0].ID != id {
		t.Errorf("expected record in approved list, got %+v", approved)
	}
	pending, err := svc.ListTestimonials(ctx, Query{Status: ptr(StatusPending), Search: map[string]any{"id": id}})
	if err != nil {
		t.Fatalf("ListTestimonials error: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected record not in pending list, got %+v", pending)
	}

	if err := svc.ApproveTestimonial(ctx, id, StatusPending); err != nil {
		t.Fatalf("ApproveTestimonial back to pending error: %v", err)
	}
	got, _ := svc.GetTestimonial(ctx, id)
	if got.Approved != StatusPending {
		t.Errorf("expected pending again, got %v", got.Approved)
	}

	assertKind(t, svc.ApproveTestimonial(ctx, id, Status(2)), common.KindInput)
	assertKind(t, svc.ApproveTestimonial(ctx, id+100, StatusApproved), common.KindNotFound)
}

func TestDeleteTestimonial(t *testing.T) {
	svc := newTestService(t, func(c *ServiceConfig) { c.Images.Thumbnails = true })
	ctx := context.Background()
	id := svc.add(t, Submission{Name: "Alice", Testimonial: "Hi", Image: upload.FromBytes("gone.png", createPNG(t, 400, 300))})

	if !fileExists(t, svc.images.ThumbnailPath("gone.png")) {
		t.Fatalf("expected thumbnail to be stored")
	}

	if err := svc.DeleteTestimonial(ctx, id); err != nil {
		t.Fatalf("DeleteTestimonial error: %v", err)
	}
	if fileExists(t, svc.images.Path("gone.png")) || fileExists(t, svc.images.ThumbnailPath("gone.png")) {
		t.Errorf("expected image and thumbnail removed")
	}
	_, err := svc.GetTestimonial(ctx, id)
	assertKind(t, err, common.KindNotFound)

	assertKind(t, svc.DeleteTestimonial(ctx, id), common.KindNotFound)
}

func TestDeleteTestimonial_ImageFailureKeepsRecord(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	id := svc.add(t, Submission{Name: "Alice", Testimonial: "Hi", Image: upload.FromBytes("stuck.png", createPNG(t, 200, 150))})

	// a non-empty directory in place of the image cannot be removed
	path := svc.images.Path("stuck.png")
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(path, "child"), 0o755); err != nil {
		t.Fatalf("MkdirAll error: %v", err)
	}

	assertKind(t, svc.DeleteTestimonial(ctx, id), common.KindStorage)
	if _, err := svc.GetTestimonial(ctx, id); err != nil {
		t.Errorf("expected record to remain, got %v", err)
	}
}

func TestRemoveImage(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	id := svc.add(t, Submission{Name: "Alice", Testimonial: "Hi", Image: upload.FromBytes("remove.png", createPNG(t, 200, 150))})
	if err := svc.ApproveTestimonial(ctx, id, StatusApproved); err != nil {
		t.Fatalf("ApproveTestimonial error: %v", err)
	}

	record, err := svc.GetTestimonial(ctx, id)
	if err != nil {
		t.Fatalf("GetTestimonial error: %v", err)
	}
	got, err := svc.RemoveImage(ctx, record)
	if err != nil {
		t.Fatalf("RemoveImage error: %v", err)
	}

	if got.Image != nil || got.Width != 0 || got.Height != 0 {
		t.Errorf("expected image cleared, got %v %dx%d", got.Image, got.Width, got.Height)
	}
	if got.Name != "Alice" || got.Testimonial != "Hi" || got.Approved != StatusApproved {
		t.Errorf("expected other fields unchanged, got %+v", got)
	}
	if fileExists(t, svc.images.Path("remove.png")) {
		t.Errorf("expected image file deleted")
	}

	// nothing left to remove
	again, err := svc.RemoveImage(ctx, got)
	if err != nil || again.Image != nil {
		t.Errorf("expected no-op, got %+v (%v)", again, err)
	}

	_, err = svc.RemoveImage(ctx, nil)
	assertKind(t, err, common.KindInput)
}

func TestRemoveImage_UsesStoredRecord(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	id := svc.add(t, Submission{Name: "Alice", Testimonial: "Hi", Image: upload.FromBytes("first.png", createPNG(t, 200, 150))})

	stale, err := svc.GetTestimonial(ctx, id)
	if err != nil {
		t.Fatalf("GetTestimonial error: %v", err)
	}
	if _, err := svc.UpdateTestimonial(ctx, id, Update{Image: upload.FromBytes("second.png", createPNG(t, 200, 150))}); err != nil {
		t.Fatalf("UpdateTestimonial error: %v", err)
	}

	got, err := svc.RemoveImage(ctx, stale)
	if err != nil {
		t.Fatalf("RemoveImage error: %v", err)
	}
	if got.Image != nil {
		t.Errorf("expected image cleared, got %v", *got.Image)
	}
	if fileExists(t, svc.images.Path("second.png")) {
		t.Errorf("expected the attached image to be deleted")
	}
	if !fileExists(t, svc.images.Path("first.png")) {
		t.Errorf("expected the replaced image to stay on disk")
	}

	_, err = svc.RemoveImage(ctx, &Testimonial{ID: 999})
	assertKind(t, err, common.KindNotFound)
}

func TestDeleteAndRemoveImage_UnmanagedImageName(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	for _, remove := range []func(id int64) error{
		func(id int64) error { return svc.DeleteTestimonial(ctx, id) },
		func(id int64) error {
			_, err := svc.RemoveImage(ctx, &Testimonial{ID: id})
			return err
		},
	} {
		id := svc.add(t, Submission{Name: "Alice", Testimonial: "Hi"})
		if _, err := svc.databaseService.Update(ctx, svc.schema.Table, database.Fields{database.ColumnImage: "Legacy Photo.JPG"}, id); err != nil {
			t.Fatalf("Update error: %v", err)
		}
		if err := remove(id); err != nil {
			t.Errorf("expected unmanaged image name to be skipped, got %v", err)
		}
	}
}

func TestListTestimonials_OrderLimitAndSearch(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	for _, name := range []string{"Carol", "Alice", "Bob"} {
		svc.add(t, Submission{Name: name, Testimonial: "Hi from " + name})
	}

	byName, err := svc.ListTestimonials(ctx, Query{Order: []database.Order{{Column: "name"}}})
	if err != nil {
		t.Fatalf("ListTestimonials error: %v", err)
	}
	if names := namesOf(byName); names != "Alice,Bob,Carol" {
		t.Errorf("expected name order, got %s", names)
	}

	latest, err := svc.ListTestimonials(ctx, Query{Order: []database.Order{{Column: "submitted", Descending: true}}, Limit: 2})
	if err != nil {
		t.Fatalf("ListTestimonials error: %v", err)
	}
	if names := namesOf(latest); names != "Bob,Alice" {
		t.Errorf("expected the two latest submissions, got %s", names)
	}

	found, err := svc.ListTestimonials(ctx, Query{Search: map[string]any{"name": "Carol"}})
	if err != nil {
		t.Fatalf("ListTestimonials error: %v", err)
	}
	if names := namesOf(found); names != "Carol" {
		t.Errorf("expected Carol, got %s", names)
	}

	count, err := svc.CountTestimonials(ctx, Query{Status: ptr(StatusPending)})
	if err != nil || count != 3 {
		t.Errorf("expected 3 pending, got %d (%v)", count, err)
	}
	count, err = svc.CountTestimonials(ctx, Query{Status: ptr(StatusApproved)})
	if err != nil || count != 0 {
		t.Errorf("expected 0 approved, got %d (%v)", count, err)
	}
}

func TestListTestimonials_InvalidQueries(t *testing.T) {
	svc := newTestService(t, nil)

	tests := []struct {
		name  string
		query Query
	}{
		{"unknown search field", Query{Search: map[string]any{"password": "x"}}},
		{"unknown order field", Query{Order: []database.Order{{Column: "1; DROP TABLE testimonials"}}}},
		{"negative limit", Query{Limit: -1}},
		{"random with order", Query{Random: true, Order: []database.Order{{Column: "name"}}}},
		{"invalid status", Query{Status: ptr(Status(5))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ListTestimonials(context.Background(), tt.query)
			assertKind(t, err, common.KindInput)
		})
	}
}

func TestListTestimonials_RandomIsSeedable(t *testing.T) {
	seed := int64(7)
	orders := make([]string, 0, 2)

	for i := 0; i < 2; i++ {
		svc := newTestService(t, func(c *ServiceConfig) { c.Testimonials.RandomSeed = &seed })
		for _, name := range []string{"A", "B", "C", "D", "E", "F", "G", "H"} {
			svc.add(t, Submission{Name: name, Testimonial: "x"})
		}
		list, err := svc.ListTestimonials(context.Background(), Query{Random: true, Limit: 5})
		if err != nil {
			t.Fatalf("ListTestimonials error: %v", err)
		}
		if len(list) != 5 {
			t.Fatalf("expected 5 random testimonials, got %d", len(list))
		}
		orders = append(orders, namesOf(list))
	}

	if orders[0] != orders[1] {
		t.Errorf("expected the same random order for the same seed, got %s and %s", orders[0], orders[1])
	}
}

func namesOf(list []Testimonial) string {
	var buf bytes.Buffer
	for i, t := range list {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(t.Name)
	}
	return buf.String()
}

func TestParseID(t *testing.T) {
	tests := []struct {
		in    string
		want  int64
		valid bool
	}{
		{"1", 1, true},
		{" 42 ", 42, true},
		{"0", 0, false},
		{"-3", 0, false},
		{"abc", 0, false},
		{"1.5", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, err := ParseID(tt.in)
		if tt.valid {
			if err != nil || got != tt.want {
				t.Errorf("ParseID(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
			}
			continue
		}
		if common.KindOf(err) != common.KindInput {
			t.Errorf("ParseID(%q) expected input error, got %v", tt.in, err)
		}
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in    string
		want  Status
		valid bool
	}{
		{"0", StatusPending, true},
		{"1", StatusApproved, true},
		{"2", 0, false},
		{"-1", 0, false},
		{"yes", 0, false},
	}

	for _, tt := range tests {
		got, err := ParseStatus(tt.in)
		if tt.valid {
			if err != nil || got != tt.want {
				t.Errorf("ParseStatus(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
			}
			continue
		}
		if common.KindOf(err) != common.KindInput {
			t.Errorf("ParseStatus(%q) expected input error, got %v", tt.in, err)
		}
	}
}

func TestTestimonialFromRow_TimestampFormats(t *testing.T) {
	want := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	schema, err := database.NewTestimonialSchema("testimonials", nil)
	if err != nil {
		t.Fatalf("NewTestimonialSchema error: %v", err)
	}

	for _, submitted := range []any{
		want,
		want.Unix(),
		"2024-03-09T14:05:07Z",
		"2024-03-09 14:05:07",
		"2024-03-09 14:05:07 +0000 UTC",
		[]byte("2024-03-09 15:05:07+01:00"),
	} {
		row := database.Row{"id": int64(1), "name": "A", "testimonial": "B", "approved": int64(1), "submitted": submitted}
		got, err := testimonialFromRow(row, schema)
		if err != nil {
			t.Errorf("submitted %v: %v", submitted, err)
			continue
		}
		if !got.Submitted.Equal(want) {
			t.Errorf("submitted %v parsed as %v", submitted, got.Submitted)
		}
	}
}
