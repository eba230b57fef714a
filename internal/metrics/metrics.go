package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "testimonial"

// Metrics holds the counters the service exports. A nil *Metrics records
// nothing, so callers never need to guard.
type Metrics struct {
	Submissions          *prometheus.CounterVec
	ImageRejections      *prometheus.CounterVec
	Notifications        *prometheus.CounterVec
	NotificationDispatch *prometheus.CounterVec
}

// New creates the counters and registers them with registerer.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "testimonials_submitted_total",
			Help: "Testimonials stored, by initial approval status.",
		}, []string{"status"}),
		ImageRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_rejections_total",
			Help:      "Uploaded images rejected by validation, by reason.",
		}, []string{"reason"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Reviewer notifications handed to the notifier, by result.",
		}, []string{"result"}),
		NotificationDispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_dispatches_total",
			Help:      "Queued notifications taken from the outbox, by result.",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{m.Submissions, m.ImageRejections, m.Notifications, m.NotificationDispatch} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) SubmissionStored(status string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(status).Inc()
}

func (m *Metrics) ImageRejected(reason string) {
	if m == nil {
		return
	}
	m.ImageRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) NotificationResult(result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) DispatchResult(result string) {
	if m == nil {
		return
	}
	m.NotificationDispatch.WithLabelValues(result).Inc()
}
