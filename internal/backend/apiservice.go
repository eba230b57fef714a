package backend

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jo-hoe/testimonials/internal/backend/database"
	"github.com/jo-hoe/testimonials/internal/backend/upload"
	"github.com/jo-hoe/testimonials/internal/common"
	"github.com/jo-hoe/testimonials/internal/core"
	"github.com/jo-hoe/testimonials/internal/notification"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	infoPrefix      = "info."
	submittedLayout = "2006-01-02 15:04:05"
)

// reserved query parameters; every other parameter filters by column
var listParams = map[string]bool{
	"status": true,
	"order":  true,
	"dir":    true,
	"random": true,
	"limit":  true,
}

type APIService struct {
	config  *core.ServiceConfig
	service *core.TestimonialService
	metrics prometheus.Gatherer
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type approveRequest struct {
	Approved *int `json:"approved" validate:"required"`
}

func NewAPIService(config *core.ServiceConfig, service *core.TestimonialService, gatherer prometheus.Gatherer) *APIService {
	return &APIService{
		config:  config,
		service: service,
		metrics: gatherer,
	}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	e.GET("/probe", func(c echo.Context) error {
		return c.String(http.StatusOK, "Testimonials service is running")
	})
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{})))
	}

	api := e.Group("/api/testimonials", middleware.BodyLimit(s.config.BodyLimit))
	api.POST("", s.createHandler)
	api.GET("", s.listHandler)
	api.GET("/count", s.countHandler)
	api.GET("/:id", s.getHandler)
	api.PUT("/:id", s.updateHandler)
	api.DELETE("/:id", s.deleteHandler)
	api.POST("/:id/approve", s.approveHandler)
	api.DELETE("/:id/image", s.removeImageHandler)
}

func (s *APIService) createHandler(c echo.Context) error {
	ctx := c.Request().Context()
	form, err := c.FormParams()
	if err != nil {
		return s.respondError(c, common.NewInputError("failed to read form: %v", err))
	}
	image, err := formUpload(c, "image")
	if err != nil {
		return s.respondError(c, err)
	}

	sub := core.Submission{
		Name:           form.Get("name"),
		Testimonial:    form.Get("testimonial"),
		Image:          image,
		AdditionalInfo: additionalInfo(form),
	}
	if form.Has("heading") {
		heading := form.Get("heading")
		sub.Heading = &heading
	}
	if email := form.Get("submitterEmail"); email != "" {
		sub.SubmittedBy = &notification.Contact{Name: form.Get("submitterName"), Email: email}
	}

	id, err := s.service.AddTestimonial(ctx, sub)
	if err != nil {
		return s.respondError(c, err)
	}
	created, err := s.service.GetTestimonial(ctx, id)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *APIService) listHandler(c echo.Context) error {
	query, err := listQuery(c.QueryParams())
	if err != nil {
		return s.respondError(c, err)
	}
	if len(query.Order) == 0 && !query.Random {
		query.Order = []database.Order{{Column: database.ColumnSubmitted, Descending: true}}
	}

	testimonials, err := s.service.ListTestimonials(c.Request().Context(), query)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, testimonials)
}

func (s *APIService) countHandler(c echo.Context) error {
	query, err := listQuery(c.QueryParams())
	if err != nil {
		return s.respondError(c, err)
	}
	count, err := s.service.CountTestimonials(c.Request().Context(), query)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"count": count})
}

func (s *APIService) getHandler(c echo.Context) error {
	id, err := core.ParseID(c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	t, err := s.service.GetTestimonial(c.Request().Context(), id)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (s *APIService) updateHandler(c echo.Context) error {
	id, err := core.ParseID(c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	form, err := c.FormParams()
	if err != nil {
		return s.respondError(c, common.NewInputError("failed to read form: %v", err))
	}
	image, err := formUpload(c, "image")
	if err != nil {
		return s.respondError(c, err)
	}

	u := core.Update{
		Image:          image,
		AdditionalInfo: additionalInfo(form),
	}
	for key, target := range map[string]**string{
		"name":        &u.Name,
		"testimonial": &u.Testimonial,
		"heading":     &u.Heading,
	} {
		if form.Has(key) {
			value := form.Get(key)
			*target = &value
		}
	}
	if form.Has("submitted") {
		submitted, err := parseSubmitted(form.Get("submitted"))
		if err != nil {
			return s.respondError(c, err)
		}
		u.Submitted = &submitted
	}

	updated, err := s.service.UpdateTestimonial(c.Request().Context(), id, u)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (s *APIService) approveHandler(c echo.Context) error {
	id, err := core.ParseID(c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}

	var req approveRequest
	if err := c.Bind(&req); err != nil {
		return s.respondError(c, common.NewInputError("failed to read request body: %v", err))
	}
	if err := c.Validate(&req); err != nil {
		return s.respondError(c, err)
	}

	ctx := c.Request().Context()
	if err := s.service.ApproveTestimonial(ctx, id, core.Status(*req.Approved)); err != nil {
		return s.respondError(c, err)
	}
	t, err := s.service.GetTestimonial(ctx, id)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (s *APIService) deleteHandler(c echo.Context) error {
	id, err := core.ParseID(c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	if err := s.service.DeleteTestimonial(c.Request().Context(), id); err != nil {
		return s.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *APIService) removeImageHandler(c echo.Context) error {
	id, err := core.ParseID(c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	updated, err := s.service.RemoveImage(c.Request().Context(), &core.Testimonial{ID: id})
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (s *APIService) respondError(c echo.Context, err error) error {
	var appErr *common.Error
	if !errors.As(err, &appErr) {
		slog.Error("APIService: unexpected error", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal server error"})
	}

	status := statusFor(appErr.Kind)
	if status >= http.StatusInternalServerError {
		slog.Error("APIService: request failed", "path", c.Path(), "error", err)
	}
	return c.JSON(status, errorResponse{Error: appErr.Kind.String(), Message: appErr.Message})
}

func statusFor(kind common.Kind) int {
	switch kind {
	case common.KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case common.KindDuplicateName:
		return http.StatusConflict
	case common.KindNotFound:
		return http.StatusNotFound
	case common.KindStorage, common.KindUnknown:
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

// formUpload returns nil when the form carries no file under key.
func formUpload(c echo.Context, key string) (*upload.Upload, error) {
	fh, err := c.FormFile(key)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, common.NewInputError("failed to read uploaded image: %v", err)
	}
	return fileHeaderUpload(fh), nil
}

func fileHeaderUpload(fh *multipart.FileHeader) *upload.Upload {
	return &upload.Upload{
		Name: fh.Filename,
		Size: fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

func additionalInfo(form url.Values) map[string]any {
	var info map[string]any
	for key, values := range form {
		if !strings.HasPrefix(key, infoPrefix) || len(values) == 0 {
			continue
		}
		if info == nil {
			info = make(map[string]any)
		}
		info[strings.TrimPrefix(key, infoPrefix)] = values[0]
	}
	return info
}

func listQuery(params url.Values) (core.Query, error) {
	var query core.Query

	if params.Has("status") {
		status, err := core.ParseStatus(params.Get("status"))
		if err != nil {
			return query, err
		}
		query.Status = &status
	}
	if order := params.Get("order"); order != "" {
		descending := false
		switch strings.ToLower(params.Get("dir")) {
		case "", "asc":
		case "desc":
			descending = true
		default:
			return query, common.NewInputError("dir must be asc or desc, got %q", params.Get("dir"))
		}
		query.Order = []database.Order{{Column: order, Descending: descending}}
	}
	if random := params.Get("random"); random != "" {
		r, err := strconv.ParseBool(random)
		if err != nil {
			return query, common.NewInputError("random must be true or false, got %q", random)
		}
		query.Random = r
	}
	if limit := params.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return query, common.NewInputError("limit must be numeric, got %q", limit)
		}
		query.Limit = n
	}

	for key, values := range params {
		if listParams[key] || len(values) == 0 {
			continue
		}
		if query.Search == nil {
			query.Search = make(map[string]any)
		}
		query.Search[key] = values[0]
	}
	return query, nil
}

func parseSubmitted(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	if ts, err := time.ParseInLocation(submittedLayout, value, time.UTC); err == nil {
		return ts, nil
	}
	return time.Time{}, common.NewInputError("submitted must be RFC 3339 or %q, got %q", submittedLayout, value)
}
