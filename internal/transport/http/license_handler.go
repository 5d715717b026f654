package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "github.com/jahboukie/codecontext-keygen/internal/errors"
	"github.com/jahboukie/codecontext-keygen/internal/infrastructure"
	"github.com/jahboukie/codecontext-keygen/internal/license"
	"github.com/jahboukie/codecontext-keygen/internal/services"
)

// LicenseHandler exposes license operations over HTTP for local tooling
// (editor integrations, the desktop companion) talking to the CLI daemon.
type LicenseHandler struct {
	service  services.LicenseService
	logger   *slog.Logger
	validate *validator.Validate
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service services.LicenseService, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseHandler{
		service:  service,
		logger:   logger.With(slog.String("handler", "license")),
		validate: validator.New(),
	}
}

// ActivationRequest is the POST /activate payload
type ActivationRequest struct {
	LicenseKey string `json:"license_key" validate:"required,min=8"`
}

// Bind implements render.Binder
func (a *ActivationRequest) Bind(r *http.Request) error {
	if a.LicenseKey == "" {
		return errors.New("license_key is required")
	}
	return nil
}

// AuthorizeRequest is the POST /authorize payload
type AuthorizeRequest struct {
	Operation string `json:"operation" validate:"required"`
}

// Bind implements render.Binder
func (a *AuthorizeRequest) Bind(r *http.Request) error {
	if a.Operation == "" {
		return errors.New("operation is required")
	}
	return nil
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/status", h.GetStatus)
	r.Get("/detailed", h.GetDetailedStatus)
	r.Post("/activate", h.Activate)
	r.Post("/authorize", h.Authorize)

	return r
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("license-handler")

	ctx, span := tracer.Start(ctx, "license_handler.activate",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/license/activate"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	data := &ActivationRequest{}
	if err := render.Bind(r, data); err != nil {
		span.RecordError(err)
		h.logger.WarnContext(ctx, "invalid activation request",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID),
		)
		render.Render(w, r, apierrors.NewErrorResponse(
			apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", err.Error())))
		return
	}
	if err := h.validate.Struct(data); err != nil {
		span.RecordError(err)
		render.Render(w, r, apierrors.NewErrorResponse(
			apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", err.Error())))
		return
	}

	span.SetAttributes(attribute.String("license.key_masked", license.MaskLicenseKey(data.LicenseKey)))

	activateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	response, err := h.service.Activate(activateCtx, data.LicenseKey)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("license.result", "failure"))
		h.handleError(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("license.result", "success"))
	h.logger.InfoContext(ctx, "license activated",
		slog.String("request_id", reqID),
		slog.String("trace_id", infrastructure.TraceIDFromContext(ctx)),
		slog.String("key_masked", license.MaskLicenseKey(data.LicenseKey)),
		slog.String("tier", response.Tier),
		slog.Bool("active", response.Active),
	)

	render.JSON(w, r, response)
}

// GetStatus handles GET /api/license/status
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("license-handler")
	start := time.Now()

	ctx, span := tracer.Start(ctx, "license_handler.get_status",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/license/status"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	statusCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	response, err := h.service.GetStatus(statusCtx)
	latency := time.Since(start)

	span.SetAttributes(
		attribute.Int64("request.latency_ms", latency.Milliseconds()),
		attribute.Bool("request.success", err == nil),
	)

	if err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "license status request failed",
			slog.String("request_id", reqID),
			slog.String("trace_id", infrastructure.TraceIDFromContext(ctx)),
			slog.Duration("latency", latency),
			slog.String("error", err.Error()),
		)
		h.handleError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.String("license.state", response.State),
		attribute.Bool("license.active", response.Active),
	)

	render.JSON(w, r, response)
}

// GetDetailedStatus handles GET /api/license/detailed
func (h *LicenseHandler) GetDetailedStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	statusCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	response, err := h.service.GetDetailedStatus(statusCtx)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	render.JSON(w, r, response)
}

// Authorize handles POST /api/license/authorize. A denial is a normal
// 200 response with allowed=false; errors are reserved for failures to
// decide at all.
func (h *LicenseHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("license-handler")

	ctx, span := tracer.Start(ctx, "license_handler.authorize",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/license/authorize"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	data := &AuthorizeRequest{}
	if err := render.Bind(r, data); err != nil {
		span.RecordError(err)
		render.Render(w, r, apierrors.NewErrorResponse(
			apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", err.Error())))
		return
	}

	decision, err := h.service.Authorize(ctx, data.Operation)
	if err != nil {
		span.RecordError(err)
		h.handleError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.String("license.operation", data.Operation),
		attribute.Bool("license.allowed", decision.Allowed),
	)

	render.JSON(w, r, decision)
}

// handleError maps service failures onto the closed reason taxonomy so
// clients always see a stable error code and a remediation message.
func (h *LicenseHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	h.logger.ErrorContext(ctx, "request failed",
		slog.String("error", err.Error()),
		slog.String("request_id", reqID),
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method),
	)

	var apiErr *apierrors.APIError
	var actErr *license.ActivationError

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		apiErr = apierrors.New(http.StatusGatewayTimeout, "TIMEOUT",
			"The request timed out while processing. Please try again.")
	case errors.As(err, &actErr):
		apiErr = apierrors.FromReason(actErr.Reason)
	case errors.Is(err, license.ErrNoLicense):
		apiErr = apierrors.FromReason(license.ReasonNoLicense)
	default:
		apiErr = apierrors.ErrInternalServer
	}

	render.Render(w, r, apierrors.NewErrorResponse(apiErr))
}
