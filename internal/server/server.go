// Package server exposes the rate pipeline over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/iwvelando/indirect-rates/internal/config"
	"github.com/iwvelando/indirect-rates/internal/forecast"
	"github.com/iwvelando/indirect-rates/internal/ingest"
	"github.com/iwvelando/indirect-rates/internal/mapping"
	"github.com/iwvelando/indirect-rates/internal/projection"
	"github.com/iwvelando/indirect-rates/internal/rates"
	"github.com/iwvelando/indirect-rates/internal/report"
	"github.com/iwvelando/indirect-rates/internal/scenario"
	"github.com/iwvelando/indirect-rates/pkg/constants"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// configField is the multipart field holding an optional YAML run configuration.
const configField = "config"

// inputFiles are the canonical upload names.
var inputFiles = []string{
	constants.GLActualsFile,
	constants.AccountMapFile,
	constants.DirectCostsFile,
	constants.ScenarioEventsFile,
	constants.ReferenceRatesFile,
}

// Options configures the handler.
type Options struct {
	MaxUploadSize  int64
	Version        string
	AllowedOrigins []string
	Timeout        time.Duration

	// Defaults is the run configuration used when a request uploads none.
	Defaults *config.Configuration

	// Registerer receives the handler's metrics; nil uses a private registry.
	Registerer prometheus.Registerer

	// Gatherer serves /metrics; nil serves the private registry.
	Gatherer prometheus.Gatherer
}

type handler struct {
	logger        *zap.Logger
	maxUploadSize int64
	version       string
	defaults      config.Configuration
	metrics       *metrics
}

// NewHandler constructs the HTTP handler that serves the forecast API.
func NewHandler(logger *zap.Logger, opts Options) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	maxUploadSize := opts.MaxUploadSize
	if maxUploadSize <= 0 {
		maxUploadSize = constants.DefaultMaxUploadSizeBytes
	}

	trimmedVersion := strings.TrimSpace(opts.Version)
	if trimmedVersion == "" {
		trimmedVersion = "dev"
	}

	defaults := config.Default()
	if opts.Defaults != nil {
		defaults = opts.Defaults
	}

	registerer, gatherer := opts.Registerer, opts.Gatherer
	if registerer == nil {
		registry := prometheus.NewRegistry()
		registerer, gatherer = registry, registry
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultRequestTimeout
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	h := &handler{
		logger:        logger,
		maxUploadSize: maxUploadSize,
		version:       trimmedVersion,
		defaults:      *defaults,
		metrics:       newMetrics(registerer),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.loggingMiddleware)
	r.Use(middleware.Timeout(timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Route("/api", func(r chi.Router) {
		r.Post("/forecast", h.handleForecast)
		r.Post("/validate", h.handleValidate)
		r.Get("/version", h.handleVersion)
	})

	return r
}

type forecastResponse struct {
	RunID     string          `json:"runId"`
	Scenarios []string        `json:"scenarios"`
	Outputs   []report.Output `json:"outputs"`
	CSV       string          `json:"csv"`
	Warnings  []string        `json:"warnings,omitempty"`
	Duration  string          `json:"duration"`
}

type validateResponse struct {
	Scenarios []string `json:"scenarios"`
	Rates     []string `json:"rates"`
	Warnings  []string `json:"warnings,omitempty"`
}

// upload is one parsed request.
type upload struct {
	conf     config.Configuration
	inputs   forecast.Request
	warnings []string
}

func (h *handler) handleForecast(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleForecast"
	start := time.Now()

	up, status, err := h.parseUpload(w, r)
	if err != nil {
		h.metrics.observe(outcomeRejected, time.Since(start))
		h.respondErrorWithOp(w, status, err.Error(), op)
		return
	}
	up.inputs.RunID = uuid.NewString()

	outputs, err := forecast.GetForecast(r.Context(), h.logger, up.conf, up.inputs)
	if err != nil {
		h.metrics.observe(outcomeFailed, time.Since(start))
		h.respondErrorWithOp(w, statusFor(err), fmt.Sprintf("failed to compute forecast: %v", err), op)
		return
	}

	var csvBuf bytes.Buffer
	if err := report.WriteCSV(&csvBuf, outputs); err != nil {
		h.metrics.observe(outcomeFailed, time.Since(start))
		h.respondErrorWithOp(w, http.StatusInternalServerError, fmt.Sprintf("failed to render CSV: %v", err), op)
		return
	}

	elapsed := time.Since(start)
	h.metrics.observe(outcomeOK, elapsed)
	h.metrics.record(outputs)

	response := forecastResponse{
		RunID:    up.inputs.RunID,
		Outputs:  outputs,
		CSV:      csvBuf.String(),
		Warnings: up.warnings,
		Duration: elapsed.String(),
	}
	for _, out := range outputs {
		response.Scenarios = append(response.Scenarios, out.Scenario)
	}

	h.logger.Info("forecast computed",
		zap.String("op", op),
		zap.String("runId", response.RunID),
		zap.Int("scenarios", len(response.Scenarios)),
		zap.Duration("duration", elapsed),
	)
	h.writeJSON(w, http.StatusOK, response)
}

func (h *handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	const op = "server.handleValidate"

	up, status, err := h.parseUpload(w, r)
	if err != nil {
		h.respondErrorWithOp(w, status, err.Error(), op)
		return
	}

	plan, err := forecast.NewPlan(h.logger, up.conf, up.inputs)
	if err != nil {
		h.respondErrorWithOp(w, statusFor(err), err.Error(), op)
		return
	}

	response := validateResponse{
		Scenarios: plan.Scenarios,
		Warnings:  append(up.warnings, plan.Warnings...),
	}
	for _, d := range plan.Rates.Rates {
		response.Rates = append(response.Rates, d.Name)
	}
	h.writeJSON(w, http.StatusOK, response)
}

// parseUpload reads the multipart form: input CSVs named by their canonical
// file names and an optional YAML configuration.
func (h *handler) parseUpload(w http.ResponseWriter, r *http.Request) (upload, int, error) {
	var up upload

	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return up, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds limit of %d bytes", h.maxUploadSize)
		}
		return up, http.StatusBadRequest, fmt.Errorf("failed to parse upload: %w", err)
	}

	conf := h.defaults
	files := make(map[string][]byte)
	for field, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			data, err := readPart(fh)
			if err != nil {
				return up, http.StatusBadRequest, err
			}
			if field == configField {
				loaded, err := config.LoadConfigurationFromReader(bytes.NewReader(data))
				if err != nil {
					return up, http.StatusBadRequest, err
				}
				conf = *loaded
				continue
			}
			name := filepath.Base(fh.Filename)
			if !slices.Contains(inputFiles, name) {
				name = field
			}
			if !slices.Contains(inputFiles, name) {
				up.warnings = append(up.warnings, fmt.Sprintf("ignored upload %s (%s); expected one of %s",
					field, fh.Filename, strings.Join(inputFiles, ", ")))
				continue
			}
			files[name] = data
		}
	}
	if scenarioName := strings.TrimSpace(r.FormValue("scenario")); scenarioName != "" {
		conf.Run.Scenario = scenarioName
	}

	if err := conf.Validate(); err != nil {
		return up, http.StatusBadRequest, err
	}
	up.warnings = append(up.warnings, conf.ValidateConfiguration()...)

	inputs, inputWarnings, err := ingest.Read(ingest.BytesOpener(files))
	if err != nil {
		return up, statusFor(err), err
	}
	up.conf = conf
	up.inputs = forecast.Request{Inputs: inputs, Warnings: inputWarnings}
	return up, http.StatusOK, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
	}
	defer func() {
		_ = f.Close()
	}()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload %s: %w", fh.Filename, err)
	}
	return data, nil
}

// statusFor maps pipeline errors to HTTP status codes. Configuration and
// input problems are the caller's to fix.
func statusFor(err error) int {
	var (
		rowErr      *ingest.RowError
		rateErr     *rates.ConfigError
		conflictErr *mapping.ConflictError
		poolErr     *scenario.UnknownPoolError
	)
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, ingest.ErrMissingColumn), errors.As(err, &rowErr):
		return http.StatusBadRequest
	case errors.As(err, &rateErr), errors.As(err, &conflictErr), errors.As(err, &poolErr),
		errors.Is(err, projection.ErrNoActuals):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"version": h.version,
	})
}

func (h *handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.logger.Debug("request served",
			zap.String("op", "server.loggingMiddleware"),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("requestId", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *handler) respondErrorWithOp(w http.ResponseWriter, status int, msg string, op string) {
	h.logger.Error("forecast request failed",
		zap.String("op", op),
		zap.Int("status", status),
		zap.String("error", msg),
	)

	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", zap.Error(err))
	}
}
