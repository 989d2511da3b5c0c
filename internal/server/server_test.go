package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iwvelando/indirect-rates/internal/config"
	"github.com/iwvelando/indirect-rates/pkg/constants"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var testDataDir = filepath.Join("..", "..", "test", "data")

func newTestHandler(t *testing.T) (http.Handler, *prometheus.Registry) {
	t.Helper()

	conf, err := config.LoadConfiguration(filepath.Join("..", "..", "test", "test_config.yaml"))
	if err != nil {
		t.Fatalf("failed to load test config: %v", err)
	}
	registry := prometheus.NewRegistry()
	handler := NewHandler(zap.NewNop(), Options{
		MaxUploadSize: constants.DefaultMaxUploadSizeBytes,
		Version:       "1.2.3",
		Defaults:      conf,
		Registerer:    registry,
		Gatherer:      registry,
	})
	return handler, registry
}

// testParts returns the fixture inputs keyed by canonical file name.
func testParts(t *testing.T) map[string][]byte {
	t.Helper()

	parts := make(map[string][]byte)
	for _, name := range inputFiles {
		data, err := os.ReadFile(filepath.Join(testDataDir, name))
		if err != nil {
			t.Fatalf("failed to read %s: %v", name, err)
		}
		parts[name] = data
	}
	return parts
}

func performUpload(t *testing.T, handler http.Handler, path string, parts map[string][]byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, data := range parts {
		part, err := writer.CreateFormFile(name, name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("failed to write form data: %v", err)
		}
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write form field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp["error"]
}

func TestHandleForecastSuccess(t *testing.T) {
	handler, _ := newTestHandler(t)

	rr := performUpload(t, handler, "/api/forecast", testParts(t), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp forecastResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.RunID == "" {
		t.Fatal("expected a run id")
	}
	expected := []string{"Base", "Lose", "Win"}
	if strings.Join(resp.Scenarios, ",") != strings.Join(expected, ",") {
		t.Fatalf("expected scenarios %v, got %v", expected, resp.Scenarios)
	}
	if len(resp.Outputs) != len(expected) {
		t.Fatalf("expected %d outputs, got %d", len(expected), len(resp.Outputs))
	}
	for _, out := range resp.Outputs {
		if out.Assumptions.RunID != resp.RunID {
			t.Errorf("scenario %s carries run id %q, want %q", out.Scenario, out.Assumptions.RunID, resp.RunID)
		}
		if out.Assumptions.Entity != "HQ" {
			t.Errorf("expected entity HQ from the default configuration, got %q", out.Assumptions.Entity)
		}
	}
	if !strings.HasPrefix(resp.CSV, "Scenario,") {
		t.Fatalf("expected CSV rendering, got %q", firstLine(resp.CSV))
	}
}

func TestHandleForecastScenarioOverride(t *testing.T) {
	handler, _ := newTestHandler(t)

	rr := performUpload(t, handler, "/api/forecast", testParts(t), map[string]string{"scenario": "Win"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp forecastResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Scenarios) != 1 || resp.Scenarios[0] != "Win" {
		t.Fatalf("expected only Win, got %v", resp.Scenarios)
	}
}

func TestHandleForecastUploadedConfig(t *testing.T) {
	handler, _ := newTestHandler(t)

	parts := testParts(t)
	parts[configField] = []byte("run:\n  forecastMonths: 2\n  entity: SUB\nrates:\n  - name: Fringe\n    pools: [Fringe]\n    base: TL\n")

	rr := performUpload(t, handler, "/api/forecast", parts, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp forecastResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	a := resp.Outputs[0].Assumptions
	if a.Entity != "SUB" || a.ForecastMonths != 2 {
		t.Fatalf("expected uploaded configuration to apply, got entity %q and %d months", a.Entity, a.ForecastMonths)
	}
	if len(a.Rates) != 1 {
		t.Fatalf("expected a single configured rate, got %d", len(a.Rates))
	}
}

func TestHandleForecastIgnoresUnknownUploads(t *testing.T) {
	handler, _ := newTestHandler(t)

	parts := testParts(t)
	parts["notes.txt"] = []byte("hello")

	rr := performUpload(t, handler, "/api/forecast", parts, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp forecastResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	found := false
	for _, w := range resp.Warnings {
		if strings.Contains(w, "notes.txt") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a warning for the ignored upload, got %v", resp.Warnings)
	}
}

func TestHandleForecastMethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/forecast", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rr.Code)
	}
}

func TestHandleForecastUploadTooLarge(t *testing.T) {
	handler := NewHandler(zap.NewNop(), Options{MaxUploadSize: 64})

	rr := performUpload(t, handler, "/api/forecast",
		map[string][]byte{constants.GLActualsFile: []byte(strings.Repeat("a", 128))}, nil)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", rr.Code)
	}
	if msg := decodeError(t, rr); !strings.Contains(msg, "upload exceeds limit") {
		t.Fatalf("expected upload limit error message, got %q", msg)
	}
}

func TestHandleForecastMissingFile(t *testing.T) {
	handler, _ := newTestHandler(t)

	parts := testParts(t)
	delete(parts, constants.AccountMapFile)

	rr := performUpload(t, handler, "/api/forecast", parts, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if msg := decodeError(t, rr); !strings.Contains(msg, constants.AccountMapFile) {
		t.Fatalf("expected missing account map error, got %q", msg)
	}
}

func TestHandleForecastInvalidYAML(t *testing.T) {
	handler, _ := newTestHandler(t)

	parts := testParts(t)
	parts[configField] = []byte("run: [")

	rr := performUpload(t, handler, "/api/forecast", parts, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if msg := decodeError(t, rr); !strings.Contains(msg, "error reading config") {
		t.Fatalf("expected parse error message, got %q", msg)
	}
}

func TestHandleForecastMalformedAmount(t *testing.T) {
	handler, _ := newTestHandler(t)

	parts := testParts(t)
	parts[constants.GLActualsFile] = []byte("Period,Account,Amount\n2025-01,5000,lots\n")

	rr := performUpload(t, handler, "/api/forecast", parts, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleForecastUnknownPool(t *testing.T) {
	handler, _ := newTestHandler(t)

	parts := testParts(t)
	parts[constants.ScenarioEventsFile] = []byte("Scenario,EffectivePeriod,DeltaPoolBonus\nWin,2025-04,100\n")

	rr := performUpload(t, handler, "/api/forecast", parts, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
	}
	if msg := decodeError(t, rr); !strings.Contains(msg, "Bonus") {
		t.Fatalf("expected unknown pool error naming Bonus, got %q", msg)
	}
}

func TestHandleValidate(t *testing.T) {
	handler, _ := newTestHandler(t)

	rr := performUpload(t, handler, "/api/validate", testParts(t), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp validateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if strings.Join(resp.Rates, ",") != "Fringe,Overhead,G&A" {
		t.Fatalf("expected configured rates, got %v", resp.Rates)
	}
	if len(resp.Scenarios) != 3 {
		t.Fatalf("expected three scenarios, got %v", resp.Scenarios)
	}
}

func TestHandleValidateCycle(t *testing.T) {
	handler, _ := newTestHandler(t)

	parts := testParts(t)
	parts[configField] = []byte(`
rates:
  - name: A
    pools: [Fringe]
    base: TCI
    cascadeOrder: 1
    includeRates: [B]
  - name: B
    pools: [Overhead]
    base: TCI
    cascadeOrder: 1
    includeRates: [A]
`)

	rr := performUpload(t, handler, "/api/validate", parts, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleVersion(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["version"] != "1.2.3" {
		t.Fatalf("expected version 1.2.3, got %q", resp["version"])
	}
}

func TestHealthz(t *testing.T) {
	handler := NewHandler(nil, Options{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestMetricsRecordRuns(t *testing.T) {
	handler, registry := newTestHandler(t)

	if rr := performUpload(t, handler, "/api/forecast", testParts(t), nil); rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				values[mf.GetName()] += c.GetValue()
			}
		}
	}
	if values["indirect_rates_forecast_runs_total"] != 1 {
		t.Fatalf("expected one recorded run, got %v", values["indirect_rates_forecast_runs_total"])
	}
	// Fringe is 0.22 in February against a 0.215 threshold in every scenario.
	if values["indirect_rates_threshold_breaches_total"] < 3 {
		t.Fatalf("expected threshold breaches to be counted, got %v", values["indirect_rates_threshold_breaches_total"])
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "indirect_rates_forecast_runs_total") {
		t.Fatal("expected forecast counter in metrics output")
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
