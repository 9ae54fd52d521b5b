package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-globe-cache/internal/cache"
	"github.com/i474232898/weather-globe-cache/internal/grid"
	"github.com/i474232898/weather-globe-cache/internal/manifest"
)

type staticFetcher struct{}

func (staticFetcher) FetchBytes(ctx context.Context, location string) ([]byte, error) {
	return []byte{0x00, 0x00}, nil
}

type singleCellDecoder struct{}

func (singleCellDecoder) Decode(raw []byte) (grid.Field, error) {
	return grid.Field{Width: 1, Height: 1, Values: []float32{0}}, nil
}

func newTestApp(t *testing.T) (*fiber.App, *cache.Controller, []manifest.TimeStep) {
	t.Helper()

	app := fiber.New()
	controller := cache.NewController(
		cache.Config{WindowDays: 1, MaxConcurrentDownloads: 2},
		staticFetcher{},
		singleCellDecoder{},
	)
	RegisterRoutes(app, controller)

	builder := manifest.NewBuilder("https://cdn.example.com/data")
	from := time.Date(2025, 10, 28, 0, 0, 0, 0, time.UTC)
	steps := builder.Timeline(manifest.ParamTemp2m, from, from.Add(42*time.Hour))
	controller.RegisterLayer("temp2m", steps)

	return app, controller, steps
}

func TestListLayers(t *testing.T) {
	app, _, steps := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/layers", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var body struct {
		Layers []struct {
			Layer string      `json:"layer"`
			Stats cache.Stats `json:"stats"`
		} `json:"layers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Layers) != 1 || body.Layers[0].Layer != "temp2m" {
		t.Fatalf("unexpected layers: %+v", body.Layers)
	}
	if body.Layers[0].Stats.Total != len(steps) {
		t.Errorf("expected %d timesteps, got %d", len(steps), body.Layers[0].Stats.Total)
	}
}

func TestLayerStatusUnknownLayer(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/layers/pressure/status", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.StatusCode)
	}
}

func TestLayerStatusEmptyIndicesAreArrays(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/layers/temp2m/status", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var body struct {
		LoadedIndices  []int `json:"loadedIndices"`
		LoadingIndices []int `json:"loadingIndices"`
		FailedIndices  []int `json:"failedIndices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.LoadedIndices == nil || body.LoadingIndices == nil || body.FailedIndices == nil {
		t.Error("index lists should serialize as empty arrays, not null")
	}
}

func TestListTimesteps(t *testing.T) {
	app, _, steps := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/layers/temp2m/timesteps", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var body struct {
		Timesteps []manifest.TimeStep `json:"timesteps"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Timesteps) != len(steps) {
		t.Errorf("expected %d timesteps, got %d", len(steps), len(body.Timesteps))
	}
}

func TestPrioritizeValidation(t *testing.T) {
	app, _, _ := newTestApp(t)

	// Missing time parameter.
	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/layers/temp2m/prioritize", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}

	// Garbage time parameter.
	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/layers/temp2m/prioritize?time=yesterday", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}

func TestPrioritizeUnknownLayer(t *testing.T) {
	app, _, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/layers/pressure/prioritize?time=2025-10-28T06:00:00Z", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.StatusCode)
	}
}

func TestPrioritizeAcceptsRFC3339AndUnix(t *testing.T) {
	app, _, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/layers/temp2m/prioritize?time=2025-10-28T06:00:00Z", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/layers/temp2m/prioritize?time=1761631200", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
}

func TestDeleteLayer(t *testing.T) {
	app, controller, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/api/v1/layers/temp2m", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, resp.StatusCode)
	}
	if controller.Registered("temp2m") {
		t.Error("layer should be gone after delete")
	}

	// Deleting again is a 404.
	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/api/v1/layers/temp2m", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.StatusCode)
	}
}
