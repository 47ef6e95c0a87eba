package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/wind-grid-service/internal/observability"
	"github.com/i474232898/wind-grid-service/internal/weather"
)

type fetchCall struct {
	model, format, datetime string
	bbox                    *[4]float64
}

type fakeService struct {
	calls []fetchCall
	err   error
}

func (f *fakeService) Fetch(_ context.Context, model, format, iso string, bbox *[4]float64) (string, []byte, error) {
	f.calls = append(f.calls, fetchCall{model, format, iso, bbox})
	if f.err != nil {
		return "", nil, f.err
	}
	return "application/json", []byte(`[{"data":[1]}]`), nil
}

func (f *fakeService) Models() []string { return []string{"ecmwf", "gfs", "hrrr"} }

func (f *fakeService) Formats() map[string]string {
	return map[string]string{"json": "application/json"}
}

func newTestApp(svc WindService, metrics *observability.Registry) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterRoutes(app, svc, metrics)
	return app
}

func get(t *testing.T, app *fiber.App, target string) (*http.Response, string) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestDataRouteWithoutProjwin(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(svc, nil)

	resp, body := get(t, app, "/hrrr/json/2024-03-05T19:00:00")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.StatusCode, body)
	}
	assert.Equal(t, "application/json", resp.Header.Get(fiber.HeaderContentType))
	assert.JSONEq(t, `[{"data":[1]}]`, body)

	require.Len(t, svc.calls, 1)
	assert.Equal(t, fetchCall{"hrrr", "json", "2024-03-05T19:00:00", nil}, svc.calls[0])
}

func TestDataRouteWithProjwin(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(svc, nil)

	resp, _ := get(t, app, "/gfs/json/2024-03-05T19:00:00/-100,45,-90.5,35/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, svc.calls, 1)
	assert.Equal(t, &[4]float64{-100, 45, -90.5, 35}, svc.calls[0].bbox)
}

func TestDataRouteInvalidProjwin(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(svc, nil)

	for _, projwin := range []string{"-100,45,-90", "a,b,c,d", "1,2,3,4,5"} {
		resp, body := get(t, app, "/gfs/json/2024-03-05T19:00:00/"+projwin)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, projwin)
		assert.Equal(t, MsgInvalidProjwin, body)
	}
	assert.Empty(t, svc.calls)
}

func TestDataRouteErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
		body string
	}{
		{&weather.Error{Kind: weather.ErrInvalidRequest, Model: "nam", Msg: weather.MsgModelNotSupported}, http.StatusBadRequest, weather.MsgModelNotSupported},
		{&weather.Error{Kind: weather.ErrTimeout, Model: "ecmwf", Stage: weather.StageRaw}, http.StatusGatewayTimeout, ""},
		{&weather.Error{Kind: weather.ErrAcquisition, Model: "gfs", Stage: weather.StageRaw, Err: errors.New("404")}, http.StatusBadGateway, ""},
		{&weather.Error{Kind: weather.ErrConversion, Model: "gfs", Stage: weather.StageConverted}, http.StatusBadGateway, ""},
	}
	for _, tc := range cases {
		app := newTestApp(&fakeService{err: tc.err}, nil)
		resp, body := get(t, app, "/nam/json/2024-03-05")
		assert.Equal(t, tc.code, resp.StatusCode, tc.err.Error())
		assert.Equal(t, fiber.MIMETextPlainCharsetUTF8, resp.Header.Get(fiber.HeaderContentType))
		if tc.body != "" {
			assert.Equal(t, tc.body, body)
		} else {
			assert.Equal(t, tc.err.Error(), body)
		}
	}
}

func TestModelsRoute(t *testing.T) {
	app := newTestApp(&fakeService{}, nil)

	resp, body := get(t, app, "/api/v1/models")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Models  []string          `json:"models"`
		Formats map[string]string `json:"formats"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Equal(t, []string{"ecmwf", "gfs", "hrrr"}, out.Models)
	assert.Equal(t, "application/json", out.Formats["json"])
}

func TestMetricsRoute(t *testing.T) {
	metrics := observability.NewRegistry()
	metrics.Inc(observability.CounterBuilds, map[string]string{"model": "gfs"})
	app := newTestApp(&fakeService{}, metrics)

	resp, body := get(t, app, "/api/v1/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Metrics []observability.MetricPoint `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	require.Len(t, out.Metrics, 1)
	assert.Equal(t, observability.CounterBuilds, out.Metrics[0].Name)
	assert.EqualValues(t, 1, out.Metrics[0].Value)
}

func TestUnknownRouteUsesJSONErrorHandler(t *testing.T) {
	app := newTestApp(&fakeService{}, nil)

	resp, body := get(t, app, "/only-one-segment")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, `"error":true`)
}
