package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/wind-grid-service/internal/weather"
)

const modelFile = `
models:
  - name: NAM
    cadence:
      every: 6h
    longitude: "-180-180"
    subset: download
    acquire:
      url: "https://example.org/nam.{{.Date}}/nam.t{{.Hour}}z.grib2{{if .HasBBox}}?left={{.BBox.ULX}}&right={{.BBox.LRX}}{{end}}"
  - name: icon
    cadence:
      every: 12h
      offset: 0s
    longitude: "0-360"
    reproject:
      lon: "0:3600:0.1"
      lat: "-90:1801:0.1"
      winds: earth
    acquire:
      command: ["/usr/local/bin/fetch-icon", "{{.Dest}}", "{{.Cycle.Format \"2006-01-02T15\"}}"]
`

func TestParseUserModels(t *testing.T) {
	adapters, err := ParseUserModels([]byte(modelFile), HTTPClientConfig{})
	require.NoError(t, err)
	require.Len(t, adapters, 2)

	nam, icon := adapters[0], adapters[1]
	assert.Equal(t, weather.Model("nam"), nam.Model())
	assert.Equal(t, weather.Lon180, nam.Convention())
	assert.Equal(t, weather.Lon360, icon.Convention())

	box := &weather.BBox{ULX: 260, ULY: 45, LRX: 270, LRY: 35}
	assert.Equal(t, []weather.StageSpec{
		{Stage: weather.StageRaw},
		{Stage: weather.StageConverted},
	}, nam.Stages(box))

	stages := icon.Stages(box)
	require.Len(t, stages, 4)
	assert.True(t, stages[0].Global)
	assert.Equal(t, weather.StageReprojected, stages[1].Stage)
	assert.Equal(t, "0:3600:0.1", stages[1].Grid.Lon)
	assert.Equal(t, weather.StageSubset, stages[2].Stage)
	assert.Len(t, icon.Stages(nil), 3)

	cycle, err := icon.ResolveCycle(time.Date(2024, 3, 5, 19, 27, 0, 0, time.UTC), time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC), cycle)
}

func TestParseUserModelsRejects(t *testing.T) {
	cases := map[string]string{
		"reserved name": `models: [{name: gfs, cadence: {every: 6h}, acquire: {url: "http://x"}}]`,
		"missing name":  `models: [{cadence: {every: 6h}, acquire: {url: "http://x"}}]`,
		"no cadence":    `models: [{name: a, acquire: {url: "http://x"}}]`,
		"bad offset":    `models: [{name: a, cadence: {every: 6h, offset: 6h}, acquire: {url: "http://x"}}]`,
		"both acquire":  `models: [{name: a, cadence: {every: 6h}, acquire: {url: "http://x", command: [wget]}}]`,
		"no acquire":    `models: [{name: a, cadence: {every: 6h}}]`,
		"bad longitude": `models: [{name: a, longitude: east, cadence: {every: 6h}, acquire: {url: "http://x"}}]`,
		"bad subset":    `models: [{name: a, subset: never, cadence: {every: 6h}, acquire: {url: "http://x"}}]`,
		"bad template":  `models: [{name: a, cadence: {every: 6h}, acquire: {url: "http://x/{{.Date"}}]`,
		"duplicate":     `models: [{name: a, cadence: {every: 6h}, acquire: {url: "http://x"}}, {name: A, cadence: {every: 6h}, acquire: {url: "http://y"}}]`,
		"half grid":     `models: [{name: a, cadence: {every: 6h}, reproject: {lon: "0:10:1"}, acquire: {url: "http://x"}}]`,
		"not yaml":      `models: {`,
		"path in name":  `models: [{name: mirror/gfs, cadence: {every: 6h}, acquire: {url: "http://x"}}]`,
		"dash in name":  `models: [{name: gfs-mirror, cadence: {every: 6h}, acquire: {url: "http://x"}}]`,
		"spaced name":   `models: [{name: "my model", cadence: {every: 6h}, acquire: {url: "http://x"}}]`,
		"seconds":       `models: [{name: a, cadence: {every: 90s}, acquire: {url: "http://x"}}]`,
		"over a day":    `models: [{name: a, cadence: {every: 48h}, acquire: {url: "http://x"}}]`,
	}
	for name, doc := range cases {
		_, err := ParseUserModels([]byte(doc), HTTPClientConfig{})
		assert.Error(t, err, name)
	}
}

func TestParseUserModelsSubHourly(t *testing.T) {
	adapters, err := ParseUserModels([]byte(`models: [{name: nowcast_eu, cadence: {every: 30m}, acquire: {url: "http://x"}}]`), HTTPClientConfig{})
	require.NoError(t, err)
	require.Len(t, adapters, 1)

	cycle, err := adapters[0].ResolveCycle(time.Date(2024, 3, 5, 19, 40, 0, 0, time.UTC), time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 19, 30, 0, 0, time.UTC), cycle)
}

func TestLoadUserModelsEmptyPath(t *testing.T) {
	adapters, err := LoadUserModels("", HTTPClientConfig{})
	require.NoError(t, err)
	assert.Empty(t, adapters)

	_, err = LoadUserModels(filepath.Join(t.TempDir(), "missing.yaml"), HTTPClientConfig{})
	assert.Error(t, err)
}

func TestUserDefinedURLAcquire(t *testing.T) {
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		_, _ = w.Write([]byte("GRIB nam"))
	}))
	defer srv.Close()

	def := ModelDefinition{
		Name:    "nam",
		Cadence: weather.Cadence{Every: 6 * time.Hour},
		Subset:  SubsetDownload,
		Acquire: AcquireDefinition{
			URL: srv.URL + "/nam.{{.Date}}/nam.t{{.Hour}}z.grib2{{if .HasBBox}}?left={{.BBox.ULX}}&right={{.BBox.LRX}}{{end}}",
		},
	}
	a, err := NewUserDefinedAdapter(def, NewHTTPClientConfig(srv.Client(), 0))
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "raw.grib2")
	err = a.Acquire(context.Background(), weather.AcquireRequest{
		Cycle: time.Date(2024, 3, 5, 6, 0, 0, 0, time.UTC),
		BBox:  &weather.BBox{ULX: -100, ULY: 45, LRX: -90, LRY: 35},
		Dest:  dest,
	})
	require.NoError(t, err)
	assert.Equal(t, "/nam.20240305/nam.t06z.grib2?left=-100&right=-90", gotURL)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "GRIB nam", string(got))
}

func TestUserDefinedCommandAcquire(t *testing.T) {
	script := filepath.Join(t.TempDir(), "fetch.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"GRIB $2\" > \"$1\"\n"), 0o755))

	def := ModelDefinition{
		Name:    "icon",
		Cadence: weather.Cadence{Every: 12 * time.Hour},
		Acquire: AcquireDefinition{Command: []string{script, "{{.Dest}}", "{{.Cycle.Format \"2006-01-02T15\"}}"}},
	}
	a, err := NewUserDefinedAdapter(def, HTTPClientConfig{})
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "raw.grib2")
	err = a.Acquire(context.Background(), weather.AcquireRequest{
		Cycle: time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC),
		Dest:  dest,
	})
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "GRIB 2024-03-05T12\n", string(got))
}
