package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/wind-grid-service/internal/weather"
)

// DefaultECMWFAPIURL is the ECMWF public Web API.
const DefaultECMWFAPIURL = "https://api.ecmwf.int/v1"

const defaultECMWFPollInterval = 5 * time.Second

var errECMWFRequestFailed = errors.New("ecmwf request failed")

// ECMWFConfig holds the Web API credentials.
type ECMWFConfig struct {
	BaseURL      string
	Key          string
	Email        string
	PollInterval time.Duration
}

// ECMWFAdapter retrieves the 00Z control forecast 10 m winds on a 0.1 degree
// grid from the S2S dataset through the asynchronous Web API.
type ECMWFAdapter struct {
	cfg     ECMWFConfig
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewECMWFAdapter(httpCfg HTTPClientConfig, cfg ECMWFConfig) *ECMWFAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultECMWFAPIURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultECMWFPollInterval
	}
	return &ECMWFAdapter{
		cfg:     cfg,
		httpCfg: httpCfg,
		circuit: newCircuitBreaker("ecmwf"),
	}
}

var _ weather.Adapter = (*ECMWFAdapter)(nil)

func (a *ECMWFAdapter) Model() weather.Model { return weather.ModelECMWF }

// ResolveCycle always lands on 00Z; later runs are not published in S2S.
func (a *ECMWFAdapter) ResolveCycle(requested, now time.Time) (time.Time, error) {
	return weather.DailyCadence.Resolve(requested, now)
}

func (a *ECMWFAdapter) Convention() weather.LonConvention { return weather.Lon360 }

func (a *ECMWFAdapter) Stages(box *weather.BBox) []weather.StageSpec {
	stages := []weather.StageSpec{{Stage: weather.StageRaw, Global: true}}
	if box != nil {
		stages = append(stages, weather.StageSpec{Stage: weather.StageSubset})
	}
	return append(stages, weather.StageSpec{Stage: weather.StageConverted})
}

// ecmwfRequest is the MARS-style retrieval body.
type ecmwfRequest struct {
	Class   string `json:"class"`
	Dataset string `json:"dataset"`
	Date    string `json:"date"`
	Expver  string `json:"expver"`
	Levtype string `json:"levtype"`
	Model   string `json:"model"`
	Origin  string `json:"origin"`
	Param   string `json:"param"`
	Step    string `json:"step"`
	Stream  string `json:"stream"`
	Time    string `json:"time"`
	Type    string `json:"type"`
	Grid    string `json:"grid"`
	Target  string `json:"target"`
}

// ecmwfStatus is returned by the submit and poll endpoints.
type ecmwfStatus struct {
	Status   string `json:"status"`
	Href     string `json:"href"`
	Location string `json:"location"`
	Reason   string `json:"reason"`
}

func newECMWFRequest(cycle time.Time) ecmwfRequest {
	date := cycle.UTC().Format("2006-01-02")
	return ecmwfRequest{
		Class:   "s2",
		Dataset: "s2s",
		Date:    date + "/to/" + date,
		Expver:  "prod",
		Levtype: "sfc",
		Model:   "glob",
		Origin:  "ecmf",
		Param:   "165/166",
		Step:    "0",
		Stream:  "enfo",
		Time:    "00:00:00",
		Type:    "cf",
		Grid:    "0.1/0.1",
		Target:  "output",
	}
}

func (a *ECMWFAdapter) Acquire(ctx context.Context, req weather.AcquireRequest) error {
	status, statusURL, err := a.submit(ctx, newECMWFRequest(req.Cycle))
	if err != nil {
		return err
	}
	defer a.cleanup(statusURL)

	for status.Status != "complete" {
		switch status.Status {
		case "aborted", "rejected":
			return fmt.Errorf("%w: %s: %s", errECMWFRequestFailed, status.Status, status.Reason)
		}
		timer := time.NewTimer(a.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if status, err = a.poll(ctx, statusURL); err != nil {
			return err
		}
	}

	if status.Location == "" {
		return fmt.Errorf("%w: complete without a result location", errECMWFRequestFailed)
	}
	log.Printf("DEBUG: ecmwf result ready for %s", req.Cycle.Format(time.RFC3339))
	return downloadFile(ctx, a.httpCfg, a.circuit, status.Location, req.Dest)
}

func (a *ECMWFAdapter) header() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("X-ECMWF-KEY", a.cfg.Key)
	if a.cfg.Email != "" {
		h.Set("From", a.cfg.Email)
	}
	return h
}

func (a *ECMWFAdapter) submit(ctx context.Context, body ecmwfRequest) (ecmwfStatus, string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return ecmwfStatus{}, "", err
	}
	submitURL := a.cfg.BaseURL + "/datasets/" + body.Dataset + "/requests"

	resp, err := doRequestWithResilience(ctx, a.httpCfg, a.circuit, func() (*http.Request, error) {
		r, err := http.NewRequest(http.MethodPost, submitURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header = a.header()
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	})
	if err != nil {
		return ecmwfStatus{}, "", fmt.Errorf("submitting ecmwf request: %w", err)
	}
	defer resp.Body.Close()

	var status ecmwfStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return ecmwfStatus{}, "", fmt.Errorf("decoding ecmwf submit response: %w", err)
	}
	statusURL := resp.Header.Get("Location")
	if statusURL == "" {
		statusURL = status.Href
	}
	if statusURL == "" {
		return ecmwfStatus{}, "", fmt.Errorf("%w: no status location returned", errECMWFRequestFailed)
	}
	return status, statusURL, nil
}

func (a *ECMWFAdapter) poll(ctx context.Context, statusURL string) (ecmwfStatus, error) {
	resp, err := doRequestWithResilience(ctx, a.httpCfg, a.circuit, getRequest(statusURL, a.header()))
	if err != nil {
		return ecmwfStatus{}, fmt.Errorf("polling ecmwf request: %w", err)
	}
	defer resp.Body.Close()

	var status ecmwfStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return ecmwfStatus{}, fmt.Errorf("decoding ecmwf status: %w", err)
	}
	return status, nil
}

// cleanup deletes the server-side request; failures are only logged.
func (a *ECMWFAdapter) cleanup(statusURL string) {
	if a.httpCfg.Client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r, err := http.NewRequestWithContext(ctx, http.MethodDelete, statusURL, nil)
	if err != nil {
		return
	}
	r.Header = a.header()
	resp, err := a.httpCfg.Client.Do(r)
	if err != nil {
		log.Printf("DEBUG: ecmwf cleanup of %s failed: %v", statusURL, err)
		return
	}
	resp.Body.Close()
}
