// Package mlclient calls the external diabetes prediction model over HTTP.
package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/diacheck/internal/common"
)

// Request is the feature vector understood by the model service.
type Request struct {
	Age           float64 `json:"Age"`
	BMI           float64 `json:"BMI"`
	Glucose       float64 `json:"Glucose"`
	Insulin       float64 `json:"Insulin"`
	BloodPressure float64 `json:"BloodPressure"`
}

// Response is the model's answer. Prediction is 0 or 1 and Probability is
// the probability of class 1.
type Response struct {
	Prediction  int     `json:"prediction"`
	Probability float64 `json:"probability"`
	Label       string  `json:"label"`
}

// Model service health states.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

const healthTimeout = 5 * time.Second

// Health is the result of a reachability check against the model service.
type Health struct {
	Status         string `json:"status"`
	URL            string `json:"url"`
	ResponseTimeMS int64  `json:"responseTimeMs"`
	Error          string `json:"error,omitempty"`
}

// Client posts to {baseURL}/predict/.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Predict returns the model's answer. Transport failures, timeouts, non-2xx
// statuses and undecodable bodies are all reported as
// common.ErrPredictionUnavailable wrapping the cause.
func (c *Client) Predict(ctx context.Context, in Request) (*Response, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrPredictionUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrPredictionUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", common.ErrPredictionUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", common.ErrPredictionUnavailable, err)
	}
	if out.Probability < 0 || out.Probability > 1 {
		return nil, fmt.Errorf("%w: probability %v out of range", common.ErrPredictionUnavailable, out.Probability)
	}
	return &out, nil
}

// Health requests {baseURL}/docs with a short timeout. Failures are reported
// in the result rather than as an error.
func (c *Client) Health(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	h := Health{Status: StatusUnhealthy, URL: c.baseURL}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/docs", nil)
	if err != nil {
		h.Error = err.Error()
		return h
	}

	resp, err := c.httpClient.Do(req)
	h.ResponseTimeMS = time.Since(start).Milliseconds()
	if err != nil {
		h.Error = err.Error()
		return h
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		h.Error = fmt.Sprintf("status %d", resp.StatusCode)
		return h
	}
	h.Status = StatusHealthy
	return h
}

// IsUnavailable reports whether err came from an unreachable or failing model.
func IsUnavailable(err error) bool {
	return errors.Is(err, common.ErrPredictionUnavailable)
}
