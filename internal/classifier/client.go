// Package classifier talks to the model-serving sidecar over HTTP/JSON.
//
// Endpoints:
//
//	GET  /health
//	POST /load     {"model", "weights", "input_size"}
//	POST /predict  {"model", "shape": [1,h,w,c], "data": base64 little-endian float32}
//	               -> {"score": float}
package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/andresmejia3/dfprep/internal/score"
)

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient returns a client bound to one registered model.
func NewClient(baseURL, model string) *Client {
	return &Client{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second, // CPU inference on large inputs is slow
		},
	}
}

func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// WaitForReady polls /health until it succeeds, timeout elapses or ctx ends.
func (c *Client) WaitForReady(ctx context.Context, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := c.HealthCheck(ctx); err == nil {
			return nil
		}
		if time.Now().Add(interval).After(deadline) {
			return fmt.Errorf("classifier sidecar not ready after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Load asks the sidecar to load the model's weights.
func (c *Client) Load(ctx context.Context, weights string, inputSize int) error {
	_, err := c.post(ctx, "/load", map[string]any{
		"model":      c.model,
		"weights":    weights,
		"input_size": inputSize,
	}, nil)
	return err
}

func (c *Client) Predict(ctx context.Context, t score.Tensor) (float64, error) {
	var result struct {
		Score *float64 `json:"score"`
	}
	if _, err := c.post(ctx, "/predict", map[string]any{
		"model": c.model,
		"shape": []int{1, t.Height, t.Width, t.Channels},
		"data":  EncodeTensor(t.Data),
	}, &result); err != nil {
		return 0, err
	}
	if result.Score == nil {
		return 0, fmt.Errorf("predict response missing score")
	}
	return *result.Score, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s request: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, bytes.TrimSpace(respBody))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

// EncodeTensor packs float32 values little-endian and base64-encodes them.
func EncodeTensor(data []float32) string {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// CheckWeights verifies a weights file exists and is readable.
func CheckWeights(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("weights %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("weights %s is a directory", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("weights %s unreadable: %w", path, err)
	}
	return f.Close()
}
