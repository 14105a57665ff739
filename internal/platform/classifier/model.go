package classifier

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
)

// Model is the pre-trained network, consumed only for inference.
type Model interface {
	// Predict returns one score per class for a single image.
	Predict(ctx context.Context, input Tensor) ([]float32, error)
	// Ready reports whether the model is loaded and serving.
	Ready(ctx context.Context) error
}

// HTTPOptions configures an HTTPModel.
type HTTPOptions struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPModel talks to a TensorFlow Serving compatible REST endpoint.
type HTTPModel struct {
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewHTTPModel validates opts and returns a client. It does not contact the
// server; call Ready for that.
func NewHTTPModel(opts HTTPOptions) (*HTTPModel, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("classifier base url required")
	}
	name := strings.TrimSpace(opts.Model)
	if name == "" {
		return nil, errors.New("classifier model name required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &HTTPModel{baseURL: baseURL, model: name, timeout: timeout, httpClient: hc}, nil
}

type predictRequest struct {
	Instances [][][][]float32 `json:"instances"`
}

type predictResponse struct {
	Predictions [][]float32 `json:"predictions"`
	Error       string      `json:"error,omitempty"`
}

type modelStatusResponse struct {
	ModelVersionStatus []struct {
		Version string `json:"version"`
		State   string `json:"state"`
	} `json:"model_version_status"`
}

// Predict posts a single instance to {base}/v1/models/{name}:predict.
func (m *HTTPModel) Predict(ctx context.Context, input Tensor) ([]float32, error) {
	body, err := json.Marshal(predictRequest{Instances: [][][][]float32{input.Nested()}})
	if err != nil {
		return nil, fmt.Errorf("encode predict request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1/models/%s:predict", m.baseURL, m.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read predict response: %w", err)
	}
	var out predictResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode predict response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("predict returned status %d: %s", resp.StatusCode, out.Error)
	}
	if len(out.Predictions) != 1 {
		return nil, fmt.Errorf("predict returned %d predictions, want 1", len(out.Predictions))
	}
	return out.Predictions[0], nil
}

// Ready checks that at least one model version is AVAILABLE.
func (m *HTTPModel) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1/models/%s", m.baseURL, m.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("model status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model status returned %d", resp.StatusCode)
	}
	var st modelStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("decode model status: %w", err)
	}
	for _, v := range st.ModelVersionStatus {
		if v.State == "AVAILABLE" {
			return nil
		}
	}
	return fmt.Errorf("model %s has no AVAILABLE version", m.model)
}
