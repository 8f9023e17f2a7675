// Package remote scores rows on a model server speaking the TensorFlow Serving REST
// predict API: POST {"instances": [[...]]} and read {"predictions": [[...]]}.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	xhttp "BizHealth/pkg/http"
)

var (
	ErrNotFound = errors.New("remote: model not found")
	ErrResponse = errors.New("remote: malformed response")
)

type Options struct {
	// Attempts bounds tries per request for transient failures (network, 5xx).
	Attempts int
	// Backoff is the base delay; try i waits i*Backoff.
	Backoff time.Duration
}

// Engine is a model served over HTTP. It holds no model state, so Close is a no-op.
type Engine struct {
	url    string
	client *xhttp.Client
	opts   Options
}

type predictRequest struct {
	Instances [][]float64 `json:"instances"`
}

type predictResponse struct {
	Predictions [][]float64 `json:"predictions"`
}

// Open checks the model status resource and returns an engine for predictURL, e.g.
// http://serving:8501/v1/models/umkm:predict.
func Open(ctx context.Context, predictURL string, client *xhttp.Client, opts Options) (*Engine, error) {
	if client == nil {
		return nil, errors.New("remote: http client required")
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 50 * time.Millisecond
	}
	e := &Engine{url: predictURL, client: client, opts: opts}

	err := client.GetJSON(ctx, StatusURL(predictURL), nil)
	var se *xhttp.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, predictURL)
	}
	if err != nil {
		return nil, fmt.Errorf("remote status: %w", err)
	}
	return e, nil
}

// StatusURL strips the :predict verb, which on TF Serving yields the model status resource.
func StatusURL(predictURL string) string {
	return strings.TrimSuffix(predictURL, ":predict")
}

func (e *Engine) Predict(ctx context.Context, row []float64) ([]float64, error) {
	var resp predictResponse
	if err := e.postWithRetry(ctx, predictRequest{Instances: [][]float64{row}}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Predictions) != 1 || len(resp.Predictions[0]) == 0 {
		return nil, fmt.Errorf("%w: %d prediction rows", ErrResponse, len(resp.Predictions))
	}
	return resp.Predictions[0], nil
}

func (e *Engine) post(ctx context.Context, payload, dest interface{}) error {
	if err := e.client.PostJSON(ctx, e.url, payload, dest); err != nil {
		return fmt.Errorf("post %s: %w", e.url, err)
	}
	return nil
}

// postWithRetry retries transient failures only: a 4xx will fail the same way again.
func (e *Engine) postWithRetry(ctx context.Context, payload, dest interface{}) error {
	var err error
	for i := 1; i <= e.opts.Attempts; i++ {
		err = e.post(ctx, payload, dest)
		if err == nil || !transient(err) || i == e.opts.Attempts {
			return err
		}
		select {
		case <-time.After(time.Duration(i) * e.opts.Backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}

// InputWidth is unknown until the server rejects a row.
func (e *Engine) InputWidth() int { return 0 }

// OutputWidth is unknown; a label mismatch surfaces at decode.
func (e *Engine) OutputWidth() int { return 0 }

func (e *Engine) Close() error { return nil }
