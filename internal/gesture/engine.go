package gesture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/signbridge/signaling-server/pkg/variables"
	"go.uber.org/fx"
)

var ErrEngineUnavailable = errors.New("gesture engine unavailable")

type Request struct {
	GestureData   json.RawMessage `json:"gestureData"`
	TargetGesture string          `json:"targetGesture,omitempty"`
}

type Result struct {
	PredictedGesture string  `json:"predictedGesture"`
	Confidence       float64 `json:"confidence"`
}

// Engine is the external recognition collaborator. Every call is bounded;
// a slow engine must never block a room.
type Engine interface {
	Recognize(ctx context.Context, request Request) (*Result, error)
}

type httpEngine struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	log     *slog.Logger
}

func (e *httpEngine) Recognize(ctx context.Context, request Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/recognize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	response, err := e.client.Do(httpRequest)
	if err != nil {
		return nil, errors.Join(ErrEngineUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrEngineUnavailable, response.StatusCode)
	}

	result := &Result{}
	if err := json.NewDecoder(response.Body).Decode(result); err != nil {
		return nil, err
	}
	return result, nil
}

type unavailableEngine struct{}

func (unavailableEngine) Recognize(context.Context, Request) (*Result, error) {
	return nil, ErrEngineUnavailable
}

type NewEngineParams struct {
	fx.In

	Logger *slog.Logger
}

func NewEngine(params NewEngineParams) Engine {
	baseURL := variables.Env(variables.GESTURE_ENGINE_URL_NAME, variables.GESTURE_ENGINE_URL_DEFAULT)
	if baseURL == "" {
		params.Logger.Warn("GESTURE_ENGINE_URL not set, recognition requests will fail over to gesture:error")
		return unavailableEngine{}
	}

	timeout := variables.EnvDuration(variables.GESTURE_TIMEOUT_NAME, variables.GESTURE_TIMEOUT_DEFAULT)
	return &httpEngine{
		baseURL: baseURL,
		timeout: timeout,
		client:  &http.Client{},
		log:     params.Logger,
	}
}
