package gesture

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newHTTPEngine(baseURL string, timeout time.Duration) *httpEngine {
	return &httpEngine{
		baseURL: baseURL,
		timeout: timeout,
		client:  &http.Client{},
		log:     slog.Default(),
	}
}

func TestHTTPEngine_Recognize(t *testing.T) {
	req := require.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req.Equal(http.MethodPost, r.Method)
		req.Equal("/recognize", r.URL.Path)

		request := Request{}
		req.NoError(json.NewDecoder(r.Body).Decode(&request))
		req.Equal("thumbs_up", request.TargetGesture)

		json.NewEncoder(w).Encode(Result{PredictedGesture: "thumbs_up", Confidence: 0.92})
	}))
	defer server.Close()

	engine := newHTTPEngine(server.URL, time.Second)
	result, err := engine.Recognize(context.Background(), Request{
		GestureData:   json.RawMessage(`{"landmarks":[]}`),
		TargetGesture: "thumbs_up",
	})
	req.NoError(err)
	req.Equal("thumbs_up", result.PredictedGesture)
	req.InDelta(0.92, result.Confidence, 1e-9)
}

func TestHTTPEngine_Slow_Engine_Times_Out(t *testing.T) {
	req := require.New(t)

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	engine := newHTTPEngine(server.URL, 50*time.Millisecond)
	_, err := engine.Recognize(context.Background(), Request{GestureData: json.RawMessage(`{}`)})
	req.ErrorIs(err, ErrEngineUnavailable)
}

func TestHTTPEngine_Error_Status_Maps_To_Unavailable(t *testing.T) {
	req := require.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	engine := newHTTPEngine(server.URL, time.Second)
	_, err := engine.Recognize(context.Background(), Request{GestureData: json.RawMessage(`{}`)})
	req.ErrorIs(err, ErrEngineUnavailable)
}

func TestUnavailableEngine(t *testing.T) {
	req := require.New(t)

	_, err := unavailableEngine{}.Recognize(context.Background(), Request{})
	req.ErrorIs(err, ErrEngineUnavailable)
}
