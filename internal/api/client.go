package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"moviebox/internal/config"
	"moviebox/internal/metrics"
)

const maxBodySize = 16 << 20 // 16 MB

// Client issues requests against the backend and normalizes every response
// into an Envelope. The bearer token is the only mutable state.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*rawResponse]
	logger  zerolog.Logger

	mu    sync.RWMutex
	token string
}

type rawResponse struct {
	status int
	body   []byte
}

func NewClient(cfg config.APIConfig, logger zerolog.Logger) *Client {
	return NewClientWithHTTP(cfg, &http.Client{Timeout: cfg.Timeout}, logger)
}

// NewClientWithHTTP is NewClient with a caller-supplied transport.
func NewClientWithHTTP(cfg config.APIConfig, hc *http.Client, logger zerolog.Logger) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    hc,
		logger:  logger,
	}

	threshold := cfg.Breaker.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	c.breaker = gobreaker.NewCircuitBreaker[*rawResponse](gobreaker.Settings{
		Name:        "moviebox-api",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A caller giving up is not a backend failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.BreakerTransitions.WithLabelValues(to.String()).Inc()
		},
	})

	return c
}

// SetToken installs the bearer token; an empty token clears it.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Do sends body (JSON-encoded when non-nil) to path and returns the
// normalized envelope. The error is a *TransportError when no response was
// received, or a *ResponseError for a non-2xx reply that is not JSON.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Envelope, error) {
	token := c.Token()
	url := c.baseURL + path

	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	requestID := uuid.NewString()
	log := c.logger.With().
		Str("method", method).
		Str("path", path).
		Str("request_id", requestID).
		Logger()

	raw, err := c.breaker.Execute(func() (*rawResponse, error) {
		return c.roundTrip(ctx, method, url, token, requestID, reqBody)
	})
	if err != nil {
		var te *TransportError
		if !errors.As(err, &te) {
			// breaker rejections (open / half-open saturation)
			te = &TransportError{Method: method, URL: url, Err: err}
		}
		metrics.APIRequests.WithLabelValues("transport_error").Inc()
		log.Debug().Err(err).Msg("request failed before a response arrived")
		return nil, te
	}

	env, err := normalize(raw.status, raw.body)
	switch {
	case err != nil:
		metrics.APIRequests.WithLabelValues("malformed").Inc()
		log.Debug().Err(err).Int("status", raw.status).Msg("unparseable error response")
		return nil, err
	case !env.Success:
		metrics.APIRequests.WithLabelValues("server_error").Inc()
		log.Debug().
			Int("status", raw.status).
			Int("error_code", env.ErrorCode).
			Str("error", env.ErrorMessage).
			Msg("server rejected request")
	default:
		metrics.APIRequests.WithLabelValues("success").Inc()
		log.Debug().Int("status", raw.status).Str("payload", env.Kind.String()).Msg("request ok")
	}

	return env, nil
}

func (c *Client) roundTrip(ctx context.Context, method, url, token, requestID string, body []byte) (*rawResponse, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, &TransportError{Method: method, URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &TransportError{Method: method, URL: url, Err: fmt.Errorf("read body: %w", err)}
	}

	return &rawResponse{status: resp.StatusCode, body: data}, nil
}
