package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout  = 10 * time.Second
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 500 * time.Millisecond
)

// Config describes how to reach the upstream live-video control plane.
type Config struct {
	BaseURL       string
	Token         string
	HTTPClient    *http.Client
	Logger        *slog.Logger
	MaxAttempts   int
	RetryInterval time.Duration
}

// HTTPClient is an HTTP implementation of API, modeled on the teacher's
// httpChannelAdapter/httpTranscoderAdapter: a bearer-token-authenticated
// JSON REST client with shared retry semantics.
type HTTPClient struct {
	baseURL       string
	token         string
	client        *http.Client
	logger        *slog.Logger
	maxAttempts   int
	retryInterval time.Duration
}

// NewHTTPClient constructs an API implementation backed by HTTP.
func NewHTTPClient(cfg Config) *HTTPClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	interval := cfg.RetryInterval
	if interval == 0 {
		interval = defaultRetryBackoff
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPClient{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		token:         cfg.Token,
		client:        client,
		logger:        logger,
		maxAttempts:   attempts,
		retryInterval: interval,
	}
}

type createStageRequest struct {
	Name string            `json:"name"`
	Tags map[string]string `json:"tags,omitempty"`
}

type stageResponse struct {
	Arn             string            `json:"arn"`
	Name            string            `json:"name"`
	ActiveSessionID string            `json:"activeSessionId,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
}

func (c *HTTPClient) CreateStage(ctx context.Context, params CreateStageParams) (Stage, error) {
	var resp stageResponse
	err := c.postJSON(ctx, c.url("/stages"), createStageRequest{Name: params.Name, Tags: params.Tags}, &resp)
	if err != nil {
		return Stage{}, err
	}
	return stageFromResponse(resp), nil
}

func (c *HTTPClient) GetStage(ctx context.Context, arn string) (Stage, bool, error) {
	var resp stageResponse
	status, err := c.getJSON(ctx, c.url("/stages/"+arn), &resp)
	if status == http.StatusNotFound {
		return Stage{}, false, nil
	}
	if err != nil {
		return Stage{}, false, err
	}
	return stageFromResponse(resp), true, nil
}

func (c *HTTPClient) ListStages(ctx context.Context) ([]Stage, error) {
	var resp struct {
		Stages []stageResponse `json:"stages"`
	}
	if err := c.getJSONOrErr(ctx, c.url("/stages"), &resp); err != nil {
		return nil, err
	}
	out := make([]Stage, 0, len(resp.Stages))
	for _, s := range resp.Stages {
		out = append(out, stageFromResponse(s))
	}
	return out, nil
}

func (c *HTTPClient) DeleteStage(ctx context.Context, arn string) error {
	return c.deleteRequest(ctx, c.url("/stages/"+arn))
}

type createParticipantTokenRequest struct {
	StageArn     string            `json:"stageArn"`
	UserID       string            `json:"userId"`
	Capabilities []Capability      `json:"capabilities"`
	DurationSecs int64             `json:"durationSeconds"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

type participantTokenResponse struct {
	Token          string    `json:"token"`
	ParticipantID  string    `json:"participantId"`
	ExpirationTime time.Time `json:"expirationTime"`
}

func (c *HTTPClient) CreateParticipantToken(ctx context.Context, params CreateParticipantTokenParams) (ParticipantToken, error) {
	req := createParticipantTokenRequest{
		StageArn:     params.StageArn,
		UserID:       params.UserID,
		Capabilities: params.Capabilities,
		DurationSecs: int64(params.Duration / time.Second),
		Attributes:   params.Attributes,
	}
	var resp participantTokenResponse
	if err := c.postJSON(ctx, c.url("/participant-tokens"), req, &resp); err != nil {
		return ParticipantToken{}, err
	}
	return ParticipantToken{
		Token:          resp.Token,
		ParticipantID:  resp.ParticipantID,
		ExpirationTime: resp.ExpirationTime,
	}, nil
}

type startCompositionRequest struct {
	IdempotencyToken string `json:"idempotencyToken"`
	StageArn         string `json:"stageArn"`
}

type compositionResponse struct {
	ID       string `json:"id"`
	StageArn string `json:"stageArn"`
	State    string `json:"state"`
}

func (c *HTTPClient) StartComposition(ctx context.Context, idempotencyToken, stageArn string) (Composition, error) {
	var resp compositionResponse
	req := startCompositionRequest{IdempotencyToken: idempotencyToken, StageArn: stageArn}
	if err := c.postJSON(ctx, c.url("/compositions"), req, &resp); err != nil {
		return Composition{}, err
	}
	return Composition{ID: resp.ID, StageArn: resp.StageArn, State: resp.State}, nil
}

func (c *HTTPClient) StopComposition(ctx context.Context, compositionID string) error {
	return c.deleteRequest(ctx, c.url("/compositions/"+compositionID))
}

func (c *HTTPClient) ListCompositions(ctx context.Context, stageArn string) ([]Composition, error) {
	var resp struct {
		Compositions []compositionResponse `json:"compositions"`
	}
	if err := c.getJSONOrErr(ctx, c.url("/compositions?stageArn="+stageArn), &resp); err != nil {
		return nil, err
	}
	out := make([]Composition, 0, len(resp.Compositions))
	for _, comp := range resp.Compositions {
		out = append(out, Composition{ID: comp.ID, StageArn: comp.StageArn, State: comp.State})
	}
	return out, nil
}

func stageFromResponse(resp stageResponse) Stage {
	return Stage{Arn: resp.Arn, Name: resp.Name, ActiveSessionID: resp.ActiveSessionID, Tags: resp.Tags}
}

func (c *HTTPClient) url(path string) string {
	return c.baseURL + path
}

func (c *HTTPClient) postJSON(ctx context.Context, url string, payload, dest interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.doWithRetry(ctx, http.MethodPost, url, body, dest)
}

func (c *HTTPClient) getJSONOrErr(ctx context.Context, url string, dest interface{}) error {
	_, err := c.getJSON(ctx, url, dest)
	return err
}

func (c *HTTPClient) getJSON(ctx context.Context, url string, dest interface{}) (int, error) {
	return c.doWithRetryStatus(ctx, http.MethodGet, url, nil, dest)
}

func (c *HTTPClient) deleteRequest(ctx context.Context, url string) error {
	return c.doWithRetry(ctx, http.MethodDelete, url, nil, nil)
}

func (c *HTTPClient) doWithRetry(ctx context.Context, method, url string, payload []byte, dest interface{}) error {
	_, err := c.doWithRetryStatus(ctx, method, url, payload, dest)
	return err
}

// doWithRetryStatus executes an HTTP request with retry semantics ported
// from the teacher's ingest adapter layer: retries on network errors, 5xx,
// and 429; any other 4xx is permanent. It returns the last observed status
// code so callers (GetStage) can distinguish "not found" from an error.
func (c *HTTPClient) doWithRetryStatus(ctx context.Context, method, url string, payload []byte, dest interface{}) (int, error) {
	var lastErr error
	lastStatus := 0

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return 0, fmt.Errorf("build request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			lastStatus = 0
		} else {
			lastStatus, lastErr = c.handleResponse(resp, dest)
		}

		if lastErr == nil {
			return lastStatus, nil
		}
		if lastStatus == http.StatusNotFound {
			return lastStatus, nil
		}
		if !isRetryableStatus(lastStatus) && lastStatus != 0 {
			return lastStatus, lastErr
		}

		if attempt < c.maxAttempts {
			c.logger.Warn("upstream request failed", "method", method, "url", url, "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return lastStatus, ctx.Err()
			case <-time.After(c.retryInterval):
			}
			continue
		}
	}

	return lastStatus, lastErr
}

func (c *HTTPClient) handleResponse(resp *http.Response, dest interface{}) (int, error) {
	defer resp.Body.Close()
	status := resp.StatusCode

	if status >= 200 && status < 300 {
		if dest == nil {
			return status, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return status, fmt.Errorf("decode response: %w", err)
		}
		return status, nil
	}

	data, _ := io.ReadAll(resp.Body)
	detail := strings.TrimSpace(string(data))

	if status == http.StatusTooManyRequests {
		return status, &RateLimitedError{RetryAfter: resp.Header.Get("Retry-After")}
	}
	if status == http.StatusNotFound {
		return status, fmt.Errorf("not found: %s", detail)
	}
	if status >= 500 {
		return status, &TransientError{Status: status, Detail: detail}
	}
	return status, &PermanentError{Status: status, Detail: detail}
}

func isRetryableStatus(status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && status <= 599
}
