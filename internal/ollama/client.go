// Package ollama talks to a local Ollama server: model discovery,
// prompt assembly for the two generation kinds, response sanitation
// and a health state machine that gates traffic while the service is
// down.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/clankbot/clank/internal/cache"
	"github.com/clankbot/clank/store"
)

// Sentinel errors for failure classification. ErrorKind maps them to
// metric suffixes.
var (
	ErrEmptyResponse = errors.New("empty response from model")
	ErrUnavailable   = errors.New("inference service unavailable")
	ErrTimeout       = errors.New("inference request timed out")
)

// ModelNotFoundError is returned by startup validation when the
// configured model is not present on the server.
type ModelNotFoundError struct {
	Model     string
	Available []string
}

func (e *ModelNotFoundError) Error() string {
	return "model '" + e.Model + "' is not available. Available models: " + strings.Join(e.Available, ", ")
}

// ErrorKind classifies a generation error for metric naming.
func ErrorKind(err error) string {
	var notFound *ModelNotFoundError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrEmptyResponse):
		return "empty"
	case errors.As(err, &notFound):
		return "model"
	default:
		return "other"
	}
}

const modelCacheTTL = 5 * time.Minute

// Client is an Ollama API client. All methods are safe for concurrent
// use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	health     *ServiceHealth

	// modelCache memoises ValidateModel lookups, negative results
	// included, so per-command validation does not hammer /api/tags.
	modelCache *cache.LRU[string, bool]
}

// New creates a client for the given base URL. timeout is the total
// per-request budget in seconds.
func New(baseURL string, timeout int, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: time.Duration(timeout) * time.Second},
		logger:     logger,
		health:     NewServiceHealth(defaultMaxFailures, defaultRecoveryTimeout),
		modelCache: cache.New[string, bool](256, modelCacheTTL),
	}
}

// Health exposes the service health tracker.
func (c *Client) Health() *ServiceHealth { return c.health }

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return errors.Wrapf(ErrTimeout, "%s %s", method, endpoint)
		}
		return errors.Wrapf(ErrUnavailable, "%s %s: %v", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("%s %s: status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(text)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", endpoint)
	}
	return nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	return errors.As(err, &t) && t.Timeout()
}

// ListModels returns the model names installed on the server.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var tags tagsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// IsAvailable probes the server with a cheap tags request.
func (c *Client) IsAvailable(ctx context.Context) bool {
	_, err := c.ListModels(ctx)
	return err == nil
}

// ValidateModel reports whether the model exists on the server.
// Results, hits and misses alike, are cached for a few minutes. A
// lookup failure returns an error so callers can distinguish "model
// missing" from "could not check".
func (c *Client) ValidateModel(ctx context.Context, model string) (bool, error) {
	if ok, hit := c.modelCache.Get(model); hit {
		return ok, nil
	}

	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	found := false
	for _, name := range models {
		if name == model {
			found = true
			break
		}
	}
	c.modelCache.Set(model, found, modelCacheTTL)
	return found, nil
}

// ValidateStartupModel verifies the default model exists, failing
// loudly with the list of installed models when it does not. Startup
// must not proceed on error.
func (c *Client) ValidateStartupModel(ctx context.Context, model string) error {
	models, err := c.ListModels(ctx)
	if err != nil {
		return errors.Wrapf(err, "validate startup model %q", model)
	}
	for _, name := range models {
		if name == model {
			return nil
		}
	}
	return &ModelNotFoundError{Model: model, Available: models}
}

// generate issues one completion request and returns the sanitized
// single-line reply.
func (c *Client) generate(ctx context.Context, model, systemPrompt, formattedContext string) (string, error) {
	if !c.health.IsAvailable() {
		return "", ErrUnavailable
	}

	req := generateRequest{
		Model:  model,
		Prompt: systemPrompt + "\n\n" + formattedContext,
		Stream: false,
		Options: generateOptions{
			Temperature: 0.8,
			TopP:        0.9,
			MaxTokens:   150,
		},
	}

	start := time.Now()
	var resp generateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/generate", req, &resp); err != nil {
		c.health.RecordFailure()
		c.logger.Error("generation request failed",
			"model", model,
			"duration_ms", time.Since(start).Milliseconds(),
			"err", err)
		return "", err
	}

	reply, err := sanitizeResponse(resp.Response)
	if err != nil {
		c.health.RecordFailure()
		c.logger.Warn("generation produced unusable output",
			"model", model,
			"duration_ms", time.Since(start).Milliseconds(),
			"err", err)
		return "", err
	}

	c.health.RecordSuccess()
	c.logger.Info("generated message",
		"model", model,
		"duration_ms", time.Since(start).Milliseconds(),
		"length", len(reply))
	return reply, nil
}

// GenerateSpontaneous produces an unprompted chat line from the recent
// transcript. Callers swallow errors and stay silent; the error is
// returned for metric classification only.
func (c *Client) GenerateSpontaneous(ctx context.Context, model string, messages []*store.Message) (string, error) {
	return c.generate(ctx, model, spontaneousPrompt, formatSpontaneousContext(messages))
}

// GenerateResponse produces a reply to a user that mentioned the bot.
func (c *Client) GenerateResponse(ctx context.Context, model string, messages []*store.Message, userInput, userName string) (string, error) {
	return c.generate(ctx, model, responsePrompt, formatResponseContext(messages, userInput, userName))
}
