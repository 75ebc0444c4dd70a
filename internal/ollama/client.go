package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/devcolor-ask/internal/config"
)

const maxErrorBody = 1 << 20

var tracer = otel.Tracer("github.com/yungbote/devcolor-ask/internal/ollama")

const versionPath = "/api/version"

type Client struct {
	baseURL    string
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
}

func New(cfg config.OllamaConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("ollama: base_url required")
	}
	path := strings.TrimSpace(cfg.GeneratePath)
	if path == "" {
		path = config.DefaultGeneratePath
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		baseURL:    baseURL,
		endpoint:   baseURL + path,
		timeout:    cfg.Timeout.Duration,
		httpClient: &http.Client{Transport: tr},
	}, nil
}

// NewWithHTTPClient is intended for tests; it avoids network access by using a custom RoundTripper.
func NewWithHTTPClient(cfg config.OllamaConfig, httpClient *http.Client) (*Client, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		c.httpClient = httpClient
	}
	return c, nil
}

func (c *Client) Endpoint() string { return c.endpoint }

// Ping asks the server for its version. Any 2xx answer means it is up.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "ollama.ping")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+versionPath, nil)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("ping ollama: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return nil
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// Generate sends one non-streaming generation request and returns the
// "response" text.
func (c *Client) Generate(ctx context.Context, model string, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "ollama.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("ollama.model", model),
		attribute.Int("ollama.prompt_bytes", len(prompt)),
	)

	text, err := c.generate(ctx, model, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("ollama.response_bytes", len(text)))
	return text, nil
}

func (c *Client) generate(ctx context.Context, model string, prompt string) (string, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(generateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: false,
	}); err != nil {
		return "", fmt.Errorf("encode generate request: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read ollama response: %w", err)
	}
	return decodeResponse(raw)
}

func decodeResponse(raw []byte) (string, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", &ProtocolError{Reason: "body is not a JSON object", Err: err}
	}
	field, ok := body["response"]
	if !ok || bytes.Equal(bytes.TrimSpace(field), []byte("null")) {
		return "", &ProtocolError{Reason: `missing "response" field`}
	}
	var text string
	if err := json.Unmarshal(field, &text); err != nil {
		return "", &ProtocolError{Reason: `"response" is not a string`, Err: err}
	}
	return text, nil
}
