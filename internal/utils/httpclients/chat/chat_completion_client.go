package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"sidechat/internal/utils/platformerrors"

	"github.com/sashabaranov/go-openai"
	"resty.dev/v3"
)

const (
	dataPrefix           = "data: "
	scannerInitialBuffer = 12 * 1024        // 12KB
	scannerMaxBuffer     = 10 * 1024 * 1024 // 10MB
)

type StreamOption func(*resty.Request)

func WithHeader(key, value string) StreamOption {
	return func(r *resty.Request) {
		if strings.TrimSpace(key) == "" {
			return
		}
		r.SetHeader(key, value)
	}
}

func WithAcceptEncodingIdentity() StreamOption {
	return WithHeader("Accept-Encoding", "identity")
}

// ChatCompletionClient streams chat completions from an OpenAI-compatible
// endpoint. It only handles the byte-level SSE framing; payload decoding is
// the caller's concern.
type ChatCompletionClient struct {
	client  *resty.Client
	baseURL string
	name    string
}

func NewChatCompletionClient(client *resty.Client, name, baseURL string) *ChatCompletionClient {
	return &ChatCompletionClient{
		client:  client,
		baseURL: normalizeBaseURL(baseURL),
		name:    name,
	}
}

// StreamChatCompletion posts the request and feeds each SSE data payload
// (prefix stripped) to onPayload in arrival order. Scanning stops when
// onPayload returns false, the body ends, or ctx is cancelled.
func (c *ChatCompletionClient) StreamChatCompletion(ctx context.Context, apiKey string, request openai.ChatCompletionRequest, onPayload func(payload string) bool, opts ...StreamOption) error {
	request.Stream = true

	resp, err := c.doStreamingRequest(ctx, apiKey, request, opts...)
	if err != nil {
		return err
	}
	defer resp.RawResponse.Body.Close()

	scanner := bufio.NewScanner(resp.RawResponse.Body)
	scanner.Buffer(make([]byte, 0, scannerInitialBuffer), scannerMaxBuffer)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		data, found := strings.CutPrefix(line, dataPrefix)
		if !found {
			continue
		}
		if !onPayload(data) {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return platformerrors.AsError(ctx, platformerrors.LayerInfrastructure, err, "stream read failed")
	}
	return nil
}

func (c *ChatCompletionClient) prepareRequest(ctx context.Context, apiKey string) *resty.Request {
	req := c.client.R().SetContext(ctx)
	req.SetHeader("Content-Type", "application/json")
	if strings.TrimSpace(apiKey) != "" {
		req.SetHeader("Authorization", fmt.Sprintf("Bearer %s", apiKey))
	}
	return req
}

func (c *ChatCompletionClient) endpoint(path string) string {
	if c.baseURL == "" {
		return path
	}
	if strings.HasPrefix(path, "/") {
		return c.baseURL + path
	}
	return c.baseURL + "/" + path
}

func (c *ChatCompletionClient) doStreamingRequest(ctx context.Context, apiKey string, request openai.ChatCompletionRequest, opts ...StreamOption) (*resty.Response, error) {
	req := c.prepareRequest(ctx, apiKey).
		SetBody(request).
		SetDoNotParseResponse(true)

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(req)
	}

	if req.Header.Get("Accept-Encoding") == "" {
		req.SetHeader("Accept-Encoding", "identity")
	}

	resp, err := req.Post(c.endpoint("/chat/completions"))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, c.errorFromResponse(ctx, resp, "streaming request failed")
	}
	if resp.RawResponse == nil || resp.RawResponse.Body == nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, "streaming request failed: empty response body", nil, "f1c2a9d4-6b0e-4a7d-9c3f-2e8b51d7a604")
	}

	return resp, nil
}

func (c *ChatCompletionClient) errorFromResponse(ctx context.Context, resp *resty.Response, message string) error {
	if resp == nil || resp.RawResponse == nil || resp.RawResponse.Body == nil {
		return platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, message, nil, "0d4f8c21-93ab-4f06-8f51-7be62c9d1e37")
	}
	defer resp.RawResponse.Body.Close()
	body, err := io.ReadAll(resp.RawResponse.Body)
	if err != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, message, nil, "a27e5b90-14dc-48f3-b6ce-d05891f4ab12")
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, message, nil, "6c31f0ae-82d7-4b95-a1f8-39e47d06c258")
	}
	return platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal, fmt.Sprintf("%s: %s", message, trimmed), nil, "58b9d7f3-4ea1-40c6-92d0-cf7a8136e45b")
}

// BaseURL returns the normalized base URL the client posts to.
func (c *ChatCompletionClient) BaseURL() string {
	return c.baseURL
}

func normalizeBaseURL(base string) string {
	trimmed := strings.TrimSpace(base)
	return strings.TrimRight(trimmed, "/")
}
