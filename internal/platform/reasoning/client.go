// Package reasoning is the client for the external reasoning collaborator, an
// OpenAI-compatible chat completions endpoint that turns history digests into
// narrative summaries and trend interpretations.
package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	ErrCollaboratorTimeout       = errors.New("reasoning collaborator timed out")
	ErrCollaboratorQuotaExceeded = errors.New("reasoning collaborator quota exceeded")
	ErrCollaboratorUnavailable   = errors.New("reasoning collaborator unavailable")

	// Both wrap ErrCollaboratorUnavailable but retrying cannot help.
	ErrMalformedResponse = fmt.Errorf("%w: malformed response", ErrCollaboratorUnavailable)
	ErrRequestRejected   = fmt.Errorf("%w: request rejected", ErrCollaboratorUnavailable)
)

// Retryable reports whether another attempt may succeed.
func Retryable(err error) bool {
	if errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrRequestRejected) {
		return false
	}
	return errors.Is(err, ErrCollaboratorTimeout) || errors.Is(err, ErrCollaboratorUnavailable)
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type Client struct {
	http  *resty.Client
	model string
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		c.SetAuthToken(cfg.APIKey)
	}
	return &Client{http: c, model: cfg.Model}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Summarize asks for a narrative summary, risk buckets, trends and focus
// points for the digest.
func (c *Client) Summarize(ctx context.Context, d Digest) (*Insight, error) {
	var out Insight
	if err := c.complete(ctx, summarySystemPrompt, d, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.NarrativeSummary) == "" {
		return nil, fmt.Errorf("%w: empty narrative", ErrMalformedResponse)
	}
	return &out, nil
}

func (c *Client) InterpretTrend(ctx context.Context, d TrendDigest) (*TrendInterpretation, error) {
	var out TrendInterpretation
	if err := c.complete(ctx, trendSystemPrompt, d, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Interpretation) == "" {
		return nil, fmt.Errorf("%w: empty interpretation", ErrMalformedResponse)
	}
	return &out, nil
}

// AnalyzeInteractions checks a medication list for interactions. Fewer than
// two medications yield an empty report without a request.
func (c *Client) AnalyzeInteractions(ctx context.Context, medications []string) (*InteractionReport, error) {
	out := InteractionReport{}
	if len(medications) >= 2 {
		if err := c.complete(ctx, interactionSystemPrompt, MedicationList{Medications: medications}, &out); err != nil {
			return nil, err
		}
	}
	if out.Interactions == nil {
		out.Interactions = []Interaction{}
	}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	return &out, nil
}

func (c *Client) complete(ctx context.Context, system string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var result chatResponse
	var apiErr errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model: c.model,
			Messages: []chatMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: string(body)},
			},
			Temperature:    0.2,
			ResponseFormat: responseFormat{Type: "json_object"},
		}).
		SetResult(&result).
		SetError(&apiErr).
		Post("/chat/completions")
	if err != nil {
		return classifyTransport(ctx, err)
	}
	if resp.IsError() {
		return classifyStatus(resp.StatusCode(), apiErr)
	}

	if len(result.Choices) == 0 {
		return fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	content := stripFences(result.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrCollaboratorTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrCollaboratorTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrCollaboratorUnavailable, err)
}

func classifyStatus(status int, apiErr errorResponse) error {
	msg := apiErr.Error.Message
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrCollaboratorQuotaExceeded, msg)
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return fmt.Errorf("%w: status %d", ErrCollaboratorTimeout, status)
	case status >= 500:
		return fmt.Errorf("%w: status %d %s", ErrCollaboratorUnavailable, status, msg)
	case isQuotaError(apiErr):
		return fmt.Errorf("%w: %s", ErrCollaboratorQuotaExceeded, msg)
	default:
		return fmt.Errorf("%w: status %d %s", ErrRequestRejected, status, msg)
	}
}

func isQuotaError(apiErr errorResponse) bool {
	s := strings.ToLower(apiErr.Error.Type + " " + fmt.Sprint(apiErr.Error.Code))
	return strings.Contains(s, "quota") || strings.Contains(s, "rate_limit")
}

// stripFences removes a Markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
