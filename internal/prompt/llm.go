package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/storstekarn/VibeCheck/internal/logging"
	"github.com/storstekarn/VibeCheck/internal/model"
)

// HintClient generates one remediation hint per defect, in order.
type HintClient interface {
	GenerateHints(ctx context.Context, pageURL string, defects []model.Defect) ([]string, error)
}

// ErrBatchMismatch is returned when the model's answer does not line up with
// the batch it was asked about.
var ErrBatchMismatch = errors.New("hint count does not match defect batch")

const systemInstruction = `You are a web quality assistant. For each reported website defect you receive, write a plain-language remediation hint of 2-4 sentences. Keep hints stack-agnostic: describe what to fix and how to verify it, without assuming a specific framework or CMS. Respond with a JSON array of strings, one hint per defect, in the same order as the input. Respond with the array only.`

// OpenAIClient calls an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	logger   logging.Logger
}

// NewOpenAIClient builds a client for the given endpoint and key. A sensible
// default timeout is applied; hint generation is not latency-critical.
func NewOpenAIClient(endpoint, apiKey, modelName string, logger logging.Logger) *OpenAIClient {
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/chat/completions"
	}
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	return &OpenAIClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    modelName,
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// batchItem is the per-defect payload sent to the model.
type batchItem struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Details string `json:"details"`
	Page    string `json:"page"`
}

// GenerateHints sends one page's defect batch as a single chat turn and
// returns the hints in defect order.
func (c *OpenAIClient) GenerateHints(ctx context.Context, pageURL string, defects []model.Defect) ([]string, error) {
	items := make([]batchItem, len(defects))
	for i, d := range defects {
		items[i] = batchItem{
			Type:    string(d.Type),
			Title:   d.Title,
			Details: d.Details,
			Page:    d.Page,
		}
	}
	userContent, err := json.Marshal(map[string]any{
		"page":    pageURL,
		"defects": items,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding defect batch: %w", err)
	}

	reqBody, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: string(userContent)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("creating chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling hint endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading hint response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hint endpoint returned %d: %s", resp.StatusCode, clip(string(body), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding hint response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("hint response has no choices")
	}

	hints, err := extractStringArray(parsed.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	if len(hints) != len(defects) {
		return nil, fmt.Errorf("%w: got %d hints for %d defects", ErrBatchMismatch, len(hints), len(defects))
	}
	return hints, nil
}

// extractStringArray finds the first top-level JSON array in content and
// decodes it as strings. Models wrap answers in prose or code fences often
// enough that a plain Unmarshal is not good enough.
func extractStringArray(content string) ([]string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(content); i++ {
		ch := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '[':
			if start < 0 {
				start = i
			}
			depth++
		case ']':
			if start < 0 {
				continue
			}
			depth--
			if depth == 0 {
				var out []string
				if err := json.Unmarshal([]byte(content[start:i+1]), &out); err != nil {
					return nil, fmt.Errorf("parsing hint array: %w", err)
				}
				return out, nil
			}
		}
	}
	return nil, errors.New("no JSON array found in hint response")
}
