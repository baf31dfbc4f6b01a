package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hive-corporation/aegis/internal/core/ports"
	"github.com/hive-corporation/aegis/internal/metrics"
)

// ChatCompleter speaks the OpenAI-compatible chat completions API
// against whatever endpoint the route names.
type ChatCompleter struct {
	client *ResilientClient
	apiKey string
}

func NewChatCompleter(apiKey string, timeout time.Duration) *ChatCompleter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChatCompleter{
		client: NewResilientClient("llm-api", timeout, DefaultResilientClientConfig()),
		apiKey: apiKey,
	}
}

func (c *ChatCompleter) Complete(ctx context.Context, route *ports.ModelRoute, system, prompt string) (string, error) {
	timer := metrics.StartTimer("llm")
	defer timer.ObserveDuration()

	requestBody := map[string]any{
		"model": route.ModelID,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": prompt},
		},
		"temperature": 0.3,
		"max_tokens":  1500,
	}
	for k, v := range route.ModelParams {
		requestBody[k] = v
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, route.Endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.RecordLLM("error")
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		metrics.RecordLLM("error")
		return "", fmt.Errorf("LLM API error (status %d): %s", resp.StatusCode, string(body))
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		metrics.RecordLLM("error")
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(response.Choices) == 0 {
		metrics.RecordLLM("error")
		return "", fmt.Errorf("no choices in LLM response")
	}

	metrics.RecordLLM("success")
	return response.Choices[0].Message.Content, nil
}
