// internal/ai/client.go
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/forensiq/forensiq/internal/search"
)

const summarizePrompt = `You are a cybersecurity expert analyzing system logs. Provide a structured summary of the following logs focusing on:

1. Security Events: potential incidents, failed logins, unauthorized access attempts
2. System Activities: key operations, service starts/stops, configuration changes
3. Network Activities: connections, data transfers, unusual traffic patterns
4. Error Patterns: recurring errors, system failures, anomalies
5. Timeline: key events in chronological order
6. Potential Threats: indicators of compromise or suspicious activities

Format your response as a clear, structured analysis usable for threat detection.`

const enhancePrompt = `You are a senior cybersecurity analyst conducting an enhanced threat assessment. Based on the log summary and matching MITRE ATT&CK techniques below, provide:

1. Threat Classification: threat level (Low/Medium/High/Critical)
2. Attack Vector Analysis: how the attack likely occurred and progressed
3. MITRE ATT&CK Mapping: how observed activity maps to the techniques
4. Potential Impact: what damage could occur if unaddressed
5. Recommended Actions: immediate containment and remediation steps
6. Indicators of Compromise: specific IOCs to monitor for`

// ErrAIUnavailable indicates all AI endpoints are down
var ErrAIUnavailable = errors.New("all AI endpoints unavailable")

// ErrEmptyResponse indicates the model returned no usable text
var ErrEmptyResponse = errors.New("empty response from AI service")

// Endpoint represents a single OpenAI-compatible provider
type Endpoint struct {
	URL            string
	Model          string
	EmbeddingModel string
	APIKey         string
}

// Client calls OpenAI-compatible inference APIs with fallback support.
// One client serves summarization, enhancement, and embeddings.
type Client struct {
	endpoints []Endpoint
	client    *http.Client
	maxTokens int
}

// NewClient creates a client with a fallback chain of endpoints
func NewClient(endpoints []Endpoint) *Client {
	return &Client{
		endpoints: endpoints,
		maxTokens: 2048,
		client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
			},
		},
	}
}

// Summarize generates a structured summary of raw log text. The caller
// is responsible for truncating oversized input first.
func (c *Client) Summarize(ctx context.Context, logs string) (string, error) {
	user := "SYSTEM LOGS:\n" + logs + "\n\nSUMMARY:"
	return c.complete(ctx, summarizePrompt, user)
}

// Enhance produces an enhanced threat analysis from a summary and the
// matched techniques.
func (c *Client) Enhance(ctx context.Context, summary string, matches []search.Match) (string, error) {
	var b strings.Builder
	for _, m := range matches {
		desc := m.Description
		if len(desc) > 200 {
			desc = desc[:200] + "..."
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", m.Name, m.TechniqueID, desc)
	}
	user := "LOG SUMMARY:\n" + summary + "\n\nMATCHING ATT&CK TECHNIQUES:\n" + b.String() + "\nENHANCED THREAT ANALYSIS:"
	return c.complete(ctx, enhancePrompt, user)
}

// complete tries each endpoint in order; returns ErrAIUnavailable only
// if ALL fail with availability errors.
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	if len(c.endpoints) == 0 {
		return "", errors.New("no AI endpoints configured")
	}

	var lastErr error
	for i, ep := range c.endpoints {
		text, err := c.tryComplete(ctx, ep, system, user)
		if err == nil {
			if i > 0 {
				log.Printf("AI fallback: endpoint %d (%s) succeeded after %d failures", i+1, ep.Model, i)
			}
			return text, nil
		}

		lastErr = err
		if isUnavailableErr(err) {
			log.Printf("AI endpoint %d (%s) unavailable: %v, trying next...", i+1, ep.Model, err)
			continue
		}

		// Non-availability error (e.g., parse error) - don't try fallback
		return "", err
	}

	return "", fmt.Errorf("%w: %v", ErrAIUnavailable, lastErr)
}

func (c *Client) tryComplete(ctx context.Context, ep Endpoint, system, user string) (string, error) {
	reqBody := map[string]interface{}{
		"model": ep.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"max_tokens": c.maxTokens,
	}

	body, err := c.post(ctx, ep, "/chat/completions", reqBody)
	if err != nil {
		return "", err
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse AI response: %w", err)
	}

	if len(apiResp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(apiResp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Embed returns the embedding vector for one text. Tries each endpoint
// in order like complete.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if len(c.endpoints) == 0 {
		return nil, errors.New("no AI endpoints configured")
	}

	var lastErr error
	for _, ep := range c.endpoints {
		if ep.EmbeddingModel == "" {
			continue
		}
		vec, err := c.tryEmbed(ctx, ep, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if isUnavailableErr(err) {
			continue
		}
		return nil, err
	}

	if lastErr == nil {
		return nil, errors.New("no embedding model configured")
	}
	return nil, fmt.Errorf("%w: %v", ErrAIUnavailable, lastErr)
}

func (c *Client) tryEmbed(ctx context.Context, ep Endpoint, text string) ([]float64, error) {
	reqBody := map[string]interface{}{
		"model": ep.EmbeddingModel,
		"input": text,
	}

	body, err := c.post(ctx, ep, "/embeddings", reqBody)
	if err != nil {
		return nil, err
	}

	var apiResp struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse embedding response: %w", err)
	}
	if len(apiResp.Data) == 0 || len(apiResp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyResponse
	}
	return apiResp.Data[0].Embedding, nil
}

func (c *Client) post(ctx context.Context, ep Endpoint, path string, reqBody interface{}) ([]byte, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := strings.TrimSuffix(ep.URL, "/") + path
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ep.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		// Connection errors are "unavailable"
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("connection failed: %w", err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	// Service unavailable / bad gateway / gateway timeout - try next endpoint
	if resp.StatusCode == http.StatusBadGateway ||
		resp.StatusCode == http.StatusServiceUnavailable ||
		resp.StatusCode == http.StatusGatewayTimeout {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}

// isUnavailableErr checks if an error indicates a transient availability issue
func isUnavailableErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "connection") ||
		strings.Contains(s, "HTTP 502") ||
		strings.Contains(s, "HTTP 503") ||
		strings.Contains(s, "HTTP 504")
}

// IsUnavailable checks if the error indicates all AI endpoints are down
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrAIUnavailable)
}
