package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client talks to the OpenAI chat completions and speech endpoints.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	logger      *log.Logger
}

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// request represents a request to the OpenAI API
type request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// response represents a response from the OpenAI API
type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// NewOpenAIClient creates a new OpenAI client. A nil logger disables debug output.
func NewOpenAIClient(apiKey, baseURL, model string, temperature float64, maxTokens int, timeout time.Duration, logger *log.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

// Generate runs one chat completion with an optional system prompt.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	var messages []Message
	if strings.TrimSpace(system) != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, Message{Role: "user", Content: prompt})
	return c.sendRequest(ctx, messages)
}

// Speak converts text to mp3 audio using the speech endpoint.
func (c *Client) Speak(ctx context.Context, model, voice, text string) ([]byte, error) {
	body, err := json.Marshal(speechRequest{Model: model, Input: text, Voice: voice, ResponseFormat: "mp3"})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal speech request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("speech API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("speech API returned empty audio")
	}
	return audio, nil
}

// sendRequest sends a request to the OpenAI API
func (c *Client) sendRequest(ctx context.Context, messages []Message) (string, error) {
	requestBody := request{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	c.debugf("sending chat request model=%s temperature=%.2f max_tokens=%d messages=%d", c.model, c.temperature, c.maxTokens, len(messages))

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	c.debugf("received response: %s (%d bytes)", resp.Status, buf.Len())

	var openaiResp response
	if err := json.Unmarshal(buf.Bytes(), &openaiResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("API returned status: %d", resp.StatusCode)
		}
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if openaiResp.Error != nil && openaiResp.Error.Message != "" {
			return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, openaiResp.Error.Message)
		}
		return "", fmt.Errorf("API returned status: %d", resp.StatusCode)
	}
	if len(openaiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return openaiResp.Choices[0].Message.Content, nil
}

func (c *Client) debugf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
