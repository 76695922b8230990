package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"deepresearch/internal/logging"
)

// OllamaBackend talks to a local Ollama server over its chat API.
type OllamaBackend struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaBackend creates a backend bound to one Ollama model.
func NewOllamaBackend(baseURL, model string, timeout time.Duration) *OllamaBackend {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &OllamaBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the backend identity, e.g. "ollama:llama3.2".
func (b *OllamaBackend) Name() string { return "ollama:" + b.model }

// Local reports true: Ollama never leaves the machine.
func (b *OllamaBackend) Local() bool { return true }

// Available probes the server's tag list with a short timeout.
func (b *OllamaBackend) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
	Error   string            `json:"error,omitempty"`
}

// Complete performs a non-streaming chat completion.
func (b *OllamaBackend) Complete(ctx context.Context, msgs []Message, opts Options) (string, error) {
	resp, err := b.send(ctx, msgs, opts, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode ollama response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama error: %s", out.Error)
	}
	return out.Message.Content, nil
}

// Stream performs a streaming chat completion, invoking fn per chunk.
func (b *OllamaBackend) Stream(ctx context.Context, msgs []Message, opts Options, fn ChunkFunc) error {
	resp, err := b.send(ctx, msgs, opts, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			logging.LLMWarn("skipping malformed ollama stream line: %v", err)
			continue
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollama error: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			if err := fn(chunk.Message.Content); err != nil {
				return err
			}
		}
		if chunk.Done {
			break
		}
	}
	return scanner.Err()
}

func (b *OllamaBackend) send(ctx context.Context, msgs []Message, opts Options, stream bool) (*http.Response, error) {
	req := ollamaChatRequest{
		Model:  b.model,
		Stream: stream,
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, ollamaChatMessage{Role: string(m.Role), Content: m.Content})
	}
	req.Options = map[string]any{"temperature": opts.Temperature}
	if opts.MaxTokens > 0 {
		req.Options["num_predict"] = opts.MaxTokens
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(raw))
	}
	return resp, nil
}
