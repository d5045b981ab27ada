package providers

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
)

// OllamaProvider implements Provider against a local Ollama daemon using its
// native /api/chat endpoint (NDJSON streaming). It also serves embeddings
// via /api/embed. Local traffic is never redacted.
type OllamaProvider struct {
	baseURL      string
	defaultModel string
	embedModel   string
	client       *http.Client
	retryConfig  RetryConfig
}

func NewOllamaProvider(baseURL, defaultModel, embedModel string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		embedModel:   embedModel,
		client:       &http.Client{Timeout: 300 * time.Second},
		retryConfig:  RetryConfig{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: 5 * time.Second},
	}
}

func (p *OllamaProvider) Name() string         { return "ollama" }
func (p *OllamaProvider) DefaultModel() string { return p.defaultModel }

func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := p.buildRequestBody(req, false)

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		respBody, err := p.doRequest(ctx, "/api/chat", body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var or ollamaChatResponse
		if err := json.NewDecoder(respBody).Decode(&or); err != nil {
			return nil, fmt.Errorf("ollama: decode response: %w", err)
		}

		result := &ChatResponse{
			Content:      or.Message.Content,
			FinishReason: "stop",
			Model:        or.Model,
		}
		if or.PromptEvalCount > 0 || or.EvalCount > 0 {
			result.Usage = &Usage{
				PromptTokens:     or.PromptEvalCount,
				CompletionTokens: or.EvalCount,
				TotalTokens:      or.PromptEvalCount + or.EvalCount,
			}
		}
		return result, nil
	})
}

func (p *OllamaProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	body := p.buildRequestBody(req, true)

	respBody, err := RetryDo(ctx, p.retryConfig, func() (io.ReadCloser, error) {
		return p.doRequest(ctx, "/api/chat", body)
	})
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	result := &ChatResponse{FinishReason: "stop"}

	// Ollama streams one JSON object per line.
	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var or ollamaChatResponse
		if err := json.Unmarshal(scanner.Bytes(), &or); err != nil {
			continue
		}
		if or.Message.Content != "" {
			result.Content += or.Message.Content
			if onChunk != nil {
				onChunk(StreamChunk{Content: or.Message.Content})
			}
		}
		if or.Done {
			result.Model = or.Model
			if or.PromptEvalCount > 0 || or.EvalCount > 0 {
				result.Usage = &Usage{
					PromptTokens:     or.PromptEvalCount,
					CompletionTokens: or.EvalCount,
					TotalTokens:      or.PromptEvalCount + or.EvalCount,
				}
			}
			break
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}

	return result, nil
}

// Embed returns the embedding vector for text using the configured embed model.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body := map[string]interface{}{
		"model": p.embedModel,
		"input": text,
	}

	return RetryDo(ctx, p.retryConfig, func() ([]float32, error) {
		respBody, err := p.doRequest(ctx, "/api/embed", body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var er struct {
			Embeddings [][]float32 `json:"embeddings"`
		}
		if err := json.NewDecoder(respBody).Decode(&er); err != nil {
			return nil, fmt.Errorf("ollama: decode embedding: %w", err)
		}
		if len(er.Embeddings) == 0 {
			return nil, fmt.Errorf("ollama: empty embedding response")
		}
		return er.Embeddings[0], nil
	})
}

func (p *OllamaProvider) buildRequestBody(req ChatRequest, stream bool) *ollamaChatRequest {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body := &ollamaChatRequest{
		Model:  model,
		Stream: stream,
	}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		body.Options = &ollamaOptions{
			NumPredict:  req.MaxTokens,
			Temperature: req.Temperature,
		}
	}

	for _, m := range req.Messages {
		msg := ollamaMessage{Role: m.Role, Content: m.Content}
		for _, b := range m.Blocks {
			switch b.Type {
			case "text":
				msg.Content += b.Text
			case "image":
				msg.Images = append(msg.Images, b.Data)
			case "tool_result":
				msg.Content += b.ToolResult
			}
		}
		body.Messages = append(body.Messages, msg)
	}
	return body
}

func (p *OllamaProvider) doRequest(ctx context.Context, path string, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status: resp.StatusCode,
			Body:   fmt.Sprintf("ollama: %s", string(respBody)),
		}
	}

	return resp.Body, nil
}

// Wire types for the native Ollama API.

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}
