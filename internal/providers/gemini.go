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

const geminiAPIBase = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider implements Provider using the native Gemini generateContent API.
type GeminiProvider struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

func NewGeminiProvider(apiKey, baseURL, defaultModel string) *GeminiProvider {
	if baseURL == "" {
		baseURL = geminiAPIBase
	}
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	return &GeminiProvider{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
}

func (p *GeminiProvider) Name() string         { return "gemini" }
func (p *GeminiProvider) DefaultModel() string { return p.defaultModel }

func (p *GeminiProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model, body := p.buildRequestBody(req)

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, model, p.apiKey)
		respBody, err := p.doRequest(ctx, url, body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var gr geminiResponse
		if err := json.NewDecoder(respBody).Decode(&gr); err != nil {
			return nil, fmt.Errorf("gemini: decode response: %w", err)
		}
		return p.parseResponse(model, &gr), nil
	})
}

// ChatStream uses streamGenerateContent with alt=sse, which emits
// `data: <json>` lines in the same shape as the unary response.
func (p *GeminiProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	model, body := p.buildRequestBody(req)

	respBody, err := RetryDo(ctx, p.retryConfig, func() (io.ReadCloser, error) {
		url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", p.baseURL, model, p.apiKey)
		return p.doRequest(ctx, url, body)
	})
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	result := &ChatResponse{FinishReason: "stop", Model: model}

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var gr geminiResponse
		if err := json.Unmarshal([]byte(data), &gr); err != nil {
			continue
		}

		if len(gr.Candidates) > 0 {
			for _, part := range gr.Candidates[0].Content.Parts {
				if part.Text != "" {
					result.Content += part.Text
					if onChunk != nil {
						onChunk(StreamChunk{Content: part.Text})
					}
				}
			}
			if gr.Candidates[0].FinishReason == "MAX_TOKENS" {
				result.FinishReason = "length"
			}
		}
		if gr.UsageMetadata != nil {
			result.Usage = &Usage{
				PromptTokens:     gr.UsageMetadata.PromptTokenCount,
				CompletionTokens: gr.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      gr.UsageMetadata.TotalTokenCount,
			}
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

// buildRequestBody converts messages to contents[].parts[]. System messages
// become systemInstruction; the assistant role maps to "model".
func (p *GeminiProvider) buildRequestBody(req ChatRequest) (string, *geminiRequest) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body := &geminiRequest{}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		body.GenerationConfig = &geminiGenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		}
	}

	var system []geminiPart
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, geminiPart{Text: m.Content})
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		content := geminiContent{Role: role}
		if len(m.Blocks) > 0 {
			for _, b := range m.Blocks {
				switch b.Type {
				case "image":
					content.Parts = append(content.Parts, geminiPart{
						InlineData: &geminiInlineData{MimeType: b.MimeType, Data: b.Data},
					})
				case "tool_result":
					content.Parts = append(content.Parts, geminiPart{
						FunctionResponse: &geminiFunctionResponse{
							Name:     m.ToolCallID,
							Response: geminiFunctionResult{Result: b.ToolResult},
						},
					})
				default:
					content.Parts = append(content.Parts, geminiPart{Text: b.Text})
				}
			}
		} else {
			content.Parts = []geminiPart{{Text: m.Content}}
		}
		body.Contents = append(body.Contents, content)
	}
	if len(system) > 0 {
		body.SystemInstruction = &geminiContent{Parts: system}
	}

	if req.Redact != nil {
		body.walkText(req.Redact)
	}
	return model, body
}

func (p *GeminiProvider) doRequest(ctx context.Context, url string, body *geminiRequest) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("gemini: %s", string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return resp.Body, nil
}

func (p *GeminiProvider) parseResponse(model string, resp *geminiResponse) *ChatResponse {
	result := &ChatResponse{FinishReason: "stop", Model: model}
	if len(resp.Candidates) > 0 {
		for _, part := range resp.Candidates[0].Content.Parts {
			result.Content += part.Text
		}
		if resp.Candidates[0].FinishReason == "MAX_TOKENS" {
			result.FinishReason = "length"
		}
	}
	if resp.UsageMetadata != nil {
		result.Usage = &Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	return result
}

// Wire types for the generateContent API.

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	InlineData       *geminiInlineData       `json:"inlineData,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFunctionResponse struct {
	Name     string               `json:"name"`
	Response geminiFunctionResult `json:"response"`
}

type geminiFunctionResult struct {
	Result string `json:"result"`
}

// walkText applies fn to every text part, systemInstruction parts, and
// functionResponse result strings.
func (r *geminiRequest) walkText(fn func(string) string) {
	walkContent := func(c *geminiContent) {
		for i := range c.Parts {
			part := &c.Parts[i]
			if part.Text != "" {
				part.Text = fn(part.Text)
			}
			if part.FunctionResponse != nil && part.FunctionResponse.Response.Result != "" {
				part.FunctionResponse.Response.Result = fn(part.FunctionResponse.Response.Result)
			}
		}
	}
	for i := range r.Contents {
		walkContent(&r.Contents[i])
	}
	if r.SystemInstruction != nil {
		walkContent(r.SystemInstruction)
	}
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}
