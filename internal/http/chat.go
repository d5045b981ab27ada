package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/perceptualart/torbobase-sub002/internal/agents"
	"github.com/perceptualart/torbobase-sub002/internal/budget"
	"github.com/perceptualart/torbobase-sub002/internal/bus"
	"github.com/perceptualart/torbobase-sub002/internal/memory"
	"github.com/perceptualart/torbobase-sub002/internal/privacy"
	"github.com/perceptualart/torbobase-sub002/internal/prompt"
	"github.com/perceptualart/torbobase-sub002/internal/providers"
	"github.com/perceptualart/torbobase-sub002/internal/telemetry"
	"github.com/perceptualart/torbobase-sub002/pkg/protocol"
)

// modelPlaceholder in the request body means "use the configured default",
// for clients that require a non-empty model field.
const modelPlaceholder = "_default"

// ToolGate reports the access level a named tool requires. Unknown tools
// are level 0 (always allowed).
type ToolGate interface {
	RequiredLevel(name string) int
}

// ChatDeps wires the chat completions handler.
type ChatDeps struct {
	Agents       *agents.Registry
	Providers    *providers.Registry
	Ledger       *budget.Ledger
	Assembler    *prompt.Assembler
	Pool         *memory.Pool // nil disables extraction
	Bus          bus.EventPublisher
	ToolGate     ToolGate // nil allows all tools
	Token        string
	DefaultModel string
	GlobalAccess int
	PrivacyLevel privacy.Level
}

// ChatCompletionsHandler serves the OpenAI-compatible chat endpoint. It
// resolves the agent, checks budgets, assembles the system prompt, redacts
// outbound traffic for remote providers, and accounts usage.
type ChatCompletionsHandler struct {
	deps      ChatDeps
	estimator *prompt.Estimator

	mu       sync.Mutex
	sessions map[string]*privacy.Session
}

func NewChatCompletionsHandler(deps ChatDeps) *ChatCompletionsHandler {
	return &ChatCompletionsHandler{
		deps:      deps,
		estimator: prompt.NewEstimator(),
		sessions:  make(map[string]*privacy.Session),
	}
}

// RegisterRoutes registers the chat and session routes on the given mux.
func (h *ChatCompletionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/chat/completions", requireAuth(h.deps.Token, h.handleChat))
	mux.HandleFunc("DELETE /v1/sessions/{id}", requireAuth(h.deps.Token, h.handleClearSession))
}

// session returns the redaction session for an id, creating it on first use.
// The empty id maps to a shared default session.
func (h *ChatCompletionsHandler) session(id string) *privacy.Session {
	if id == "" {
		id = "default"
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[id]; ok {
		return s
	}
	s := privacy.NewSession()
	h.sessions[id] = s
	return s
}

func (h *ChatCompletionsHandler) handleClearSession(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	delete(h.sessions, r.PathValue("id"))
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"cleared": r.PathValue("id")})
}

func (h *ChatCompletionsHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages is required")
		return
	}

	agentID := r.Header.Get(HeaderAgentID)
	if agentID == "" {
		agentID = agents.DefaultAgentID
	}
	agent, err := h.deps.Agents.Get(agentID)
	if err != nil {
		if errors.Is(err, agents.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown agent: "+agentID)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	accessLevel := agent.AccessLevel
	if h.deps.GlobalAccess < accessLevel {
		accessLevel = h.deps.GlobalAccess
	}
	tools := h.filterTools(req.Tools, accessLevel)

	// Budget gate before any backend work.
	if exceeded := h.checkBudget(agent); exceeded != nil {
		if agent.HardStopOnBudget {
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error":  "budget exceeded",
				"window": exceeded.Window,
				"used":   exceeded.Used,
				"limit":  exceeded.Limit,
			})
			return
		}
		slog.Warn("budget exceeded, proceeding without hard stop",
			"agent", agent.ID, "window", exceeded.Window,
			"used", exceeded.Used, "limit", exceeded.Limit)
	}

	model := h.resolveModel(req.Model, agent)
	provider, ok := h.deps.Providers.ForModel(model)
	if !ok {
		writeError(w, http.StatusBadGateway,
			"no provider configured for model "+model)
		return
	}
	if model == "" {
		model = provider.DefaultModel()
	}

	messages, userText, clientSystem := convertMessages(req.Messages)

	// Enrich with the assembled system prompt.
	block := h.deps.Assembler.Assemble(r.Context(), prompt.Input{
		Agent:        agent,
		UserMessage:  userText,
		Platform:     r.Header.Get(HeaderPlatform),
		Tail:         messageTail(req.Messages),
		ClientSystem: clientSystem,
		AccessLevel:  accessLevel,
		Tools:        tools,
		Model:        model,
		Budget:       systemPromptBudget(model),
	})
	messages = prompt.MergeSystem(messages, block)

	// Remote providers get redacted traffic; local traffic goes through
	// untouched.
	session := h.session(r.Header.Get(HeaderSessionID))
	var redact func(string) string
	if !providers.IsLocal(provider.Name()) {
		redact = session.RedactorFor(h.deps.PrivacyLevel)
	}

	chatReq := providers.ChatRequest{
		Messages:    messages,
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Redact:      redact,
	}

	ctx, span := telemetry.Tracer("gateway").Start(r.Context(), "chat.dispatch",
		trace.WithAttributes(
			attribute.String("provider", provider.Name()),
			attribute.String("model", model),
			attribute.String("agent", agent.ID),
		))
	defer span.End()
	r = r.WithContext(ctx)

	if req.Stream {
		h.streamChat(w, r, provider, chatReq, agent, session, userText)
		return
	}

	resp, err := provider.Chat(r.Context(), chatReq)
	if err != nil {
		writeProviderError(w, err)
		return
	}
	content := session.Restore(resp.Content)

	h.account(agent, resp.Usage, model, messages, content)
	h.enqueueExtraction(r, userText, content, model)

	writeJSON(w, http.StatusOK, chatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []chatChoice{{
			Index:        0,
			Message:      &chatMessage{Role: "assistant", Content: content},
			FinishReason: resp.FinishReason,
		}},
		Usage: resp.Usage,
	})
}

// streamChat relays provider chunks as OpenAI-style SSE, restoring
// redaction placeholders per chunk.
func (h *ChatCompletionsHandler) streamChat(w http.ResponseWriter, r *http.Request,
	provider providers.Provider, chatReq providers.ChatRequest,
	agent *agents.Agent, session *privacy.Session, userText string) {

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	var assistant strings.Builder
	headersSent := false

	resp, err := provider.ChatStream(r.Context(), chatReq, func(chunk providers.StreamChunk) {
		if chunk.Content == "" {
			return
		}
		restored := session.Restore(chunk.Content)
		assistant.WriteString(restored)

		frame := chatResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   chatReq.Model,
			Choices: []chatChoice{{Index: 0, Delta: &chatMessage{Content: restored}}},
		}
		data, _ := json.Marshal(frame)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		headersSent = true
	})
	if err != nil {
		if !headersSent {
			writeProviderError(w, err)
			return
		}
		slog.Warn("stream aborted", "agent", agent.ID, "error", err)
		return
	}

	done := chatResponse{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   chatReq.Model,
		Choices: []chatChoice{{Index: 0, Delta: &chatMessage{}, FinishReason: resp.FinishReason}},
		Usage:   resp.Usage,
	}
	data, _ := json.Marshal(done)
	fmt.Fprintf(w, "data: %s\n\ndata: [DONE]\n\n", data)
	flusher.Flush()

	h.account(agent, resp.Usage, chatReq.Model, chatReq.Messages, assistant.String())
	h.enqueueExtraction(r, userText, assistant.String(), chatReq.Model)
}

// resolveModel applies the precedence: explicit body model (unless the
// placeholder), then the agent's preference, then the global default.
func (h *ChatCompletionsHandler) resolveModel(bodyModel string, agent *agents.Agent) string {
	if bodyModel != "" && bodyModel != modelPlaceholder {
		return bodyModel
	}
	if agent.PreferredModel != "" {
		return agent.PreferredModel
	}
	return h.deps.DefaultModel
}

// filterTools drops tools that require a higher access level than effective.
func (h *ChatCompletionsHandler) filterTools(tools []toolSpec, accessLevel int) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		name := t.Function.Name
		if name == "" {
			continue
		}
		if h.deps.ToolGate != nil && h.deps.ToolGate.RequiredLevel(name) > accessLevel {
			slog.Debug("tool dropped by access level", "tool", name, "level", accessLevel)
			continue
		}
		names = append(names, name)
	}
	return names
}

func (h *ChatCompletionsHandler) checkBudget(agent *agents.Agent) *budget.Exceeded {
	if h.deps.Ledger == nil {
		return nil
	}
	exceeded, err := h.deps.Ledger.Check(agent.ID, budget.Limits{
		Day:   agent.DailyTokenLimit,
		Week:  agent.WeeklyTokenLimit,
		Month: agent.MonthlyTokenLimit,
	})
	if err != nil {
		slog.Warn("budget check failed", "agent", agent.ID, "error", err)
		return nil
	}
	if exceeded != nil && h.deps.Bus != nil {
		h.deps.Bus.Broadcast(bus.Event{
			Name: protocol.EventBudgetExceeded,
			Payload: bus.BudgetExceededPayload{
				AgentID: agent.ID, Window: exceeded.Window,
				Used: exceeded.Used, Limit: exceeded.Limit,
			},
		})
	}
	return exceeded
}

// account records usage in all windows, estimating when the backend did not
// report it.
func (h *ChatCompletionsHandler) account(agent *agents.Agent, usage *providers.Usage,
	model string, messages []providers.Message, completion string) {
	if h.deps.Ledger == nil {
		return
	}
	total := usage.Total()
	if total == 0 {
		var promptText strings.Builder
		for _, m := range messages {
			promptText.WriteString(m.Content)
		}
		total = h.estimator.Count(model, promptText.String()) + h.estimator.Count(model, completion)
	}
	if err := h.deps.Ledger.Account(agent.ID, int64(total)); err != nil {
		slog.Warn("budget accounting failed", "agent", agent.ID, "error", err)
	}
}

// enqueueExtraction hands the exchange to the memory pipeline unless the
// client cancelled mid-flight.
func (h *ChatCompletionsHandler) enqueueExtraction(r *http.Request, userText, assistantText, model string) {
	if h.deps.Pool == nil || userText == "" || assistantText == "" {
		return
	}
	if r.Context().Err() != nil {
		return
	}
	h.deps.Pool.EnqueueExtract(memory.ExtractJob{
		UserText:      userText,
		AssistantText: assistantText,
		Model:         model,
	})
}

func writeProviderError(w http.ResponseWriter, err error) {
	var httpErr *providers.HTTPError
	if errors.As(err, &httpErr) {
		// 4xx from the backend passes through verbatim.
		if httpErr.Status >= 400 && httpErr.Status < 500 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(httpErr.Status)
			fmt.Fprint(w, httpErr.Body)
			return
		}
		writeError(w, http.StatusBadGateway, httpErr.Error())
		return
	}
	if errors.Is(err, errors.ErrUnsupported) {
		writeError(w, http.StatusNotImplemented, err.Error())
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}

// convertMessages maps the wire messages to provider messages and extracts
// the latest user text and the client-system flag.
func convertMessages(in []chatMessage) (out []providers.Message, userText string, clientSystem bool) {
	out = make([]providers.Message, 0, len(in))
	for _, m := range in {
		if m.Role == "system" {
			clientSystem = true
		}
		if m.Role == "user" {
			userText = m.Content
		}
		out = append(out, providers.Message{Role: m.Role, Content: m.Content})
	}
	return out, userText, clientSystem
}

// messageTail returns the last few turn contents for query expansion.
func messageTail(in []chatMessage) []string {
	const keep = 6
	start := 0
	if len(in) > keep {
		start = len(in) - keep
	}
	tail := make([]string, 0, keep)
	for _, m := range in[start:] {
		if m.Role == "user" || m.Role == "assistant" {
			tail = append(tail, m.Content)
		}
	}
	return tail
}

// systemPromptBudget picks the token budget for the assembled block from the
// target model's context window, roughly a quarter of it.
func systemPromptBudget(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "claude-"):
		return 16000
	case strings.HasPrefix(lower, "gpt-"), strings.HasPrefix(lower, "gemini-"):
		return 16000
	default:
		// Local models run small context windows.
		return 2000
	}
}

// Wire types, OpenAI chat completion shape.

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Tools       []toolSpec    `json:"tools,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

type toolSpec struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type chatResponse struct {
	ID      string           `json:"id"`
	Object  string           `json:"object"`
	Created int64            `json:"created"`
	Model   string           `json:"model"`
	Choices []chatChoice     `json:"choices"`
	Usage   *providers.Usage `json:"usage,omitempty"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatMessage `json:"delta,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
}
