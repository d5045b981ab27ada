package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/perceptualart/torbobase-sub002/internal/agents"
	"github.com/perceptualart/torbobase-sub002/internal/bus"
	"github.com/perceptualart/torbobase-sub002/internal/config"
	httpapi "github.com/perceptualart/torbobase-sub002/internal/http"
	"github.com/perceptualart/torbobase-sub002/internal/privacy"
	"github.com/perceptualart/torbobase-sub002/internal/prompt"
	"github.com/perceptualart/torbobase-sub002/internal/providers"
	"github.com/perceptualart/torbobase-sub002/pkg/protocol"
)

type echoProvider struct{}

func (echoProvider) Chat(context.Context, providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: "pong", FinishReason: "stop"}, nil
}

func (p echoProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.Chat(ctx, req)
}

func (echoProvider) DefaultModel() string { return "llama3.1:8b" }
func (echoProvider) Name() string         { return "ollama" }

func newTestGateway(t *testing.T, cfg *config.Config, msgBus bus.EventPublisher) *Server {
	t.Helper()

	registry, err := agents.NewRegistry(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	reg := providers.NewRegistry()
	reg.Register(echoProvider{})

	chat := httpapi.NewChatCompletionsHandler(httpapi.ChatDeps{
		Agents:       registry,
		Providers:    reg,
		Assembler:    prompt.NewAssembler(nil, nil, nil, nil, nil),
		DefaultModel: "llama3.1:8b",
		GlobalAccess: 5,
		PrivacyLevel: privacy.LevelOff,
	})
	return NewServer(cfg, msgBus, chat, httpapi.NewAgentsHandler(registry, ""), nil, nil)
}

func TestHealthAndChatOverTestServer(t *testing.T) {
	cfg := config.Default()
	srv := newTestGateway(t, cfg, bus.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, start := StartTestServer(srv, ctx)
	go start()

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != `{"status":"ok"}` {
		t.Errorf("health = %d %s", resp.StatusCode, body)
	}

	resp, err = http.Get("http://" + addr + "/v1/agents")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("agents = %d", resp.StatusCode)
	}
}

func TestWebSocketEventFeed(t *testing.T) {
	cfg := config.Default()
	msgBus := bus.New()
	srv := newTestGateway(t, cfg, msgBus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, start := StartTestServer(srv, ctx)
	go start()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Wait for the subscription to land before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for {
		srv.mu.RLock()
		n := len(srv.clients)
		srv.mu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	msgBus.Broadcast(bus.Event{
		Name:    protocol.EventAgentChanged,
		Payload: bus.AgentChangedPayload{AgentID: "torbo", Action: "updated"},
	})

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var frame protocol.EventFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != "event" || frame.Event != protocol.EventAgentChanged {
		t.Errorf("frame = %+v", frame)
	}
	if frame.Ts == 0 {
		t.Error("frame not timestamped")
	}
}

func TestWebSocketTokenAuth(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.Token = "secret"
	srv := newTestGateway(t, cfg, bus.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, start := StartTestServer(srv, ctx)
	go start()

	if _, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil); err == nil {
		t.Error("dial without token succeeded")
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws?token=secret", nil)
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()
}

func TestClientUnregisteredOnDisconnect(t *testing.T) {
	cfg := config.Default()
	msgBus := bus.New()
	srv := newTestGateway(t, cfg, msgBus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, start := StartTestServer(srv, ctx)
	go start()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for {
		srv.mu.RLock()
		n := len(srv.clients)
		srv.mu.RUnlock()
		if n == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("client still registered: %d", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	if !rl.Enabled() {
		t.Fatal("limiter disabled")
	}
	if !rl.Allow() || !rl.Allow() {
		t.Fatal("burst refused")
	}
	if rl.Allow() {
		t.Error("third immediate request allowed past burst")
	}

	off := NewRateLimiter(0, 5)
	if off.Enabled() {
		t.Error("rpm 0 should disable the limiter")
	}
	for i := 0; i < 100; i++ {
		if !off.Allow() {
			t.Fatal("disabled limiter refused a request")
		}
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))

	get := func(path string) int {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		return w.Code
	}

	if code := get("/v1/models"); code != http.StatusOK {
		t.Fatalf("first request = %d", code)
	}
	if code := get("/v1/models"); code != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", code)
	}
	// Health stays reachable while throttled.
	if code := get("/health"); code != http.StatusOK {
		t.Errorf("health while throttled = %d", code)
	}
}
