package bus

// Event represents a server-side event to broadcast to WebSocket clients.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the gateway server and the registry/memory components to decouple
// from the concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// AgentChangedPayload accompanies agent.changed / agent.deleted events.
type AgentChangedPayload struct {
	AgentID string `json:"agent_id"`
	Action  string `json:"action"` // "created", "updated", "deleted", "reset"
}

// BudgetExceededPayload accompanies budget.exceeded events.
type BudgetExceededPayload struct {
	AgentID string `json:"agent_id"`
	Window  string `json:"window"` // "day", "week", "month"
	Used    int64  `json:"used"`
	Limit   int64  `json:"limit"`
}

// MemoryIndexedPayload accompanies memory.indexed events.
type MemoryIndexedPayload struct {
	ID       int64  `json:"id"`
	Category string `json:"category"`
}
