package protocol

// WebSocket event names pushed from server to client.
const (
	EventHealth   = "health"
	EventShutdown = "shutdown"

	// Registry events (payload: bus.AgentChangedPayload).
	EventAgentChanged = "agent.changed"
	EventAgentDeleted = "agent.deleted"

	// Memory pipeline events (payload: bus.MemoryIndexedPayload).
	EventMemoryIndexed    = "memory.indexed"
	EventMemoryCompressed = "memory.compressed"

	// Budget ledger events (payload: bus.BudgetExceededPayload).
	EventBudgetExceeded = "budget.exceeded"
)
