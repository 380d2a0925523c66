package entities

import "time"

// Handoff status state machine: pending → active → resolved.
// pending → resolved is also legal when no agent ever picks the customer up.
type HandoffStatus string

const (
	HandoffPending  HandoffStatus = "pending"
	HandoffActive   HandoffStatus = "active"
	HandoffResolved HandoffStatus = "resolved"
)

// Handoff is one episode of a customer being served by a human agent.
// At most one handoff per customer may be pending or active at a time.
type Handoff struct {
	ID              string        `json:"id"`
	CustomerID      int64         `json:"customer_id"`
	CustomerAddress string        `json:"customer_address"`
	AgentID         int64         `json:"agent_id,omitempty"` // 0 while pending
	Reason          string        `json:"reason"`
	Status          HandoffStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	ResolvedAt      *time.Time    `json:"resolved_at,omitempty"`
}

// Agent is a human operator reachable over the same transport as customers.
type Agent struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Address         string     `json:"address"`
	Active          bool       `json:"active"`
	CurrentCustomer string     `json:"current_customer,omitempty"` // customer address, empty when idle
	TelegramChatID  int64      `json:"telegram_chat_id,omitempty"` // optional alert side-channel
	LastActiveAt    *time.Time `json:"last_active_at,omitempty"`
}
