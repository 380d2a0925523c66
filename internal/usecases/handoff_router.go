package usecases

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"tokobot/internal/entities"
	"tokobot/internal/repository"
)

// HandoffRepo is the durable side of handoff episodes.
type HandoffRepo interface {
	Insert(customerID int64, reason string) (*entities.Handoff, error)
	Assign(handoffID string, agentID int64, customerAddress string) error
	ResolveByAgent(agentID int64) (int64, error)
	ListActiveSessions() ([]repository.ActiveSession, error)
}

// AgentRepo exposes the agent roster to the router.
type AgentRepo interface {
	GetByAddress(address string) (*entities.Agent, error)
	FindAvailable() (*entities.Agent, error)
}

// HandoffRouter owns the live session index: a bidirectional agent↔customer
// address map mirroring exactly the handoffs that are durably active. The
// index is a cache, never a source of truth: Restore rebuilds it from
// storage before any traffic is served, and every index mutation is paired
// with a durable write that must succeed first. No other component touches
// these maps.
type HandoffRouter struct {
	handoffs HandoffRepo
	agents   AgentRepo
	log      zerolog.Logger

	mu              sync.RWMutex
	agentToCustomer map[string]string
	customerToAgent map[string]string
}

func NewHandoffRouter(handoffs HandoffRepo, agents AgentRepo, log zerolog.Logger) *HandoffRouter {
	return &HandoffRouter{
		handoffs:        handoffs,
		agents:          agents,
		log:             log.With().Str("component", "handoff").Logger(),
		agentToCustomer: make(map[string]string),
		customerToAgent: make(map[string]string),
	}
}

// Restore repopulates the live index from durable active handoffs. Must
// complete before the dispatcher accepts messages, or early customer messages
// would be routed to the bot instead of their assigned agent.
func (r *HandoffRouter) Restore() error {
	sessions, err := r.handoffs.ListActiveSessions()
	if err != nil {
		return fmt.Errorf("list active handoffs: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agentToCustomer = make(map[string]string, len(sessions))
	r.customerToAgent = make(map[string]string, len(sessions))
	for _, s := range sessions {
		r.agentToCustomer[s.AgentAddress] = s.CustomerAddress
		r.customerToAgent[s.CustomerAddress] = s.AgentAddress
	}

	r.log.Info().Int("sessions", len(sessions)).Msg("live session index restored")
	return nil
}

// Initiate resolves any open handoff for the customer (last request wins) and
// records a fresh pending one. The live index is untouched: a pending handoff
// has no session yet.
func (r *HandoffRouter) Initiate(customerID int64, reason string) (*entities.Handoff, error) {
	h, err := r.handoffs.Insert(customerID, reason)
	if err != nil {
		return nil, fmt.Errorf("initiate handoff: %w", err)
	}
	r.log.Info().Int64("customer_id", customerID).Str("handoff_id", h.ID).Str("reason", reason).
		Msg("handoff initiated, any previous open episode resolved")
	return h, nil
}

// FindAvailableAgent picks the active, unassigned agent idle the longest.
// Returns nil (no error) when everyone is busy.
func (r *HandoffRouter) FindAvailableAgent() (*entities.Agent, error) {
	return r.agents.FindAvailable()
}

// Assign activates a pending handoff for an agent and inserts both directions
// into the live index. The durable write goes first; when it fails the index
// is left untouched and the caller must treat the handoff as not assigned.
func (r *HandoffRouter) Assign(handoffID string, agent *entities.Agent, customerAddress string) error {
	if err := r.handoffs.Assign(handoffID, agent.ID, customerAddress); err != nil {
		return fmt.Errorf("assign handoff: %w", err)
	}

	r.mu.Lock()
	r.agentToCustomer[agent.Address] = customerAddress
	r.customerToAgent[customerAddress] = agent.Address
	r.mu.Unlock()

	r.log.Info().Str("handoff_id", handoffID).Str("agent", agent.Address).
		Str("customer", customerAddress).Msg("handoff assigned")
	return nil
}

// Resolve closes the active handoff owned by an agent and removes the session
// from the live index. Returns the freed customer address, or "" when the
// agent had no live session (not an error, callers reply with a notice).
func (r *HandoffRouter) Resolve(agentAddress string) (string, error) {
	r.mu.RLock()
	customerAddress, ok := r.agentToCustomer[agentAddress]
	r.mu.RUnlock()
	if !ok {
		return "", nil
	}

	agent, err := r.agents.GetByAddress(agentAddress)
	if err != nil {
		return "", err
	}
	if agent == nil {
		return "", fmt.Errorf("agent %s in live index but not on roster", agentAddress)
	}

	if _, err := r.handoffs.ResolveByAgent(agent.ID); err != nil {
		// Durable resolve failed, keep the index consistent with storage.
		return "", fmt.Errorf("resolve handoff: %w", err)
	}

	r.dropSession(agentAddress, customerAddress)
	r.log.Info().Str("agent", agentAddress).Str("customer", customerAddress).Msg("handoff resolved")
	return customerAddress, nil
}

// ResolveByCustomer is the customer-side escape hatch (MENU while in session).
// Resolves the durable handoff too, so the agent's current_customer is not
// left stranded. Returns the freed agent address, or "" when the customer had
// no live session.
func (r *HandoffRouter) ResolveByCustomer(customerAddress string) (string, error) {
	r.mu.RLock()
	agentAddress, ok := r.customerToAgent[customerAddress]
	r.mu.RUnlock()
	if !ok {
		return "", nil
	}

	agent, err := r.agents.GetByAddress(agentAddress)
	if err != nil {
		return "", err
	}
	if agent == nil {
		return "", fmt.Errorf("agent %s in live index but not on roster", agentAddress)
	}

	if _, err := r.handoffs.ResolveByAgent(agent.ID); err != nil {
		return "", fmt.Errorf("resolve handoff: %w", err)
	}

	r.dropSession(agentAddress, customerAddress)
	r.log.Info().Str("agent", agentAddress).Str("customer", customerAddress).
		Msg("handoff resolved by customer")
	return agentAddress, nil
}

func (r *HandoffRouter) dropSession(agentAddress, customerAddress string) {
	r.mu.Lock()
	delete(r.agentToCustomer, agentAddress)
	delete(r.customerToAgent, customerAddress)
	r.mu.Unlock()
}

// IsCustomerInSession is a pure index lookup, hot path, no storage round trip.
func (r *HandoffRouter) IsCustomerInSession(customerAddress string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.customerToAgent[customerAddress]
	return ok
}

// PeerOf returns the live peer of either side of a session.
func (r *HandoffRouter) PeerOf(address string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if peer, ok := r.agentToCustomer[address]; ok {
		return peer, true
	}
	peer, ok := r.customerToAgent[address]
	return peer, ok
}

// CustomerShardKey maps an address to the customer side of its conversation:
// an agent's messages shard by their live peer so both directions stay
// ordered relative to the customer.
func (r *HandoffRouter) CustomerShardKey(address string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if customer, ok := r.agentToCustomer[address]; ok {
		return customer
	}
	return address
}

// ActiveSessions returns the current live session count for the dashboard.
func (r *HandoffRouter) ActiveSessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agentToCustomer)
}
