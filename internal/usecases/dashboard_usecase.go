package usecases

import (
	"fmt"

	"github.com/rs/zerolog"

	"tokobot/internal/entities"
	"tokobot/internal/interfaces"
	"tokobot/internal/repository"
)

// DashboardUsecase backs the admin API: handoff/agent/customer listings and
// the broadcast fan-out.
type DashboardUsecase struct {
	customerRepo *repository.CustomerRepository
	handoffRepo  *repository.HandoffRepository
	agentRepo    *repository.AgentRepository
	router       *HandoffRouter
	sender       interfaces.Messenger
	log          zerolog.Logger
}

func NewDashboardUsecase(
	customerRepo *repository.CustomerRepository,
	handoffRepo *repository.HandoffRepository,
	agentRepo *repository.AgentRepository,
	router *HandoffRouter,
	sender interfaces.Messenger,
	log zerolog.Logger,
) *DashboardUsecase {
	return &DashboardUsecase{
		customerRepo: customerRepo,
		handoffRepo:  handoffRepo,
		agentRepo:    agentRepo,
		router:       router,
		sender:       sender,
		log:          log.With().Str("component", "dashboard").Logger(),
	}
}

func (u *DashboardUsecase) ListHandoffs(limit int) ([]entities.Handoff, error) {
	return u.handoffRepo.ListRecent(limit)
}

func (u *DashboardUsecase) ListAgents() ([]entities.Agent, error) {
	return u.agentRepo.ListAll()
}

func (u *DashboardUsecase) CreateAgent(agent *entities.Agent) error {
	return u.agentRepo.Create(agent)
}

func (u *DashboardUsecase) UpdateAgent(agent *entities.Agent) error {
	return u.agentRepo.Update(agent)
}

func (u *DashboardUsecase) ListCustomers(limit int) ([]entities.Customer, error) {
	return u.customerRepo.ListAll(limit)
}

func (u *DashboardUsecase) SetCustomerBlocked(customerID int64, blocked bool) error {
	return u.customerRepo.SetBlocked(customerID, blocked)
}

// Stats summarizes live routing state for the dashboard landing page.
func (u *DashboardUsecase) Stats() map[string]interface{} {
	return map[string]interface{}{
		"active_sessions": u.router.ActiveSessions(),
	}
}

// ResolveHandoff force-closes an agent's live session from the dashboard.
// Both parties get a notice; the customer's stored state self-heals to the
// menu on their next message. Returns the freed customer address, or "" when
// the agent had no live session.
func (u *DashboardUsecase) ResolveHandoff(agentID int64) (string, error) {
	agent, err := u.agentRepo.GetByID(agentID)
	if err != nil {
		return "", err
	}
	if agent == nil {
		return "", fmt.Errorf("agent %d not found", agentID)
	}

	customerAddress, err := u.router.Resolve(agent.Address)
	if err != nil {
		return "", err
	}
	if customerAddress == "" {
		return "", nil
	}

	if err := u.sender.SendMessage(customerAddress, "✅ This conversation was closed by our team. Type *MENU* to continue with the bot."); err != nil {
		u.log.Error().Err(err).Str("to", customerAddress).Msg("close notice failed")
	}
	if err := u.sender.SendMessage(agent.Address, "ℹ️ Your session was closed from the dashboard. You are available again."); err != nil {
		u.log.Error().Err(err).Str("to", agent.Address).Msg("close notice failed")
	}
	return customerAddress, nil
}

// Broadcast sends text to every opted-in, non-blocked customer. Send failures
// are logged and skipped; the broadcast does not stop halfway.
func (u *DashboardUsecase) Broadcast(text string) (int, error) {
	addrs, err := u.customerRepo.ListSubscribed()
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, addr := range addrs {
		if err := u.sender.SendMessage(addr, text); err != nil {
			u.log.Error().Err(err).Str("to", addr).Msg("broadcast send failed")
			continue
		}
		sent++
	}
	return sent, nil
}
