package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tokobot/internal/entities"
)

type AgentRepository struct {
	db *pgxpool.Pool
}

func NewAgentRepository(db *pgxpool.Pool) *AgentRepository {
	return &AgentRepository{db: db}
}

const agentColumns = "id, name, address, active, COALESCE(current_customer, ''), telegram_chat_id, last_active_at"

func scanAgent(row pgx.Row) (*entities.Agent, error) {
	var a entities.Agent
	err := row.Scan(&a.ID, &a.Name, &a.Address, &a.Active, &a.CurrentCustomer,
		&a.TelegramChatID, &a.LastActiveAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AgentRepository) Create(agent *entities.Agent) error {
	return r.db.QueryRow(context.Background(), `
		INSERT INTO agents (name, address, active, telegram_chat_id)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		agent.Name, agent.Address, agent.Active, agent.TelegramChatID).Scan(&agent.ID)
}

func (r *AgentRepository) Update(agent *entities.Agent) error {
	_, err := r.db.Exec(context.Background(), `
		UPDATE agents SET name = $2, address = $3, active = $4, telegram_chat_id = $5
		WHERE id = $1`,
		agent.ID, agent.Name, agent.Address, agent.Active, agent.TelegramChatID)
	return err
}

func (r *AgentRepository) GetByID(id int64) (*entities.Agent, error) {
	return scanAgent(r.db.QueryRow(context.Background(),
		"SELECT "+agentColumns+" FROM agents WHERE id = $1", id))
}

func (r *AgentRepository) GetByAddress(address string) (*entities.Agent, error) {
	return scanAgent(r.db.QueryRow(context.Background(),
		"SELECT "+agentColumns+" FROM agents WHERE address = $1", address))
}

// FindAvailable picks the idle agent who has been idle the longest.
// Never-active agents sort first; exact ties fall back to ascending id so the
// order is deterministic regardless of storage return order.
func (r *AgentRepository) FindAvailable() (*entities.Agent, error) {
	return scanAgent(r.db.QueryRow(context.Background(), `
		SELECT `+agentColumns+` FROM agents
		WHERE active AND current_customer IS NULL
		ORDER BY last_active_at ASC NULLS FIRST, id ASC
		LIMIT 1`))
}

// SetCurrentCustomer assigns or clears (empty address) the agent's live peer
// and stamps last_active_at.
func (r *AgentRepository) SetCurrentCustomer(agentID int64, customerAddress string) error {
	_, err := r.db.Exec(context.Background(), `
		UPDATE agents SET current_customer = NULLIF($2, ''), last_active_at = CURRENT_TIMESTAMP
		WHERE id = $1`, agentID, customerAddress)
	return err
}

func (r *AgentRepository) ListAll() ([]entities.Agent, error) {
	rows, err := r.db.Query(context.Background(),
		"SELECT "+agentColumns+" FROM agents ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entities.Agent
	for rows.Next() {
		var a entities.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Address, &a.Active, &a.CurrentCustomer,
			&a.TelegramChatID, &a.LastActiveAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
