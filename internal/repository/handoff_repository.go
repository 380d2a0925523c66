package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tokobot/internal/entities"
)

type HandoffRepository struct {
	db *pgxpool.Pool
}

func NewHandoffRepository(db *pgxpool.Pool) *HandoffRepository {
	return &HandoffRepository{db: db}
}

// Insert creates a pending handoff. Any previously open handoff for the same
// customer is resolved in the same transaction, keeping the at-most-one-open
// invariant (last request wins).
func (r *HandoffRepository) Insert(customerID int64, reason string) (*entities.Handoff, error) {
	ctx := context.Background()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE handoffs SET status = $2, resolved_at = CURRENT_TIMESTAMP
		WHERE customer_id = $1 AND status IN ($3, $4)`,
		customerID, entities.HandoffResolved, entities.HandoffPending, entities.HandoffActive)
	if err != nil {
		return nil, fmt.Errorf("resolve open handoffs: %w", err)
	}

	h := &entities.Handoff{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Reason:     reason,
		Status:     entities.HandoffPending,
		CreatedAt:  time.Now(),
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO handoffs (id, customer_id, reason, status) VALUES ($1, $2, $3, $4)`,
		h.ID, h.CustomerID, h.Reason, h.Status)
	if err != nil {
		return nil, fmt.Errorf("insert handoff: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// Assign flips a pending handoff to active and records the agent, in the same
// transaction as the agent's current_customer update.
func (r *HandoffRepository) Assign(handoffID string, agentID int64, customerAddress string) error {
	ctx := context.Background()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE handoffs SET status = $2, agent_id = $3
		WHERE id = $1 AND status = $4`,
		handoffID, entities.HandoffActive, agentID, entities.HandoffPending)
	if err != nil {
		return fmt.Errorf("activate handoff: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("handoff %s is not pending", handoffID)
	}

	_, err = tx.Exec(ctx, `
		UPDATE agents SET current_customer = $2, last_active_at = CURRENT_TIMESTAMP
		WHERE id = $1`, agentID, customerAddress)
	if err != nil {
		return fmt.Errorf("assign agent: %w", err)
	}

	return tx.Commit(ctx)
}

// ResolveByAgent closes the active handoff owned by an agent and frees the
// agent. Returns the customer id of the closed handoff, or 0 when the agent
// had no active session.
func (r *HandoffRepository) ResolveByAgent(agentID int64) (int64, error) {
	ctx := context.Background()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var customerID int64
	err = tx.QueryRow(ctx, `
		UPDATE handoffs SET status = $2, resolved_at = CURRENT_TIMESTAMP
		WHERE agent_id = $1 AND status = $3
		RETURNING customer_id`,
		agentID, entities.HandoffResolved, entities.HandoffActive).Scan(&customerID)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE agents SET current_customer = NULL, last_active_at = CURRENT_TIMESTAMP
		WHERE id = $1`, agentID)
	if err != nil {
		return 0, fmt.Errorf("free agent: %w", err)
	}

	return customerID, tx.Commit(ctx)
}

// ActiveSession pairs an active handoff with the two routable addresses.
type ActiveSession struct {
	HandoffID       string
	AgentID         int64
	AgentAddress    string
	CustomerAddress string
}

// ListActiveSessions joins active handoffs with agent and customer addresses,
// used to rebuild the live index on startup.
func (r *HandoffRepository) ListActiveSessions() ([]ActiveSession, error) {
	rows, err := r.db.Query(context.Background(), `
		SELECT h.id, a.id, a.address, c.address
		FROM handoffs h
		JOIN agents a ON a.id = h.agent_id
		JOIN customers c ON c.id = h.customer_id
		WHERE h.status = $1`, entities.HandoffActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActiveSession
	for rows.Next() {
		var s ActiveSession
		if err := rows.Scan(&s.HandoffID, &s.AgentID, &s.AgentAddress, &s.CustomerAddress); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListRecent returns handoffs for the dashboard, newest first.
func (r *HandoffRepository) ListRecent(limit int) ([]entities.Handoff, error) {
	rows, err := r.db.Query(context.Background(), `
		SELECT h.id, h.customer_id, c.address, COALESCE(h.agent_id, 0), h.reason,
			h.status, h.created_at, h.resolved_at
		FROM handoffs h JOIN customers c ON c.id = h.customer_id
		ORDER BY h.created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entities.Handoff
	for rows.Next() {
		var h entities.Handoff
		if err := rows.Scan(&h.ID, &h.CustomerID, &h.CustomerAddress, &h.AgentID,
			&h.Reason, &h.Status, &h.CreatedAt, &h.ResolvedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
