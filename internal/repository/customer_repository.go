package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tokobot/internal/entities"
)

// CustomerRepository owns the customers and conversations tables. A customer
// row and its conversation row are created in one transaction and live
// one-to-one from then on.
type CustomerRepository struct {
	db *pgxpool.Pool
}

func NewCustomerRepository(db *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// GetOrCreate upserts the customer for an address. On first sight it creates
// the customer plus a menu-state conversation atomically and returns
// created=true. On repeat sight it refreshes last_seen and fills the name if
// it was still empty.
func (r *CustomerRepository) GetOrCreate(address, nameHint string) (*entities.Customer, bool, error) {
	ctx := context.Background()

	existing, err := r.GetByAddress(address)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		_, err = r.db.Exec(ctx, `
			UPDATE customers SET last_seen_at = CURRENT_TIMESTAMP,
				name = CASE WHEN name = '' THEN $2 ELSE name END
			WHERE id = $1`, existing.ID, nameHint)
		if err != nil {
			return nil, false, fmt.Errorf("refresh customer: %w", err)
		}
		if existing.Name == "" {
			existing.Name = nameHint
		}
		return existing, false, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	var c entities.Customer
	err = tx.QueryRow(ctx, `
		INSERT INTO customers (address, name)
		VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET last_seen_at = CURRENT_TIMESTAMP
		RETURNING id, address, name, language, lead_score, tag, blocked, subscribed,
			order_count, total_spent, created_at, last_seen_at`,
		address, nameHint).Scan(
		&c.ID, &c.Address, &c.Name, &c.Language, &c.LeadScore, &c.Tag, &c.Blocked,
		&c.Subscribed, &c.OrderCount, &c.TotalSpent, &c.CreatedAt, &c.LastSeenAt)
	if err != nil {
		return nil, false, fmt.Errorf("insert customer: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (customer_id, state, context)
		VALUES ($1, $2, '{}')
		ON CONFLICT (customer_id) DO NOTHING`, c.ID, entities.StateMenu)
	if err != nil {
		return nil, false, fmt.Errorf("insert conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return &c, true, nil
}

func (r *CustomerRepository) GetByAddress(address string) (*entities.Customer, error) {
	var c entities.Customer
	err := r.db.QueryRow(context.Background(), `
		SELECT id, address, name, language, lead_score, tag, blocked, subscribed,
			order_count, total_spent, created_at, last_seen_at
		FROM customers WHERE address = $1`, address).Scan(
		&c.ID, &c.Address, &c.Name, &c.Language, &c.LeadScore, &c.Tag, &c.Blocked,
		&c.Subscribed, &c.OrderCount, &c.TotalSpent, &c.CreatedAt, &c.LastSeenAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CustomerRepository) GetConversation(customerID int64) (entities.ConversationState, entities.ConvContext, error) {
	var state entities.ConversationState
	var raw []byte
	err := r.db.QueryRow(context.Background(),
		"SELECT state, context FROM conversations WHERE customer_id = $1",
		customerID).Scan(&state, &raw)
	if err != nil {
		return "", entities.ConvContext{}, err
	}

	var cctx entities.ConvContext
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cctx); err != nil {
			return "", entities.ConvContext{}, fmt.Errorf("decode context: %w", err)
		}
	}
	return state, cctx, nil
}

// SetState replaces state and context wholesale.
func (r *CustomerRepository) SetState(customerID int64, state entities.ConversationState, cctx entities.ConvContext) error {
	raw, err := json.Marshal(cctx)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(context.Background(), `
		UPDATE conversations SET state = $2, context = $3, last_activity = CURRENT_TIMESTAMP
		WHERE customer_id = $1`, customerID, state, raw)
	return err
}

// SetContext mutates context while staying in the current state.
func (r *CustomerRepository) SetContext(customerID int64, cctx entities.ConvContext) error {
	raw, err := json.Marshal(cctx)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(context.Background(), `
		UPDATE conversations SET context = $2, last_activity = CURRENT_TIMESTAMP
		WHERE customer_id = $1`, customerID, raw)
	return err
}

// AdjustLeadScore adds delta to the score, flooring at zero.
func (r *CustomerRepository) AdjustLeadScore(customerID int64, delta int) (int, error) {
	var score int
	err := r.db.QueryRow(context.Background(), `
		UPDATE customers SET lead_score = GREATEST(lead_score + $2, 0)
		WHERE id = $1 RETURNING lead_score`, customerID, delta).Scan(&score)
	return score, err
}

func (r *CustomerRepository) SetName(customerID int64, name string) error {
	_, err := r.db.Exec(context.Background(),
		"UPDATE customers SET name = $2 WHERE id = $1", customerID, name)
	return err
}

// RecomputeTag re-derives the audience tag from the current lead score.
// Runs after dispatch, so a score bump shows its new tag on the next turn.
func (r *CustomerRepository) RecomputeTag(customerID int64) (string, error) {
	var tag string
	err := r.db.QueryRow(context.Background(), `
		UPDATE customers SET tag = CASE
			WHEN lead_score >= 60 THEN 'VIP'
			WHEN lead_score >= 30 THEN 'Frequent'
			WHEN lead_score >= 10 THEN 'Subscriber'
			ELSE 'New' END
		WHERE id = $1 RETURNING tag`, customerID).Scan(&tag)
	return tag, err
}

func (r *CustomerRepository) SetSubscribed(customerID int64, subscribed bool) error {
	_, err := r.db.Exec(context.Background(),
		"UPDATE customers SET subscribed = $2 WHERE id = $1", customerID, subscribed)
	return err
}

func (r *CustomerRepository) SetBlocked(customerID int64, blocked bool) error {
	_, err := r.db.Exec(context.Background(),
		"UPDATE customers SET blocked = $2 WHERE id = $1", customerID, blocked)
	return err
}

// RecordOrder bumps the aggregate order stats after a completed checkout.
func (r *CustomerRepository) RecordOrder(customerID int64, total float64) error {
	_, err := r.db.Exec(context.Background(), `
		UPDATE customers SET order_count = order_count + 1, total_spent = total_spent + $2
		WHERE id = $1`, customerID, total)
	return err
}

// ListSubscribed returns addresses of customers opted into broadcasts.
func (r *CustomerRepository) ListSubscribed() ([]string, error) {
	rows, err := r.db.Query(context.Background(),
		"SELECT address FROM customers WHERE subscribed AND NOT blocked")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, rows.Err()
}

// ListAll returns customers for the dashboard, most recently seen first.
func (r *CustomerRepository) ListAll(limit int) ([]entities.Customer, error) {
	rows, err := r.db.Query(context.Background(), `
		SELECT id, address, name, language, lead_score, tag, blocked, subscribed,
			order_count, total_spent, created_at, last_seen_at
		FROM customers ORDER BY last_seen_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entities.Customer
	for rows.Next() {
		var c entities.Customer
		if err := rows.Scan(&c.ID, &c.Address, &c.Name, &c.Language, &c.LeadScore,
			&c.Tag, &c.Blocked, &c.Subscribed, &c.OrderCount, &c.TotalSpent,
			&c.CreatedAt, &c.LastSeenAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
