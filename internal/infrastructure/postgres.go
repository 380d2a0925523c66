package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresClient struct {
	Pool *pgxpool.Pool
}

func NewPostgresClient(connString string) (*PostgresClient, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	// Pool configuration
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	client := &PostgresClient{Pool: pool}

	// Auto-migrate schema
	if err := client.Migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return client, nil
}

func (p *PostgresClient) Migrate() error {
	ctx := context.Background()

	// Dashboard users
	_, err := p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			username VARCHAR(50) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			role VARCHAR(20) DEFAULT 'user',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("create users table: %w", err)
	}

	// Customers, one row per sender address, soft-blocked instead of deleted
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS customers (
			id BIGSERIAL PRIMARY KEY,
			address VARCHAR(50) UNIQUE NOT NULL,
			name VARCHAR(100) NOT NULL DEFAULT '',
			language VARCHAR(10) NOT NULL DEFAULT 'en',
			lead_score INT NOT NULL DEFAULT 0,
			tag VARCHAR(20) NOT NULL DEFAULT 'New',
			blocked BOOLEAN NOT NULL DEFAULT FALSE,
			subscribed BOOLEAN NOT NULL DEFAULT TRUE,
			order_count INT NOT NULL DEFAULT 0,
			total_spent DECIMAL(15,2) NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_seen_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("create customers table: %w", err)
	}

	// Conversations, exactly one per customer (shared primary key)
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS conversations (
			customer_id BIGINT PRIMARY KEY REFERENCES customers(id),
			state VARCHAR(30) NOT NULL DEFAULT 'menu',
			context JSONB NOT NULL DEFAULT '{}',
			last_activity TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("create conversations table: %w", err)
	}

	// Human agents
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS agents (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			address VARCHAR(50) UNIQUE NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			current_customer VARCHAR(50) DEFAULT NULL,
			telegram_chat_id BIGINT NOT NULL DEFAULT 0,
			last_active_at TIMESTAMP DEFAULT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create agents table: %w", err)
	}

	// Handoff episodes
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS handoffs (
			id UUID PRIMARY KEY,
			customer_id BIGINT NOT NULL REFERENCES customers(id),
			agent_id BIGINT DEFAULT NULL,
			reason TEXT NOT NULL DEFAULT '',
			status VARCHAR(10) NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			resolved_at TIMESTAMP DEFAULT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create handoffs table: %w", err)
	}
	p.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_handoffs_status ON handoffs(status);")
	p.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_handoffs_customer ON handoffs(customer_id);")

	// Products
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS products (
			id BIGSERIAL PRIMARY KEY,
			code VARCHAR(50) UNIQUE NOT NULL,
			name VARCHAR(255) NOT NULL,
			category VARCHAR(50) NOT NULL,
			price DECIMAL(15,2) NOT NULL DEFAULT 0,
			currency VARCHAR(10) NOT NULL DEFAULT 'IDR',
			details TEXT NOT NULL DEFAULT ''
		);
	`)
	if err != nil {
		return fmt.Errorf("create products table: %w", err)
	}

	// Carts
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS cart_items (
			customer_id BIGINT NOT NULL REFERENCES customers(id),
			product_id BIGINT NOT NULL REFERENCES products(id),
			quantity INT NOT NULL DEFAULT 1,
			PRIMARY KEY (customer_id, product_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("create cart_items table: %w", err)
	}

	// Orders, items denormalized as JSONB
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id BIGSERIAL PRIMARY KEY,
			customer_id BIGINT NOT NULL REFERENCES customers(id),
			items JSONB NOT NULL DEFAULT '[]',
			total DECIMAL(15,2) NOT NULL DEFAULT 0,
			note TEXT NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL DEFAULT 'placed',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("create orders table: %w", err)
	}

	return nil
}

func (p *PostgresClient) Close() {
	p.Pool.Close()
}
