package repository

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tokobot/internal/entities"
)

// CatalogRepository owns products, per-customer carts and orders.
type CatalogRepository struct {
	db *pgxpool.Pool
}

func NewCatalogRepository(db *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// SyncFromCSV loads products from a CSV file and upserts them into Postgres.
// Expected columns: code, name, category, price, currency, details.
func (r *CatalogRepository) SyncFromCSV(filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open CSV: %w", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read CSV: %w", err)
	}

	ctx := context.Background()

	// Skip header row
	for i := 1; i < len(records); i++ {
		if len(records[i]) < 6 {
			continue
		}
		price, _ := strconv.ParseFloat(records[i][3], 64)
		_, err := r.db.Exec(ctx, `
			INSERT INTO products (code, name, category, price, currency, details)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (code) DO UPDATE
			SET name = EXCLUDED.name,
				category = EXCLUDED.category,
				price = EXCLUDED.price,
				currency = EXCLUDED.currency,
				details = EXCLUDED.details`,
			records[i][0], records[i][1], records[i][2], price, records[i][4], records[i][5])
		if err != nil {
			return fmt.Errorf("sync product %s: %w", records[i][0], err)
		}
	}
	return nil
}

const productColumns = "id, code, name, category, price, currency, details"

func scanProducts(rows pgx.Rows) ([]entities.Product, error) {
	defer rows.Close()
	var products []entities.Product
	for rows.Next() {
		var p entities.Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Category, &p.Price, &p.Currency, &p.Details); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *CatalogRepository) GetAll() ([]entities.Product, error) {
	rows, err := r.db.Query(context.Background(),
		"SELECT "+productColumns+" FROM products ORDER BY category, id")
	if err != nil {
		return nil, err
	}
	return scanProducts(rows)
}

func (r *CatalogRepository) GetCategories() ([]string, error) {
	rows, err := r.db.Query(context.Background(),
		"SELECT DISTINCT category FROM products ORDER BY category")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cats []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func (r *CatalogRepository) GetByCategory(category string) ([]entities.Product, error) {
	rows, err := r.db.Query(context.Background(),
		"SELECT "+productColumns+" FROM products WHERE category ILIKE $1 ORDER BY id", category)
	if err != nil {
		return nil, err
	}
	return scanProducts(rows)
}

func (r *CatalogRepository) Search(query string) ([]entities.Product, error) {
	rows, err := r.db.Query(context.Background(),
		"SELECT "+productColumns+" FROM products WHERE name ILIKE $1 OR details ILIKE $1 ORDER BY id",
		"%"+query+"%")
	if err != nil {
		return nil, err
	}
	return scanProducts(rows)
}

func (r *CatalogRepository) GetByIDs(ids []int64) ([]entities.Product, error) {
	rows, err := r.db.Query(context.Background(),
		"SELECT "+productColumns+" FROM products WHERE id = ANY($1) ORDER BY array_position($1, id)", ids)
	if err != nil {
		return nil, err
	}
	return scanProducts(rows)
}

func (r *CatalogRepository) GetCart(customerID int64) ([]entities.CartItem, error) {
	rows, err := r.db.Query(context.Background(), `
		SELECT ci.product_id, p.name, p.price, ci.quantity
		FROM cart_items ci JOIN products p ON p.id = ci.product_id
		WHERE ci.customer_id = $1 ORDER BY ci.product_id`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []entities.CartItem
	for rows.Next() {
		var it entities.CartItem
		if err := rows.Scan(&it.ProductID, &it.Name, &it.Price, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *CatalogRepository) AddToCart(customerID, productID int64, quantity int) error {
	_, err := r.db.Exec(context.Background(), `
		INSERT INTO cart_items (customer_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (customer_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`,
		customerID, productID, quantity)
	return err
}

func (r *CatalogRepository) ClearCart(customerID int64) error {
	_, err := r.db.Exec(context.Background(),
		"DELETE FROM cart_items WHERE customer_id = $1", customerID)
	return err
}

// ErrEmptyCart is returned by PlaceOrder when there is nothing to order, e.g.
// after a racing CLEAR.
var ErrEmptyCart = fmt.Errorf("cart is empty")

// PlaceOrder turns the cart into an order and clears the cart, all in one
// transaction.
func (r *CatalogRepository) PlaceOrder(customerID int64, note string) (*entities.Order, error) {
	items, err := r.GetCart(customerID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	total := 0.0
	for _, it := range items {
		total += it.Price * float64(it.Quantity)
	}

	raw, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	order := &entities.Order{CustomerID: customerID, Items: items, Total: total, Note: note, Status: "placed"}
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (customer_id, items, total, note)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		customerID, raw, total, note).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM cart_items WHERE customer_id = $1", customerID); err != nil {
		return nil, fmt.Errorf("clear cart: %w", err)
	}

	return order, tx.Commit(ctx)
}

func (r *CatalogRepository) ListOrders(customerID int64) ([]entities.Order, error) {
	rows, err := r.db.Query(context.Background(), `
		SELECT id, customer_id, items, total, note, status, created_at
		FROM orders WHERE customer_id = $1 ORDER BY created_at DESC`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entities.Order
	for rows.Next() {
		var o entities.Order
		var raw []byte
		if err := rows.Scan(&o.ID, &o.CustomerID, &raw, &o.Total, &o.Note, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &o.Items); err != nil {
			return nil, fmt.Errorf("decode order items: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *CatalogRepository) GetOrder(customerID, orderID int64) (*entities.Order, error) {
	var o entities.Order
	var raw []byte
	err := r.db.QueryRow(context.Background(), `
		SELECT id, customer_id, items, total, note, status, created_at
		FROM orders WHERE id = $1 AND customer_id = $2`, orderID, customerID).Scan(
		&o.ID, &o.CustomerID, &raw, &o.Total, &o.Note, &o.Status, &o.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &o.Items); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}
	return &o, nil
}
