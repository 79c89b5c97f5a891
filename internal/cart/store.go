package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kreezus/yengapay-gateway/internal/common"
)

// ErrNotFound is returned when the cart id does not resolve.
var ErrNotFound = errors.New("cart: not found")

// Store reads cart snapshots from Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a cart store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Snapshot loads the cart and its line items in one consistent read.
func (s *Store) Snapshot(ctx context.Context, cartID uuid.UUID) (Snapshot, error) {
	if s == nil || s.pool == nil {
		return Snapshot{}, errors.New("cart: store not configured")
	}

	var (
		id       pgtype.UUID
		snapshot Snapshot
	)
	row := s.pool.QueryRow(ctx, `
		SELECT id, customer_id, delivery_address_id, invoice_address_id, currency
		FROM carts
		WHERE id = $1`, cartID)
	if err := row.Scan(&id, &snapshot.CustomerID, &snapshot.DeliveryAddressID,
		&snapshot.InvoiceAddressID, &snapshot.Currency); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, common.NewAppError(common.CodeNotFound, "cart not found", http.StatusNotFound, ErrNotFound)
		}
		return Snapshot{}, fmt.Errorf("load cart: %w", err)
	}
	snapshot.ID = uuid.UUID(id.Bytes)

	rows, err := s.pool.Query(ctx, `
		SELECT title, description, image_urls, unit_price, qty, line_total
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY position`, cartID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item      Item
			titleJSON []byte
			descJSON  []byte
		)
		if err := rows.Scan(&titleJSON, &descJSON, &item.Images, &item.UnitPrice, &item.Qty, &item.LineTotal); err != nil {
			return Snapshot{}, fmt.Errorf("scan cart item: %w", err)
		}
		if len(titleJSON) > 0 {
			if err := json.Unmarshal(titleJSON, &item.Title); err != nil {
				return Snapshot{}, fmt.Errorf("decode item title: %w", err)
			}
		}
		if len(descJSON) > 0 {
			if err := json.Unmarshal(descJSON, &item.Description); err != nil {
				return Snapshot{}, fmt.Errorf("decode item description: %w", err)
			}
		}
		snapshot.Items = append(snapshot.Items, item)
		snapshot.Total += item.LineTotal
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterate cart items: %w", err)
	}
	return snapshot, nil
}
