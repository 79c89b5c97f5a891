package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when a reference does not resolve to an order.
	ErrNotFound = errors.New("order: not found")
	// ErrStatusConflict is returned when a compare-and-set transition loses
	// against a concurrent mutation.
	ErrStatusConflict = errors.New("order: status changed concurrently")
)

// TransitionInput describes one status mutation applied from a verified
// webhook delivery: the new status, the history comment, a private note and
// an optional gateway transaction id.
type TransitionInput struct {
	OrderID       uuid.UUID
	From          Status
	To            Status
	Comment       string
	Note          string
	TransactionID string
}

// Store persists orders in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs an order store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const createRetries = 3

// Create inserts a new order in AWAITING_PAYMENT with a fresh reference and
// its first history entry. The reference is generated here so the payment
// intent can carry it before the gateway is ever called.
func (s *Store) Create(ctx context.Context, cartID uuid.UUID, currency string, total int64) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, errors.New("order: store not configured")
	}
	var lastErr error
	for attempt := 0; attempt < createRetries; attempt++ {
		reference, err := NewReference()
		if err != nil {
			return Order{}, err
		}
		ord, err := s.create(ctx, reference, cartID, currency, total)
		if err == nil {
			return ord, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			lastErr = err
			continue
		}
		return Order{}, err
	}
	return Order{}, fmt.Errorf("order: reference collision persisted: %w", lastErr)
}

func (s *Store) create(ctx context.Context, reference string, cartID uuid.UUID, currency string, total int64) (Order, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var ord Order
	var id pgtype.UUID
	row := tx.QueryRow(ctx, `
		INSERT INTO orders (reference, cart_id, status, currency, total)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		reference, cartID, StatusAwaitingPayment, currency, total)
	if err := row.Scan(&id, &ord.CreatedAt, &ord.UpdatedAt); err != nil {
		return Order{}, err
	}
	ord.ID = uuid.UUID(id.Bytes)
	ord.Reference = reference
	ord.CartID = cartID
	ord.Status = StatusAwaitingPayment
	ord.Currency = currency
	ord.Total = total

	if _, err := tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, status, comment)
		VALUES ($1, $2, $3)`,
		ord.ID, StatusAwaitingPayment, "Awaiting YengaPay payment."); err != nil {
		return Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return ord, nil
}

// GetByReference loads an order by its reference.
func (s *Store) GetByReference(ctx context.Context, reference string) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, errors.New("order: store not configured")
	}
	var (
		ord    Order
		id     pgtype.UUID
		cartID pgtype.UUID
		txID   pgtype.Text
	)
	row := s.pool.QueryRow(ctx, `
		SELECT id, reference, cart_id, status, currency, total, transaction_id, created_at, updated_at
		FROM orders
		WHERE reference = $1`, reference)
	if err := row.Scan(&id, &ord.Reference, &cartID, &ord.Status, &ord.Currency,
		&ord.Total, &txID, &ord.CreatedAt, &ord.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("load order: %w", err)
	}
	ord.ID = uuid.UUID(id.Bytes)
	ord.CartID = uuid.UUID(cartID.Bytes)
	if txID.Valid {
		ord.TransactionID = txID.String
	}
	return ord, nil
}

// Transition applies a compare-and-set status change together with its
// history entry and private note in one transaction. The WHERE clause on the
// current status makes concurrent webhook deliveries for the same order
// resolve deterministically: the loser gets ErrStatusConflict instead of
// silently overwriting.
func (s *Store) Transition(ctx context.Context, in TransitionInput) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, errors.New("order: store not configured")
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $1,
		    transaction_id = COALESCE(NULLIF($2, ''), transaction_id),
		    updated_at = now()
		WHERE id = $3 AND status = $4`,
		in.To, in.TransactionID, in.OrderID, in.From)
	if err != nil {
		return Order{}, fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Order{}, ErrStatusConflict
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, status, comment)
		VALUES ($1, $2, $3)`,
		in.OrderID, in.To, in.Comment); err != nil {
		return Order{}, fmt.Errorf("append order history: %w", err)
	}
	if in.Note != "" {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_notes (order_id, note, private)
			VALUES ($1, $2, TRUE)`,
			in.OrderID, in.Note); err != nil {
			return Order{}, fmt.Errorf("append order note: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}

	return s.getByID(ctx, in.OrderID)
}

// History returns the status changes recorded for an order, oldest first.
func (s *Store) History(ctx context.Context, orderID uuid.UUID) ([]HistoryEntry, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("order: store not configured")
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, status, comment, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			entry HistoryEntry
			id    pgtype.UUID
			oid   pgtype.UUID
		)
		if err := rows.Scan(&id, &oid, &entry.Status, &entry.Comment, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entry.ID = uuid.UUID(id.Bytes)
		entry.OrderID = uuid.UUID(oid.Bytes)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) getByID(ctx context.Context, orderID uuid.UUID) (Order, error) {
	var (
		ord    Order
		id     pgtype.UUID
		cartID pgtype.UUID
		txID   pgtype.Text
	)
	row := s.pool.QueryRow(ctx, `
		SELECT id, reference, cart_id, status, currency, total, transaction_id, created_at, updated_at
		FROM orders
		WHERE id = $1`, orderID)
	if err := row.Scan(&id, &ord.Reference, &cartID, &ord.Status, &ord.Currency,
		&ord.Total, &txID, &ord.CreatedAt, &ord.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("load order: %w", err)
	}
	ord.ID = uuid.UUID(id.Bytes)
	ord.CartID = uuid.UUID(cartID.Bytes)
	if txID.Valid {
		ord.TransactionID = txID.String
	}
	return ord, nil
}
