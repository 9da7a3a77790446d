package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
)

var orderColumns = []string{
	"id", "user_id", "items", "total", "payment_method", "status", "paid_at",
	"wompi_reference", "paypal_order_id", "payment_details", "created_at", "updated_at",
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// PostgresOrderStore implements OrderStore using PostgreSQL.
type PostgresOrderStore struct {
	db     *sql.DB
	psql   sq.StatementBuilderType
	logger *zap.Logger
}

// NewPostgresOrderStore creates a new PostgreSQL order store.
func NewPostgresOrderStore(db *sql.DB, logger *zap.Logger) *PostgresOrderStore {
	return &PostgresOrderStore{
		db:     db,
		psql:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		logger: logger,
	}
}

func (r *PostgresOrderStore) Create(ctx context.Context, order *models.Order) error {
	r.logger.Debug("Creating order", zap.String("order_id", order.ID), zap.String("user_id", order.UserID))

	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return err
	}
	detailsJSON, err := marshalDetails(order.PaymentDetails)
	if err != nil {
		return err
	}

	query, args, err := r.psql.Insert("orders").
		Columns(orderColumns...).
		Values(
			order.ID,
			order.UserID,
			string(itemsJSON),
			order.Total,
			order.PaymentMethod,
			order.Status,
			order.PaidAt,
			nullString(order.WompiReference),
			nullString(order.PayPalOrderID),
			string(detailsJSON),
			order.CreatedAt,
			order.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.Error("Failed to create order", zap.String("order_id", order.ID), zap.Error(err))
		return err
	}

	r.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("total", order.Total.StringFixed(2)),
	)
	return nil
}

func (r *PostgresOrderStore) GetByID(ctx context.Context, id string) (*models.Order, error) {
	return r.getOne(ctx, r.db, sq.Eq{"id": id}, false)
}

func (r *PostgresOrderStore) FindByReference(ctx context.Context, reference string) (*models.Order, error) {
	if reference == "" {
		return nil, ErrNotFound
	}
	return r.getOne(ctx, r.db, sq.Eq{"wompi_reference": reference}, false)
}

func (r *PostgresOrderStore) ListByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	r.logger.Debug("Listing orders", zap.String("user_id", userID))

	query, args, err := r.psql.Select(orderColumns...).
		From("orders").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (r *PostgresOrderStore) AttachPayPalOrderID(ctx context.Context, id, paypalOrderID string) (*models.Order, error) {
	r.logger.Debug("Attaching PayPal order id",
		zap.String("order_id", id),
		zap.String("paypal_order_id", paypalOrderID),
	)

	query, args, err := r.psql.Update("orders").
		Set("paypal_order_id", paypalOrderID).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + columnList()).
		ToSql()
	if err != nil {
		return nil, err
	}

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return order, err
}

// ApplyPaymentUpdate locks the row, lets decide compute the update and
// writes it with a single UPDATE. JSON parameters are sent as text because
// lib/pq encodes []byte as bytea. payment_details is merged key by key with
// the jsonb concatenation operator; paid_at keeps an existing value when the
// update sets one.
func (r *PostgresOrderStore) ApplyPaymentUpdate(ctx context.Context, id string, decide PaymentDecider) (models.OrderStatus, *models.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, err
	}
	defer tx.Rollback()

	current, err := r.getOne(ctx, tx, sq.Eq{"id": id}, true)
	if err != nil {
		return "", nil, err
	}

	update, err := decide(current.Clone())
	if err != nil {
		return "", nil, err
	}

	query, args, err := r.paymentUpdateQuery(id, update)
	if err != nil {
		return "", nil, err
	}

	updated, err := scanOrder(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		r.logger.Error("Failed to apply payment update", zap.String("order_id", id), zap.Error(err))
		return "", nil, err
	}

	if err := tx.Commit(); err != nil {
		return "", nil, err
	}

	r.logger.Info("Payment update applied",
		zap.String("order_id", id),
		zap.String("previous_status", string(current.Status)),
		zap.String("status", string(updated.Status)),
	)
	return current.Status, updated, nil
}

func (r *PostgresOrderStore) paymentUpdateQuery(id string, update models.PaymentUpdate) (string, []interface{}, error) {
	detailsJSON, err := marshalDetails(update.Details)
	if err != nil {
		return "", nil, err
	}

	builder := r.psql.Update("orders").
		Set("status", update.Status).
		Set("paid_at", sq.Expr("CASE WHEN ?::timestamptz IS NULL THEN NULL ELSE COALESCE(paid_at, ?::timestamptz) END", update.PaidAt, update.PaidAt)).
		Set("payment_details", sq.Expr("payment_details || ?::jsonb", string(detailsJSON))).
		Set("updated_at", update.At)
	if update.WompiReference != "" {
		builder = builder.Set("wompi_reference", update.WompiReference)
	}

	return builder.
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + columnList()).
		ToSql()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (r *PostgresOrderStore) getOne(ctx context.Context, q queryRower, where sq.Eq, forUpdate bool) (*models.Order, error) {
	builder := r.psql.Select(orderColumns...).From("orders").Where(where).Limit(1)
	if forUpdate {
		builder = builder.Suffix("FOR UPDATE")
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	order, err := scanOrder(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to fetch order", zap.Any("filter", where), zap.Error(err))
		return nil, err
	}
	return order, nil
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var order models.Order
	var itemsJSON, detailsJSON []byte
	var paidAt sql.NullTime
	var wompiReference, paypalOrderID sql.NullString

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&itemsJSON,
		&order.Total,
		&order.PaymentMethod,
		&order.Status,
		&paidAt,
		&wompiReference,
		&paypalOrderID,
		&detailsJSON,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	order.PaymentDetails = models.PaymentDetails{}
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &order.PaymentDetails); err != nil {
			return nil, fmt.Errorf("decode payment details: %w", err)
		}
	}
	if paidAt.Valid {
		t := paidAt.Time
		order.PaidAt = &t
	}
	order.WompiReference = wompiReference.String
	order.PayPalOrderID = paypalOrderID.String

	return &order, nil
}

func marshalDetails(d models.PaymentDetails) ([]byte, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func columnList() string {
	return strings.Join(orderColumns, ", ")
}
