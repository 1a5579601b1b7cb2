package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bharathbbg/delivery-confirmation-service/internal/config"
	"github.com/bharathbbg/delivery-confirmation-service/internal/model"
	"github.com/lib/pq" // also registers the "postgres" driver for database/sql
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const uniqueViolation = "23505"

// ErrDuplicate is returned when an insert collides with an existing order id or scan token.
var ErrDuplicate = errors.New("duplicate delivery")

// DeliveredUpdate carries the fields written when a delivery is confirmed.
type DeliveredUpdate struct {
	// ScanToken is the token the confirmation was checked against; a reset in between voids it.
	ScanToken   string
	ConfirmedAt time.Time
	ConfirmedBy string
	Location    *model.Location
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(config config.DatabaseConfig) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, err
	}
	if config.MaxConns > 0 {
		db.SetMaxOpenConns(config.MaxConns)
		db.SetMaxIdleConns(config.MaxConns / 2)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &PostgresRepository{db: db}, nil
}

// NewPostgresRepositoryFromDB wraps an already opened handle.
func NewPostgresRepositoryFromDB(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RunMigrations applies the embedded SQL files in lexical order. Every file is idempotent.
func (r *PostgresRepository) RunMigrations(ctx context.Context) ([]string, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := r.db.ExecContext(ctx, string(raw)); err != nil {
			return nil, fmt.Errorf("exec migration %s: %w", name, err)
		}
	}
	return names, nil
}

const deliveryColumns = `
	id, order_id, buyer_id, product_name, buyer_name, buyer_phone,
	scan_token, secret, status, expires_at, confirmed_at, confirmed_by,
	confirm_latitude, confirm_longitude, confirm_accuracy, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row rowScanner) (*model.Delivery, error) {
	var delivery model.Delivery
	var confirmedAt sql.NullTime
	var confirmedBy sql.NullString
	var lat, lng, accuracy sql.NullFloat64

	err := row.Scan(
		&delivery.ID, &delivery.OrderID, &delivery.BuyerID, &delivery.ProductName,
		&delivery.BuyerName, &delivery.BuyerPhone, &delivery.ScanToken, &delivery.Secret,
		&delivery.Status, &delivery.ExpiresAt, &confirmedAt, &confirmedBy,
		&lat, &lng, &accuracy, &delivery.CreatedAt, &delivery.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Handle nullable fields
	if confirmedAt.Valid {
		t := confirmedAt.Time
		delivery.ConfirmedAt = &t
	}
	delivery.ConfirmedBy = confirmedBy.String
	delivery.ConfirmLocation = locationFromNulls(lat, lng, accuracy)

	return &delivery, nil
}

func locationFromNulls(lat, lng, accuracy sql.NullFloat64) *model.Location {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &model.Location{Latitude: lat.Float64, Longitude: lng.Float64, Accuracy: accuracy.Float64}
}

func locationArgs(loc *model.Location) (any, any, any) {
	if loc == nil {
		return nil, nil, nil
	}
	return loc.Latitude, loc.Longitude, loc.Accuracy
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, exec execer, event *model.DeliveryEvent) error {
	lat, lng, accuracy := locationArgs(event.Location)
	query := `
		INSERT INTO delivery_events (
			id, delivery_id, type, actor_id, latitude, longitude, accuracy, description, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := exec.ExecContext(ctx, query,
		event.ID, event.DeliveryID, string(event.Type), event.ActorID,
		lat, lng, accuracy, event.Description, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("error creating delivery event: %w", err)
	}
	return nil
}

// CreateDelivery inserts the record and its issuance event in one transaction.
func (r *PostgresRepository) CreateDelivery(ctx context.Context, delivery *model.Delivery, event *model.DeliveryEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO deliveries (
			id, order_id, buyer_id, product_name, buyer_name, buyer_phone,
			scan_token, secret, status, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = tx.ExecContext(ctx, query,
		delivery.ID, delivery.OrderID, delivery.BuyerID, delivery.ProductName,
		delivery.BuyerName, delivery.BuyerPhone, delivery.ScanToken, delivery.Secret,
		string(delivery.Status), delivery.ExpiresAt, delivery.CreatedAt, delivery.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
		}
		return fmt.Errorf("error creating delivery: %w", err)
	}

	if err := registerToken(ctx, tx, delivery.ScanToken, delivery.ID, delivery.CreatedAt); err != nil {
		return err
	}

	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}

	return tx.Commit()
}

// registerToken claims token in issued_scan_tokens. A token that was ever issued, live or
// retired, fails with ErrDuplicate.
func registerToken(ctx context.Context, tx *sql.Tx, token, deliveryID string, issuedAt time.Time) error {
	query := `INSERT INTO issued_scan_tokens (scan_token, delivery_id, issued_at) VALUES ($1, $2, $3)`
	if _, err := tx.ExecContext(ctx, query, token, deliveryID, issuedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
		}
		return fmt.Errorf("error registering scan token: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByOrderID(ctx context.Context, orderID string) (*model.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE order_id = $1`
	return r.getOne(ctx, query, orderID)
}

func (r *PostgresRepository) GetByScanToken(ctx context.Context, token string) (*model.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE scan_token = $1`
	return r.getOne(ctx, query, token)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*model.Delivery, error) {
	delivery, err := scanDelivery(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No delivery found
		}
		return nil, err
	}
	return delivery, nil
}

func (r *PostgresRepository) ListByBuyer(ctx context.Context, buyerID string, page, pageSize int) ([]*model.Delivery, int, error) {
	// Count total matching deliveries
	countQuery := `SELECT COUNT(*) FROM deliveries WHERE buyer_id = $1`

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, buyerID).Scan(&total); err != nil {
		return nil, 0, err
	}

	if total == 0 {
		return []*model.Delivery{}, 0, nil
	}

	offset := (page - 1) * pageSize

	query := `
		SELECT ` + deliveryColumns + `
		FROM deliveries
		WHERE buyer_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, buyerID, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	deliveries := make([]*model.Delivery, 0, pageSize)
	for rows.Next() {
		delivery, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, err
		}
		deliveries = append(deliveries, delivery)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, err
	}

	return deliveries, total, nil
}

// ResetCredential replaces an expired, undelivered credential pair. The old token is moved to
// retired_scan_tokens. It reports false when the record is delivered or still live.
func (r *PostgresRepository) ResetCredential(ctx context.Context, id, token, secret string, expiresAt, now time.Time, event *model.DeliveryEvent) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	// Concurrent resets serialize on the row lock. The later one sees the fresh expiry.
	var (
		current   string
		status    string
		expiresOn time.Time
	)
	lockQuery := `SELECT scan_token, status, expires_at FROM deliveries WHERE id = $1 FOR UPDATE`
	if err := tx.QueryRowContext(ctx, lockQuery, id).Scan(&current, &status, &expiresOn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("error locking delivery: %w", err)
	}
	if model.DeliveryStatus(status) == model.StatusDelivered || !expiresOn.Before(now) {
		return false, nil
	}

	retireQuery := `
		INSERT INTO retired_scan_tokens (scan_token, delivery_id, retired_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (scan_token) DO NOTHING`
	if _, err := tx.ExecContext(ctx, retireQuery, current, id, now); err != nil {
		return false, fmt.Errorf("error retiring scan token: %w", err)
	}

	if err := registerToken(ctx, tx, token, id, now); err != nil {
		return false, err
	}

	updateQuery := `
		UPDATE deliveries
		SET scan_token = $2, secret = $3, expires_at = $4, updated_at = $5
		WHERE id = $1`
	if _, err := tx.ExecContext(ctx, updateQuery, id, token, secret, expiresAt, now); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return false, fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
		}
		return false, fmt.Errorf("error resetting credential: %w", err)
	}

	if err := insertEvent(ctx, tx, event); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// MarkShipped moves a pending delivery to shipped.
func (r *PostgresRepository) MarkShipped(ctx context.Context, id string, now time.Time, event *model.DeliveryEvent) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	query := `
		UPDATE deliveries
		SET status = 'shipped', updated_at = $2
		WHERE id = $1 AND status = 'pending'`

	res, err := tx.ExecContext(ctx, query, id, now)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}

	if err := insertEvent(ctx, tx, event); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// MarkDelivered is the compare-and-swap at the heart of confirmation: the row only changes while
// it is undelivered, unexpired and still carries the checked token, so at most one caller ever sees true.
func (r *PostgresRepository) MarkDelivered(ctx context.Context, id string, upd DeliveredUpdate, event *model.DeliveryEvent) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	lat, lng, accuracy := locationArgs(upd.Location)
	query := `
		UPDATE deliveries
		SET status = 'delivered', confirmed_at = $2, confirmed_by = $3,
			confirm_latitude = $4, confirm_longitude = $5, confirm_accuracy = $6, updated_at = $2
		WHERE id = $1 AND status <> 'delivered' AND expires_at >= $2 AND scan_token = $7`

	res, err := tx.ExecContext(ctx, query, id, upd.ConfirmedAt, upd.ConfirmedBy, lat, lng, accuracy, upd.ScanToken)
	if err != nil {
		return false, fmt.Errorf("error confirming delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if err := insertEvent(ctx, tx, event); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *PostgresRepository) AppendEvent(ctx context.Context, event *model.DeliveryEvent) error {
	return insertEvent(ctx, r.db, event)
}

func (r *PostgresRepository) ListEvents(ctx context.Context, deliveryID string) ([]*model.DeliveryEvent, error) {
	query := `
		SELECT id, delivery_id, type, actor_id, latitude, longitude, accuracy, description, timestamp
		FROM delivery_events
		WHERE delivery_id = $1
		ORDER BY timestamp ASC`

	rows, err := r.db.QueryContext(ctx, query, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.DeliveryEvent
	for rows.Next() {
		var event model.DeliveryEvent
		var lat, lng, accuracy sql.NullFloat64
		err := rows.Scan(
			&event.ID, &event.DeliveryID, &event.Type, &event.ActorID,
			&lat, &lng, &accuracy, &event.Description, &event.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		event.Location = locationFromNulls(lat, lng, accuracy)
		events = append(events, &event)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}
