package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the local state in Postgres. It serves headless
// deployments of the client that share managed infrastructure instead of a
// device filesystem; the contract is identical to the SQLite backend.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres opens a connection pool to the database.
func NewPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: logger.With("component", "store_postgres"),
	}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunMigrations applies the Postgres schema from the embedded filesystem.
func (s *PostgresStore) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return applyMigrations(filesystem, "postgres", func(stmt string) error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, stmt)
			return err
		})
	})
}

// LoadSession returns the stored session, or nil when no user is signed in.
func (s *PostgresStore) LoadSession(ctx context.Context) (*Session, error) {
	const q = `
SELECT phone_number, auth_token, raw_payload, created_at
FROM sessions
WHERE record_key = $1;
`
	row := s.pool.QueryRow(ctx, q, SessionRecordKey)

	var (
		sess Session
		raw  *string
	)
	if err := row.Scan(&sess.PhoneNumber, &sess.AuthToken, &raw, &sess.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if raw != nil {
		sess.Raw = []byte(*raw)
	}
	return &sess, nil
}

// SaveSession writes the session record, replacing any previous one.
func (s *PostgresStore) SaveSession(ctx context.Context, session Session) error {
	const q = `
INSERT INTO sessions (record_key, phone_number, auth_token, raw_payload, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (record_key) DO UPDATE SET
    phone_number = EXCLUDED.phone_number,
    auth_token = EXCLUDED.auth_token,
    raw_payload = EXCLUDED.raw_payload,
    created_at = EXCLUDED.created_at,
    updated_at = NOW();
`
	created := session.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if _, err := s.pool.Exec(ctx, q,
		SessionRecordKey,
		session.PhoneNumber,
		session.AuthToken,
		nullableText(session.Raw),
		created,
	); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// ClearSession removes the session record. Clearing an absent record is not
// an error.
func (s *PostgresStore) ClearSession(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE record_key = $1;`, SessionRecordKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// SavePendingReceipt journals a gateway charge awaiting reconciliation.
func (s *PostgresStore) SavePendingReceipt(ctx context.Context, receipt PendingReceipt) error {
	const q = `
INSERT INTO pending_receipts (gateway_payment_id, gateway_order_id, scheme_code, amount_minor_units, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (gateway_payment_id) DO NOTHING;
`
	created := receipt.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if _, err := s.pool.Exec(ctx, q,
		receipt.GatewayPaymentID,
		receipt.GatewayOrderID,
		receipt.SchemeCode,
		receipt.AmountMinorUnits,
		created,
	); err != nil {
		return fmt.Errorf("save pending receipt: %w", err)
	}
	return nil
}

// ListPendingReceipts returns journal entries oldest first.
func (s *PostgresStore) ListPendingReceipts(ctx context.Context) ([]PendingReceipt, error) {
	const q = `
SELECT gateway_payment_id, gateway_order_id, scheme_code, amount_minor_units, created_at
FROM pending_receipts
ORDER BY created_at ASC;
`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list pending receipts: %w", err)
	}
	defer rows.Close()

	var receipts []PendingReceipt
	for rows.Next() {
		var r PendingReceipt
		if err := rows.Scan(&r.GatewayPaymentID, &r.GatewayOrderID, &r.SchemeCode, &r.AmountMinorUnits, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending receipt: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending receipts: %w", err)
	}
	return receipts, nil
}

// DeletePendingReceipt removes a reconciled journal entry.
func (s *PostgresStore) DeletePendingReceipt(ctx context.Context, gatewayPaymentID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM pending_receipts WHERE gateway_payment_id = $1;`, gatewayPaymentID); err != nil {
		return fmt.Errorf("delete pending receipt: %w", err)
	}
	return nil
}
