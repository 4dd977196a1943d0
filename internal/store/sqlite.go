package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the local state in a SQLite database file. This is
// the default backend: a single on-device file that needs no server.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens the SQLite database at the given path.
func NewSQLite(ctx context.Context, databasePath string, logger *slog.Logger) (*SQLiteStore, error) {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}

	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	// Busy timeout and WAL keep the single-writer session record safe when
	// the poller and payment flow touch the store around the same time.
	dsn = fmt.Sprintf("%s%s_pragma=busy_timeout=10000&_pragma=journal_mode=WAL&_pragma=foreign_keys=ON", dsn, sep)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store_sqlite"),
	}, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// Ping ensures the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunMigrations applies the SQLite schema from the embedded filesystem.
func (s *SQLiteStore) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return applyMigrations(filesystem, "sqlite", func(stmt string) error {
		_, err := s.db.ExecContext(ctx, stmt)
		return err
	})
}

// LoadSession returns the stored session, or nil when no user is signed in.
func (s *SQLiteStore) LoadSession(ctx context.Context) (*Session, error) {
	const q = `
SELECT phone_number, auth_token, raw_payload, created_at
FROM sessions
WHERE record_key = ?;
`
	row := s.db.QueryRowContext(ctx, q, SessionRecordKey)

	var (
		sess Session
		raw  sql.NullString
	)
	if err := row.Scan(&sess.PhoneNumber, &sess.AuthToken, &raw, &sess.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if raw.Valid {
		sess.Raw = []byte(raw.String)
	}
	return &sess, nil
}

// SaveSession writes the session record, replacing any previous one.
func (s *SQLiteStore) SaveSession(ctx context.Context, session Session) error {
	const q = `
INSERT INTO sessions (record_key, phone_number, auth_token, raw_payload, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (record_key) DO UPDATE SET
    phone_number = excluded.phone_number,
    auth_token = excluded.auth_token,
    raw_payload = excluded.raw_payload,
    created_at = excluded.created_at,
    updated_at = CURRENT_TIMESTAMP;
`
	created := session.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, q,
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
// an error, so sign-out cannot fail.
func (s *SQLiteStore) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE record_key = ?;`, SessionRecordKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// SavePendingReceipt journals a gateway charge that still needs backend
// reconciliation. Saving the same receipt twice is a no-op.
func (s *SQLiteStore) SavePendingReceipt(ctx context.Context, receipt PendingReceipt) error {
	const q = `
INSERT INTO pending_receipts (gateway_payment_id, gateway_order_id, scheme_code, amount_minor_units, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (gateway_payment_id) DO NOTHING;
`
	created := receipt.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, q,
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
func (s *SQLiteStore) ListPendingReceipts(ctx context.Context) ([]PendingReceipt, error) {
	const q = `
SELECT gateway_payment_id, gateway_order_id, scheme_code, amount_minor_units, created_at
FROM pending_receipts
ORDER BY created_at ASC;
`
	rows, err := s.db.QueryContext(ctx, q)
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
func (s *SQLiteStore) DeletePendingReceipt(ctx context.Context, gatewayPaymentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_receipts WHERE gateway_payment_id = ?;`, gatewayPaymentID); err != nil {
		return fmt.Errorf("delete pending receipt: %w", err)
	}
	return nil
}

func nullableText(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
