package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"bharosa/internal/sentinel"
	"bharosa/internal/vouch/models"
	"bharosa/pkg/domain"
)

// Postgres persists vouches and loan locks in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed vouch store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Create records a vouch. A partial unique index on active rows enforces one
// active vouch per (voucher, vouchee, circle).
func (s *Postgres) Create(ctx context.Context, v *models.Vouch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vouches (id, voucher_id, vouchee_id, circle_id, level, stake, hold_id, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true, $8)
	`, uuid.UUID(v.ID), uuid.UUID(v.VoucherID), uuid.UUID(v.VoucheeID), uuid.UUID(v.CircleID),
		string(v.Level), int64(v.Stake), uuid.UUID(v.HoldID), v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("active vouch exists: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create vouch: %w", err)
	}
	return nil
}

// FindByID retrieves a vouch by ID.
func (s *Postgres) FindByID(ctx context.Context, vouchID domain.VouchID) (*models.Vouch, error) {
	row := s.db.QueryRowContext(ctx, selectVouch+` WHERE id = $1`, uuid.UUID(vouchID))
	v, err := scanVouch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

// ActiveByVouchee returns the active vouches backing a member.
func (s *Postgres) ActiveByVouchee(ctx context.Context, voucheeID domain.MemberID) ([]models.Vouch, error) {
	return s.list(ctx, selectVouch+` WHERE vouchee_id = $1 AND active ORDER BY created_at ASC`, uuid.UUID(voucheeID))
}

// ActiveByVoucher returns the active vouches a member has given.
func (s *Postgres) ActiveByVoucher(ctx context.Context, voucherID domain.MemberID) ([]models.Vouch, error) {
	return s.list(ctx, selectVouch+` WHERE voucher_id = $1 AND active ORDER BY created_at ASC`, uuid.UUID(voucherID))
}

// Deactivate marks the vouch inactive, failing if it already is.
func (s *Postgres) Deactivate(ctx context.Context, vouchID domain.VouchID, revokedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE vouches
		SET active = false, revoked_at = $2
		WHERE id = $1 AND active
	`, uuid.UUID(vouchID), revokedAt)
	if err != nil {
		return fmt.Errorf("deactivate vouch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM vouches WHERE id = $1)
		`, uuid.UUID(vouchID)).Scan(&exists); err != nil {
			return fmt.Errorf("check vouch: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("vouch already inactive: %w", sentinel.ErrInvalidState)
	}
	return nil
}

// LockForLoan records which vouches a loan's approval counted.
func (s *Postgres) LockForLoan(ctx context.Context, locks []models.LoanLock) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = dbtx.Rollback() //nolint:errcheck // rollback after commit is no-op
	}()
	for _, l := range locks {
		_, err := dbtx.ExecContext(ctx, `
			INSERT INTO vouch_locks (loan_id, vouch_id, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (loan_id, vouch_id) DO NOTHING
		`, uuid.UUID(l.LoanID), uuid.UUID(l.VouchID), l.CreatedAt)
		if err != nil {
			return fmt.Errorf("lock vouch: %w", err)
		}
	}
	return dbtx.Commit()
}

// LocksFor returns the vouches locked to a loan.
func (s *Postgres) LocksFor(ctx context.Context, loanID domain.LoanID) ([]models.LoanLock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT loan_id, vouch_id, created_at
		FROM vouch_locks
		WHERE loan_id = $1
		ORDER BY created_at ASC
	`, uuid.UUID(loanID))
	if err != nil {
		return nil, fmt.Errorf("load locks: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []models.LoanLock
	for rows.Next() {
		var (
			l        models.LoanLock
			lid, vid uuid.UUID
		)
		if err := rows.Scan(&lid, &vid, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		l.LoanID = domain.LoanID(lid)
		l.VouchID = domain.VouchID(vid)
		out = append(out, l)
	}
	return out, rows.Err()
}

// ReleaseLoan removes every lock held by the loan.
func (s *Postgres) ReleaseLoan(ctx context.Context, loanID domain.LoanID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM vouch_locks WHERE loan_id = $1
	`, uuid.UUID(loanID))
	if err != nil {
		return fmt.Errorf("release locks: %w", err)
	}
	return nil
}

// IsLocked reports whether any loan still depends on the vouch.
func (s *Postgres) IsLocked(ctx context.Context, vouchID domain.VouchID) (bool, error) {
	var locked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM vouch_locks WHERE vouch_id = $1)
	`, uuid.UUID(vouchID)).Scan(&locked)
	if err != nil {
		return false, fmt.Errorf("check locks: %w", err)
	}
	return locked, nil
}

const selectVouch = `
	SELECT id, voucher_id, vouchee_id, circle_id, level, stake, hold_id, active, created_at, revoked_at
	FROM vouches`

func (s *Postgres) list(ctx context.Context, query string, arg any) ([]models.Vouch, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("load vouches: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []models.Vouch
	for rows.Next() {
		v, err := scanVouch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVouch(row rowScanner) (*models.Vouch, error) {
	var (
		v                  models.Vouch
		id, vr, ve, ci, ho uuid.UUID
		level              string
		stake              int64
		revokedAt          sql.NullTime
	)
	if err := row.Scan(&id, &vr, &ve, &ci, &level, &stake, &ho, &v.Active, &v.CreatedAt, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan vouch: %w", err)
	}
	v.ID = domain.VouchID(id)
	v.VoucherID = domain.MemberID(vr)
	v.VoucheeID = domain.MemberID(ve)
	v.CircleID = domain.CircleID(ci)
	v.HoldID = domain.HoldID(ho)
	v.Level = models.Level(level)
	v.Stake = domain.Saathi(stake)
	if revokedAt.Valid {
		t := revokedAt.Time
		v.RevokedAt = &t
	}
	return &v, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
