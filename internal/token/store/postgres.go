package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"bharosa/internal/sentinel"
	"bharosa/internal/token/models"
	"bharosa/pkg/domain"
)

// Postgres persists the token ledger in PostgreSQL. Each mutating method
// runs one transaction covering the balance update, the hold mutation, and
// the ledger append.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed token ledger store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Balance returns the member's cached balance, zero-valued if unknown.
func (s *Postgres) Balance(ctx context.Context, memberID domain.MemberID) (models.Balance, error) {
	query := `
		SELECT available, staked, pending_rewards
		FROM saathi_balances
		WHERE member_id = $1
	`
	b := models.Balance{MemberID: memberID}
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(memberID)).
		Scan(&b.Available, &b.Staked, &b.PendingRewards)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, nil
		}
		return models.Balance{}, fmt.Errorf("load balance: %w", err)
	}
	return b, nil
}

// CreditAvailable adds to available and appends the ledger entry.
func (s *Postgres) CreditAvailable(ctx context.Context, tx *models.Transaction) error {
	return s.inTx(ctx, func(dbtx *sql.Tx) error {
		if err := upsertAvailable(ctx, dbtx, tx.MemberID, int64(tx.Amount)); err != nil {
			return err
		}
		return appendTx(ctx, dbtx, tx)
	})
}

// DebitAvailable subtracts from available, failing when the balance cannot cover it.
func (s *Postgres) DebitAvailable(ctx context.Context, tx *models.Transaction) error {
	return s.inTx(ctx, func(dbtx *sql.Tx) error {
		res, err := dbtx.ExecContext(ctx, `
			UPDATE saathi_balances
			SET available = available - $2
			WHERE member_id = $1 AND available >= $2
		`, uuid.UUID(tx.MemberID), int64(tx.Amount))
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sentinel.ErrInsufficient
		}
		return appendTx(ctx, dbtx, tx)
	})
}

// CreateHold moves stake from available to staked, records the hold, and
// appends the stake transaction.
func (s *Postgres) CreateHold(ctx context.Context, hold *models.Hold, tx *models.Transaction) error {
	return s.inTx(ctx, func(dbtx *sql.Tx) error {
		res, err := dbtx.ExecContext(ctx, `
			UPDATE saathi_balances
			SET available = available - $2, staked = staked + $2
			WHERE member_id = $1 AND available >= $2
		`, uuid.UUID(hold.MemberID), int64(hold.Amount))
		if err != nil {
			return fmt.Errorf("move stake: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sentinel.ErrInsufficient
		}
		_, err = dbtx.ExecContext(ctx, `
			INSERT INTO saathi_holds (id, member_id, amount, remaining, reason, released, created_at)
			VALUES ($1, $2, $3, $4, $5, false, $6)
		`, uuid.UUID(hold.ID), uuid.UUID(hold.MemberID), int64(hold.Amount), int64(hold.Remaining), hold.Reason, hold.CreatedAt)
		if err != nil {
			return fmt.Errorf("create hold: %w", err)
		}
		return appendTx(ctx, dbtx, tx)
	})
}

// FindHold retrieves a hold by ID.
func (s *Postgres) FindHold(ctx context.Context, holdID domain.HoldID) (*models.Hold, error) {
	query := `
		SELECT id, member_id, amount, remaining, reason, released, created_at
		FROM saathi_holds
		WHERE id = $1
	`
	var (
		h         models.Hold
		hid, mid  uuid.UUID
		amt, rem  int64
	)
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(holdID)).
		Scan(&hid, &mid, &amt, &rem, &h.Reason, &h.Released, &h.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find hold: %w", err)
	}
	h.ID = domain.HoldID(hid)
	h.MemberID = domain.MemberID(mid)
	h.Amount = domain.Saathi(amt)
	h.Remaining = domain.Saathi(rem)
	return &h, nil
}

// ReleaseHold returns the remaining stake to available and appends the
// unstake transaction.
func (s *Postgres) ReleaseHold(ctx context.Context, holdID domain.HoldID, tx *models.Transaction) (domain.Saathi, error) {
	var released int64
	err := s.inTx(ctx, func(dbtx *sql.Tx) error {
		var memberID uuid.UUID
		err := dbtx.QueryRowContext(ctx, `
			UPDATE saathi_holds
			SET remaining = 0, released = true
			WHERE id = $1 AND NOT released
			RETURNING member_id, (SELECT remaining FROM saathi_holds WHERE id = $1)
		`, uuid.UUID(holdID)).Scan(&memberID, &released)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("hold already released: %w", sentinel.ErrInvalidState)
			}
			return fmt.Errorf("release hold: %w", err)
		}
		_, err = dbtx.ExecContext(ctx, `
			UPDATE saathi_balances
			SET staked = staked - $2, available = available + $2
			WHERE member_id = $1
		`, memberID, released)
		if err != nil {
			return fmt.Errorf("return stake: %w", err)
		}
		tx.Amount = domain.Saathi(released)
		return appendTx(ctx, dbtx, tx)
	})
	if err != nil {
		return 0, err
	}
	return domain.Saathi(released), nil
}

// BurnHold permanently removes the amount from the hold and the staked balance.
func (s *Postgres) BurnHold(ctx context.Context, holdID domain.HoldID, amount domain.Saathi, tx *models.Transaction) error {
	return s.inTx(ctx, func(dbtx *sql.Tx) error {
		var memberID uuid.UUID
		var remaining int64
		err := dbtx.QueryRowContext(ctx, `
			UPDATE saathi_holds
			SET remaining = remaining - $2,
			    released = (remaining - $2 = 0)
			WHERE id = $1 AND NOT released AND remaining >= $2
			RETURNING member_id, remaining
		`, uuid.UUID(holdID), int64(amount)).Scan(&memberID, &remaining)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("hold cannot cover slash: %w", sentinel.ErrInvalidState)
			}
			return fmt.Errorf("burn hold: %w", err)
		}
		_, err = dbtx.ExecContext(ctx, `
			UPDATE saathi_balances
			SET staked = staked - $2
			WHERE member_id = $1
		`, memberID, int64(amount))
		if err != nil {
			return fmt.Errorf("burn stake: %w", err)
		}
		return appendTx(ctx, dbtx, tx)
	})
}

// AccruePending adds to the member's provisional reward pot.
func (s *Postgres) AccruePending(ctx context.Context, memberID domain.MemberID, amount domain.Saathi) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saathi_balances (member_id, available, staked, pending_rewards)
		VALUES ($1, 0, 0, $2)
		ON CONFLICT (member_id)
		DO UPDATE SET pending_rewards = saathi_balances.pending_rewards + $2
	`, uuid.UUID(memberID), int64(amount))
	if err != nil {
		return fmt.Errorf("accrue pending: %w", err)
	}
	return nil
}

// SettlePending zeroes the pending pot; with a non-nil transaction the pot
// moves to available and the ledger entry is appended.
func (s *Postgres) SettlePending(ctx context.Context, memberID domain.MemberID, tx *models.Transaction) (domain.Saathi, error) {
	var pending int64
	err := s.inTx(ctx, func(dbtx *sql.Tx) error {
		realize := tx != nil
		err := dbtx.QueryRowContext(ctx, `
			UPDATE saathi_balances
			SET pending_rewards = 0,
			    available = available + CASE WHEN $2 THEN pending_rewards ELSE 0 END
			WHERE member_id = $1
			RETURNING (SELECT pending_rewards FROM saathi_balances WHERE member_id = $1)
		`, uuid.UUID(memberID), realize).Scan(&pending)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				pending = 0
				return nil
			}
			return fmt.Errorf("settle pending: %w", err)
		}
		if realize && pending > 0 {
			tx.Amount = domain.Saathi(pending)
			return appendTx(ctx, dbtx, tx)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return domain.Saathi(pending), nil
}

// History returns the member's ledger entries, most recent first.
func (s *Postgres) History(ctx context.Context, memberID domain.MemberID, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, member_id, type, amount, description, created_at
		FROM saathi_transactions
		WHERE member_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, uuid.UUID(memberID), limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []models.Transaction
	for rows.Next() {
		var (
			t        models.Transaction
			mid      uuid.UUID
			typ      string
			amount   int64
		)
		if err := rows.Scan(&t.ID, &mid, &typ, &amount, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.MemberID = domain.MemberID(mid)
		t.Type = models.TxType(typ)
		t.Amount = domain.Saathi(amount)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Postgres) inTx(ctx context.Context, fn func(dbtx *sql.Tx) error) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = dbtx.Rollback() //nolint:errcheck // rollback after commit is no-op
	}()
	if err := fn(dbtx); err != nil {
		return err
	}
	return dbtx.Commit()
}

func upsertAvailable(ctx context.Context, dbtx *sql.Tx, memberID domain.MemberID, delta int64) error {
	_, err := dbtx.ExecContext(ctx, `
		INSERT INTO saathi_balances (member_id, available, staked, pending_rewards)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT (member_id)
		DO UPDATE SET available = saathi_balances.available + $2
	`, uuid.UUID(memberID), delta)
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	return nil
}

func appendTx(ctx context.Context, dbtx *sql.Tx, tx *models.Transaction) error {
	_, err := dbtx.ExecContext(ctx, `
		INSERT INTO saathi_transactions (id, member_id, type, amount, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, tx.ID, uuid.UUID(tx.MemberID), string(tx.Type), int64(tx.Amount), tx.Description, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}
