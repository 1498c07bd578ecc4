package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"bharosa/internal/circle/models"
	"bharosa/internal/sentinel"
	"bharosa/pkg/domain"
)

// Postgres persists circles, rosters, and pool entries in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed circle store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Create atomically records the circle and its founding admin seat,
// failing if the invite code is already taken.
func (s *Postgres) Create(ctx context.Context, c *models.Circle, admin models.Membership) error {
	return s.inTx(ctx, func(dbtx *sql.Tx) error {
		_, err := dbtx.ExecContext(ctx, `
			INSERT INTO circles (id, name, invite_code, total_pool, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.UUID(c.ID), c.Name, strings.ToUpper(c.InviteCode), int64(c.TotalPool), c.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("invite code taken: %w", sentinel.ErrAlreadyUsed)
			}
			return fmt.Errorf("create circle: %w", err)
		}
		return insertMembership(ctx, dbtx, admin)
	})
}

// FindByID retrieves a circle by its UUID.
func (s *Postgres) FindByID(ctx context.Context, circleID domain.CircleID) (*models.Circle, error) {
	return s.findOne(ctx, `
		SELECT id, name, invite_code, total_pool, created_at
		FROM circles
		WHERE id = $1
	`, uuid.UUID(circleID))
}

// FindByInviteCode retrieves a circle by invite code (case-insensitive).
func (s *Postgres) FindByInviteCode(ctx context.Context, code string) (*models.Circle, error) {
	return s.findOne(ctx, `
		SELECT id, name, invite_code, total_pool, created_at
		FROM circles
		WHERE invite_code = $1
	`, strings.ToUpper(code))
}

// AddMember appends a seat to the roster, failing if the member already sits in it.
func (s *Postgres) AddMember(ctx context.Context, m models.Membership) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM circles WHERE id = $1)
	`, uuid.UUID(m.CircleID)).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check circle: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return s.inTx(ctx, func(dbtx *sql.Tx) error {
		return insertMembership(ctx, dbtx, m)
	})
}

// Roster returns the circle's seats in join order.
func (s *Postgres) Roster(ctx context.Context, circleID domain.CircleID) ([]models.Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT circle_id, member_id, role, joined_at
		FROM circle_members
		WHERE circle_id = $1
		ORDER BY joined_at ASC
	`, uuid.UUID(circleID))
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []models.Membership
	for rows.Next() {
		var (
			m        models.Membership
			cid, mid uuid.UUID
			role     string
		)
		if err := rows.Scan(&cid, &mid, &role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		m.CircleID = domain.CircleID(cid)
		m.MemberID = domain.MemberID(mid)
		m.Role = models.Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return out, nil
}

// IsMember reports whether the member holds a seat in the circle.
func (s *Postgres) IsMember(ctx context.Context, circleID domain.CircleID, memberID domain.MemberID) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM circle_members
			WHERE circle_id = $1 AND member_id = $2
		)
	`, uuid.UUID(circleID), uuid.UUID(memberID)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return ok, nil
}

// Membership returns the member's seat in the circle.
func (s *Postgres) Membership(ctx context.Context, circleID domain.CircleID, memberID domain.MemberID) (*models.Membership, error) {
	m := models.Membership{CircleID: circleID, MemberID: memberID}
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role, joined_at
		FROM circle_members
		WHERE circle_id = $1 AND member_id = $2
	`, uuid.UUID(circleID), uuid.UUID(memberID)).Scan(&role, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("load membership: %w", err)
	}
	m.Role = models.Role(role)
	return &m, nil
}

// CirclesFor returns every circle the member belongs to.
func (s *Postgres) CirclesFor(ctx context.Context, memberID domain.MemberID) ([]models.Circle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.invite_code, c.total_pool, c.created_at
		FROM circles c
		JOIN circle_members cm ON cm.circle_id = c.id
		WHERE cm.member_id = $1
		ORDER BY cm.joined_at ASC
	`, uuid.UUID(memberID))
	if err != nil {
		return nil, fmt.Errorf("load circles: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []models.Circle
	for rows.Next() {
		c, err := scanCircle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// AddPoolEntry records a confirmed contribution and grows the pool.
// Replays of the same external reference are absorbed without double-crediting.
func (s *Postgres) AddPoolEntry(ctx context.Context, entry models.PoolEntry) (bool, error) {
	applied := false
	err := s.inTx(ctx, func(dbtx *sql.Tx) error {
		res, err := dbtx.ExecContext(ctx, `
			INSERT INTO pool_entries (circle_id, member_id, amount, external_ref, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (circle_id, external_ref) DO NOTHING
		`, uuid.UUID(entry.CircleID), uuid.UUID(entry.MemberID), int64(entry.Amount), entry.ExternalRef, entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("record contribution: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return nil
		}
		res, err = dbtx.ExecContext(ctx, `
			UPDATE circles SET total_pool = total_pool + $2 WHERE id = $1
		`, uuid.UUID(entry.CircleID), int64(entry.Amount))
		if err != nil {
			return fmt.Errorf("grow pool: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sentinel.ErrNotFound
		}
		applied = true
		return nil
	})
	return applied, err
}

// AdjustPool applies a signed delta to the pool, failing when a debit would
// push it negative.
func (s *Postgres) AdjustPool(ctx context.Context, circleID domain.CircleID, delta domain.Paise) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE circles
		SET total_pool = total_pool + $2
		WHERE id = $1 AND total_pool + $2 >= 0
	`, uuid.UUID(circleID), int64(delta))
	if err != nil {
		return fmt.Errorf("adjust pool: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM circles WHERE id = $1)
		`, uuid.UUID(circleID)).Scan(&exists); err != nil {
			return fmt.Errorf("check circle: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("pool cannot absorb %d: %w", delta, sentinel.ErrInsufficient)
	}
	return nil
}

func (s *Postgres) findOne(ctx context.Context, query string, arg any) (*models.Circle, error) {
	c, err := scanCircle(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	return c, nil
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

func insertMembership(ctx context.Context, dbtx *sql.Tx, m models.Membership) error {
	_, err := dbtx.ExecContext(ctx, `
		INSERT INTO circle_members (circle_id, member_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.UUID(m.CircleID), uuid.UUID(m.MemberID), string(m.Role), m.JoinedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("already a member: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCircle(row rowScanner) (*models.Circle, error) {
	var (
		c    models.Circle
		id   uuid.UUID
		pool int64
	)
	if err := row.Scan(&id, &c.Name, &c.InviteCode, &pool, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan circle: %w", err)
	}
	c.ID = domain.CircleID(id)
	c.TotalPool = domain.Paise(pool)
	return &c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
