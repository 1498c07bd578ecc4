package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"bharosa/internal/member/models"
	"bharosa/internal/sentinel"
	"bharosa/pkg/domain"
)

const selectMember = `
	SELECT id, phone, name, pin_hash, trust_score, diary_entries, score_updated_at, created_at
	FROM members
`

// Postgres persists member records in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed member store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Create records a new member, failing if the phone number is already registered.
func (s *Postgres) Create(ctx context.Context, m *models.Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (id, phone, name, pin_hash, trust_score, diary_entries, score_updated_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.UUID(m.ID), m.Phone, m.Name, m.PINHash, m.TrustScore, m.DiaryEntries, m.ScoreUpdatedAt, m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("phone registered: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create member: %w", err)
	}
	return nil
}

// FindByID retrieves a member by UUID.
func (s *Postgres) FindByID(ctx context.Context, memberID domain.MemberID) (*models.Member, error) {
	return s.findOne(ctx, selectMember+`WHERE id = $1`, uuid.UUID(memberID))
}

// FindByPhone retrieves a member by phone number.
func (s *Postgres) FindByPhone(ctx context.Context, phone string) (*models.Member, error) {
	return s.findOne(ctx, selectMember+`WHERE phone = $1`, phone)
}

// SaveScore caches a freshly computed trust score on the member record.
func (s *Postgres) SaveScore(ctx context.Context, memberID domain.MemberID, score int, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE members SET trust_score = $2, score_updated_at = $3 WHERE id = $1
	`, uuid.UUID(memberID), score, at)
	if err != nil {
		return fmt.Errorf("save score: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// IncrementDiary bumps the financial diary counter and returns the new count.
func (s *Postgres) IncrementDiary(ctx context.Context, memberID domain.MemberID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE members SET diary_entries = diary_entries + 1
		WHERE id = $1
		RETURNING diary_entries
	`, uuid.UUID(memberID)).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, sentinel.ErrNotFound
		}
		return 0, fmt.Errorf("increment diary: %w", err)
	}
	return count, nil
}

func (s *Postgres) findOne(ctx context.Context, query string, arg any) (*models.Member, error) {
	var (
		m  models.Member
		id uuid.UUID
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&id, &m.Phone, &m.Name, &m.PINHash, &m.TrustScore, &m.DiaryEntries, &m.ScoreUpdatedAt, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan member: %w", err)
	}
	m.ID = domain.MemberID(id)
	return &m, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
