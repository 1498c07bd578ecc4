package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"bharosa/internal/loan/models"
	"bharosa/internal/sentinel"
	"bharosa/pkg/domain"
)

// Postgres persists loans, votes, and repayments in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed loan store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const selectLoan = `
	SELECT id, borrower_id, circle_id, amount, interest_rate_bps, tenure_days, purpose,
	       status, votes_for, votes_against, votes_total, total_repaid, emi_amount,
	       next_emi_date, anchor_tx_hash, created_at, updated_at
	FROM loans`

// Create records a new loan.
func (s *Postgres) Create(ctx context.Context, loan *models.Loan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loans (id, borrower_id, circle_id, amount, interest_rate_bps, tenure_days,
			purpose, status, votes_for, votes_against, votes_total, total_repaid, emi_amount,
			next_emi_date, anchor_tx_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, uuid.UUID(loan.ID), uuid.UUID(loan.BorrowerID), uuid.UUID(loan.CircleID),
		int64(loan.Amount), int64(loan.InterestRate), loan.TenureDays, loan.Purpose,
		string(loan.Status), loan.VotesFor, loan.VotesAgainst, loan.VotesTotal,
		int64(loan.TotalRepaid), int64(loan.EMIAmount), loan.NextEMIDate,
		nullString(loan.AnchorTxHash), loan.CreatedAt, loan.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("loan exists: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create loan: %w", err)
	}
	return nil
}

// FindByID retrieves a loan by ID.
func (s *Postgres) FindByID(ctx context.Context, loanID domain.LoanID) (*models.Loan, error) {
	loan, err := scanLoan(s.db.QueryRowContext(ctx, selectLoan+` WHERE id = $1`, uuid.UUID(loanID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	return loan, nil
}

// Update overwrites the loan's mutable columns.
func (s *Postgres) Update(ctx context.Context, loan *models.Loan) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE loans
		SET status = $2, votes_for = $3, votes_against = $4, total_repaid = $5,
		    next_emi_date = $6, anchor_tx_hash = $7, updated_at = $8
		WHERE id = $1
	`, uuid.UUID(loan.ID), string(loan.Status), loan.VotesFor, loan.VotesAgainst,
		int64(loan.TotalRepaid), loan.NextEMIDate, nullString(loan.AnchorTxHash), loan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update loan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// ByBorrower returns the member's loans, newest first.
func (s *Postgres) ByBorrower(ctx context.Context, borrowerID domain.MemberID) ([]models.Loan, error) {
	return s.list(ctx, selectLoan+` WHERE borrower_id = $1 ORDER BY created_at DESC`, uuid.UUID(borrowerID))
}

// ByCircle returns the circle's loans, newest first.
func (s *Postgres) ByCircle(ctx context.Context, circleID domain.CircleID) ([]models.Loan, error) {
	return s.list(ctx, selectLoan+` WHERE circle_id = $1 ORDER BY created_at DESC`, uuid.UUID(circleID))
}

// UpsertVote records the voter's position, returning the previous choice if
// the voter had already voted.
func (s *Postgres) UpsertVote(ctx context.Context, vote models.Vote) (*models.Choice, error) {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = dbtx.Rollback() //nolint:errcheck // rollback after commit is no-op
	}()

	var previous *models.Choice
	var existing string
	err = dbtx.QueryRowContext(ctx, `
		SELECT choice FROM loan_votes
		WHERE loan_id = $1 AND voter_id = $2
		FOR UPDATE
	`, uuid.UUID(vote.LoanID), uuid.UUID(vote.VoterID)).Scan(&existing)
	switch {
	case err == nil:
		c := models.Choice(existing)
		previous = &c
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, fmt.Errorf("load previous vote: %w", err)
	}

	_, err = dbtx.ExecContext(ctx, `
		INSERT INTO loan_votes (loan_id, voter_id, choice, cast_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (loan_id, voter_id)
		DO UPDATE SET choice = $3, cast_at = $4
	`, uuid.UUID(vote.LoanID), uuid.UUID(vote.VoterID), string(vote.Choice), vote.CastAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("upsert vote: %w", err)
	}
	if err := dbtx.Commit(); err != nil {
		return nil, fmt.Errorf("commit vote: %w", err)
	}
	return previous, nil
}

// Votes returns the loan's current votes.
func (s *Postgres) Votes(ctx context.Context, loanID domain.LoanID) ([]models.Vote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT loan_id, voter_id, choice, cast_at
		FROM loan_votes
		WHERE loan_id = $1
		ORDER BY cast_at ASC
	`, uuid.UUID(loanID))
	if err != nil {
		return nil, fmt.Errorf("load votes: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []models.Vote
	for rows.Next() {
		var (
			v        models.Vote
			lid, vid uuid.UUID
			choice   string
		)
		if err := rows.Scan(&lid, &vid, &choice, &v.CastAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		v.LoanID = domain.LoanID(lid)
		v.VoterID = domain.MemberID(vid)
		v.Choice = models.Choice(choice)
		out = append(out, v)
	}
	return out, rows.Err()
}

// AddRepayment appends a repayment, absorbing replays of the same external
// reference. Returns whether the record was applied.
func (s *Postgres) AddRepayment(ctx context.Context, rep models.Repayment) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO repayments (id, loan_id, amount, method, external_ref, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (loan_id, external_ref) DO NOTHING
	`, uuid.UUID(rep.ID), uuid.UUID(rep.LoanID), int64(rep.Amount), rep.Method,
		rep.ExternalRef, string(rep.Status), rep.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, sentinel.ErrNotFound
		}
		return false, fmt.Errorf("record repayment: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Repayments returns the loan's repayments in arrival order.
func (s *Postgres) Repayments(ctx context.Context, loanID domain.LoanID) ([]models.Repayment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, loan_id, amount, method, external_ref, status, created_at
		FROM repayments
		WHERE loan_id = $1
		ORDER BY created_at ASC
	`, uuid.UUID(loanID))
	if err != nil {
		return nil, fmt.Errorf("load repayments: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []models.Repayment
	for rows.Next() {
		var (
			r        models.Repayment
			rid, lid uuid.UUID
			amount   int64
			status   string
		)
		if err := rows.Scan(&rid, &lid, &amount, &r.Method, &r.ExternalRef, &status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan repayment: %w", err)
		}
		r.ID = domain.RepaymentID(rid)
		r.LoanID = domain.LoanID(lid)
		r.Amount = domain.Paise(amount)
		r.Status = models.RepaymentStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RepaymentRecord counts the member's completed and defaulted loans.
func (s *Postgres) RepaymentRecord(ctx context.Context, memberID domain.MemberID) (int, int, error) {
	var completed, defaulted int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'defaulted')
		FROM loans
		WHERE borrower_id = $1
	`, uuid.UUID(memberID)).Scan(&completed, &defaulted)
	if err != nil {
		return 0, 0, fmt.Errorf("count repayment record: %w", err)
	}
	return completed, defaulted, nil
}

// VotingOlderThan returns loans still in voting created before the cutoff.
func (s *Postgres) VotingOlderThan(ctx context.Context, cutoff time.Time) ([]models.Loan, error) {
	return s.list(ctx, selectLoan+` WHERE status = 'voting' AND created_at < $1 ORDER BY created_at ASC`, cutoff)
}

// RepayingDueBefore returns disbursed or repaying loans whose next
// installment date has passed the cutoff.
func (s *Postgres) RepayingDueBefore(ctx context.Context, cutoff time.Time) ([]models.Loan, error) {
	return s.list(ctx, selectLoan+` WHERE status IN ('disbursed', 'repaying') AND next_emi_date < $1 ORDER BY next_emi_date ASC`, cutoff)
}

// Approved returns loans approved but not yet disbursed, oldest first.
func (s *Postgres) Approved(ctx context.Context) ([]models.Loan, error) {
	rows, err := s.db.QueryContext(ctx, selectLoan+` WHERE status = 'approved' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("load approved loans: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *loan)
	}
	return out, rows.Err()
}

func (s *Postgres) list(ctx context.Context, query string, arg any) ([]models.Loan, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("load loans: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *loan)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var (
		l             models.Loan
		id, bid, cid  uuid.UUID
		amount, rate  int64
		repaid, emi   int64
		status        string
		nextEMI       sql.NullTime
		anchor        sql.NullString
	)
	err := row.Scan(&id, &bid, &cid, &amount, &rate, &l.TenureDays, &l.Purpose,
		&status, &l.VotesFor, &l.VotesAgainst, &l.VotesTotal, &repaid, &emi,
		&nextEMI, &anchor, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan loan: %w", err)
	}
	l.ID = domain.LoanID(id)
	l.BorrowerID = domain.MemberID(bid)
	l.CircleID = domain.CircleID(cid)
	l.Amount = domain.Paise(amount)
	l.InterestRate = domain.BasisPoints(rate)
	l.TotalRepaid = domain.Paise(repaid)
	l.EMIAmount = domain.Paise(emi)
	l.Status = models.Status(status)
	if nextEMI.Valid {
		t := nextEMI.Time
		l.NextEMIDate = &t
	}
	if anchor.Valid {
		l.AnchorTxHash = anchor.String
	}
	return &l, nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
