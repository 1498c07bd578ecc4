package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	membermodels "bharosa/internal/member/models"
	"bharosa/internal/member/service"
	tokenmodels "bharosa/internal/token/models"
	trustmodels "bharosa/internal/trust/models"
	"bharosa/pkg/domain"
	dErrors "bharosa/pkg/domain-errors"
	"bharosa/pkg/platform/middleware/auth"
)

type stubService struct {
	session *service.Session
	err     error
}

func (s *stubService) Register(context.Context, string, string, string) (*service.Session, error) {
	return s.session, s.err
}

func (s *stubService) Login(context.Context, string, string) (*service.Session, error) {
	return s.session, s.err
}

func (s *stubService) GetProfile(_ context.Context, memberID domain.MemberID) (*service.Profile, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &service.Profile{
		Member:  s.session.Member,
		Balance: tokenmodels.Balance{MemberID: memberID, Available: 100},
	}, nil
}

func (s *stubService) RecordDiaryEntry(context.Context, domain.MemberID) (int, error) {
	return 3, s.err
}

type stubTrust struct{}

func (stubTrust) ComputeScore(_ context.Context, memberID domain.MemberID) (*trustmodels.Score, error) {
	return &trustmodels.Score{MemberID: memberID, Value: 64}, nil
}

type stubLedger struct{}

func (stubLedger) History(context.Context, domain.MemberID, int) ([]tokenmodels.Transaction, error) {
	return []tokenmodels.Transaction{{ID: uuid.New(), Type: tokenmodels.TxEarn, Amount: 100}}, nil
}

func newTestHandler(svc Service) *Handler {
	return New(svc, stubTrust{}, stubLedger{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func memberFixture() *service.Session {
	return &service.Session{
		Member: membermodels.Member{
			ID:         domain.MemberID(uuid.New()),
			Phone:      "+919876543210",
			Name:       "Asha",
			TrustScore: 50,
			CreatedAt:  time.Now(),
		},
		Token: "jwt-token",
	}
}

func TestHandleRegister(t *testing.T) {
	sess := memberFixture()
	h := newTestHandler(&stubService{session: sess})

	body := `{"phone":"+919876543210","name":"Asha","pin":"1234"}`
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleRegister(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"token":"jwt-token"`)
	assert.Contains(t, rec.Body.String(), sess.Member.ID.String())
}

func TestHandleRegisterRejectsEmptyBody(t *testing.T) {
	h := newTestHandler(&stubService{})

	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.HandleRegister(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation_failed")
}

func TestHandleLoginUnauthorized(t *testing.T) {
	h := newTestHandler(&stubService{err: dErrors.New(dErrors.CodeNotAuthorized, "invalid phone or pin")})

	body := `{"phone":"+919876543210","pin":"9999"}`
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleLogin(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_authorized")
}

func TestAuthenticatedRoutes(t *testing.T) {
	sess := memberFixture()
	h := newTestHandler(&stubService{session: sess})

	r := chi.NewRouter()
	h.Register(r)

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req = req.WithContext(auth.WithMemberID(req.Context(), sess.Member.ID))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	t.Run("profile", func(t *testing.T) {
		rec := get("/me")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"available":100`)
	})

	t.Run("trust score", func(t *testing.T) {
		rec := get("/me/trust-score")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"score":64`)
	})

	t.Run("transactions", func(t *testing.T) {
		rec := get("/me/transactions")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"type":"earn"`)
	})

	t.Run("diary", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/diary", nil)
		req = req.WithContext(auth.WithMemberID(req.Context(), sess.Member.ID))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"diary_entries":3`)
	})
}
