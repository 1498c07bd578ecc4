package session

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "bharosa/pkg/domain"
)

func TestIssueAndValidate(t *testing.T) {
	svc := NewService("test-signing-key", "bharosa", 15*time.Minute)
	memberID := id.MemberID(uuid.New())

	token, err := svc.Issue(memberID)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, memberID.String(), claims.MemberID)
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	svc := NewService("test-signing-key", "bharosa", 15*time.Minute)
	other := NewService("different-key", "bharosa", 15*time.Minute)

	token, err := other.Issue(id.MemberID(uuid.New()))
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	svc := NewService("test-signing-key", "bharosa", -time.Minute)

	token, err := svc.Issue(id.MemberID(uuid.New()))
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
}
