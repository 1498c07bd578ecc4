package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIDs(t *testing.T) {
	t.Run("parses valid UUID", func(t *testing.T) {
		raw := uuid.New()
		id, err := ParseMemberID(raw.String())
		require.NoError(t, err)
		assert.Equal(t, raw.String(), id.String())
		assert.False(t, id.IsNil())
	})

	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseLoanID("")
		require.Error(t, err)
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		_, err := ParseCircleID("not-a-uuid")
		require.Error(t, err)
	})

	t.Run("nil UUID parses but reports IsNil", func(t *testing.T) {
		id, err := ParseVouchID(uuid.Nil.String())
		require.NoError(t, err)
		assert.True(t, id.IsNil())
	})
}

func TestBasisPoints(t *testing.T) {
	t.Run("interest is exact for whole-percent rates", func(t *testing.T) {
		assert.Equal(t, Paise(300), BasisPoints(300).Interest(10_000))
		assert.Equal(t, Paise(100), BasisPoints(100).Interest(10_000))
		assert.Equal(t, Paise(400), BasisPoints(400).Interest(10_000))
	})

	t.Run("percent renders whole percentage", func(t *testing.T) {
		assert.Equal(t, int64(2), BasisPoints(200).Percent())
	})
}
