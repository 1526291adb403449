package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/fitstate/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	in := &domain.Cursor{StartedAt: time.Date(2026, 3, 2, 7, 30, 0, 123, time.UTC), ID: "w|1"}
	token := EncodeCursor(in)
	require.NotEmpty(t, token)

	out, err := DecodeCursor(token)
	require.NoError(t, err)
	require.True(t, in.StartedAt.Equal(out.StartedAt))
	require.Equal(t, "w|1", out.ID)
}

func TestCursorEmpty(t *testing.T) {
	require.Empty(t, EncodeCursor(nil))
	c, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, c)
}

func TestCursorInvalid(t *testing.T) {
	for _, token := range []string{"%%%", "bm8tc2VwYXJhdG9y", "bm90LWEtdGltZXx3MQ"} {
		_, err := DecodeCursor(token)
		require.Error(t, err, token)
	}
}
