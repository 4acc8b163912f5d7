package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
}

func TestValid(t *testing.T) {
	t.Parallel()

	require.True(t, Valid("0190b6f2-6a3c-7c1e-9a57-3f6d2b1c4e5a"))
	require.False(t, Valid("not-a-uuid"))
	require.False(t, Valid(""))
}
