package pairing

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "pairing.json"))
}

func TestPairingFlow(t *testing.T) {
	s := newTestStore(t)

	code, err := s.CreateRequest("telegram", "user123", "Alice")
	require.NoError(t, err)
	assert.Len(t, code, 6)

	approved, err := s.IsApproved("telegram", "user123")
	require.NoError(t, err)
	assert.False(t, approved)

	pending, err := s.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "user123", pending[0].SenderID)

	ok, err := s.Approve("telegram", code)
	require.NoError(t, err)
	assert.True(t, ok)

	approved, err = s.IsApproved("telegram", "user123")
	require.NoError(t, err)
	assert.True(t, approved)

	pending, err = s.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRejectPairing(t *testing.T) {
	s := newTestStore(t)

	code, err := s.CreateRequest("discord", "user456", "")
	require.NoError(t, err)

	ok, err := s.Reject("discord", code)
	require.NoError(t, err)
	assert.True(t, ok)

	approved, err := s.IsApproved("discord", "user456")
	require.NoError(t, err)
	assert.False(t, approved)
}

func TestDuplicateRequestReturnsSameCode(t *testing.T) {
	s := newTestStore(t)

	code1, err := s.CreateRequest("telegram", "user789", "")
	require.NoError(t, err)
	code2, err := s.CreateRequest("telegram", "user789", "")
	require.NoError(t, err)
	assert.Equal(t, code1, code2)
}

func TestApproveWrongCode(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateRequest("telegram", "user000", "")
	require.NoError(t, err)

	ok, err := s.Approve("telegram", "000000")
	require.NoError(t, err)
	assert.False(t, ok)
}
