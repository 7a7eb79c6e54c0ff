package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewaycore/core"
)

func testKey() core.SessionKey {
	return core.SessionKey{
		Channel:   "test",
		AccountID: "acc1",
		ChatType:  core.ChatTypeDM,
		PeerID:    "peer1",
		Scope:     core.ScopePerSender,
	}
}

func testSession() *core.Session {
	return core.NewSession(testKey())
}

func TestSaveAndLoad(t *testing.T) {
	fs := NewFileStore(t.TempDir())

	session := testSession()
	session.Append(core.NewUserEntry([]core.ContentBlock{core.NewTextBlock("Hello")}))

	require.NoError(t, fs.Save(session))

	loaded, err := fs.Load(testKey())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Len(t, loaded.Transcript, 1)
	assert.Equal(t, testKey(), loaded.Meta.Key)
}

func TestLoadMissingReturnsNil(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	loaded, err := fs.Load(testKey())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestAppendEntry(t *testing.T) {
	fs := NewFileStore(t.TempDir())

	require.NoError(t, fs.Save(testSession()))

	entry := core.NewUserEntry([]core.ContentBlock{core.NewTextBlock("Hi")})
	require.NoError(t, fs.AppendEntry(testKey(), entry))

	loaded, err := fs.Load(testKey())
	require.NoError(t, err)
	assert.Len(t, loaded.Transcript, 1)
}

func TestListAndDelete(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	require.NoError(t, fs.Save(testSession()))

	list, err := fs.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, fs.Delete(testKey()))
	list, err = fs.List()
	require.NoError(t, err)
	assert.Len(t, list, 0)
}

func TestReset(t *testing.T) {
	fs := NewFileStore(t.TempDir())

	session := testSession()
	session.Append(core.NewUserEntry([]core.ContentBlock{core.NewTextBlock("Hello")}))
	require.NoError(t, fs.Save(session))

	require.NoError(t, fs.Reset(testKey()))

	loaded, err := fs.Load(testKey())
	require.NoError(t, err)
	assert.Len(t, loaded.Transcript, 0)
	assert.NotNil(t, loaded.Meta.LastResetAt)
}

func TestConcurrentAppendsSerialize(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	require.NoError(t, fs.Save(testSession()))

	const n = 20
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			entry := core.NewUserEntry([]core.ContentBlock{core.NewTextBlock("msg")})
			done <- fs.AppendEntry(testKey(), entry)
		}(i)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-done)
	}

	loaded, err := fs.Load(testKey())
	require.NoError(t, err)
	assert.Len(t, loaded.Transcript, n)
}
