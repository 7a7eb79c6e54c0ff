package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotGetPathWholeConfig(t *testing.T) {
	s := NewSnapshot(Default())
	v, err := s.GetPath("")
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, m, "agents")
}

func TestSnapshotGetPathNested(t *testing.T) {
	s := NewSnapshot(Default())
	v, err := s.GetPath("agents.defaults.model")
	require.NoError(t, err)
	assert.Equal(t, Default().Agents.Defaults.Model, v)
}

func TestSnapshotGetPathUnknown(t *testing.T) {
	s := NewSnapshot(Default())
	_, err := s.GetPath("agents.nope")
	assert.Error(t, err)
}

func TestSnapshotSetPathMutatesInPlace(t *testing.T) {
	s := NewSnapshot(Default())
	require.NoError(t, s.SetPath("agents.defaults.model", "gpt-4o"))
	assert.Equal(t, "gpt-4o", s.Get().Agents.Defaults.Model)

	v, err := s.GetPath("agents.defaults.model")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", v)
}

func TestSnapshotSetPathRejectsEmptyPath(t *testing.T) {
	s := NewSnapshot(Default())
	assert.Error(t, s.SetPath("", "x"))
}

func TestSnapshotReplace(t *testing.T) {
	s := NewSnapshot(Default())
	next := Default()
	next.Logging.Level = "debug"
	s.Replace(next)
	assert.Equal(t, "debug", s.Get().Logging.Level)
}
