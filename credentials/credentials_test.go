package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvManagerReadsPrefixedVariable(t *testing.T) {
	t.Setenv("GATEWAYCORE_ANTHROPIC_API_KEY", "sk-test-123")
	value, err := EnvManager{}.GetSecret("ANTHROPIC_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", value)
}

func TestEnvManagerMissingReturnsNotFound(t *testing.T) {
	_, err := EnvManager{}.GetSecret("DEFINITELY_UNSET_KEY")
	assert.ErrorIs(t, err, ErrNotFound)
}

type fakeBackend struct {
	secrets map[string]string
}

func (f fakeBackend) GetSecret(name string) (string, error) {
	v, ok := f.secrets[name]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func TestCompositeManagerTriesBackendsInOrder(t *testing.T) {
	first := fakeBackend{secrets: map[string]string{}}
	second := fakeBackend{secrets: map[string]string{"X": "from-second"}}
	c := NewCompositeManager(first, second)

	value, err := c.GetSecret("X")
	require.NoError(t, err)
	assert.Equal(t, "from-second", value)
}

func TestCompositeManagerAllBackendsMissReturnsError(t *testing.T) {
	c := NewCompositeManager(fakeBackend{secrets: map[string]string{}})
	_, err := c.GetSecret("X")
	assert.Error(t, err)
}
