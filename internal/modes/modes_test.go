package modes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_Registered(t *testing.T) {
	for _, name := range Names() {
		v, err := Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, name, v.Name())
	}
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Lookup("tesla")
	require.ErrorIs(t, err, ErrUnknownMode)
}

func TestNames_Sorted(t *testing.T) {
	assert.Equal(t, []string{"nooutput", "subaru", "subaru-hybrid"}, Names())
}

func TestDefault_IsRegistered(t *testing.T) {
	_, err := Lookup(Default)
	assert.NoError(t, err)
}
