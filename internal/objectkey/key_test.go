package objectkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeAndSplitRoundTrip(t *testing.T) {
	key := Make("veh", "c1")
	assert.Equal(t, "veh::c1", key)

	ns, id, ok := Split(key)
	require.True(t, ok)
	assert.Equal(t, "veh", ns)
	assert.Equal(t, "c1", id)
}

func TestValidateRejectsSeparatorAndPipe(t *testing.T) {
	assert.Error(t, Validate("ve::h", "c1"))
	assert.Error(t, Validate("veh", "c|1"))
	assert.NoError(t, Validate("veh", "c1"))
}

func TestNamespaceOfMalformedKey(t *testing.T) {
	assert.Equal(t, "", Namespace("no-separator-here"))
	assert.Equal(t, "veh", Namespace("veh::c1"))
}
