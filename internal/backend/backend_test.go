package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	b, err := Open("")
	require.NoError(t, err)
	assert.Equal(t, Default, b.Name())

	b, err = Open("Reference")
	require.NoError(t, err)
	assert.Equal(t, "reference", b.Name())
	assert.Equal(t, "native", Other(b).Name())

	_, err = Open("gpu")
	assert.Error(t, err)
}
