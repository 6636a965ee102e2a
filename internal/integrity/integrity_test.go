package integrity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashGeometryDeterministic(t *testing.T) {
	g := []byte(`{"type":"Polygon","coordinates":[[[-47.9,-15.8],[-47.8,-15.8],[-47.8,-15.7],[-47.9,-15.8]]]}`)

	h1, err := HashGeometry(g)
	require.NoError(t, err)
	h2, err := HashGeometry(g)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.Equal(t, strings.ToLower(h1), h1)
}

func TestHashGeometryIgnoresKeyOrderAndWhitespace(t *testing.T) {
	a := []byte(`{"type":"Polygon","coordinates":[[[-47.9,-15.8],[-47.8,-15.8],[-47.8,-15.7],[-47.9,-15.8]]]}`)
	b := []byte(`{
		"coordinates": [[[-47.9,-15.8],[-47.8,-15.8],[-47.8,-15.7],[-47.9,-15.8]]],
		"type": "Polygon"
	}`)

	ha, err := HashGeometry(a)
	require.NoError(t, err)
	hb, err := HashGeometry(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestHashGeometryDistinguishesCoordinates(t *testing.T) {
	a := []byte(`{"type":"Polygon","coordinates":[[[-47.9,-15.8],[-47.8,-15.8],[-47.8,-15.7],[-47.9,-15.8]]]}`)
	b := []byte(`{"type":"Polygon","coordinates":[[[-47.9,-15.8],[-47.8,-15.8],[-47.8,-15.6],[-47.9,-15.8]]]}`)

	ha, err := HashGeometry(a)
	require.NoError(t, err)
	hb, err := HashGeometry(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestHashGeometryRejectsInvalidJSON(t *testing.T) {
	_, err := HashGeometry([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestHashAPIKey(t *testing.T) {
	h := HashAPIKey("gg_live_0123456789abcdef0123456789abcdef")
	assert.Len(t, h, 64)
	assert.NotEqual(t, h, HashAPIKey("gg_live_ffffffffffffffffffffffffffffffff"))
}

func TestTruncateHash(t *testing.T) {
	assert.Equal(t, "abcd", TruncateHash("abcdef", 4))
	assert.Equal(t, "ab", TruncateHash("ab", 4))
}
