package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuplestream/collector/internal/value"
)

func TestEncodeDecodeSchemaRoundTrip(t *testing.T) {
	s := Schema{Columns: []Column{
		{Name: "temperature", Tag: value.Double},
		{Name: "label", Tag: value.String},
		{Name: "reading_id", Tag: value.Guid},
	}}

	encoded := encodeSchema(s)
	decoded, err := decodeSchema(encoded)
	require.NoError(t, err)
	assert.Equal(t, s, decoded)
}

func TestTypemapLookups(t *testing.T) {
	tm := newTypemap([]typeEntry{
		{tag: value.Double, name: "double precision", size: 8},
		{tag: value.String, name: "text", size: 0},
	})

	name, err := tm.toType(value.Double)
	require.NoError(t, err)
	assert.Equal(t, "double precision", name)
	assert.Equal(t, 8, tm.size(value.Double))

	tag, err := tm.toValue("text")
	require.NoError(t, err)
	assert.Equal(t, value.String, tag)

	_, err = tm.toValue("unknown")
	assert.Error(t, err)

	_, err = tm.toType(value.Bool)
	assert.Error(t, err)
}

func TestSchemaIndexOf(t *testing.T) {
	s := Schema{Columns: []Column{{Name: "a", Tag: value.Long}, {Name: "b", Tag: value.String}}}
	assert.Equal(t, 1, s.IndexOf("b"))
	assert.Equal(t, -1, s.IndexOf("missing"))
}
