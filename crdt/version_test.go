package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorVersionCompare(t *testing.T) {
	var a = VectorVersion{"1": 2, "2": 1}
	var b = VectorVersion{"1": 2, "2": 1}
	assert.Equal(t, Equal, a.Compare(b))

	var c = VectorVersion{"1": 3, "2": 1}
	assert.Equal(t, Dominates, c.Compare(a))
	assert.Equal(t, Dominated, a.Compare(c))

	var d = VectorVersion{"1": 3, "2": 0}
	assert.Equal(t, Concurrent, a.Compare(d))
}

func TestVectorVersionEmptyRoundTrip(t *testing.T) {
	assert.True(t, EmptyVersion.IsEmpty())
	var got, err = DecodeVectorVersion(EmptyVersion.Bytes())
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())
}

func TestVectorVersionBytesDeterministic(t *testing.T) {
	var v = VectorVersion{"z": 1, "a": 2, "m": 3}
	var b1 = v.Bytes()
	var b2 = v.Bytes()
	assert.Equal(t, b1, b2)

	var got, err = DecodeVectorVersion(b1)
	require.NoError(t, err)
	assert.Equal(t, v, got)
}
