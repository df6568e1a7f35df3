package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeys(t *testing.T) {
	b, err := Marshal(map[string]interface{}{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(b))
}

func TestMarshalNoHTMLEscaping(t *testing.T) {
	b, err := Marshal(map[string]string{"q": "a<b>&c"})
	require.NoError(t, err)
	assert.Equal(t, `{"q":"a<b>&c"}`, string(b))
}

func TestHashDeterministic(t *testing.T) {
	v1 := map[string]interface{}{"op": "read_file", "agent": "a1"}
	v2 := map[string]interface{}{"agent": "a1", "op": "read_file"}

	h1, err := Hash(v1)
	require.NoError(t, err)
	h2, err := Hash(v2)
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "key order must not affect the digest")
	assert.Len(t, h1, 64)
}

func TestFingerprintLength(t *testing.T) {
	fp, err := Fingerprint(map[string]string{"agent": "a", "op": "b"})
	require.NoError(t, err)
	assert.Len(t, fp, 16)
}

func TestMarshalRejectsUnencodable(t *testing.T) {
	_, err := Marshal(make(chan int))
	assert.Error(t, err)
}
