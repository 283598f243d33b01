package canonical

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalSortsKeys(t *testing.T) {
	b, err := Canonical(map[string]any{"b": 2, "a": 1, "c": []any{true, nil}})
	require.NoError(t, err)
	require.Equal(t, `{"a":1,"b":2,"c":[true,null]}`, string(b))
}

func TestCanonicalRespectsStructTags(t *testing.T) {
	type payload struct {
		Zeta  string `json:"zeta"`
		Alpha int    `json:"alpha"`
		Skip  string `json:"-"`
	}
	b, err := Canonical(payload{Zeta: "z", Alpha: 3, Skip: "never"})
	require.NoError(t, err)
	require.Equal(t, `{"alpha":3,"zeta":"z"}`, string(b))
}

func TestCanonicalNormalizesUnicode(t *testing.T) {
	// "é" composed vs decomposed must digest identically.
	composed := map[string]string{"title": "café"}
	decomposed := map[string]string{"title": "café"}

	h1, err := Hash(composed)
	require.NoError(t, err)
	h2, err := Hash(decomposed)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestHashStableAcrossKeyOrder(t *testing.T) {
	h1, err := Hash(map[string]any{"a": 1, "b": "x"})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"b": "x", "a": 1})
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.True(t, strings.HasPrefix(h1, HashPrefix))
	require.Len(t, strings.TrimPrefix(h1, HashPrefix), 64)
}

func TestHashBytes(t *testing.T) {
	h := HashBytes([]byte("attest"))
	require.True(t, strings.HasPrefix(h, HashPrefix))
	require.NotEqual(t, h, HashBytes([]byte("attest2")))
}
