package sanitize

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetadataNonObjectYieldsEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Metadata(nil))
	assert.Empty(t, Metadata("just a string"))
	assert.Empty(t, Metadata(42))
	assert.Empty(t, Metadata([]any{"a", "b"}))
}

func TestMetadataDropsBlockedKeys(t *testing.T) {
	t.Parallel()

	out := Metadata(map[string]any{
		"__proto__":   map[string]any{"admin": true},
		"constructor": "x",
		"prototype":   "y",
		"locale":      "en",
	})
	assert.Equal(t, map[string]any{"locale": "en"}, out)
}

func TestMetadataTruncatesDeepNesting(t *testing.T) {
	t.Parallel()

	value := map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": map[string]any{
					"d": map[string]any{"e": "too deep"},
				},
			},
		},
	}
	out := Metadata(value)
	level := out["a"].(map[string]any)["b"].(map[string]any)["c"].(map[string]any)
	assert.Equal(t, TruncationMarker, level["d"])
}

func TestMetadataCapsKeysAndItems(t *testing.T) {
	t.Parallel()

	obj := map[string]any{}
	for i := 0; i < 100; i++ {
		obj[fmt.Sprintf("key-%03d", i)] = i
	}
	items := make([]any, 100)
	for i := range items {
		items[i] = i
	}

	out := MetadataWithLimits(map[string]any{"list": items}, Limits{MaxItems: 5})
	assert.Len(t, out["list"], 5)

	outKeys := MetadataWithLimits(obj, Limits{MaxKeys: 8})
	assert.Len(t, outKeys, 8)
}

func TestMetadataTruncatesLongStrings(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("s", 2000)
	out := Metadata(map[string]any{"note": long})
	assert.Len(t, out["note"], DefaultMaxStringLen)
}

func TestMetadataCoercesNonPlainValues(t *testing.T) {
	t.Parallel()

	type widget struct{ Name string }
	out := Metadata(map[string]any{"w": widget{Name: "x"}})
	s, ok := out["w"].(string)
	assert.True(t, ok)
	assert.Contains(t, s, "x")
}

func TestMetadataKeepsScalars(t *testing.T) {
	t.Parallel()

	out := Metadata(map[string]any{
		"bool":  true,
		"num":   3.5,
		"null":  nil,
		"short": "ok",
	})
	assert.Equal(t, true, out["bool"])
	assert.Equal(t, 3.5, out["num"])
	assert.Nil(t, out["null"])
	assert.Equal(t, "ok", out["short"])
}
