package stage

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompact_ShortValuesPassThrough(t *testing.T) {
	opts := DefaultCompactOptions()

	assert.Equal(t, "short", Compact("short", opts))
	assert.Equal(t, 42, Compact(42, opts))
	assert.Equal(t, true, Compact(true, opts))
	assert.Nil(t, Compact(nil, opts))
}

func TestCompact_LongStringTruncated(t *testing.T) {
	long := strings.Repeat("x", 5000)

	out := Compact(long, CompactOptions{MaxChars: 100, MaxListItems: 50}).(string)

	assert.Len(t, out, 100+len("...[truncated]"))
	assert.True(t, strings.HasSuffix(out, "...[truncated]"))
}

func TestCompact_TruncationNeverSplitsRunes(t *testing.T) {
	// "héllo" is 6 bytes per repeat; a byte-offset cut at 8 would land
	// inside the second é, so the cut must back up to the rune boundary.
	long := strings.Repeat("héllo", 40)

	out := Compact(long, CompactOptions{MaxChars: 8, MaxListItems: 50}).(string)

	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasSuffix(out, "...[truncated]"))
	assert.Equal(t, "hélloh", strings.TrimSuffix(out, "...[truncated]"))
}

func TestCompact_LongListTruncatedWithMarker(t *testing.T) {
	items := make([]interface{}, 75)
	for i := range items {
		items[i] = i
	}

	out := Compact(items, DefaultCompactOptions()).([]interface{})

	require.Len(t, out, 51)
	assert.Equal(t, "...[truncated items]", out[50])
	assert.Equal(t, 0, out[0])
}

func TestCompact_ContentKeysGetStricterBudget(t *testing.T) {
	payload := map[string]interface{}{
		"file_path":    strings.Repeat("p", 300),
		"file_content": strings.Repeat("c", 300),
	}

	out := Compact(payload, CompactOptions{MaxChars: 400, MaxListItems: 50}).(map[string]interface{})

	// 300 < 400: path survives intact; content budget is 400/4 = 100.
	assert.Equal(t, strings.Repeat("p", 300), out["file_path"])
	content := out["file_content"].(string)
	assert.True(t, strings.HasPrefix(content, strings.Repeat("c", 100)))
	assert.True(t, strings.HasSuffix(content, "...[truncated]"))
}

func TestCompact_NestedStructureShapeSurvives(t *testing.T) {
	payload := map[string]interface{}{
		"pages": []interface{}{
			map[string]interface{}{"content": strings.Repeat("a", 50)},
		},
	}

	out := Compact(payload, CompactOptions{MaxChars: 40, MaxListItems: 50}).(map[string]interface{})

	pages := out["pages"].([]interface{})
	require.Len(t, pages, 1)
	inner := pages[0].(map[string]interface{})
	// 40/4 = 10 char budget inside the content key
	assert.True(t, strings.HasPrefix(inner["content"].(string), strings.Repeat("a", 10)))
}

func TestEncodePayload(t *testing.T) {
	s, err := EncodePayload("already a string")
	require.NoError(t, err)
	assert.Equal(t, "already a string", s)

	s, err = EncodePayload(map[string]interface{}{"k": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":1}`, s)
}

func TestFuncAdapter(t *testing.T) {
	f := Func{
		StageName: "echo",
		Fn: func(ctx context.Context, payload string) (Value, error) {
			return payload, nil
		},
	}

	assert.Equal(t, "echo", f.Name())
	out, err := f.Run(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}
