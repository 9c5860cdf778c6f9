package joern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	t.Run("direct JSON", func(t *testing.T) {
		v, err := ParseResponse(`[{"name": "main", "lineNumber": 10}]`)
		require.NoError(t, err)
		arr, ok := v.([]any)
		require.True(t, ok)
		assert.Len(t, arr, 1)
	})

	t.Run("REPL string assignment with embedded JSON", func(t *testing.T) {
		stdout := `val res1: String = "[{\"name\": \"main\"}]"`
		v, err := ParseResponse(stdout)
		require.NoError(t, err)
		arr, ok := v.([]any)
		require.True(t, ok, "got %T", v)
		m := arr[0].(map[string]any)
		assert.Equal(t, "main", m["name"])
	})

	t.Run("REPL numeric assignment", func(t *testing.T) {
		v, err := ParseResponse("val res0: Int = 2")
		require.NoError(t, err)
		assert.Equal(t, float64(2), v)
	})

	t.Run("JSON blob buried in REPL noise", func(t *testing.T) {
		stdout := "warning: something\nres4: List[String] => [\"a\", \"b\"] printed"
		v, err := ParseResponse(stdout)
		require.NoError(t, err)
		arr, ok := v.([]any)
		require.True(t, ok, "got %T: %v", v, v)
		assert.Equal(t, []any{"a", "b"}, arr)
	})

	t.Run("brackets inside string literals stay balanced", func(t *testing.T) {
		stdout := `noise {"code": "arr[0] = {1}"} trailing`
		v, err := ParseResponse(stdout)
		require.NoError(t, err)
		m, ok := v.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "arr[0] = {1}", m["code"])
	})

	t.Run("plain text returns raw with error", func(t *testing.T) {
		v, err := ParseResponse("Ok, imported project")
		assert.ErrorIs(t, err, ErrUnparseable)
		assert.Equal(t, "Ok, imported project", v)
	})

	t.Run("REPL string that is not JSON strips the prefix", func(t *testing.T) {
		stdout := `val res2: String = "digraph main { \"1\" -> \"2\" }"`
		v, err := ParseResponse(stdout)
		assert.ErrorIs(t, err, ErrUnparseable)
		assert.Equal(t, `digraph main { "1" -> "2" }`, v)
	})

	t.Run("empty stdout", func(t *testing.T) {
		_, err := ParseResponse("   \n")
		assert.ErrorIs(t, err, ErrUnparseable)
	})
}

func TestSafeParse(t *testing.T) {
	t.Run("valid JSON passes through", func(t *testing.T) {
		v := SafeParse(`{"ok": true}`)
		m, ok := v.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, true, m["ok"])
	})

	t.Run("garbage wraps as raw", func(t *testing.T) {
		v := SafeParse("some repl banner text")
		m, ok := v.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "some repl banner text", m["raw"])
	})
}
