package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestPutGet(t *testing.T) {
	r := openTest(t)

	err := r.Put(&Project{Name: "webapp", SourcePath: "/src/webapp", Language: "c"})
	require.NoError(t, err)

	got, err := r.Get("webapp")
	require.NoError(t, err)
	assert.Equal(t, "webapp", got.Name)
	assert.Equal(t, "/src/webapp", got.SourcePath)
	assert.Equal(t, "c", got.Language)
	assert.False(t, got.ImportedAt.IsZero(), "import time defaults to now")
	assert.Zero(t, got.Queries)
}

func TestPutRequiresName(t *testing.T) {
	r := openTest(t)
	assert.Error(t, r.Put(&Project{SourcePath: "/src"}))
}

func TestPutPreservesImportTime(t *testing.T) {
	r := openTest(t)
	when := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, r.Put(&Project{Name: "p", SourcePath: "/s", ImportedAt: when}))
	got, err := r.Get("p")
	require.NoError(t, err)
	assert.True(t, got.ImportedAt.Equal(when))
}

func TestGetMissing(t *testing.T) {
	r := openTest(t)
	_, err := r.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList(t *testing.T) {
	r := openTest(t)
	require.NoError(t, r.Put(&Project{Name: "a", SourcePath: "/a"}))
	require.NoError(t, r.Put(&Project{Name: "b", SourcePath: "/b"}))

	all, err := r.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	names := map[string]bool{}
	for _, p := range all {
		names[p.Name] = true
	}
	assert.True(t, names["a"] && names["b"])
}

func TestDelete(t *testing.T) {
	r := openTest(t)
	require.NoError(t, r.Put(&Project{Name: "gone", SourcePath: "/g"}))
	require.NoError(t, r.Delete("gone"))

	_, err := r.Get("gone")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting twice is fine.
	assert.NoError(t, r.Delete("gone"))
}

func TestIncQueries(t *testing.T) {
	r := openTest(t)
	require.NoError(t, r.Put(&Project{Name: "busy", SourcePath: "/b"}))

	for i := 0; i < 3; i++ {
		require.NoError(t, r.IncQueries("busy"))
	}
	got, err := r.Get("busy")
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.Queries)

	// Counting against a missing project is a no-op.
	assert.NoError(t, r.IncQueries("ghost"))
}

func TestPutReplaces(t *testing.T) {
	r := openTest(t)
	require.NoError(t, r.Put(&Project{Name: "p", SourcePath: "/old"}))
	require.NoError(t, r.Put(&Project{Name: "p", SourcePath: "/new", Language: "java"}))

	got, err := r.Get("p")
	require.NoError(t, err)
	assert.Equal(t, "/new", got.SourcePath)
	assert.Equal(t, "java", got.Language)
}
