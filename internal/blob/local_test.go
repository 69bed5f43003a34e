package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	require.NoError(t, s.Put(ctx, "39/a/players_1.json", []byte(`{"a":1}`)))

	data, err := s.Get(ctx, "39/a/players_1.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	ok, err := s.Exists(ctx, "39/a/players_1.json")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalStore_Missing(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	_, err := s.Get(ctx, "nope.json")
	require.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Exists(ctx, "nope.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStore_PutReplacesAndLeavesNoTemp(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewLocalStore(dir)

	require.NoError(t, s.Put(ctx, "k/v.json", []byte(`{"v":1}`)))
	require.NoError(t, s.Put(ctx, "k/v.json", []byte(`{"v":2}`)))

	entries, err := os.ReadDir(filepath.Join(dir, "k"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "v.json", entries[0].Name())

	data, err := s.Get(ctx, "k/v.json")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	s := NewLocalStore(t.TempDir())

	for _, key := range []string{"", "/etc/passwd", "../x.json", ".."} {
		assert.Error(t, s.Put(ctx, key, []byte("{}")), "key %q", key)
	}
}

func TestLocalStore_List(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewLocalStore(dir)

	require.NoError(t, s.Put(ctx, "ns/players_by_fixture/players_2.json", []byte("{}")))
	require.NoError(t, s.Put(ctx, "ns/players_by_fixture/players_1.json", []byte("{}")))
	require.NoError(t, s.Put(ctx, "ns/fixtures.json", []byte("{}")))
	// Leftover from an interrupted write.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ns", "players_by_fixture", tempPrefix+"123"), []byte("{"), 0o644))

	keys, err := s.List(ctx, "ns/players_by_fixture/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ns/players_by_fixture/players_1.json",
		"ns/players_by_fixture/players_2.json",
	}, keys)

	keys, err = s.List(ctx, "missing/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestComplete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewLocalStore(dir)

	require.NoError(t, s.Put(ctx, "good.json", []byte(`{"response":[]}`)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "torn.json"), []byte(`{"response":[`), 0o644))

	ok, err := Complete(ctx, s, "good.json")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Complete(ctx, s, "torn.json")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Complete(ctx, s, "absent.json")
	require.NoError(t, err)
	assert.False(t, ok)
}
