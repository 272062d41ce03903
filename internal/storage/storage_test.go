package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	key := DocumentKey("user-1", "abc")
	require.NoError(t, store.Put(ctx, key, strings.NewReader("plaque is a biofilm"), "text/plain"))
	require.NoError(t, store.Put(ctx, GenerationResultKey("job-9"), strings.NewReader(`{"cards":[]}`), ""))

	r, err := store.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "plaque is a biofilm", string(data))
	assert.Equal(t, "application/json", store.ContentType("generations/job-9.json"))

	keys, err := store.List(ctx, "documents/user-1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"documents/user-1/abc"}, keys)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	assert.True(t, errors.Is(err, ErrObjectNotFound))
	assert.True(t, errors.Is(store.Delete(ctx, key), ErrObjectNotFound))
}

func TestContentTypeForKey(t *testing.T) {
	assert.Equal(t, "application/json", contentTypeForKey("generations/x.JSON"))
	assert.Equal(t, "application/pdf", contentTypeForKey("notes.pdf"))
	assert.Equal(t, "", contentTypeForKey("documents/u/123"))
}
