package blob

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	key := Key("space-1", "doc-1")
	require.NoError(t, store.Put(ctx, key, []byte("hello"), "text/plain"))

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, store.Put(ctx, key, []byte("replaced"), "text/plain"))
	data, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(data))

	require.NoError(t, store.Delete(ctx, key))
	require.NoError(t, store.Delete(ctx, key), "deleting twice is fine")

	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDirStore_RejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "/etc/passwd", "raw/../../x"} {
		assert.Error(t, store.Put(ctx, key, []byte("x"), ""), key)
	}
}

func TestNewDirStore_RequiresRoot(t *testing.T) {
	_, err := NewDirStore("")
	assert.Error(t, err)
}

func TestNewMinioStore_Validation(t *testing.T) {
	_, err := NewMinioStore(context.Background(), MinioConfig{Bucket: "b"})
	assert.Error(t, err)

	_, err = NewMinioStore(context.Background(), MinioConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

func TestIsNoSuchKey(t *testing.T) {
	assert.True(t, isNoSuchKey(minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}))
	assert.False(t, isNoSuchKey(minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}))
	assert.False(t, isNoSuchKey(errors.New("boom")))
}
