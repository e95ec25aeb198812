package blob

import (
	"context"
	"errors"
	"os"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewGCSStore_Arguments(t *testing.T) {
	_, err := NewGCSStore(nil, "bucket", "")
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()

	_, err = NewGCSStore(client, "", "")
	assert.Error(t, err)

	s, err := NewGCSStore(client, "bucket", "formfill/")
	require.NoError(t, err)
	assert.Error(t, s.Put(context.Background(), "../escape.pdf", []byte("x")))
	_, err = s.Get(context.Background(), "")
	assert.Error(t, err)
}

// TestGCSStore_Emulator runs against a GCS emulator when
// STORAGE_EMULATOR_HOST and FORMFILL_TEST_GCS_BUCKET are set.
func TestGCSStore_Emulator(t *testing.T) {
	bucket := os.Getenv("FORMFILL_TEST_GCS_BUCKET")
	if os.Getenv("STORAGE_EMULATOR_HOST") == "" || bucket == "" {
		t.Skip("GCS emulator not configured")
	}
	ctx := context.Background()
	client, err := storage.NewClient(ctx)
	require.NoError(t, err)
	defer client.Close()

	s, err := NewGCSStore(client, bucket, "test-"+uuid.NewString()+"/")
	require.NoError(t, err)

	require.NoError(t, s.Create(ctx, OriginalKey("doc"), []byte("one")))
	err = s.Create(ctx, OriginalKey("doc"), []byte("two"))
	assert.True(t, errors.Is(err, ErrExists), "got %v", err)

	require.NoError(t, s.Put(ctx, OutputKey("doc"), []byte("filled")))
	got, err := s.Get(ctx, OutputKey("doc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("filled"), got)

	_, err = s.Get(ctx, OutputKey("missing"))
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}
