package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
	putErr  error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, _ := io.ReadAll(in.Body)
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3OutputStore(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	store, err := newS3OutputStore(fake, S3OutputStoreConfig{Bucket: "runs"})
	require.NoError(t, err)
	store.now = func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }

	ref, err := store.Store(context.Background(), "abc", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "s3://runs/profiles/2024/03/09/abc.out", ref)
	assert.Equal(t, []byte("hello"), fake.objects["runs/profiles/2024/03/09/abc.out"])

	data, err := store.Retrieve(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	_, err = store.Retrieve(context.Background(), "s3://runs/missing")
	assert.Error(t, err)

	fake.putErr = errors.New("denied")
	_, err = store.Store(context.Background(), "x", nil)
	assert.ErrorContains(t, err, "denied")
}

func TestS3OutputStore_LocalCache(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	cache := t.TempDir()
	store, err := newS3OutputStore(fake, S3OutputStoreConfig{Bucket: "runs", Prefix: "out/", LocalCacheDir: cache})
	require.NoError(t, err)

	ref, err := store.Store(context.Background(), "id1", []byte("cached"))
	require.NoError(t, err)
	fake.objects = map[string][]byte{}

	data, err := store.Retrieve(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("cached"), data)
}

func TestLocalOutputStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalOutputStore(dir)
	require.NoError(t, err)

	ref, err := store.Store(context.Background(), "run-1", []byte("out"))
	require.NoError(t, err)
	assert.Equal(t, "run-1.out", filepath.Base(ref))

	data, err := store.Retrieve(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("out"), data)

	_, err = store.Retrieve(context.Background(), filepath.Join(dir, "missing.out"))
	assert.ErrorIs(t, err, ErrNotFound)

	outside := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o600))
	_, err = store.Retrieve(context.Background(), outside)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Retrieve(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)
}
