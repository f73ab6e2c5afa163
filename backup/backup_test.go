package backup_test

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-db/lattice/backup"
	"github.com/lattice-db/lattice/store"
)

func testSchema() *store.Schema {
	return &store.Schema{
		Name: "application",
		Fields: []store.Field{
			{Name: "client", Kind: store.KindString, Required: true},
			{Name: "county", Kind: store.KindString, Required: true},
			{Name: "status", Kind: store.KindString, Required: true},
		},
		Composites: []store.Composite{
			{Name: "by_status", Fields: []string{"status"}},
		},
	}
}

func TestLocalSnapshotRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := store.Open(store.Config{Path: filepath.Join(dir, "app.db")}, testSchema())
	require.NoError(t, err)

	id, err := s.Insert(store.Record{"client": "Acme", "county": "NY", "status": "Active"})
	require.NoError(t, err)
	_, err = s.Insert(store.Record{"client": "Zenith", "county": "CT", "status": "Closed"})
	require.NoError(t, err)

	target, err := backup.NewLocalTarget(filepath.Join(dir, "backups"))
	require.NoError(t, err)

	require.NoError(t, backup.Snapshot(ctx, s.DB(), target, "app.snap"))

	// A write after the snapshot must not appear in the restored copy.
	late, err := s.Insert(store.Record{"client": "Late", "county": "NJ", "status": "Active"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	restored := filepath.Join(dir, "restored.db")
	require.NoError(t, backup.Restore(ctx, target, "app.snap", restored))

	s2, err := store.Open(store.Config{Path: restored}, testSchema())
	require.NoError(t, err)
	defer s2.Close()

	rec, err := s2.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "Acme", rec["client"])

	_, err = s2.Get(late)
	assert.ErrorIs(t, err, store.ErrNotFound)

	recs, err := s2.Filter(store.Query{})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	// Indexes survive the round trip intact.
	require.NoError(t, s2.VerifyIndex("by_status"))
}

func TestLocalRestoreMissingSnapshot(t *testing.T) {
	dir := t.TempDir()
	target, err := backup.NewLocalTarget(dir)
	require.NoError(t, err)

	err = backup.Restore(context.Background(), target, "no-such.snap", filepath.Join(dir, "out.db"))
	assert.Error(t, err)
}

func TestLocalPutReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	target, err := backup.NewLocalTarget(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, target.Put(ctx, "blob", bytes.NewReader([]byte("first"))))
	require.NoError(t, target.Put(ctx, "blob", bytes.NewReader([]byte("second"))))

	rc, err := target.Get(ctx, "blob")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

// fakeS3 implements the Client subset in memory. Snapshot bodies stay
// below the uploader's part size, so only PutObject is exercised.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[*in.Key] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	data, ok := f.objects[*in.Key]
	f.mu.Unlock()
	if !ok {
		return nil, &noSuchKeyError{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return &s3.UploadPartOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return &s3.CreateMultipartUploadOutput{}, nil
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

type noSuchKeyError struct{}

func (*noSuchKeyError) Error() string { return "NoSuchKey" }

func TestS3SnapshotRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := store.Open(store.Config{Path: filepath.Join(dir, "app.db")}, testSchema())
	require.NoError(t, err)

	id, err := s.Insert(store.Record{"client": "Acme", "county": "NY", "status": "Active"})
	require.NoError(t, err)

	fake := newFakeS3()
	target := backup.NewS3Target(fake, "lattice-backups", "snapshots")

	require.NoError(t, backup.Snapshot(ctx, s.DB(), target, "app.snap"))
	require.NoError(t, s.Close())

	// Stored under the configured prefix.
	fake.mu.Lock()
	_, ok := fake.objects["snapshots/app.snap"]
	fake.mu.Unlock()
	require.True(t, ok, "expected object under prefix")

	restored := filepath.Join(dir, "restored.db")
	require.NoError(t, backup.Restore(ctx, target, "app.snap", restored))

	s2, err := store.Open(store.Config{Path: restored}, testSchema())
	require.NoError(t, err)
	defer s2.Close()

	rec, err := s2.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "Acme", rec["client"])
}

func TestS3RestoreMissingObject(t *testing.T) {
	target := backup.NewS3Target(newFakeS3(), "lattice-backups", "")

	err := backup.Restore(context.Background(), target, "missing.snap", filepath.Join(t.TempDir(), "out.db"))
	assert.Error(t, err)
}
