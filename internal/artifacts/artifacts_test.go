package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/klauspost/compress/zstd"
	"github.com/spboyer/ideaforge/internal/prompt"
	"github.com/spboyer/ideaforge/internal/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func (m *memStore) Put(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.files == nil {
		m.files = map[string][]byte{}
	}
	m.files[name] = append([]byte(nil), data...)
	return nil
}

type upload struct {
	container, blob string
	data            []byte
	opts            *azblob.UploadBufferOptions
}

type fakeUploader struct {
	uploads []upload
	err     error
}

func (f *fakeUploader) UploadBuffer(_ context.Context, container, blobName string, buf []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error) {
	f.uploads = append(f.uploads, upload{container: container, blob: blobName, data: buf, opts: o})
	return azblob.UploadBufferResponse{}, f.err
}

func TestDirStore_Put(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s, err := NewDirStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "01_structure.md", []byte("first")))
	require.NoError(t, s.Put(context.Background(), "01_structure.md", []byte("second")))

	data, err := os.ReadFile(filepath.Join(dir, "01_structure.md"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestDirStore_RejectsEscapingNames(t *testing.T) {
	s, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "../x.md", "/etc/passwd"} {
		require.Error(t, s.Put(context.Background(), name, nil), name)
	}
}

func TestBlobStore_Put(t *testing.T) {
	up := &fakeUploader{}
	s, err := newBlobStore(BlobConfig{Container: "runs", Prefix: "/ideas/"}, up)
	require.NoError(t, err)

	require.NoError(t, s.WithPrefix("run-1").Put(context.Background(), "manifest.json", []byte(`{}`)))

	require.Len(t, up.uploads, 1)
	got := up.uploads[0]
	assert.Equal(t, "runs", got.container)
	assert.Equal(t, "ideas/run-1/manifest.json", got.blob)
	assert.Equal(t, `{}`, string(got.data))
	assert.Equal(t, "application/json", *got.opts.HTTPHeaders.BlobContentType)
	assert.Nil(t, got.opts.HTTPHeaders.BlobContentEncoding)
}

func TestBlobStore_Compressed(t *testing.T) {
	up := &fakeUploader{}
	s, err := newBlobStore(BlobConfig{Container: "runs", Compress: true}, up)
	require.NoError(t, err)

	body := []byte("# Tables\n\nsome markdown that compresses\n")
	require.NoError(t, s.Put(context.Background(), "01_structure.md", body))

	require.Len(t, up.uploads, 1)
	assert.Equal(t, "01_structure.md.zst", up.uploads[0].blob)
	assert.Equal(t, "zstd", *up.uploads[0].opts.HTTPHeaders.BlobContentEncoding)
	assert.Equal(t, "text/markdown; charset=utf-8", *up.uploads[0].opts.HTTPHeaders.BlobContentType)

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	plain, err := dec.DecodeAll(up.uploads[0].data, nil)
	require.NoError(t, err)
	assert.Equal(t, body, plain)
}

func TestBlobStore_UploadError(t *testing.T) {
	s, err := newBlobStore(BlobConfig{Container: "runs"}, &fakeUploader{err: errors.New("403")})
	require.NoError(t, err)
	require.ErrorContains(t, s.Put(context.Background(), "a.md", nil), "uploading a.md")
}

func TestBlobStore_RequiresContainer(t *testing.T) {
	_, err := newBlobStore(BlobConfig{}, &fakeUploader{})
	require.Error(t, err)
	assert.False(t, BlobConfig{AccountURL: "https://x.blob.core.windows.net"}.Enabled())
}

func TestRecorder(t *testing.T) {
	dir := t.TempDir()
	mirror := &memStore{}
	broken := &memStore{err: errors.New("offline")}

	rec, err := NewRecorder(dir, broken, mirror)
	require.NoError(t, err)
	assert.Equal(t, dir, rec.Dir())

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, rec.RecordTurn(ctx, transcript.Turn{
		Seq: 1, Stage: prompt.StageStructure, Kind: prompt.KindInitial,
		Prompt: "p", Response: "no json", Outcome: transcript.OutcomeResponded, Timestamp: now,
	}))
	require.NoError(t, rec.RecordTurn(ctx, transcript.Turn{
		Seq: 2, Stage: prompt.StageStructure, Attempt: 1, Kind: prompt.KindRetryMissing,
		Prompt: "p2", Outcome: transcript.OutcomeTimedOut, Timestamp: now,
	}))
	require.NoError(t, rec.RecordManifest(ctx, map[string]any{"project": map[string]any{"name": "x"}}))
	require.NoError(t, rec.RecordCapture(ctx, "files"))

	// A cancelled context still gets the evidence written locally.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, rec.RecordTurn(cancelled, transcript.Turn{
		Seq: 3, Stage: prompt.StageStructure, Attempt: 2, Kind: prompt.KindRetryTimeout,
		Response: "late", Outcome: transcript.OutcomeResponded, Timestamp: now,
	}))
	require.NoError(t, rec.Close(ctx))

	for _, name := range []string{"01_structure.md", "01_structure_retry_2.md", ManifestName, CaptureName, transcript.FileName} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	assert.NoFileExists(t, filepath.Join(dir, "01_structure_retry_1.md"), "timed out turns have no response file")

	var manifest map[string]any
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.Equal(t, "x", manifest["project"].(map[string]any)["name"])

	turns, err := transcript.Read(filepath.Join(dir, transcript.FileName))
	require.NoError(t, err)
	assert.Len(t, turns, 3)

	assert.Contains(t, mirror.files, transcript.FileName)
	assert.Contains(t, mirror.files, ManifestName)
	assert.Equal(t, "no json", string(mirror.files["01_structure.md"]))
}

func TestCreateRunDir_SuffixesTakenNames(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "runs")
	base := transcript.RunDirName("Habit Tracker", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Equal(t, base, transcript.RunDirName("habit-tracker", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	first, err := CreateRunDir(parent, base)
	require.NoError(t, err)
	second, err := CreateRunDir(parent, base)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(parent, base), first)
	assert.Equal(t, filepath.Join(parent, base+"-2"), second)
	assert.DirExists(t, second)
}

func TestCreateRunDir_ConcurrentRunsGetDistinctDirs(t *testing.T) {
	parent := t.TempDir()

	const runs = 8
	dirs := make([]string, runs)
	var wg sync.WaitGroup
	for i := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dir, err := CreateRunDir(parent, "unnamed-20260101-000000")
			assert.NoError(t, err)
			dirs[i] = dir
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, dir := range dirs {
		require.NotEmpty(t, dir)
		assert.False(t, seen[dir], "duplicate run dir %s", dir)
		seen[dir] = true
	}
}

func TestCreateRunDir_ParentIsAFile(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(parent, []byte("x"), 0o644))

	_, err := CreateRunDir(parent, "run")
	require.Error(t, err)
}
