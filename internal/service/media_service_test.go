//go:build unix

package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iconidentify/mediagrab/internal/domain"
	"github.com/iconidentify/mediagrab/internal/extractor"
	"github.com/iconidentify/mediagrab/internal/repository"
	"github.com/iconidentify/mediagrab/internal/stream"
	"github.com/iconidentify/mediagrab/internal/worker"
)

// fakeBinary writes a shell script that stands in for the extractor.
func fakeBinary(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "yt-dlp")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

type staticCookies string

func (c staticCookies) CookieFile() (string, bool) {
	return string(c), c != ""
}

type fullDisk struct {
	*repository.FilesystemDownloadRepository
	free int64
}

func (d fullDisk) FreeSpace() int64 { return d.free }

type testEnv struct {
	svc    *MediaService
	dir    string
	events *EventService
}

func newTestEnv(t *testing.T, bin string, cfg MediaServiceConfig, opts ...func(*testEnv, *MediaService)) *testEnv {
	t.Helper()
	logger := quietLogger()

	events, err := NewEventService(EventServiceConfig{RingBufferSize: 50}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })

	dir := t.TempDir()
	pool := worker.NewPool(worker.Config{MaxProcesses: 4, AcquireTimeout: time.Second}, logger)
	svc := NewMediaService(
		extractor.New(bin, logger),
		staticCookies(""),
		pool,
		repository.NewFilesystemDownloadRepository(dir),
		events,
		cfg,
		logger,
	)
	env := &testEnv{svc: svc, dir: dir, events: events}
	for _, opt := range opts {
		opt(env, svc)
	}
	return env
}

func (e *testEnv) storedFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		names = append(names, ent.Name())
	}
	return names
}

const resolveJSON = `{
  "title": "Clip",
  "thumbnail": "https://img.example.com/t.jpg",
  "formats": [
    {"format_id": "18", "ext": "mp4", "vcodec": "avc1", "acodec": "mp4a", "height": 360},
    {"format_id": "22", "ext": "mp4", "vcodec": "avc1", "acodec": "mp4a", "height": 720},
    {"format_id": "140", "ext": "m4a", "vcodec": "none", "acodec": "mp4a"},
    {"format_id": "137", "ext": "mp4", "vcodec": "avc1", "acodec": "none", "height": 1080}
  ]
}`

func TestMediaService_Resolve_Success(t *testing.T) {
	bin := fakeBinary(t, "cat <<'EOF'\n"+resolveJSON+"\nEOF")
	env := newTestEnv(t, bin, MediaServiceConfig{})

	meta, err := env.svc.Resolve(context.Background(), "https://example.com/v/1")
	require.NoError(t, err)

	assert.Equal(t, "Clip", meta.Title)
	require.NotNil(t, meta.Thumb)
	require.Len(t, meta.Options, 3)
	assert.Equal(t, "22", meta.Options[0].FormatID)
	assert.Equal(t, "18", meta.Options[1].FormatID)
	assert.Equal(t, "140", meta.Options[2].FormatID)
	assert.Len(t, env.events.GetRecent(10), 1)
}

func TestMediaService_Resolve_MissingURLLaunchesNothing(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "launched")
	bin := fakeBinary(t, "touch "+marker+"; echo '{}'")
	env := newTestEnv(t, bin, MediaServiceConfig{})

	_, err := env.svc.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrMissingURL)

	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "extractor must not run without a url")
}

func TestMediaService_Resolve_ExtractorFailure(t *testing.T) {
	bin := fakeBinary(t, `echo "ERROR: rate limited" >&2; exit 1`)
	env := newTestEnv(t, bin, MediaServiceConfig{})

	_, err := env.svc.Resolve(context.Background(), "https://example.com/v/1")
	require.ErrorIs(t, err, domain.ErrExtractionFailed)

	var extErr *domain.ExtractionError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, 1, extErr.ExitCode)
	assert.Contains(t, extErr.Details(), "rate limited")
}

func TestMediaService_Resolve_ExitCodeWithoutStderr(t *testing.T) {
	bin := fakeBinary(t, `exit 3`)
	env := newTestEnv(t, bin, MediaServiceConfig{})

	_, err := env.svc.Resolve(context.Background(), "https://example.com/v/1")
	var extErr *domain.ExtractionError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, "Exit code 3", extErr.Details())
}

func TestMediaService_Resolve_EmptyOutput(t *testing.T) {
	bin := fakeBinary(t, `echo "nothing found" >&2; printf '  \n'`)
	env := newTestEnv(t, bin, MediaServiceConfig{})

	_, err := env.svc.Resolve(context.Background(), "https://example.com/v/1")
	require.ErrorIs(t, err, domain.ErrEmptyOutput)

	var emptyErr *domain.EmptyOutputError
	require.True(t, errors.As(err, &emptyErr))
	assert.Equal(t, "nothing found", emptyErr.Stderr)
}

func TestMediaService_Resolve_MalformedOutput(t *testing.T) {
	bin := fakeBinary(t, `printf '{not json'`)
	env := newTestEnv(t, bin, MediaServiceConfig{})

	_, err := env.svc.Resolve(context.Background(), "https://example.com/v/1")
	require.ErrorIs(t, err, domain.ErrMalformedOutput)

	var malErr *domain.MalformedOutputError
	require.True(t, errors.As(err, &malErr))
	assert.Contains(t, malErr.Excerpt, "{not json")
}

func TestMediaService_Resolve_LaunchFailure(t *testing.T) {
	env := newTestEnv(t, filepath.Join(t.TempDir(), "missing"), MediaServiceConfig{})

	_, err := env.svc.Resolve(context.Background(), "https://example.com/v/1")
	assert.ErrorIs(t, err, domain.ErrLaunch)
}

func TestMediaService_Resolve_AppendsCookiesWhenPresent(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	bin := fakeBinary(t, `for a in "$@"; do echo "$a"; done > `+argsFile+`; echo '{"title":"x"}'`)
	env := newTestEnv(t, bin, MediaServiceConfig{}, func(_ *testEnv, s *MediaService) {
		s.cookies = staticCookies("/srv/cookies.txt")
	})

	_, err := env.svc.Resolve(context.Background(), "https://example.com/v/1")
	require.NoError(t, err)

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	args := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{"-J", "--no-warnings", "--no-check-certificate", "--cookies", "/srv/cookies.txt", "--", "https://example.com/v/1"}, args)
}

func TestMediaService_Resolve_Timeout(t *testing.T) {
	bin := fakeBinary(t, `sleep 10; echo '{}'`)
	env := newTestEnv(t, bin, MediaServiceConfig{ResolveTimeout: 200 * time.Millisecond})

	start := time.Now()
	_, err := env.svc.Resolve(context.Background(), "https://example.com/v/1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 8*time.Second)
}

// payloadScript prints a few hundred KiB of deterministic output.
const payloadScript = `i=0
while [ $i -lt 5000 ]; do
  echo "chunk $i of the media payload for format $2"
  i=$((i+1))
done
echo "[download] 100%" >&2`

func TestMediaService_Download_BodyMatchesStoredFile(t *testing.T) {
	bin := fakeBinary(t, payloadScript)
	env := newTestEnv(t, bin, MediaServiceConfig{})

	rec := httptest.NewRecorder()
	resp := stream.NewResponse(rec, 0)

	res, err := env.svc.Download(context.Background(), DownloadRequest{URL: "https://example.com/v/1"}, resp)
	require.NoError(t, err)

	assert.Equal(t, domain.DownloadCompleted, res.Outcome)
	assert.Equal(t, stream.Completed, resp.State())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), res.FileName)

	stored, err := os.ReadFile(filepath.Join(env.dir, res.FileName))
	require.NoError(t, err)
	assert.Greater(t, len(stored), 100*1024)
	assert.Equal(t, rec.Body.Bytes(), stored)
	assert.Equal(t, res.BytesRead, int64(len(stored)))
	assert.Contains(t, string(stored), "format best")
}

func TestMediaService_Download_ConcurrentDistinctFiles(t *testing.T) {
	bin := fakeBinary(t, payloadScript)
	env := newTestEnv(t, bin, MediaServiceConfig{})

	formats := []string{"137", "140"}
	results := make([]*domain.DownloadResult, len(formats))
	bodies := make([]*httptest.ResponseRecorder, len(formats))

	var wg sync.WaitGroup
	for i, f := range formats {
		wg.Add(1)
		go func(i int, f string) {
			defer wg.Done()
			rec := httptest.NewRecorder()
			bodies[i] = rec
			res, err := env.svc.Download(context.Background(), DownloadRequest{URL: "https://example.com/v/1", FormatID: f}, stream.NewResponse(rec, 0))
			assert.NoError(t, err)
			results[i] = res
		}(i, f)
	}
	wg.Wait()

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.NotEqual(t, results[0].FileName, results[1].FileName)
	assert.Len(t, env.storedFiles(t), 2)

	for i, f := range formats {
		stored, err := os.ReadFile(filepath.Join(env.dir, results[i].FileName))
		require.NoError(t, err)
		assert.Contains(t, string(stored), "format "+f)
		assert.Equal(t, bodies[i].Body.Bytes(), stored)
	}
}

func TestMediaService_Download_MissingURL(t *testing.T) {
	env := newTestEnv(t, fakeBinary(t, `echo hi`), MediaServiceConfig{})

	rec := httptest.NewRecorder()
	resp := stream.NewResponse(rec, 0)
	_, err := env.svc.Download(context.Background(), DownloadRequest{}, resp)

	assert.ErrorIs(t, err, domain.ErrMissingURL)
	assert.Equal(t, stream.NotStarted, resp.State())
	assert.Empty(t, env.storedFiles(t))
}

func TestMediaService_Download_LaunchFailureRemovesFile(t *testing.T) {
	env := newTestEnv(t, filepath.Join(t.TempDir(), "missing"), MediaServiceConfig{})

	rec := httptest.NewRecorder()
	resp := stream.NewResponse(rec, 0)
	_, err := env.svc.Download(context.Background(), DownloadRequest{URL: "https://example.com/v/1"}, resp)

	assert.ErrorIs(t, err, domain.ErrLaunch)
	assert.Equal(t, stream.NotStarted, resp.State())
	assert.Empty(t, env.storedFiles(t))
}

func TestMediaService_Download_FailureAfterHeadersTruncates(t *testing.T) {
	bin := fakeBinary(t, `echo "partial bytes"; echo "ERROR: fragment 3 failed" >&2; exit 1`)
	env := newTestEnv(t, bin, MediaServiceConfig{})

	rec := httptest.NewRecorder()
	resp := stream.NewResponse(rec, 0)
	res, err := env.svc.Download(context.Background(), DownloadRequest{URL: "https://example.com/v/1"}, resp)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.DownloadAborted, res.Outcome)
	assert.Equal(t, stream.Aborted, resp.State())
	assert.Equal(t, 1, res.ExitCode)
	assert.ErrorIs(t, res.Err, domain.ErrStreamInterrupted)
	assert.Contains(t, res.Err.Error(), "code 1")
	assert.Equal(t, "partial bytes\n", rec.Body.String())

	// The partial copy stays on disk.
	stored, err := os.ReadFile(filepath.Join(env.dir, res.FileName))
	require.NoError(t, err)
	assert.Equal(t, "partial bytes\n", string(stored))
}

func TestMediaService_Download_InsufficientStorage(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "launched")
	env := newTestEnv(t, fakeBinary(t, "touch "+marker), MediaServiceConfig{MinFreeBytes: 1 << 30},
		func(e *testEnv, s *MediaService) {
			s.repo = fullDisk{FilesystemDownloadRepository: repository.NewFilesystemDownloadRepository(e.dir), free: 1024}
		})

	rec := httptest.NewRecorder()
	_, err := env.svc.Download(context.Background(), DownloadRequest{URL: "https://example.com/v/1"}, stream.NewResponse(rec, 0))
	assert.ErrorIs(t, err, domain.ErrInsufficientStorage)

	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, env.storedFiles(t))
}

func TestMediaService_Download_Busy(t *testing.T) {
	env := newTestEnv(t, fakeBinary(t, `echo hi`), MediaServiceConfig{}, func(_ *testEnv, s *MediaService) {
		s.pool = worker.NewPool(worker.Config{MaxProcesses: 1, AcquireTimeout: 50 * time.Millisecond}, quietLogger())
	})

	release, err := env.svc.pool.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	rec := httptest.NewRecorder()
	_, err = env.svc.Download(context.Background(), DownloadRequest{URL: "https://example.com/v/1"}, stream.NewResponse(rec, 0))
	assert.ErrorIs(t, err, domain.ErrBusy)
	assert.Empty(t, env.storedFiles(t))
}

// brokenClient accepts limit body bytes and then fails every write.
type brokenClient struct {
	header http.Header
	code   int
	limit  int
	n      int
}

func (b *brokenClient) Header() http.Header {
	if b.header == nil {
		b.header = make(http.Header)
	}
	return b.header
}

func (b *brokenClient) WriteHeader(code int) { b.code = code }

func (b *brokenClient) Write(p []byte) (int, error) {
	if b.n+len(p) > b.limit {
		return 0, errors.New("connection reset by peer")
	}
	b.n += len(p)
	return len(p), nil
}

func TestMediaService_Download_ClientGoneTerminates(t *testing.T) {
	// Runs until killed.
	bin := fakeBinary(t, `yes "endless media payload"`)
	env := newTestEnv(t, bin, MediaServiceConfig{KeepOnDisconnect: false})

	done := make(chan *domain.DownloadResult, 1)
	go func() {
		res, err := env.svc.Download(context.Background(), DownloadRequest{URL: "https://example.com/v/1"},
			stream.NewResponse(&brokenClient{limit: 64 * 1024}, 0))
		assert.NoError(t, err)
		done <- res
	}()

	select {
	case res := <-done:
		assert.Equal(t, domain.DownloadAborted, res.Outcome)
		assert.True(t, res.ClientFailed)
		assert.False(t, res.DiskFailed)
	case <-time.After(10 * time.Second):
		t.Fatal("extractor was not terminated after the client went away")
	}
}

func TestMediaService_Download_ClientGoneFinishesDiskCopy(t *testing.T) {
	bin := fakeBinary(t, payloadScript)
	env := newTestEnv(t, bin, MediaServiceConfig{KeepOnDisconnect: true})

	client := &brokenClient{limit: 1024}
	res, err := env.svc.Download(context.Background(), DownloadRequest{URL: "https://example.com/v/1"}, stream.NewResponse(client, 0))
	require.NoError(t, err)

	assert.Equal(t, domain.DownloadAborted, res.Outcome)
	assert.True(t, res.ClientFailed)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, res.BytesRead, res.DiskBytes)

	stored, err := os.ReadFile(filepath.Join(env.dir, res.FileName))
	require.NoError(t, err)
	assert.Equal(t, int(res.BytesRead), len(stored))
	assert.True(t, strings.HasSuffix(string(stored), "chunk 4999 of the media payload for format best\n"))
}

func TestMediaService_Download_CanceledContextTerminates(t *testing.T) {
	bin := fakeBinary(t, `while true; do echo "slow media payload"; sleep 0.05; done`)
	env := newTestEnv(t, bin, MediaServiceConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	rec := httptest.NewRecorder()
	res, err := env.svc.Download(ctx, DownloadRequest{URL: "https://example.com/v/1"}, stream.NewResponse(rec, 0))
	require.NoError(t, err)
	assert.Equal(t, domain.DownloadAborted, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrStreamInterrupted)
}

func TestMediaService_RejectsNonHTTPURLs(t *testing.T) {
	secret := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(secret, []byte("root:x:0:0:TOPSECRET\n"), 0600))

	marker := filepath.Join(t.TempDir(), "launched")
	bin := fakeBinary(t, "touch "+marker+`; for a in "$@"; do echo "$a" >&2; done; exit 1`)
	env := newTestEnv(t, bin, MediaServiceConfig{})

	hostile := []string{
		"--batch-file=" + secret,
		"--config-location=" + secret,
		"-a" + secret,
		secret,
		"file://" + secret,
		"ftp://example.com/v.mp4",
		"https://",
		"example.com/v/1",
	}

	for _, raw := range hostile {
		t.Run(raw, func(t *testing.T) {
			_, err := env.svc.Resolve(context.Background(), raw)
			require.ErrorIs(t, err, domain.ErrInvalidInput)
			var inErr *domain.InputError
			require.True(t, errors.As(err, &inErr))
			assert.Equal(t, "url", inErr.Field)
			assert.NotContains(t, err.Error(), "TOPSECRET")

			rec := httptest.NewRecorder()
			resp := stream.NewResponse(rec, 0)
			_, err = env.svc.Download(context.Background(), DownloadRequest{URL: raw}, resp)
			require.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Equal(t, stream.NotStarted, resp.State())
		})
	}

	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "extractor must not run for a rejected url")
	assert.Empty(t, env.storedFiles(t), "no download file for a rejected url")
}

func TestMediaService_URLFollowsOptionTerminator(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	bin := fakeBinary(t, `for a in "$@"; do echo "$a"; done > `+argsFile+`; echo '{"title":"x"}'`)
	env := newTestEnv(t, bin, MediaServiceConfig{})

	_, err := env.svc.Resolve(context.Background(), "HTTPS://example.com/v/1?list=--batch-file")
	require.NoError(t, err)

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	args := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.GreaterOrEqual(t, len(args), 2)
	assert.Equal(t, []string{"--", "HTTPS://example.com/v/1?list=--batch-file"}, args[len(args)-2:])
}
