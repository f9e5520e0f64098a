package pdlhttp

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	mrand "math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spalmalo/parallel-download/internal/utils"
)

func testJob(t *testing.T, link string, chunkSize int64) utils.DownloadJob {
	t.Helper()
	return utils.DownloadJob{
		ID:         "test-job",
		URL:        link,
		ChunkSize:  chunkSize,
		OutputPath: filepath.Join(t.TempDir(), "out.bin"),
		Options: utils.DownloadOptions{
			MaxRetries:   2,
			RetryBackoff: time.Millisecond,
		},
		HTTPClientConfig: utils.HTTPClientConfig{
			ConnectTimeout: time.Second,
			RequestTimeout: 5 * time.Second,
		},
	}
}

func assertNoOutput(t *testing.T, job utils.DownloadJob) {
	t.Helper()
	assert.NoFileExists(t, job.OutputPath)
	assert.NoFileExists(t, job.OutputPath+utils.PartSuffix)
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

// rangeServer serves data with byte-range support and a random delay per
// request, so chunks complete out of order.
func rangeServer(data []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			time.Sleep(time.Duration(mrand.IntN(20)) * time.Millisecond)
		}
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}))
}

// noRangeServer reports a length but always answers with the full body.
func noRangeServer(data []byte, rangedGets *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if r.Method == http.MethodHead {
			return
		}
		if rng := r.Header.Get("Range"); rng != "" && rng != "bytes=0-0" {
			rangedGets.Add(1)
		}
		w.Write(data)
	}))
}

func TestDownloadRoundTrip(t *testing.T) {
	data := randomBytes(t, 1<<20+123)
	server := rangeServer(data)
	defer server.Close()

	job := testJob(t, server.URL, 64*1024)
	var (
		mu       sync.Mutex
		calls    int
		lastDown int64
		lastTot  int64
	)
	outcome := Download(context.Background(), job, func(downloaded, total int64) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		assert.GreaterOrEqual(t, downloaded, lastDown)
		lastDown, lastTot = downloaded, total
	})

	require.Equal(t, utils.Success{Path: job.OutputPath}, outcome)
	content, err := os.ReadFile(job.OutputPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, content), "downloaded content differs")
	assert.NoFileExists(t, job.OutputPath+utils.PartSuffix)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, len(Plan(int64(len(data)), job.ChunkSize)), calls)
	assert.EqualValues(t, len(data), lastDown)
	assert.EqualValues(t, len(data), lastTot)
}

func TestDownloadSingleChunk(t *testing.T) {
	data := randomBytes(t, 1000)
	server := rangeServer(data)
	defer server.Close()

	job := testJob(t, server.URL, 4096)
	outcome := Download(context.Background(), job, nil)
	require.Equal(t, utils.Success{Path: job.OutputPath}, outcome)
	content, err := os.ReadFile(job.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, data, content)
}

func TestDownloadZeroLength(t *testing.T) {
	server := rangeServer(nil)
	defer server.Close()

	job := testJob(t, server.URL, 100)
	outcome := Download(context.Background(), job, nil)
	require.Equal(t, utils.Success{Path: job.OutputPath}, outcome)
	info, err := os.Stat(job.OutputPath)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestDownloadRangesNotSupported(t *testing.T) {
	data := randomBytes(t, 300)
	var rangedGets atomic.Int32
	server := noRangeServer(data, &rangedGets)
	defer server.Close()

	job := testJob(t, server.URL, 100)
	outcome := Download(context.Background(), job, nil)

	failure, ok := outcome.(utils.Failure)
	require.True(t, ok, "unexpected outcome %v", outcome)
	assert.Equal(t, utils.KindNotSupported, failure.Kind)
	assert.Zero(t, rangedGets.Load())
	assertNoOutput(t, job)
}

func TestDownloadUnsupportedAsSingleStream(t *testing.T) {
	data := randomBytes(t, 300)
	var rangedGets atomic.Int32
	server := noRangeServer(data, &rangedGets)
	defer server.Close()

	job := testJob(t, server.URL, 100)
	job.Options.DownloadUnsupported = true
	outcome := Download(context.Background(), job, nil)

	require.Equal(t, utils.Success{Path: job.OutputPath}, outcome)
	assert.Zero(t, rangedGets.Load())
	content, err := os.ReadFile(job.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, data, content)
}

func TestDownloadUnknownLength(t *testing.T) {
	data := randomBytes(t, 5000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		// flushing before the end forces a chunked reply without Content-Length
		w.Write(data[:100])
		w.(http.Flusher).Flush()
		w.Write(data[100:])
	}))
	defer server.Close()

	job := testJob(t, server.URL, 1000)
	job.Options.DownloadUnsupported = true
	var lastTotal atomic.Int64
	outcome := Download(context.Background(), job, func(downloaded, total int64) {
		lastTotal.Store(total)
	})

	require.Equal(t, utils.Success{Path: job.OutputPath}, outcome)
	assert.Equal(t, utils.UnknownLength, lastTotal.Load())
	content, err := os.ReadFile(job.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, data, content)
}

func TestDownloadServerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", "300")
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	job := testJob(t, server.URL, 100)
	outcome := Download(context.Background(), job, nil)

	failure, ok := outcome.(utils.ServerFailure)
	require.True(t, ok, "unexpected outcome %v", outcome)
	assert.Equal(t, http.StatusInternalServerError, failure.Status)
	assertNoOutput(t, job)
}

func TestDownloadTimeout(t *testing.T) {
	var chunkHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", "100")
			return
		}
		chunkHits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	job := testJob(t, server.URL, 100)
	job.Options.MaxRetries = 1
	job.HTTPClientConfig.RequestTimeout = 50 * time.Millisecond
	outcome := Download(context.Background(), job, nil)

	failure, ok := outcome.(utils.Failure)
	require.True(t, ok, "unexpected outcome %v", outcome)
	assert.Equal(t, utils.KindTimeout, failure.Kind)
	assertNoOutput(t, job)
	assert.Eventually(t, func() bool { return chunkHits.Load() == 2 }, time.Second, 10*time.Millisecond)
}

func TestDownloadCancelled(t *testing.T) {
	var once sync.Once
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", "300")
			return
		}
		once.Do(func() { close(started) })
		<-r.Context().Done()
	}))
	defer server.Close()

	job := testJob(t, server.URL, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := Start(ctx, job, nil)
	<-started
	cancel()

	outcome := <-done
	failure, ok := outcome.(utils.Failure)
	require.True(t, ok, "unexpected outcome %v", outcome)
	assert.Equal(t, utils.KindCancelled, failure.Kind)
	assertNoOutput(t, job)
}

func TestDownloadSurvivesPanickingProgress(t *testing.T) {
	data := randomBytes(t, 400)
	server := rangeServer(data)
	defer server.Close()

	job := testJob(t, server.URL, 100)
	outcome := Download(context.Background(), job, func(downloaded, total int64) {
		panic("progress sink is broken")
	})
	require.Equal(t, utils.Success{Path: job.OutputPath}, outcome)
}

// hangingSiblingsServer serves a 400 byte resource in four 100 byte chunks.
// Every chunk but the first blocks until its request is cancelled; started is
// closed once all of them are in flight.
func hangingSiblingsServer(t *testing.T, firstChunk http.HandlerFunc) (server *httptest.Server, started <-chan struct{}, cancelled *atomic.Int32) {
	t.Helper()
	const siblings = 3
	var inFlight atomic.Int32
	cancelled = &atomic.Int32{}
	allStarted := make(chan struct{})
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", "400")
			return
		}
		if r.Header.Get("Range") == "bytes=0-99" {
			firstChunk(w, r)
			return
		}
		if inFlight.Add(1) == siblings {
			close(allStarted)
		}
		select {
		case <-r.Context().Done():
			cancelled.Add(1)
		case <-time.After(5 * time.Second):
		}
	}))
	return server, allStarted, cancelled
}

func TestDownloadFatalChunkCancelsSiblings(t *testing.T) {
	var started <-chan struct{}
	server, started, cancelled := hangingSiblingsServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusBadGateway)
	})
	defer server.Close()

	job := testJob(t, server.URL, 100)
	begin := time.Now()
	outcome := Download(context.Background(), job, nil)

	failure, ok := outcome.(utils.ServerFailure)
	require.True(t, ok, "unexpected outcome %v", outcome)
	assert.Equal(t, http.StatusBadGateway, failure.Status)
	assert.Less(t, time.Since(begin), 4*time.Second)
	assert.Eventually(t, func() bool { return cancelled.Load() == 3 }, 2*time.Second, 10*time.Millisecond)
	assertNoOutput(t, job)
}

// timeoutDoer fails the first chunk with a transport timeout once the other
// chunks are in flight, and forwards every other request.
type timeoutDoer struct {
	next    utils.HTTPDoer
	started <-chan struct{}
	calls   atomic.Int32
}

func (d *timeoutDoer) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Range") != "bytes=0-99" {
		return d.next.Do(req)
	}
	d.calls.Add(1)
	select {
	case <-d.started:
	case <-time.After(2 * time.Second):
	}
	return nil, fmt.Errorf("read tcp 127.0.0.1: %w", os.ErrDeadlineExceeded)
}

func TestDownloadTimedOutChunkCancelsSiblings(t *testing.T) {
	server, started, cancelled := hangingSiblingsServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("first chunk must not reach the server")
	})
	defer server.Close()

	job := testJob(t, server.URL, 100)
	job.Options.MaxRetries = 1
	doer := &timeoutDoer{next: server.Client(), started: started}
	begin := time.Now()
	outcome := <-start(context.Background(), job, doer, nil)

	failure, ok := outcome.(utils.Failure)
	require.True(t, ok, "unexpected outcome %v", outcome)
	assert.Equal(t, utils.KindTimeout, failure.Kind)
	assert.EqualValues(t, 2, doer.calls.Load())
	assert.Less(t, time.Since(begin), 4*time.Second)
	assert.Eventually(t, func() bool { return cancelled.Load() == 3 }, 2*time.Second, 10*time.Millisecond)
	assertNoOutput(t, job)
}

func TestDownloadBufferedChunksWindow(t *testing.T) {
	data := randomBytes(t, 1000)
	var active, maxActive atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			current := active.Add(1)
			for {
				seen := maxActive.Load()
				if current <= seen || maxActive.CompareAndSwap(seen, current) {
					break
				}
			}
			time.Sleep(time.Duration(5+mrand.IntN(15)) * time.Millisecond)
			active.Add(-1)
		}
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}))
	defer server.Close()

	job := testJob(t, server.URL, 100)
	job.Options.MaxBufferedChunks = 2
	outcome := Download(context.Background(), job, nil)

	require.Equal(t, utils.Success{Path: job.OutputPath}, outcome)
	content, err := os.ReadFile(job.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, data, content)
	assert.LessOrEqual(t, maxActive.Load(), int32(2))
}

func TestChunkWindow(t *testing.T) {
	window := newChunkWindow(5, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, window.wait(ctx, 0))
	require.NoError(t, window.wait(ctx, 1))
	assert.ErrorIs(t, window.wait(ctx, 2), context.DeadlineExceeded)

	window.advance(3)
	for i := range 5 {
		assert.NoError(t, window.wait(context.Background(), i))
	}
	window.advance(5)

	unbounded := newChunkWindow(3, 0)
	for i := range 3 {
		assert.NoError(t, unbounded.wait(context.Background(), i))
	}
}
