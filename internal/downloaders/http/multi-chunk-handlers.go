package pdlhttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Spalmalo/parallel-download/internal/utils"
)

const maxRetryBackoff = 30 * time.Second

type FetchConfig struct {
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
}

func fetchConfigFor(job utils.DownloadJob) FetchConfig {
	return FetchConfig{
		RequestTimeout: job.HTTPClientConfig.RequestTimeout,
		MaxRetries:     job.Options.MaxRetries,
		RetryBackoff:   job.Options.RetryBackoff,
	}
}

// FetchChunk retrieves the bytes of one task. Transient failures are retried
// with the same range; server errors and integrity failures are returned at
// once. The worker never touches the file system.
func FetchChunk(ctx context.Context, client utils.HTTPDoer, link string, task utils.ChunkTask, cfg FetchConfig) utils.ChunkOutcome {
	if task.Empty() {
		return utils.ChunkOutcome{Task: task, Data: []byte{}}
	}
	maxAttempts := max(cfg.MaxRetries, 0) + 1
	for {
		task.Attempts++
		data, ferr := fetchAttempt(ctx, client, link, task, cfg.RequestTimeout)
		if ferr == nil {
			return utils.ChunkOutcome{Task: task, Data: data}
		}
		if !ferr.Kind.Retryable() || task.Attempts >= maxAttempts {
			return utils.ChunkOutcome{Task: task, Err: ferr}
		}
		log.Warn().Str("op", "http/chunk").Int("chunk", task.Index).Err(ferr).Msgf("Retrying chunk (attempt %d/%d)", task.Attempts+1, maxAttempts)
		if err := retryBackoff(ctx, task.Attempts, cfg.RetryBackoff); err != nil {
			return utils.ChunkOutcome{Task: task, Err: utils.NewFetchError(utils.KindCancelled, err)}
		}
	}
}

func fetchAttempt(ctx context.Context, client utils.HTTPDoer, link string, task utils.ChunkTask, requestTimeout time.Duration) ([]byte, *utils.FetchError) {
	reqCtx, cancel := withRequestTimeout(ctx, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, link, nil)
	if err != nil {
		return nil, utils.NewFetchError(utils.KindUrlNotValid, err)
	}
	if !task.Whole {
		req.Header.Set("Range", rangeHeader(task))
	}
	req.Header.Set("Connection", "keep-alive")
	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyAttemptError(ctx, reqCtx, err)
	}
	defer resp.Body.Close()

	if task.Whole {
		if ferr := checkWholeResponse(resp); ferr != nil {
			return nil, ferr
		}
	} else if ferr := checkRangeResponse(resp, task); ferr != nil {
		return nil, ferr
	}

	data, ferr := readBody(ctx, reqCtx, resp.Body, task.Length())
	if ferr != nil {
		return nil, ferr
	}
	log.Debug().Str("op", "http/chunk").Int("chunk", task.Index).Int("bytes", len(data)).Int("attempt", task.Attempts).Msg("chunk fetched")
	return data, nil
}

func rangeHeader(task utils.ChunkTask) string {
	return fmt.Sprintf("bytes=%d-%d", task.Start, task.End)
}

func checkRangeResponse(resp *http.Response, task utils.ChunkTask) *utils.FetchError {
	switch resp.StatusCode {
	case http.StatusPartialContent:
		contentRange := resp.Header.Get("Content-Range")
		if contentRange == "" {
			return utils.NewFetchError(utils.KindIOError, fmt.Errorf("chunk %d: missing Content-Range header", task.Index))
		}
		start, end, _, err := ParseContentRange(contentRange)
		if err != nil {
			return utils.NewFetchError(utils.KindIOError, err)
		}
		if start != task.Start || end != task.End {
			return utils.NewFetchError(utils.KindIOError, fmt.Errorf("chunk %d: server sent range %d-%d, requested %d-%d", task.Index, start, end, task.Start, task.End))
		}
		return nil
	case http.StatusOK:
		// the range was ignored; the full body is only usable when it is exactly this task
		if task.Start == 0 && resp.ContentLength == task.Length() {
			return nil
		}
		return utils.NewFetchError(utils.KindNotSupported, fmt.Errorf("chunk %d: %w", task.Index, utils.ErrRangeRequestsNotSupported))
	default:
		return utils.NewServerError(resp.StatusCode, resp.Status)
	}
}

// readBody reads the whole response, enforcing the expected length when it
// is known. A short or long body is an integrity failure, not a retry.
func readBody(jobCtx, reqCtx context.Context, body io.Reader, expected int64) ([]byte, *utils.FetchError) {
	var (
		buf bytes.Buffer
		err error
	)
	if expected >= 0 {
		buf.Grow(int(expected))
		_, err = buf.ReadFrom(io.LimitReader(body, expected+1))
	} else {
		_, err = buf.ReadFrom(body)
	}
	if err != nil {
		return nil, classifyAttemptError(jobCtx, reqCtx, err)
	}
	if expected >= 0 && int64(buf.Len()) != expected {
		return nil, utils.NewFetchError(utils.KindIOError, fmt.Errorf("size mismatch: expected %d bytes, got %d", expected, buf.Len()))
	}
	return buf.Bytes(), nil
}

// retryBackoff waits an exponentially increasing, jittered duration.
func retryBackoff(ctx context.Context, attempt int, base time.Duration) error {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	backoff := base * time.Duration(1<<uint(min(attempt-1, 16)))
	if backoff > maxRetryBackoff {
		backoff = maxRetryBackoff
	}
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))
	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
