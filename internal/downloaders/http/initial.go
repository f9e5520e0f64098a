package pdlhttp

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Spalmalo/parallel-download/internal/utils"
)

type HTTPDownloader struct{}

// ValidateJob runs the checks that must pass before any network work starts.
func (d *HTTPDownloader) ValidateJob(req utils.JobRequest) error {
	if err := utils.ValidateURL(req.URL); err != nil {
		return err
	}
	if req.ChunkSize <= 0 {
		return utils.NewFetchError(utils.KindInvalidInput, fmt.Errorf("chunk size must be positive, got %d", req.ChunkSize))
	}
	return utils.CheckDestination(req.OutputDir)
}

// BuildJob validates req and freezes it into a DownloadJob. When no file name
// is given, the name is derived from the server's metadata or the URL.
func (d *HTTPDownloader) BuildJob(ctx context.Context, req utils.JobRequest) (utils.DownloadJob, error) {
	if err := d.ValidateJob(req); err != nil {
		return utils.DownloadJob{}, err
	}
	fileName := utils.SanitizeFileName(req.FileName)
	if fileName == "" {
		client := utils.NewPDLHTTPClient(req.HTTPClientConfig)
		meta, ferr := Probe(ctx, client, req.URL, req.HTTPClientConfig.RequestTimeout)
		client.CloseIdleConnections()
		if ferr != nil {
			log.Debug().Str("op", "http/initial").Err(ferr).Msg("metadata unavailable, naming from URL")
		}
		fileName = utils.DeriveFileName(req.URL, meta)
	}
	outputPath := filepath.Join(req.OutputDir, fileName)
	if utils.PathTaken(outputPath) {
		outputPath = utils.RenewOutputPath(outputPath)
	}
	opts := req.Options
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	headers := make(map[string]string, len(req.HTTPClientConfig.Headers))
	for k, v := range req.HTTPClientConfig.Headers {
		headers[k] = v
	}
	clientConfig := req.HTTPClientConfig
	clientConfig.Headers = headers
	return utils.DownloadJob{
		ID:               uuid.NewString(),
		URL:              req.URL,
		ChunkSize:        req.ChunkSize,
		OutputPath:       outputPath,
		Options:          opts,
		HTTPClientConfig: clientConfig,
	}, nil
}

// Probe learns the resource length and whether byte ranges are honored. It
// tries HEAD first and falls back to a one-byte ranged GET when HEAD is
// rejected or inconclusive.
func Probe(ctx context.Context, client utils.HTTPDoer, link string, requestTimeout time.Duration) (utils.ResourceMeta, *utils.FetchError) {
	meta, ferr := probeHead(ctx, client, link, requestTimeout)
	if ferr != nil {
		if ferr.Kind != utils.KindServerError || (ferr.Status != http.StatusMethodNotAllowed && ferr.Status != http.StatusNotImplemented) {
			return utils.ResourceMeta{Length: utils.UnknownLength}, ferr
		}
		log.Debug().Str("op", "http/probe").Int("status", ferr.Status).Msg("HEAD rejected, probing with ranged GET")
	} else if meta.RangeSupported && meta.LengthKnown() {
		return meta, nil
	}
	ranged, rerr := probeRange(ctx, client, link, requestTimeout)
	if rerr != nil {
		if ferr == nil && rerr.Kind != utils.KindCancelled {
			log.Debug().Str("op", "http/probe").Err(rerr).Msg("ranged probe failed, keeping HEAD metadata")
			meta.RangeSupported = false
			return meta, nil
		}
		return utils.ResourceMeta{Length: utils.UnknownLength}, rerr
	}
	if ranged.FileName == "" {
		ranged.FileName = meta.FileName
	}
	if !ranged.LengthKnown() && ferr == nil {
		ranged.Length = meta.Length
	}
	return ranged, nil
}

func probeHead(ctx context.Context, client utils.HTTPDoer, link string, requestTimeout time.Duration) (utils.ResourceMeta, *utils.FetchError) {
	reqCtx, cancel := withRequestTimeout(ctx, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, link, nil)
	if err != nil {
		return utils.ResourceMeta{}, utils.NewFetchError(utils.KindUrlNotValid, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return utils.ResourceMeta{}, classifyAttemptError(ctx, reqCtx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return utils.ResourceMeta{}, utils.NewServerError(resp.StatusCode, resp.Status)
	}
	meta := utils.ResourceMeta{
		Length:         utils.UnknownLength,
		RangeSupported: resp.Header.Get("Accept-Ranges") == "bytes",
		FileName:       fileNameFromHeader(resp.Header.Get("Content-Disposition")),
		ETag:           resp.Header.Get("ETag"),
	}
	if resp.ContentLength >= 0 {
		meta.Length = resp.ContentLength
	}
	log.Debug().Str("op", "http/probe").Int64("length", meta.Length).Bool("ranges", meta.RangeSupported).Msg("HEAD probe finished")
	return meta, nil
}

func probeRange(ctx context.Context, client utils.HTTPDoer, link string, requestTimeout time.Duration) (utils.ResourceMeta, *utils.FetchError) {
	reqCtx, cancel := withRequestTimeout(ctx, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, link, nil)
	if err != nil {
		return utils.ResourceMeta{}, utils.NewFetchError(utils.KindUrlNotValid, err)
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := client.Do(req)
	if err != nil {
		return utils.ResourceMeta{}, classifyAttemptError(ctx, reqCtx, err)
	}
	// the body is never read; closing aborts a server that ignored the range
	defer resp.Body.Close()
	meta := utils.ResourceMeta{
		Length:   utils.UnknownLength,
		FileName: fileNameFromHeader(resp.Header.Get("Content-Disposition")),
		ETag:     resp.Header.Get("ETag"),
	}
	switch {
	case resp.StatusCode == http.StatusPartialContent:
		_, _, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return utils.ResourceMeta{}, utils.NewFetchError(utils.KindIOError, err)
		}
		meta.RangeSupported = true
		meta.Length = total
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		// an empty resource cannot satisfy bytes=0-0
		if _, _, total, err := ParseContentRange(resp.Header.Get("Content-Range")); err == nil && total == 0 {
			meta.RangeSupported = true
			meta.Length = 0
			break
		}
		return utils.ResourceMeta{}, utils.NewServerError(resp.StatusCode, resp.Status)
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		if resp.ContentLength >= 0 {
			meta.Length = resp.ContentLength
		}
	default:
		return utils.ResourceMeta{}, utils.NewServerError(resp.StatusCode, resp.Status)
	}
	log.Debug().Str("op", "http/probe").Int64("length", meta.Length).Bool("ranges", meta.RangeSupported).Msg("ranged probe finished")
	return meta, nil
}

func withRequestTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// classifyAttemptError treats an expired per-request deadline as a timeout
// even when the transport reports it as a plain read error.
func classifyAttemptError(jobCtx, reqCtx context.Context, err error) *utils.FetchError {
	if jobCtx.Err() == nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return utils.NewFetchError(utils.KindTimeout, err)
	}
	return utils.ClassifyTransportError(jobCtx, err)
}

func fileNameFromHeader(contentDisposition string) string {
	if contentDisposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		return ""
	}
	if fn, ok := params["filename"]; ok && fn != "" {
		return utils.SanitizeFileName(fn)
	}
	if fn, ok := params["filename*"]; ok && strings.HasPrefix(fn, "UTF-8''") {
		unescaped, _ := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''"))
		return utils.SanitizeFileName(unescaped)
	}
	return ""
}

// ParseContentRange parses "bytes start-end/total". Total is -1 for "*".
func ParseContentRange(header string) (start, end, total int64, err error) {
	if !strings.HasPrefix(header, "bytes ") {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	header = strings.TrimPrefix(header, "bytes ")
	rangePart, totalPart, ok := strings.Cut(header, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	if totalPart == "*" {
		total = utils.UnknownLength
	} else if total, err = strconv.ParseInt(totalPart, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
	}
	if rangePart == "*" {
		return -1, -1, total, nil
	}
	startPart, endPart, ok := strings.Cut(rangePart, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}
	if start, err = strconv.ParseInt(startPart, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	if end, err = strconv.ParseInt(endPart, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}
	return start, end, total, nil
}
