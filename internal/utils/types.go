package utils

import "time"

type HTTPClientConfig struct {
	ConnectTimeout time.Duration // dial + TLS handshake
	RequestTimeout time.Duration // request sent to body fully received, per attempt
	KATimeout      time.Duration
	ProxyURL       string
	ProxyUsername  string
	ProxyPassword  string
	UserAgent      string
	Headers        map[string]string
	HighThreadMode bool // advanced socket options for high concurrency
}

type DownloadOptions struct {
	DownloadUnsupported bool // fall back to a single stream when ranges are unsupported
	MaxRetries          int
	RetryBackoff        time.Duration
	MaxBufferedChunks   int // chunks fetched ahead of the write position; 0 is unbounded
}

// DownloadJob describes one download. It is built once by BuildJob and never
// mutated afterwards; pass it by value.
type DownloadJob struct {
	ID               string
	URL              string
	ChunkSize        int64
	OutputPath       string
	Options          DownloadOptions
	HTTPClientConfig HTTPClientConfig
}

// JobRequest carries the caller's raw inputs before validation.
type JobRequest struct {
	URL              string
	ChunkSize        int64
	OutputDir        string
	FileName         string
	Options          DownloadOptions
	HTTPClientConfig HTTPClientConfig
}

type ResourceMeta struct {
	Length         int64 // UnknownLength when the server does not report it
	RangeSupported bool
	FileName       string
	ETag           string
}

func (m ResourceMeta) LengthKnown() bool {
	return m.Length >= 0
}

type ChunkTask struct {
	Index    int
	Start    int64
	End      int64 // inclusive; Start-1 for an empty task
	Attempts int
	Whole    bool // fetch without a Range header
	Open     bool // whole stream of unknown size; End is meaningless
}

// Length is the number of bytes the task covers, or UnknownLength for a whole
// stream of unknown size.
func (t ChunkTask) Length() int64 {
	if t.Open {
		return UnknownLength
	}
	return t.End - t.Start + 1
}

func (t ChunkTask) Empty() bool {
	return t.Length() == 0
}

type ChunkOutcome struct {
	Task ChunkTask
	Data []byte
	Err  *FetchError
}

func (o ChunkOutcome) Fetched() bool {
	return o.Err == nil
}

type DownloadEntry struct {
	URL       string `yaml:"link"`
	Dir       string `yaml:"dir,omitempty"`
	Name      string `yaml:"name,omitempty"`
	ChunkSize string `yaml:"chunk_size,omitempty"`
}
