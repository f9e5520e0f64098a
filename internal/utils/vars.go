package utils

import (
	"errors"
	"regexp"
)

const DefaultMaxRetries = 5
const ToolUserAgent = "pdl/1.0"
const socketBufferSize = 1024 * 1024

// PartSuffix marks a download in progress. Stray part files are left only by
// a killed process and are removed by Clean.
const PartSuffix = ".pdl.part"
const probePrefix = ".pdl-probe-"

// UnknownLength marks a resource or task whose size the server did not report.
const UnknownLength int64 = -1

var ErrRangeRequestsNotSupported = errors.New("range requests are not supported")
var fileNameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

// Local-only User-Agent list
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:135.0) Gecko/20100101 Firefox/135.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:135.0) Gecko/20100101 Firefox/135.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.3 Safari/605.1.15",
	"curl/7.88.1",
	"Wget/1.21.4",
}
