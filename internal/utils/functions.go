package utils

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

func GetRandomUserAgent() string {
	return userAgents[time.Now().UnixNano()%int64(len(userAgents))]
}

// ValidateURL accepts absolute http and https URLs with a host.
func ValidateURL(raw string) error {
	parsed, err := url.ParseRequestURI(raw)
	if err != nil {
		return NewFetchError(KindUrlNotValid, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return NewFetchError(KindUrlNotValid, fmt.Errorf("unsupported scheme: %s", parsed.Scheme))
	}
	if parsed.Host == "" {
		return NewFetchError(KindUrlNotValid, errors.New("missing host"))
	}
	return nil
}

// CheckDestination verifies dir exists, is a directory and accepts new files.
func CheckDestination(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return NewFetchError(KindEnoent, err)
		}
		if os.IsPermission(err) {
			return NewFetchError(KindNoAccess, err)
		}
		return NewFetchError(KindIOError, err)
	}
	if !info.IsDir() {
		return NewFetchError(KindNotDirectory, fmt.Errorf("%s is not a directory", dir))
	}
	probe, err := os.CreateTemp(dir, probePrefix+"*")
	if err != nil {
		if os.IsPermission(err) {
			return NewFetchError(KindNoAccess, err)
		}
		return NewFetchError(KindIOError, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}

// DeriveFileName picks the server-suggested name, then the last URL path
// segment, then a random name.
func DeriveFileName(rawURL string, meta ResourceMeta) string {
	if name := SanitizeFileName(meta.FileName); name != "" {
		return name
	}
	if parsed, err := url.Parse(rawURL); err == nil {
		if name := SanitizeFileName(path.Base(parsed.Path)); name != "" && name != "." && name != "/" {
			return name
		}
	}
	return "download-" + uuid.NewString()
}

func SanitizeFileName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return fileNameRegex.ReplaceAllString(name, "_")
}

// PathTaken reports whether path, or the part file of a download in
// progress to path, exists.
func PathTaken(path string) bool {
	for _, candidate := range []string{path, path + PartSuffix} {
		if _, err := os.Lstat(candidate); !os.IsNotExist(err) {
			return true
		}
	}
	return false
}

// RenewOutputPath returns the first free "name-(N).ext" next to outputPath.
// The result is only a candidate; the assembler reserves it.
func RenewOutputPath(outputPath string) string {
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	index := 1
	for {
		outputPath = filepath.Join(dir, fmt.Sprintf("%s-(%d)%s", name, index, ext))
		if !PathTaken(outputPath) {
			return outputPath
		}
		index++
	}
}

// Clean removes part files and writability probes left in dir by
// interrupted runs and returns the removed names.
func Clean(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, PartSuffix) && !strings.HasPrefix(name, probePrefix)) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return removed, err
		}
		removed = append(removed, name)
	}
	return removed, nil
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

// ParseChunkSize reads sizes such as "4MiB", "500kB" or "1048576".
func ParseChunkSize(s string) (int64, error) {
	size, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid chunk size %q: %w", s, err)
	}
	if size == 0 {
		return 0, fmt.Errorf("chunk size must be positive")
	}
	return int64(size), nil
}

func FormatBytes(bytes int64) string {
	if bytes < 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(bytes))
}

func FormatSpeed(bytes int64, elapsed time.Duration) string {
	if elapsed <= 0 || bytes <= 0 {
		return "0 B/s"
	}
	bps := float64(bytes) / elapsed.Seconds()
	return humanize.IBytes(uint64(bps)) + "/s"
}
