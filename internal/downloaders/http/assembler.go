package pdlhttp

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Spalmalo/parallel-download/internal/utils"
)

// OutputFile is the destination of one job. Bytes go to a part file next to
// the final path, which only appears once the download is complete. The
// descriptor is shared by all writers; tasks are disjoint so positional
// writes need no locking.
type OutputFile struct {
	path     string
	partPath string
	file     *os.File
	size     int64 // utils.UnknownLength grows lazily

	once       sync.Once
	releaseErr error
}

// Prepare reserves the part file for path and pre-sizes it to total when
// known. A name already held by a file or by another download moves the job
// to the next free name; Path reports the one in use.
func Prepare(path string, total int64) (*OutputFile, error) {
	if utils.PathTaken(path) {
		path = utils.RenewOutputPath(path)
	}
	var (
		partPath string
		f        *os.File
		err      error
	)
	for {
		partPath = path + utils.PartSuffix
		f, err = os.OpenFile(partPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
		if !errors.Is(err, os.ErrExist) {
			break
		}
		path = utils.RenewOutputPath(path)
	}
	if err != nil {
		if os.IsPermission(err) {
			return nil, utils.NewFetchError(utils.KindNoAccess, err)
		}
		return nil, utils.NewFetchError(utils.KindIOError, fmt.Errorf("error creating output file: %w", err))
	}
	if total > 0 {
		// sparse on most file systems; only metadata is updated
		if err := f.Truncate(total); err != nil {
			f.Close()
			os.Remove(partPath)
			return nil, utils.NewFetchError(utils.KindIOError, fmt.Errorf("error pre-sizing output file: %w", err))
		}
	}
	return &OutputFile{path: path, partPath: partPath, file: f, size: total}, nil
}

func (o *OutputFile) Path() string {
	return o.path
}

// WriteAt stores data at the task's offset. Writes may never extend a
// pre-sized file.
func (o *OutputFile) WriteAt(task utils.ChunkTask, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if o.size >= 0 && task.Start+int64(len(data)) > o.size {
		return utils.NewFetchError(utils.KindIOError, fmt.Errorf("chunk %d overruns file size %d", task.Index, o.size))
	}
	n, err := o.file.WriteAt(data, task.Start)
	if err != nil {
		return utils.NewFetchError(utils.KindIOError, fmt.Errorf("error writing chunk %d: %w", task.Index, err))
	}
	if n != len(data) {
		return utils.NewFetchError(utils.KindIOError, fmt.Errorf("chunk %d: %w", task.Index, io.ErrShortWrite))
	}
	return nil
}

// Finalize flushes the file and checks that it has the expected size.
func (o *OutputFile) Finalize() error {
	if err := o.file.Sync(); err != nil {
		return utils.NewFetchError(utils.KindIOError, fmt.Errorf("error syncing output file: %w", err))
	}
	if o.size < 0 {
		return nil
	}
	info, err := o.file.Stat()
	if err != nil {
		return utils.NewFetchError(utils.KindIOError, err)
	}
	if info.Size() != o.size {
		return utils.NewFetchError(utils.KindIOError, fmt.Errorf("size mismatch: expected %d, got %d", o.size, info.Size()))
	}
	return nil
}

// Release closes the descriptor exactly once. With keep set the part file is
// moved to the final path; otherwise, or when closing or moving fails, it is
// removed so no partial download is left behind.
func (o *OutputFile) Release(keep bool) error {
	o.once.Do(func() {
		if err := o.file.Close(); err != nil {
			o.releaseErr = utils.NewFetchError(utils.KindIOError, fmt.Errorf("error closing output file: %w", err))
		} else if keep {
			err := o.commit()
			if err == nil {
				return
			}
			o.releaseErr = utils.NewFetchError(utils.KindIOError, fmt.Errorf("error moving part file into place: %w", err))
		}
		if err := os.Remove(o.partPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("op", "http/assembler").Err(err).Msgf("Could not remove partial file %s", o.partPath)
		}
	})
	return o.releaseErr
}

// commit publishes the part file under the final name without replacing a
// file that appeared there while the download ran.
func (o *OutputFile) commit() error {
	for {
		err := os.Link(o.partPath, o.path)
		if err == nil {
			if err := os.Remove(o.partPath); err != nil {
				log.Warn().Str("op", "http/assembler").Err(err).Msgf("Could not remove part file %s", o.partPath)
			}
			return nil
		}
		if errors.Is(err, os.ErrExist) {
			taken := o.path
			o.path = utils.RenewOutputPath(o.path)
			log.Warn().Str("op", "http/assembler").Msgf("%s appeared during download, saving as %s", taken, o.path)
			continue
		}
		// no hard links on this file system
		if _, statErr := os.Lstat(o.path); statErr == nil {
			o.path = utils.RenewOutputPath(o.path)
		}
		return os.Rename(o.partPath, o.path)
	}
}
