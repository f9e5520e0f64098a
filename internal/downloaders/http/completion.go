package pdlhttp

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog/log"

	"github.com/Spalmalo/parallel-download/internal/utils"
)

// Start runs job in its own goroutine and returns a channel that receives
// exactly one outcome and is then closed. A panic in the download is
// recovered and reported as a KindInternal failure, so the receive never
// blocks forever.
func Start(ctx context.Context, job utils.DownloadJob, progress ProgressFunc) <-chan utils.Outcome {
	return start(ctx, job, nil, progress)
}

func start(ctx context.Context, job utils.DownloadJob, client utils.HTTPDoer, progress ProgressFunc) <-chan utils.Outcome {
	done := make(chan utils.Outcome, 1)
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("op", "http/completion").Str("job", job.ID).Msgf("Download aborted: %v\n%s", r, debug.Stack())
				done <- utils.Failure{Kind: utils.KindInternal, Err: fmt.Errorf("download aborted: %v", r)}
			}
		}()
		done <- newOrchestrator(job, client, progress).execute(ctx)
	}()
	return done
}

// Download blocks until job reaches its terminal outcome.
func Download(ctx context.Context, job utils.DownloadJob, progress ProgressFunc) utils.Outcome {
	return <-Start(ctx, job, progress)
}

func (d *HTTPDownloader) Start(ctx context.Context, job utils.DownloadJob, progress ProgressFunc) <-chan utils.Outcome {
	return Start(ctx, job, progress)
}
