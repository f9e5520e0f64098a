package scheduler

import (
	"context"
	"fmt"
	"sync"

	pdlhttp "github.com/Spalmalo/parallel-download/internal/downloaders/http"
	"github.com/Spalmalo/parallel-download/internal/output"
	"github.com/Spalmalo/parallel-download/internal/utils"
)

// Downloader builds immutable jobs and runs them to a single outcome.
type Downloader interface {
	BuildJob(ctx context.Context, req utils.JobRequest) (utils.DownloadJob, error)
	Start(ctx context.Context, job utils.DownloadJob, progress pdlhttp.ProgressFunc) <-chan utils.Outcome
}

type Result struct {
	Request utils.JobRequest
	Job     utils.DownloadJob
	Outcome utils.Outcome
}

func (r Result) Succeeded() bool {
	_, ok := r.Outcome.(utils.Success)
	return ok
}

type indexedRequest struct {
	index int
	req   utils.JobRequest
}

// Run processes every request with numWorkers concurrent jobs and returns
// one result per request, in request order.
func Run(ctx context.Context, reqs []utils.JobRequest, numWorkers int, downloader Downloader, outputMgr *output.Manager) []Result {
	outputMgr.StartDisplay()
	defer outputMgr.StopDisplay()

	results := make([]Result, len(reqs))
	jobCh := make(chan indexedRequest, len(reqs))
	for i, req := range reqs {
		jobCh <- indexedRequest{index: i, req: req}
	}
	close(jobCh)

	var wg sync.WaitGroup
	for range max(numWorkers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobCh {
				results[item.index] = processJob(ctx, item.req, downloader, outputMgr)
			}
		}()
	}
	wg.Wait()
	return results
}

func processJob(ctx context.Context, req utils.JobRequest, downloader Downloader, outputMgr *output.Manager) Result {
	log := utils.GetLogger("scheduler")
	funcID := outputMgr.Register(req.URL)
	outputMgr.SetMessage(funcID, fmt.Sprintf("Validating %s", req.URL))

	job, err := downloader.BuildJob(ctx, req)
	if err != nil {
		log.Debug().Str("url", req.URL).Err(err).Msg("job rejected")
		outcome := utils.OutcomeFromError(err)
		outputMgr.Complete(funcID, outcome)
		return Result{Request: req, Outcome: outcome}
	}

	outputMgr.SetMessage(funcID, fmt.Sprintf("Downloading %s", job.OutputPath))
	outcome := <-downloader.Start(ctx, job, func(downloaded, total int64) {
		outputMgr.SetProgress(funcID, downloaded, total)
	})
	log.Debug().Str("job", job.ID).Stringer("outcome", outcome).Msg("job finished")
	outputMgr.Complete(funcID, outcome)
	return Result{Request: req, Job: job, Outcome: outcome}
}

func AllSucceeded(results []Result) bool {
	for _, r := range results {
		if !r.Succeeded() {
			return false
		}
	}
	return true
}
