package pdlhttp

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Spalmalo/parallel-download/internal/utils"
)

type State string

const (
	StateProbing    State = "probing"
	StatePlanning   State = "planning"
	StateFetching   State = "fetching"
	StateAssembling State = "assembling"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// ProgressFunc receives the bytes fetched so far and the total, which is
// utils.UnknownLength when the server did not report it. Calls are serialized.
type ProgressFunc func(downloaded, total int64)

var errFetchAborted = errors.New("fetch aborted")

type orchestrator struct {
	job      utils.DownloadJob
	client   utils.HTTPDoer
	progress ProgressFunc
	state    State
	log      zerolog.Logger
}

// newOrchestrator uses client for every request of the job, or a client
// built from the job's HTTPClientConfig when client is nil.
func newOrchestrator(job utils.DownloadJob, client utils.HTTPDoer, progress ProgressFunc) *orchestrator {
	if client == nil {
		client = utils.NewPDLHTTPClient(job.HTTPClientConfig)
	}
	return &orchestrator{
		job:      job,
		client:   client,
		progress: progress,
		log:      log.With().Str("op", "http/orchestrator").Str("job", job.ID).Logger(),
	}
}

func (o *orchestrator) transition(next State) {
	o.log.Debug().Str("from", string(o.state)).Str("to", string(next)).Msg("state change")
	o.state = next
}

// execute drives the job to exactly one terminal outcome.
func (o *orchestrator) execute(ctx context.Context) utils.Outcome {
	if closer, ok := o.client.(interface{ CloseIdleConnections() }); ok {
		defer closer.CloseIdleConnections()
	}
	startTime := time.Now()
	path, size, err := o.run(ctx)
	if err != nil {
		o.transition(StateFailed)
		o.log.Error().Err(err).Msgf("Download failed for %s", o.job.URL)
		return utils.OutcomeFromError(err)
	}
	elapsed := time.Since(startTime)
	o.log.Info().Msgf("Download of %s finished (%s in %s, %s)", path, utils.FormatBytes(size), elapsed.Round(time.Millisecond), utils.FormatSpeed(size, elapsed))
	return utils.Success{Path: path}
}

func (o *orchestrator) run(ctx context.Context) (string, int64, error) {
	o.transition(StateProbing)
	meta, ferr := Probe(ctx, o.client, o.job.URL, o.job.HTTPClientConfig.RequestTimeout)
	if ferr != nil {
		return "", 0, ferr
	}

	o.transition(StatePlanning)
	var tasks []utils.ChunkTask
	if meta.RangeSupported {
		tasks = Plan(meta.Length, o.job.ChunkSize)
	} else {
		if !o.job.Options.DownloadUnsupported {
			return "", 0, utils.NewFetchError(utils.KindNotSupported, utils.ErrRangeRequestsNotSupported)
		}
		o.log.Warn().Msg("Server ignores range requests, downloading as a single stream")
		tasks = PlanWhole(meta.Length)
	}
	o.log.Debug().Int("chunks", len(tasks)).Int64("length", meta.Length).Msg("plan ready")

	out, err := Prepare(o.job.OutputPath, meta.Length)
	if err != nil {
		return "", 0, err
	}
	keep := false
	defer func() {
		if !keep {
			out.Release(false)
		}
	}()

	o.transition(StateFetching)
	written, err := o.fetchAndAssemble(ctx, tasks, meta.Length, out)
	if err != nil {
		return "", 0, err
	}

	o.transition(StateAssembling)
	if meta.LengthKnown() && written != meta.Length {
		return "", 0, utils.NewFetchError(utils.KindIOError, fmt.Errorf("received %d bytes, server reported %d", written, meta.Length))
	}
	if err := out.Finalize(); err != nil {
		return "", 0, err
	}
	keep = true
	if err := out.Release(true); err != nil {
		return "", 0, err
	}
	o.transition(StateDone)
	return out.Path(), written, nil
}

// fetchAndAssemble runs one worker per task and writes the fetched chunks in
// index order as they arrive. The first fatal outcome, or a failed write,
// cancels the remaining workers; their late outcomes are dropped.
func (o *orchestrator) fetchAndAssemble(ctx context.Context, tasks []utils.ChunkTask, total int64, out *OutputFile) (int64, error) {
	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(groupCtx)
	cfg := fetchConfigFor(o.job)
	window := newChunkWindow(len(tasks), o.job.Options.MaxBufferedChunks)
	results := make(chan utils.ChunkOutcome, len(tasks))

	for _, task := range tasks {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = utils.NewFetchError(utils.KindInternal, fmt.Errorf("chunk %d worker panicked: %v\n%s", task.Index, r, debug.Stack()))
				}
			}()
			if window.wait(gctx, task.Index) != nil {
				return nil
			}
			outcome := FetchChunk(gctx, o.client, o.job.URL, task, cfg)
			if !outcome.Fetched() {
				return outcome.Err
			}
			results <- outcome
			return nil
		})
	}

	written, writeErr := o.assemble(gctx, results, len(tasks), total, window, out)
	if writeErr != nil {
		cancel()
	}
	groupErr := g.Wait()

	switch {
	case ctx.Err() != nil:
		return 0, utils.NewFetchError(utils.KindCancelled, ctx.Err())
	case writeErr != nil && !errors.Is(writeErr, errFetchAborted):
		return 0, writeErr
	case groupErr != nil:
		return 0, groupErr
	case writeErr != nil:
		return 0, utils.NewFetchError(utils.KindInternal, writeErr)
	}
	return written, nil
}

// assemble writes outcomes in index order. Outcomes ahead of the next index
// wait in memory until the gap is filled; the window bounds how many.
func (o *orchestrator) assemble(ctx context.Context, results <-chan utils.ChunkOutcome, count int, total int64, window *chunkWindow, out *OutputFile) (int64, error) {
	pending := make(map[int]utils.ChunkOutcome)
	var written, fetched int64
	next := 0
	for next < count {
		select {
		case <-ctx.Done():
			return written, errFetchAborted
		case outcome := <-results:
			pending[outcome.Task.Index] = outcome
			fetched += int64(len(outcome.Data))
			o.notify(fetched, total)
		}
		for {
			outcome, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			if err := out.WriteAt(outcome.Task, outcome.Data); err != nil {
				return written, err
			}
			written += int64(len(outcome.Data))
			next++
		}
		window.advance(next)
	}
	return written, nil
}

func (o *orchestrator) notify(downloaded, total int64) {
	if o.progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.log.Warn().Msgf("Progress callback panicked, disabling progress: %v", r)
			o.progress = nil
		}
	}()
	o.progress(downloaded, total)
}

// chunkWindow lets the worker of chunk i start fetching only once i is less
// than size chunks past the first chunk not yet written.
type chunkWindow struct {
	size   int
	gates  []chan struct{}
	opened int
}

// newChunkWindow with size <= 0 opens every gate at once.
func newChunkWindow(count, size int) *chunkWindow {
	if size <= 0 || size > count {
		size = count
	}
	w := &chunkWindow{size: size, gates: make([]chan struct{}, count)}
	for i := range w.gates {
		w.gates[i] = make(chan struct{})
	}
	w.advance(0)
	return w
}

// advance is only called from the assembling goroutine.
func (w *chunkWindow) advance(next int) {
	for limit := min(next+w.size, len(w.gates)); w.opened < limit; w.opened++ {
		close(w.gates[w.opened])
	}
}

func (w *chunkWindow) wait(ctx context.Context, index int) error {
	select {
	case <-w.gates[index]:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
