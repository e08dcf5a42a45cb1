// Package worker is the page cache's background worker: the single
// goroutine that drives the CLEAN/DIRTY state machine described for the
// cache core, waiting on a schedule signal and the memory manager's two
// pressure events the way internal/storage's Scheduler waits on its cron
// scheduler and interval ticker in one goroutine.
//
// How: Cache.ScheduleWorker (called by writers after they dirty a page;
// the cache's own MarkDirty does not call it) wakes this loop, which arms a one-shot clean-delay timer using
// robfig/cron's recurring-job primitive — registering an "@every" job and
// removing it the moment it fires once, the same trick a one-shot "ONCE"
// job gets bolted onto Scheduler's cron-based recurring jobs. Physical and
// virtual memory-warning events are handled inline, independent of the
// clean-delay timer, since pressure relief cannot wait for a write to
// trigger it.
// Why: keeping the timer arm/disarm and the three-branch select in one
// small package mirrors how Scheduler concentrates cron registration,
// interval polling, and graceful shutdown behind one type instead of
// scattering goroutines across callers.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/gokernel/pagecache/pagecache"
)

// Logger is the injectable logging seam, matching pagecache.Logger's shape
// so both packages can share one concrete logger at wiring time.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Config holds the worker's own tunables, distinct from pagecache.Config's
// cache-core tunables.
type Config struct {
	// CleanDelay is how long the worker waits after being scheduled before
	// it wakes and drains the cache (5000 ms per the cache core's default).
	CleanDelay time.Duration
}

// DefaultConfig returns the cache core's default clean delay.
func DefaultConfig() Config {
	return Config{CleanDelay: 5 * time.Second}
}

// Worker runs the background CLEAN/DIRTY loop against a *pagecache.Cache.
type Worker struct {
	cache  *pagecache.Cache
	mm     pagecache.MM
	cfg    Config
	logger Logger

	cron *cron.Cron

	mu      sync.Mutex
	armed   bool
	timerID cron.EntryID

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Worker over cache. The worker reads its MM collaborator
// from cache.MM() rather than taking one separately, since the two must
// always agree.
func New(cache *pagecache.Cache, cfg Config, logger Logger) *Worker {
	return &Worker{
		cache:  cache,
		mm:     cache.MM(),
		cfg:    cfg,
		logger: logger,
		cron:   cron.New(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (w *Worker) errorf(format string, args ...interface{}) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}

// Start launches the cron scheduler and the worker's select loop, mirroring
// Scheduler.Start's "start cron, then start the interval goroutine" order.
func (w *Worker) Start() {
	w.cron.Start()
	go w.run()
}

// Stop signals the loop to exit, waits for it, and stops the cron
// scheduler, mirroring Scheduler.Stop's ordering (cron first there; here
// the loop first, since an in-flight wake may still be touching the cron
// entry table).
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
	ctx := w.cron.Stop()
	<-ctx.Done()
}

func (w *Worker) run() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case <-w.cache.WorkerScheduleSignal():
			w.armCleanDelay()
		case <-w.mm.PhysicalWarningEvent():
			if _, err := w.cache.Trim(context.Background(), false); err != nil {
				w.errorf("pagecache worker: physical pressure trim: %v", err)
			}
		case <-w.mm.VirtualWarningEvent():
			if _, err := w.cache.UnmapPressureRelief(context.Background(), false); err != nil {
				w.errorf("pagecache worker: virtual pressure unmap: %v", err)
			}
		}
	}
}

// armCleanDelay registers a one-shot clean-delay job if one is not already
// pending. cron's recurring-job API has no native "fire once" primitive, so
// the job removes its own entry the moment it runs, giving it one-shot
// semantics on top of a recurring scheduler primitive.
func (w *Worker) armCleanDelay() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.armed {
		return
	}
	spec := fmt.Sprintf("@every %s", w.cfg.CleanDelay)
	id, err := w.cron.AddFunc(spec, w.onCleanDelayFired)
	if err != nil {
		w.errorf("pagecache worker: arm clean delay: %v", err)
		return
	}
	w.armed = true
	w.timerID = id
}

func (w *Worker) onCleanDelayFired() {
	w.mu.Lock()
	w.cron.Remove(w.timerID)
	w.armed = false
	w.mu.Unlock()

	w.wake()
}

// wake implements the worker loop's wake sequence: record the last clean
// time, then repeatedly drain the removal list, trim, and flush every known
// file object until flushing reports something other than TRY_AGAIN; on
// success, go clean and reschedule if work remains.
func (w *Worker) wake() {
	runID := uuid.New().String()
	w.cache.SetLastCleanTime(time.Now().UnixNano())

	for {
		ctx := context.Background()
		w.cache.DrainRemovalList(ctx)

		if _, err := w.cache.Trim(ctx, false); err != nil {
			w.errorf("pagecache worker[%s]: trim: %v", runID, err)
		}

		status := w.flushAllFiles(ctx, runID)
		if status == pagecache.StatusTryAgain {
			continue
		}
		break
	}

	if !w.cache.MarkWorkerClean() {
		return
	}
	if w.cache.HasPendingWork() {
		w.cache.ScheduleWorker()
	}
}

// flushMaxConcurrency bounds how many file objects flushAllFiles will flush
// at once, so a worker run against a kernel with thousands of cached files
// does not open thousands of simultaneous file locks.
const flushMaxConcurrency = 8

// flushAllFiles implements flush_file_objects(0, 0): flush every file
// object the cache currently holds an index for, whole-file, concurrently
// up to flushMaxConcurrency at a time. Any file reporting TRY_AGAIN makes
// the whole call report TRY_AGAIN, so the caller re-trims before the next
// wake iteration retries everything (§9: no partial progress is kept
// across a TRY_AGAIN).
func (w *Worker) flushAllFiles(ctx context.Context, runID string) pagecache.Status {
	files := w.cache.Files()

	var mu sync.Mutex
	status := pagecache.StatusOK

	g := new(errgroup.Group)
	g.SetLimit(flushMaxConcurrency)
	for _, file := range files {
		file := file
		g.Go(func() error {
			st, err := w.cache.FlushAsWorker(ctx, file, 0, pagecache.SizeToEOF, 0, nil)
			if err != nil {
				w.errorf("pagecache worker[%s]: flush: %v", runID, err)
			}
			if st == pagecache.StatusTryAgain {
				mu.Lock()
				status = pagecache.StatusTryAgain
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	return status
}
