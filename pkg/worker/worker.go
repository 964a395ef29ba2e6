package worker

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/jpillora/backoff"

	"github.com/wipac/lta/pkg/ltaclient"
)

// Worker runs one stage daemon: a heartbeat goroutine plus the work loop.
type Worker struct {
	cfg     *Config
	client  ltaclient.API
	stage   Stage
	metrics *Metrics

	mu            sync.Mutex
	lastWorkBegin time.Time
	lastWorkEnd   time.Time
}

// New assembles a stage daemon. metrics may be nil in tests.
func New(cfg *Config, client ltaclient.API, stage Stage, metrics *Metrics) *Worker {
	return &Worker{cfg: cfg, client: client, stage: stage, metrics: metrics}
}

// Run works the queue until the context is cancelled or the configured
// termination mode says stop. A clean exit returns nil.
func (w *Worker) Run(ctx context.Context) error {
	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.heartbeatLoop(heartbeatCtx)
	}()
	defer func() {
		stopHeartbeat()
		wg.Wait()
	}()

	component := w.stage.Component()

	for {
		w.markWorkBegin()
		if w.metrics != nil {
			w.metrics.SetBusy(component, true)
		}
		drained, err := w.drainQueue(ctx)
		if w.metrics != nil {
			w.metrics.SetBusy(component, false)
		}
		w.markWorkEnd()

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Errorf("%s: work cycle failed: %s", component, err)
		}

		if w.cfg.RunOnceAndDie {
			log.Infof("%s: single work cycle complete; exiting", component)
			return nil
		}
		if w.cfg.RunUntilNoWork && drained && err == nil {
			log.Infof("%s: queue drained; exiting", component)
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.cfg.WorkSleep()):
		}
	}
}

// drainQueue claims and works items until the queue comes up empty. It
// reports true when the last claim attempt found nothing.
func (w *Worker) drainQueue(ctx context.Context) (bool, error) {
	component := w.stage.Component()

	for {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		claimed, err := w.stage.WorkOne(ctx)
		if err != nil {
			return false, err
		}
		if !claimed {
			return true, nil
		}

		log.Infof("%s: work item complete", component)
		if w.cfg.RunOnceAndDie {
			return false, nil
		}
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatSleep())
	defer ticker.Stop()

	w.sendHeartbeat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sendHeartbeat(ctx)
		}
	}
}

// sendHeartbeat reports liveness to the coordinator. Exhausting the retries
// logs and moves on; a worker that cannot heartbeat can still do work, and
// the reaper tolerates gaps far longer than one heartbeat interval.
func (w *Worker) sendHeartbeat(ctx context.Context) {
	component := w.stage.Component()
	payload := w.heartbeatPayload()

	b := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Jitter: true}

	for attempt := 0; attempt < w.cfg.HeartbeatPatchRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.Duration()):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.HeartbeatPatchTimeout())
		err := w.client.Heartbeat(attemptCtx, component, w.cfg.ComponentName, payload)
		cancel()

		if err == nil {
			return
		}
		log.Warnf("%s: heartbeat failed (attempt %d): %s", component, attempt+1, err)
	}
}

func (w *Worker) heartbeatPayload() map[string]any {
	w.mu.Lock()
	begin, end := w.lastWorkBegin, w.lastWorkEnd
	w.mu.Unlock()

	payload := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if !begin.IsZero() {
		payload["last_work_begin_timestamp"] = begin.Format(time.RFC3339)
	}
	if !end.IsZero() {
		payload["last_work_end_timestamp"] = end.Format(time.RFC3339)
	}

	for key, value := range w.stage.StatusExtras() {
		payload[key] = value
	}

	return payload
}

func (w *Worker) markWorkBegin() {
	w.mu.Lock()
	w.lastWorkBegin = time.Now().UTC()
	w.mu.Unlock()
}

func (w *Worker) markWorkEnd() {
	w.mu.Lock()
	w.lastWorkEnd = time.Now().UTC()
	w.mu.Unlock()
}
