package cache

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/weather-globe-cache/internal/grid"
	"github.com/i474232898/weather-globe-cache/internal/manifest"
)

// Fetcher turns a source location into raw bytes. Satisfied by
// fetch.HTTPFetcher; tests supply fakes.
type Fetcher interface {
	FetchBytes(ctx context.Context, location string) ([]byte, error)
}

// Config controls prefetch window sizing and download parallelism. Immutable
// after construction.
type Config struct {
	// WindowDays is the day-span of timesteps kept prefetched around the
	// current time.
	WindowDays int

	// MaxConcurrentDownloads bounds the number of in-flight timestep
	// downloads at any instant.
	MaxConcurrentDownloads int
}

// requestKey identifies one in-flight download.
type requestKey struct {
	layerID string
	index   int
}

// Controller owns the download queue, the per-layer timestamp states and the
// bounded-concurrency executor. It decides which timesteps to fetch, in what
// order, and reprioritizes as the current time moves.
//
// Construct one Controller in the application's composition root and pass it
// to every consumer.
type Controller struct {
	cfg     Config
	fetcher Fetcher
	decoder grid.Decoder

	store  *StateStore
	queue  *Queue
	events *Bus

	mu      sync.Mutex
	cond    *sync.Cond
	active  map[requestKey]struct{}
	pumping bool
}

// NewController creates a Controller. Zero or negative config values fall
// back to defaults (2 window days, 4 concurrent downloads).
func NewController(cfg Config, fetcher Fetcher, decoder grid.Decoder) *Controller {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 2
	}
	if cfg.MaxConcurrentDownloads <= 0 {
		cfg.MaxConcurrentDownloads = 4
	}

	c := &Controller{
		cfg:     cfg,
		fetcher: fetcher,
		decoder: decoder,
		store:   NewStateStore(),
		queue:   NewQueue(),
		events:  NewBus(),
	}
	c.cond = sync.NewCond(&c.mu)
	c.active = make(map[requestKey]struct{})
	return c
}

// RegisterLayer registers (or re-registers) a layer with its ordered
// timeline. All timestep states start empty; no fetch is started. Registering
// an existing layer replaces its timeline, resets its state and drops queued
// requests that referenced the old timeline.
func (c *Controller) RegisterLayer(layerID string, steps []manifest.TimeStep) {
	c.queue.RemoveWhere(matchLayer(layerID))
	c.store.RegisterLayer(layerID, steps)
}

// InitializeLayer warms the layer up around the current time: the timesteps
// adjacent to it are loaded synchronously at critical priority (onProgress,
// when non-nil, is reported after each), then a symmetric window of
// WindowDays worth of timesteps is queued at background priority and the
// queue pump is started.
func (c *Controller) InitializeLayer(ctx context.Context, layerID string, current time.Time, onProgress func(completed, total int)) error {
	steps := c.store.Steps(layerID)
	if steps == nil {
		return fmt.Errorf("initialize layer %q: %w", layerID, ErrNotRegistered)
	}
	if len(steps) == 0 {
		return nil
	}

	idx := fractionalIndex(steps, current)

	neighbors := neighborIndices(idx, len(steps))
	for n, i := range neighbors {
		c.load(ctx, Request{LayerID: layerID, Index: i, Step: steps[i]}, PriorityCritical)
		if onProgress != nil {
			onProgress(n+1, len(neighbors))
		}
	}

	windowSteps := c.cfg.WindowDays * manifest.StepsPerDay(steps)
	for _, i := range windowIndices(idx, len(steps), windowSteps) {
		st := c.store.Get(layerID, i)
		if st.Status == StatusLoaded || st.Status == StatusLoading {
			continue
		}
		if c.queue.Contains(matchKey(layerID, i)) {
			continue
		}
		c.queue.Enqueue(Request{LayerID: layerID, Index: i, Step: steps[i]}, PriorityBackground)
	}

	c.startPump()
	return nil
}

// PrioritizeTimestamps moves the timesteps adjacent to the current time to
// the front of the line. Called on every timeline scrub; idempotent: a
// timestep keeps a single queue entry no matter how often it is
// reprioritized. Failed timesteps adjacent to the current time are re-enqueued
// here, which is the explicit retry path.
func (c *Controller) PrioritizeTimestamps(layerID string, current time.Time) error {
	steps := c.store.Steps(layerID)
	if steps == nil {
		return fmt.Errorf("prioritize layer %q: %w", layerID, ErrNotRegistered)
	}
	if len(steps) == 0 {
		return nil
	}

	idx := fractionalIndex(steps, current)
	for _, i := range neighborIndices(idx, len(steps)) {
		st := c.store.Get(layerID, i)
		if st.Status == StatusLoaded || st.Status == StatusLoading {
			continue
		}
		match := matchKey(layerID, i)
		if c.queue.Contains(match) {
			c.queue.Promote(match, PriorityHigh)
		} else {
			c.queue.Enqueue(Request{LayerID: layerID, Index: i, Step: steps[i]}, PriorityHigh)
		}
	}

	c.startPump()
	return nil
}

// ClearLayer removes the layer's state and queued requests. In-flight
// downloads for the layer run to completion but their results are discarded
// on arrival.
func (c *Controller) ClearLayer(layerID string) {
	c.queue.RemoveWhere(matchLayer(layerID))
	c.store.Unregister(layerID)
}

// GetData returns the decoded payload for a loaded timestep, or nil when the
// timestep has no data yet.
func (c *Controller) GetData(layerID string, index int) ([]grid.Field, error) {
	if !c.store.Registered(layerID) {
		return nil, fmt.Errorf("layer %q: %w", layerID, ErrNotRegistered)
	}
	if index < 0 || index >= c.store.TimestepCount(layerID) {
		return nil, fmt.Errorf("layer %q index %d: %w", layerID, index, ErrInvalidIndex)
	}
	st := c.store.Get(layerID, index)
	if st.Status != StatusLoaded {
		return nil, nil
	}
	return st.Payload, nil
}

// IsLoaded reports whether the timestep's data is available.
func (c *Controller) IsLoaded(layerID string, index int) bool {
	return c.store.IsLoaded(layerID, index)
}

// IsLoading reports whether the timestep is currently being fetched.
func (c *Controller) IsLoading(layerID string, index int) bool {
	return c.store.IsLoading(layerID, index)
}

// LoadedIndices returns the sorted loaded indices of the layer.
func (c *Controller) LoadedIndices(layerID string) []int {
	return c.store.LoadedIndices(layerID)
}

// FailedIndices returns the sorted failed indices of the layer.
func (c *Controller) FailedIndices(layerID string) []int {
	return c.store.FailedIndices(layerID)
}

// LoadingIndices returns the sorted indices currently being fetched.
func (c *Controller) LoadingIndices(layerID string) []int {
	return c.store.LoadingIndices(layerID)
}

// TimestepCount returns the number of registered timesteps for the layer.
func (c *Controller) TimestepCount(layerID string) int {
	return c.store.TimestepCount(layerID)
}

// Steps returns the layer's registered timeline.
func (c *Controller) Steps(layerID string) []manifest.TimeStep {
	return c.store.Steps(layerID)
}

// Layers returns the sorted IDs of all registered layers.
func (c *Controller) Layers() []string {
	return c.store.Layers()
}

// Registered reports whether the layer is registered.
func (c *Controller) Registered(layerID string) bool {
	return c.store.Registered(layerID)
}

// Stats returns per-status counts for the layer.
func (c *Controller) Stats(layerID string) Stats {
	return c.store.Stats(layerID)
}

// ActiveDownloads returns the number of in-flight downloads.
func (c *Controller) ActiveDownloads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// QueuedRequests returns the number of queued download requests.
func (c *Controller) QueuedRequests() int {
	return c.queue.Len()
}

// Subscribe registers a listener for timestep state transitions. Listeners
// are invoked synchronously in registration order and must not block.
func (c *Controller) Subscribe(fn Listener) uuid.UUID {
	return c.events.Subscribe(fn)
}

// Unsubscribe removes a previously registered listener.
func (c *Controller) Unsubscribe(id uuid.UUID) {
	c.events.Unsubscribe(id)
}

// startPump starts the queue-draining pump unless one is already running, so
// concurrent triggers coalesce into a single pump.
func (c *Controller) startPump() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pumping {
		return
	}
	c.pumping = true
	go c.pump()
}

// pump drains the queue: it blocks while at the concurrency cap (woken when a
// slot frees), dequeues the next request, skips requests that resolved while
// queued, and hands the fetch off to its own goroutine so downloads proceed
// in parallel up to the cap. Exits when the queue is empty.
func (c *Controller) pump() {
	for {
		// Wait for capacity before taking the next request, so queued items
		// stay visible to reprioritization until they can actually start.
		c.mu.Lock()
		for len(c.active) >= c.cfg.MaxConcurrentDownloads {
			c.cond.Wait()
		}
		c.mu.Unlock()

		req, prio, ok := c.queue.DequeueWithPriority()
		if !ok {
			c.mu.Lock()
			// Re-check under the lock: an enqueue racing with this exit sees
			// pumping=true only before we flip it, and restarts the pump after.
			if c.queue.IsEmpty() {
				c.pumping = false
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
			continue
		}

		if !c.begin(req) {
			continue
		}
		go c.finish(context.Background(), req, prio)
	}
}

// begin reserves a concurrency slot for the request, blocking while at
// capacity, and transitions the timestep to loading. Returns false when the
// request is a no-op: already loaded or loading, already in flight, or its
// layer was cleared or re-registered since it was queued.
func (c *Controller) begin(req Request) bool {
	key := requestKey{layerID: req.LayerID, index: req.Index}

	c.mu.Lock()
	for {
		st := c.store.Get(req.LayerID, req.Index)
		if st.Status == StatusLoaded || st.Status == StatusLoading {
			c.mu.Unlock()
			return false
		}
		if _, inflight := c.active[key]; inflight {
			c.mu.Unlock()
			return false
		}
		step, ok := c.store.Step(req.LayerID, req.Index)
		if !ok || !step.Equal(req.Step) {
			c.mu.Unlock()
			return false
		}
		if len(c.active) < c.cfg.MaxConcurrentDownloads {
			c.active[key] = struct{}{}
			break
		}
		c.cond.Wait()
	}
	c.mu.Unlock()

	// The layer may be re-registered between the identity check above and this
	// write; the store re-checks the step under its own lock so the loading
	// marker can never land in a replaced timeline.
	if !c.store.SetIfStep(req.LayerID, req.Index, req.Step, TimestampState{Status: StatusLoading}) {
		c.mu.Lock()
		delete(c.active, key)
		c.cond.Broadcast()
		c.mu.Unlock()
		return false
	}
	c.events.Publish(Event{
		Type:    EventTimestampLoading,
		LayerID: req.LayerID,
		Index:   req.Index,
		Step:    req.Step,
	})
	return true
}

// finish performs the fetch for a begun request, records the outcome and
// frees the slot. Fetch failures are isolated into the failed state and never
// propagate; the slot is released regardless of outcome.
func (c *Controller) finish(ctx context.Context, req Request, prio Priority) {
	key := requestKey{layerID: req.LayerID, index: req.Index}
	defer func() {
		c.mu.Lock()
		delete(c.active, key)
		c.cond.Broadcast()
		c.mu.Unlock()
	}()

	payload, err := c.fetchPayload(ctx, req.Step)

	// SetIfStep compares the registered step and writes under one lock hold:
	// when the layer was cleared or re-registered while the fetch was in
	// flight, the result no longer has a home and is dropped.
	if err != nil {
		if !c.store.SetIfStep(req.LayerID, req.Index, req.Step, TimestampState{Status: StatusFailed, Err: err}) {
			log.Printf("cache: discarding stale result for %s[%d]", req.LayerID, req.Index)
			return
		}
		log.Printf("cache: %s download failed for %s[%d] (%s %s): %v",
			prio, req.LayerID, req.Index, req.Step.Date, req.Step.Cycle, err)
		c.events.Publish(Event{
			Type:    EventTimestampFailed,
			LayerID: req.LayerID,
			Index:   req.Index,
			Step:    req.Step,
			Err:     err,
		})
		return
	}

	if !c.store.SetIfStep(req.LayerID, req.Index, req.Step, TimestampState{Status: StatusLoaded, Payload: payload}) {
		log.Printf("cache: discarding stale result for %s[%d]", req.LayerID, req.Index)
		return
	}
	c.events.Publish(Event{
		Type:    EventTimestampLoaded,
		LayerID: req.LayerID,
		Index:   req.Index,
		Step:    req.Step,
		Payload: payload,
	})
}

// load runs one download synchronously: reserve, fetch, record. Used for the
// critical time-adjacent loads during layer initialization.
func (c *Controller) load(ctx context.Context, req Request, prio Priority) {
	if !c.begin(req) {
		return
	}
	c.finish(ctx, req, prio)
}

// fetchPayload fetches and decodes all source locations of a timestep: one
// for scalar fields, two joined parallel fetches for vector fields.
func (c *Controller) fetchPayload(ctx context.Context, step manifest.TimeStep) ([]grid.Field, error) {
	fields := make([]grid.Field, len(step.SourceLocations))
	errs := make([]error, len(step.SourceLocations))

	var wg sync.WaitGroup
	for i, location := range step.SourceLocations {
		i, location := i, location
		wg.Add(1)
		go func() {
			defer wg.Done()

			raw, err := c.fetcher.FetchBytes(ctx, location)
			if err != nil {
				errs[i] = err
				return
			}
			field, err := c.decoder.Decode(raw)
			if err != nil {
				errs[i] = err
				return
			}
			fields[i] = field
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return fields, nil
}

// fractionalIndex maps a point in time onto the timeline as a fractional
// index by linear interpolation between the bracketing timesteps. Times
// before the first step clamp to 0 and times after the last clamp to N-1.
func fractionalIndex(steps []manifest.TimeStep, t time.Time) float64 {
	last := len(steps) - 1
	if last < 0 {
		return 0
	}
	if !t.After(steps[0].Valid) {
		return 0
	}
	if !t.Before(steps[last].Valid) {
		return float64(last)
	}
	for i := 0; i < last; i++ {
		a, b := steps[i].Valid, steps[i+1].Valid
		if !t.Before(a) && t.Before(b) {
			span := b.Sub(a)
			if span <= 0 {
				return float64(i)
			}
			return float64(i) + float64(t.Sub(a))/float64(span)
		}
	}
	return float64(last)
}

// neighborIndices returns the deduplicated, range-clamped indices adjacent to
// the fractional current index: {i-1, i, i+1}.
func neighborIndices(idx float64, n int) []int {
	if n == 0 {
		return nil
	}
	base := int(math.Floor(idx))

	out := make([]int, 0, 3)
	for _, i := range []int{base - 1, base, base + 1} {
		if i < 0 {
			i = 0
		}
		if i > n-1 {
			i = n - 1
		}
		if len(out) == 0 || out[len(out)-1] != i {
			out = append(out, i)
		}
	}
	return out
}

// windowIndices returns the contiguous range of indices forming a symmetric
// window of windowSteps timesteps around the fractional current index,
// clamped to the registered range.
func windowIndices(idx float64, n, windowSteps int) []int {
	if n == 0 || windowSteps <= 0 {
		return nil
	}
	center := int(math.Round(idx))
	half := windowSteps / 2

	lo := center - half
	if lo < 0 {
		lo = 0
	}
	hi := center + half
	if hi > n-1 {
		hi = n - 1
	}

	out := make([]int, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, i)
	}
	return out
}
