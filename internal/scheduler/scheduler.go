package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"homebid/internal/config"
	"homebid/internal/services"
	"homebid/internal/utils"
)

type item struct {
	deadlineID utils.SixID
	endAt      time.Time
}

// endHeap is a min-heap ordered by end date, soonest first.
type endHeap []item

func (h endHeap) Len() int            { return len(h) }
func (h endHeap) Less(i, j int) bool  { return h[i].endAt.Before(h[j].endAt) }
func (h endHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *endHeap) Push(x interface{}) { *h = append(*h, x.(item)) }
func (h *endHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Scheduler fires the resolver when bidding windows elapse. It keeps every
// pending end date in a heap and arms a single timer for the soonest one,
// so opening a window never spawns a goroutine per deadline. A periodic
// sweep re-reads the database to catch windows opened by other processes
// and anything missed across restarts.
type Scheduler struct {
	cfg               *config.Config
	deadlineService   services.IDeadlineService
	resolutionService services.IResolutionService

	mu      sync.Mutex
	pending endHeap
	timer   *time.Timer

	wake     chan struct{}
	shutdown chan struct{}
	done     chan struct{}
}

// New creates a Scheduler. Call Start to arm it.
func New(cfg *config.Config, deadlineService services.IDeadlineService, resolutionService services.IResolutionService) *Scheduler {
	return &Scheduler{
		cfg:               cfg,
		deadlineService:   deadlineService,
		resolutionService: resolutionService,
		wake:              make(chan struct{}, 1),
		shutdown:          make(chan struct{}),
		done:              make(chan struct{}),
	}
}

// Start loads the currently active windows and begins the timer loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.sweep(ctx); err != nil {
		return err
	}
	go s.run()
	return nil
}

// Schedule arms the scheduler for a newly opened window. Implements
// services.IDeadlineScheduler.
func (s *Scheduler) Schedule(deadlineID utils.SixID, endAt time.Time) {
	s.mu.Lock()
	heap.Push(&s.pending, item{deadlineID: deadlineID, endAt: endAt})
	s.mu.Unlock()
	s.poke()
}

// Shutdown stops the timer loop and waits for it to exit.
func (s *Scheduler) Shutdown() {
	close(s.shutdown)
	<-s.done
	utils.Info("deadline scheduler stopped", nil)
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run owns the single timer. It sleeps until the soonest pending end date,
// resolves, and re-arms; a sweep ticker keeps the heap honest against
// windows this process never saw opened.
func (s *Scheduler) run() {
	defer close(s.done)

	sweepTicker := time.NewTicker(s.cfg.SchedulerSweepInterval)
	defer sweepTicker.Stop()

	for {
		next, ok := s.nextFire()
		var fire <-chan time.Time
		if ok {
			s.mu.Lock()
			if s.timer == nil {
				s.timer = time.NewTimer(time.Until(next))
			} else {
				if !s.timer.Stop() {
					select {
					case <-s.timer.C:
					default:
					}
				}
				s.timer.Reset(time.Until(next))
			}
			fire = s.timer.C
			s.mu.Unlock()
		}

		select {
		case <-fire:
			s.resolve()
		case <-sweepTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ResolveCallTimeout)
			if err := s.sweep(ctx); err != nil {
				utils.Error("deadline sweep failed", map[string]any{"error": err.Error()})
			}
			cancel()
			s.resolveElapsed()
		case <-s.wake:
			// Heap changed; loop to re-arm for the new soonest entry.
		case <-s.shutdown:
			s.mu.Lock()
			if s.timer != nil {
				s.timer.Stop()
			}
			s.mu.Unlock()
			return
		}
	}
}

// nextFire peeks the soonest pending end date without removing it.
func (s *Scheduler) nextFire() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return time.Time{}, false
	}
	return s.pending[0].endAt, true
}

// resolve pops every entry at or before now and runs the resolver once.
// The resolver claims deadlines atomically, so firing for an already
// resolved window is harmless.
func (s *Scheduler) resolve() {
	s.popElapsed()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ResolveCallTimeout)
	defer cancel()
	if err := s.resolutionService.ResolveExpired(ctx); err != nil {
		utils.Error("deadline resolution failed", map[string]any{"error": err.Error()})
	}
}

// resolveElapsed runs the resolver only when the sweep found elapsed work.
func (s *Scheduler) resolveElapsed() {
	if s.popElapsed() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ResolveCallTimeout)
	defer cancel()
	if err := s.resolutionService.ResolveExpired(ctx); err != nil {
		utils.Error("deadline resolution failed", map[string]any{"error": err.Error()})
	}
}

func (s *Scheduler) popElapsed() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	popped := 0
	for len(s.pending) > 0 && !s.pending[0].endAt.After(now) {
		heap.Pop(&s.pending)
		popped++
	}
	return popped
}

// sweep replaces the heap with the active windows currently in the
// database. Duplicates with in-flight Schedule calls are fine: extra heap
// entries only cause a redundant, idempotent resolver run.
func (s *Scheduler) sweep(ctx context.Context) error {
	deadlines, err := s.deadlineService.FindUpcoming(ctx, 1000)
	if err != nil {
		return err
	}

	fresh := make(endHeap, 0, len(deadlines))
	for _, d := range deadlines {
		fresh = append(fresh, item{deadlineID: d.ID, endAt: d.EndDate})
	}
	heap.Init(&fresh)

	s.mu.Lock()
	s.pending = fresh
	s.mu.Unlock()
	s.poke()
	return nil
}
