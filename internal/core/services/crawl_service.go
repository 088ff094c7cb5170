package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyler050121/react-stock-app/internal/core/ports"
	"github.com/Tyler050121/react-stock-app/internal/core/stream"
	"github.com/Tyler050121/react-stock-app/internal/domain"
	"github.com/Tyler050121/react-stock-app/internal/infrastructure/logger"
	"github.com/cenkalti/backoff/v4"
)

type CrawlServiceConfig struct {
	Source    ports.MarketDataSource
	StockRepo ports.StockRepository
	Tasks     ports.TaskRegistry
	Logger    *logger.Logger

	// Parallelism bounds concurrent fetches against the upstream source.
	Parallelism int
	// MaxAttempts bounds per-item retries for transient failures.
	MaxAttempts int
	// FailureRateThreshold aborts the crawl once failed/total exceeds it.
	FailureRateThreshold float64
	// Watchdog force-fails a run stuck beyond this bound.
	Watchdog     time.Duration
	StreamBuffer int
}

// CrawlService drives crawl tasks: it iterates the security worklist with
// bounded concurrency, persists fetched snapshots and publishes progress
// frames to the task's stream. At most one crawl runs at a time; starting
// a second one while the first is running is rejected.
type CrawlService struct {
	cfg     CrawlServiceConfig
	logger  *logger.Logger
	running atomic.Bool

	hubMu sync.RWMutex
	hubs  map[string]*stream.Hub[domain.CrawlProgressEvent]
}

func NewCrawlService(cfg CrawlServiceConfig) *CrawlService {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.FailureRateThreshold <= 0 {
		cfg.FailureRateThreshold = 0.5
	}
	if cfg.Watchdog <= 0 {
		cfg.Watchdog = 30 * time.Minute
	}
	return &CrawlService{
		cfg:    cfg,
		logger: cfg.Logger,
		hubs:   make(map[string]*stream.Hub[domain.CrawlProgressEvent]),
	}
}

func (s *CrawlService) StartCrawl(stockCount int) (string, error) {
	if stockCount < 1 {
		return "", ErrCrawlInvalidCount
	}
	if !s.running.CompareAndSwap(false, true) {
		return "", ErrCrawlAlreadyRunning
	}

	task := s.cfg.Tasks.CreateTask(domain.TaskKindCrawl)

	hub := stream.NewHub[domain.CrawlProgressEvent](s.cfg.StreamBuffer)
	s.hubMu.Lock()
	s.hubs[task.ID] = hub
	s.hubMu.Unlock()

	go func() {
		defer s.running.Store(false)
		s.run(task.ID, stockCount, hub)
	}()

	s.logger.Infow("crawl_start", "task_id", task.ID, "stock_count", stockCount)
	return task.ID, nil
}

func (s *CrawlService) GetStatus(taskID string) (*domain.Task, error) {
	return s.cfg.Tasks.GetTask(taskID)
}

// Subscribe attaches a reader to the task's stream. The initial frame is a
// snapshot of the task's current state; already published frames are not
// replayed. For terminal tasks the returned channel is already closed.
func (s *CrawlService) Subscribe(taskID string) (*ports.CrawlSubscription, error) {
	task, err := s.cfg.Tasks.GetTask(taskID)
	if err != nil {
		return nil, err
	}

	initial := domain.CrawlProgressEvent{
		Current:    task.Progress.Current,
		Total:      task.Progress.Total,
		Percentage: task.Progress.Percentage,
		Status:     task.Status,
		Error:      task.Error,
	}

	s.hubMu.RLock()
	hub := s.hubs[taskID]
	s.hubMu.RUnlock()

	if hub == nil {
		// Task already terminal and its hub torn down.
		ch := make(chan domain.CrawlProgressEvent)
		close(ch)
		return &ports.CrawlSubscription{Initial: initial, Events: ch, Cancel: func() {}}, nil
	}

	ch, cancel := hub.Subscribe()
	return &ports.CrawlSubscription{Initial: initial, Events: ch, Cancel: cancel}, nil
}

// RefreshOne fetches and persists a single security synchronously, outside
// the task/stream model.
func (s *CrawlService) RefreshOne(ctx context.Context, code string) error {
	ref, err := s.resolveRef(ctx, code)
	if err != nil {
		return err
	}

	snap, err := s.cfg.Source.FetchSecurity(ctx, ref)
	if err != nil {
		return fmt.Errorf("fetch security %s: %w", code, err)
	}
	if err := s.cfg.StockRepo.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot %s: %w", code, err)
	}

	s.logger.Infow("refresh_one_ok", "code", code)
	return nil
}

func (s *CrawlService) resolveRef(ctx context.Context, code string) (domain.SecurityRef, error) {
	stock, err := s.cfg.StockRepo.GetByCode(ctx, code)
	if err == nil && stock != nil {
		return domain.SecurityRef{Code: stock.Code, Name: stock.Name, Market: stock.Market}, nil
	}

	refs, err := s.cfg.Source.ListSecurities(ctx, 0)
	if err != nil {
		return domain.SecurityRef{}, fmt.Errorf("list securities: %w", err)
	}
	for _, ref := range refs {
		if ref.Code == code {
			return ref, nil
		}
	}
	return domain.SecurityRef{}, ErrStockNotFound
}

func (s *CrawlService) run(taskID string, stockCount int, hub *stream.Hub[domain.CrawlProgressEvent]) {
	// Work continues even when every subscriber disconnects; only the
	// watchdog deadline stops a stuck run.
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Watchdog)
	defer cancel()

	if err := s.cfg.Tasks.Transition(taskID, domain.TaskStatusRunning); err != nil {
		s.logger.Errorw("crawl_transition_failed", "task_id", taskID, "error", err)
		s.finishFailed(taskID, hub, 0, 0, err)
		return
	}

	refs, err := s.cfg.Source.ListSecurities(ctx, stockCount)
	if err != nil {
		s.finishFailed(taskID, hub, 0, 0, fmt.Errorf("list securities: %w", err))
		return
	}
	if len(refs) == 0 {
		s.finishFailed(taskID, hub, 0, 0, fmt.Errorf("list securities: empty result"))
		return
	}

	total := len(refs)
	s.cfg.Tasks.SetProgress(taskID, 0, total)
	hub.Publish(domain.CrawlProgressEvent{
		Current: 0, Total: total, Percentage: 0, Status: domain.TaskStatusRunning,
	})

	jobs := make(chan domain.SecurityRef)
	results := make(chan error)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Parallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range jobs {
				results <- s.processOne(ctx, ref)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, ref := range refs {
			select {
			case jobs <- ref:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	current, failed := 0, 0
	for err := range results {
		current++
		if err != nil {
			failed++
			s.logger.Warnw("crawl_item_failed", "task_id", taskID, "error", err)
		}

		s.cfg.Tasks.SetProgress(taskID, current, total)
		if current < total {
			hub.Publish(domain.CrawlProgressEvent{
				Current:    current,
				Total:      total,
				Percentage: domain.Percentage(current, total),
				Status:     domain.TaskStatusRunning,
			})
		}

		// The deadline is checked first: once the watchdog fires the
		// remaining items fail on context cancellation, which must not be
		// reported as a data failure rate.
		if ctx.Err() != nil {
			cancel()
			for range results {
			}
			s.finishFailed(taskID, hub, current, total, fmt.Errorf("crawl deadline exceeded"))
			return
		}

		if float64(failed) > s.cfg.FailureRateThreshold*float64(total) {
			cancel()
			for range results {
			}
			s.finishFailed(taskID, hub, current, total,
				fmt.Errorf("failure rate exceeded: %d of %d items failed", failed, total))
			return
		}
	}

	if ctx.Err() != nil {
		s.finishFailed(taskID, hub, current, total, fmt.Errorf("crawl deadline exceeded"))
		return
	}

	if err := s.cfg.Tasks.Transition(taskID, domain.TaskStatusCompleted); err != nil {
		s.logger.Errorw("crawl_transition_failed", "task_id", taskID, "error", err)
	}
	hub.Publish(domain.CrawlProgressEvent{
		Current:     total,
		Total:       total,
		Percentage:  100,
		Status:      domain.TaskStatusCompleted,
		FailedCount: failed,
	})
	s.teardown(taskID, hub)
	s.logger.Infow("crawl_done", "task_id", taskID, "total", total, "failed", failed)
}

// processOne fetches and persists one security, retrying transient
// failures with exponential backoff. A failed item does not abort the
// crawl; the error is recorded and the worklist continues.
func (s *CrawlService) processOne(ctx context.Context, ref domain.SecurityRef) error {
	op := func() error {
		snap, err := s.cfg.Source.FetchSecurity(ctx, ref)
		if err != nil {
			if domain.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if err := s.cfg.StockRepo.SaveSnapshot(ctx, snap); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 0

	return backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(s.cfg.MaxAttempts-1)), ctx))
}

func (s *CrawlService) finishFailed(taskID string, hub *stream.Hub[domain.CrawlProgressEvent], current, total int, cause error) {
	s.logger.Errorw("crawl_failed", "task_id", taskID, "error", cause)
	s.cfg.Tasks.SetError(taskID, cause.Error())
	if err := s.cfg.Tasks.Transition(taskID, domain.TaskStatusFailed); err != nil {
		s.logger.Errorw("crawl_transition_failed", "task_id", taskID, "error", err)
	}
	hub.Publish(domain.CrawlProgressEvent{
		Current:    current,
		Total:      total,
		Percentage: domain.Percentage(current, total),
		Status:     domain.TaskStatusFailed,
		Error:      cause.Error(),
	})
	s.teardown(taskID, hub)
}

func (s *CrawlService) teardown(taskID string, hub *stream.Hub[domain.CrawlProgressEvent]) {
	hub.Close()
	s.hubMu.Lock()
	delete(s.hubs, taskID)
	s.hubMu.Unlock()
}
