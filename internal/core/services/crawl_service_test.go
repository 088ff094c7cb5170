package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Tyler050121/react-stock-app/internal/core/ports"
	"github.com/Tyler050121/react-stock-app/internal/domain"
	"github.com/Tyler050121/react-stock-app/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refs(codes ...string) []domain.SecurityRef {
	out := make([]domain.SecurityRef, 0, len(codes))
	for _, c := range codes {
		out = append(out, domain.SecurityRef{Code: c, Name: "Stock " + c, Market: "SH"})
	}
	return out
}

func collectFrames(t *testing.T, sub *ports.CrawlSubscription) []domain.CrawlProgressEvent {
	t.Helper()
	var frames []domain.CrawlProgressEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return frames
			}
			frames = append(frames, ev)
		case <-timeout:
			t.Fatal("timed out waiting for stream to close")
		}
	}
}

func TestCrawlRunPublishesOrderedFrames(t *testing.T) {
	src := &fakeSource{refs: refs("600000", "600001", "600002")}
	repo := newFakeStockRepo()
	tasks := newTestTaskService(0)
	gate := make(chan struct{})

	svc := NewCrawlService(CrawlServiceConfig{
		Source:      src,
		StockRepo:   repo,
		Tasks:       &gatedRegistry{TaskRegistry: tasks, gate: gate},
		Logger:      logger.NewNop(),
		Parallelism: 2,
	})

	taskID, err := svc.StartCrawl(3)
	require.NoError(t, err)

	sub, err := svc.Subscribe(taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, sub.Initial.Status)

	close(gate)
	frames := collectFrames(t, sub)

	require.Equal(t, []domain.CrawlProgressEvent{
		{Current: 0, Total: 3, Percentage: 0, Status: domain.TaskStatusRunning},
		{Current: 1, Total: 3, Percentage: 33, Status: domain.TaskStatusRunning},
		{Current: 2, Total: 3, Percentage: 67, Status: domain.TaskStatusRunning},
		{Current: 3, Total: 3, Percentage: 100, Status: domain.TaskStatusCompleted},
	}, frames)

	assert.ElementsMatch(t, []string{"600000", "600001", "600002"}, repo.savedCodes())

	task, err := tasks.GetTask(taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	assert.Equal(t, 100, task.Progress.Percentage)
}

func TestCrawlContinuesPastItemFailures(t *testing.T) {
	src := &fakeSource{
		refs:     refs("600000", "600001", "600002", "600003"),
		permFail: map[string]error{"600001": errors.New("bad payload")},
	}
	repo := newFakeStockRepo()
	tasks := newTestTaskService(0)
	gate := make(chan struct{})

	svc := NewCrawlService(CrawlServiceConfig{
		Source:      src,
		StockRepo:   repo,
		Tasks:       &gatedRegistry{TaskRegistry: tasks, gate: gate},
		Logger:      logger.NewNop(),
		Parallelism: 1,
	})

	taskID, err := svc.StartCrawl(4)
	require.NoError(t, err)
	sub, err := svc.Subscribe(taskID)
	require.NoError(t, err)
	close(gate)

	frames := collectFrames(t, sub)
	require.NotEmpty(t, frames)

	last := frames[len(frames)-1]
	assert.Equal(t, domain.TaskStatusCompleted, last.Status)
	assert.Equal(t, 4, last.Current)
	assert.Equal(t, 100, last.Percentage)
	assert.Equal(t, 1, last.FailedCount)

	assert.ElementsMatch(t, []string{"600000", "600002", "600003"}, repo.savedCodes())
}

func TestCrawlAbortsOnSystemicFailure(t *testing.T) {
	src := &fakeSource{
		refs: refs("600000", "600001", "600002", "600003"),
		permFail: map[string]error{
			"600000": errors.New("boom"),
			"600001": errors.New("boom"),
			"600002": errors.New("boom"),
			"600003": errors.New("boom"),
		},
	}
	tasks := newTestTaskService(0)
	gate := make(chan struct{})

	svc := NewCrawlService(CrawlServiceConfig{
		Source:               src,
		StockRepo:            newFakeStockRepo(),
		Tasks:                &gatedRegistry{TaskRegistry: tasks, gate: gate},
		Logger:               logger.NewNop(),
		Parallelism:          1,
		FailureRateThreshold: 0.5,
	})

	taskID, err := svc.StartCrawl(4)
	require.NoError(t, err)
	sub, err := svc.Subscribe(taskID)
	require.NoError(t, err)
	close(gate)

	frames := collectFrames(t, sub)
	require.NotEmpty(t, frames)

	last := frames[len(frames)-1]
	assert.Equal(t, domain.TaskStatusFailed, last.Status)
	assert.Contains(t, last.Error, "failure rate exceeded")

	task, err := tasks.GetTask(taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.Contains(t, task.Error, "failure rate exceeded")
}

func TestCrawlRetriesTransientFailures(t *testing.T) {
	src := &fakeSource{
		refs:      refs("600000"),
		transient: map[string]int{"600000": 1},
	}
	repo := newFakeStockRepo()

	svc := NewCrawlService(CrawlServiceConfig{
		Source:      src,
		StockRepo:   repo,
		Tasks:       newTestTaskService(0),
		Logger:      logger.NewNop(),
		MaxAttempts: 3,
	})

	taskID, err := svc.StartCrawl(1)
	require.NoError(t, err)
	sub, err := svc.Subscribe(taskID)
	require.NoError(t, err)

	frames := collectFrames(t, sub)
	if len(frames) > 0 {
		assert.Equal(t, domain.TaskStatusCompleted, frames[len(frames)-1].Status)
	}
	assert.Equal(t, []string{"600000"}, repo.savedCodes())
	assert.Equal(t, 2, src.attemptCount("600000"))
}

func TestCrawlWatchdogFailsStuckRun(t *testing.T) {
	// FetchSecurity hangs forever; only the watchdog deadline ends the run.
	src := &fakeSource{refs: refs("600000", "600001"), fetchGate: make(chan struct{})}
	tasks := newTestTaskService(0)
	gate := make(chan struct{})

	svc := NewCrawlService(CrawlServiceConfig{
		Source:      src,
		StockRepo:   newFakeStockRepo(),
		Tasks:       &gatedRegistry{TaskRegistry: tasks, gate: gate},
		Logger:      logger.NewNop(),
		Parallelism: 2,
		Watchdog:    200 * time.Millisecond,
	})

	taskID, err := svc.StartCrawl(2)
	require.NoError(t, err)
	sub, err := svc.Subscribe(taskID)
	require.NoError(t, err)
	close(gate)

	frames := collectFrames(t, sub)
	require.NotEmpty(t, frames)

	last := frames[len(frames)-1]
	assert.Equal(t, domain.TaskStatusFailed, last.Status)
	assert.Contains(t, last.Error, "deadline exceeded")
	assert.NotContains(t, last.Error, "failure rate")

	task, err := tasks.GetTask(taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.Contains(t, task.Error, "deadline exceeded")
}

func TestCrawlRejectsInvalidCount(t *testing.T) {
	svc := NewCrawlService(CrawlServiceConfig{
		Source:    &fakeSource{},
		StockRepo: newFakeStockRepo(),
		Tasks:     newTestTaskService(0),
		Logger:    logger.NewNop(),
	})

	_, err := svc.StartCrawl(0)
	assert.ErrorIs(t, err, ErrCrawlInvalidCount)
	_, err = svc.StartCrawl(-3)
	assert.ErrorIs(t, err, ErrCrawlInvalidCount)
}

func TestCrawlRejectsConcurrentRuns(t *testing.T) {
	fetchGate := make(chan struct{})
	src := &fakeSource{refs: refs("600000"), fetchGate: fetchGate}

	svc := NewCrawlService(CrawlServiceConfig{
		Source:    src,
		StockRepo: newFakeStockRepo(),
		Tasks:     newTestTaskService(0),
		Logger:    logger.NewNop(),
	})

	first, err := svc.StartCrawl(1)
	require.NoError(t, err)

	_, err = svc.StartCrawl(1)
	assert.ErrorIs(t, err, ErrCrawlAlreadyRunning)

	close(fetchGate)

	sub, err := svc.Subscribe(first)
	require.NoError(t, err)
	collectFrames(t, sub)

	// Once the first run finishes the next start is admitted again.
	require.Eventually(t, func() bool {
		_, err := svc.StartCrawl(1)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCrawlFailsWhenListingFails(t *testing.T) {
	src := &fakeSource{listErr: errors.New("list endpoint down")}
	tasks := newTestTaskService(0)
	gate := make(chan struct{})

	svc := NewCrawlService(CrawlServiceConfig{
		Source:    src,
		StockRepo: newFakeStockRepo(),
		Tasks:     &gatedRegistry{TaskRegistry: tasks, gate: gate},
		Logger:    logger.NewNop(),
	})

	taskID, err := svc.StartCrawl(5)
	require.NoError(t, err)
	sub, err := svc.Subscribe(taskID)
	require.NoError(t, err)
	close(gate)

	frames := collectFrames(t, sub)
	require.Len(t, frames, 1)
	assert.Equal(t, domain.TaskStatusFailed, frames[0].Status)
	assert.Contains(t, frames[0].Error, "list endpoint down")
}

func TestCrawlSubscribeAfterTerminal(t *testing.T) {
	src := &fakeSource{refs: refs("600000")}
	svc := NewCrawlService(CrawlServiceConfig{
		Source:    src,
		StockRepo: newFakeStockRepo(),
		Tasks:     newTestTaskService(0),
		Logger:    logger.NewNop(),
	})

	taskID, err := svc.StartCrawl(1)
	require.NoError(t, err)
	sub, err := svc.Subscribe(taskID)
	require.NoError(t, err)
	collectFrames(t, sub)

	// Late subscribers get the terminal snapshot and a closed stream; no
	// frames are replayed.
	late, err := svc.Subscribe(taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, late.Initial.Status)
	assert.Equal(t, 100, late.Initial.Percentage)

	_, open := <-late.Events
	assert.False(t, open)
}

func TestCrawlSubscribeUnknownTask(t *testing.T) {
	svc := NewCrawlService(CrawlServiceConfig{
		Source:    &fakeSource{},
		StockRepo: newFakeStockRepo(),
		Tasks:     newTestTaskService(0),
		Logger:    logger.NewNop(),
	})

	_, err := svc.Subscribe("nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRefreshOne(t *testing.T) {
	src := &fakeSource{refs: refs("600000", "600001")}
	repo := newFakeStockRepo(&domain.Stock{ID: 1, Code: "600000", Name: "PF Bank", Market: "SH"})

	svc := NewCrawlService(CrawlServiceConfig{
		Source:    src,
		StockRepo: repo,
		Tasks:     newTestTaskService(0),
		Logger:    logger.NewNop(),
	})

	// Known stock resolves through the repository.
	require.NoError(t, svc.RefreshOne(context.Background(), "600000"))

	// Unknown stock falls back to the listing.
	require.NoError(t, svc.RefreshOne(context.Background(), "600001"))

	assert.Equal(t, []string{"600000", "600001"}, repo.savedCodes())

	err := svc.RefreshOne(context.Background(), "999999")
	assert.ErrorIs(t, err, ErrStockNotFound)
}
