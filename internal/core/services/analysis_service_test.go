package services

import (
	"errors"
	"testing"
	"time"

	"github.com/Tyler050121/react-stock-app/internal/core/ports"
	"github.com/Tyler050121/react-stock-app/internal/domain"
	"github.com/Tyler050121/react-stock-app/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(t *testing.T, sub *ports.AnalysisSubscription) []domain.AnalysisEvent {
	t.Helper()
	var events []domain.AnalysisEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for stream to close")
		}
	}
}

func countByType(events []domain.AnalysisEvent) map[domain.AnalysisEventType]int {
	counts := make(map[domain.AnalysisEventType]int)
	for _, ev := range events {
		counts[ev.Type]++
	}
	return counts
}

func testStock() *domain.Stock {
	return &domain.Stock{ID: 1, Code: "600000", Name: "PF Bank", Market: "SH"}
}

func TestAnalysisRunWithPartialActorFailure(t *testing.T) {
	gateway := &fakeGateway{
		replies: map[string]string{
			"technical_analyst": "short term uptrend with rising volume",
			"risk_manager":      "position sizing should stay conservative",
			"conclusion_model":  "overall cautiously bullish",
		},
		errs: map[string]error{
			"fundamental_analyst": errors.New("model overloaded"),
		},
	}
	analysisRepo := &fakeAnalysisRepo{}
	tasks := newTestTaskService(0)

	svc := NewAnalysisService(AnalysisServiceConfig{
		Gateway:      gateway,
		StockRepo:    newFakeStockRepo(testStock()),
		AnalysisRepo: analysisRepo,
		Tasks:        tasks,
		Logger:       logger.NewNop(),
	})

	taskID, sub, err := svc.StartAnalysis(domain.AnalysisRequest{
		StockCode: "600000",
		Actors: []domain.ActorSpec{
			{Actor: "technical_analyst", Model: "m1"},
			{Actor: "fundamental_analyst", Model: "m2"},
			{Actor: "risk_manager", Model: "m3"},
		},
		ConclusionModel: "m4",
	})
	require.NoError(t, err)
	require.NotNil(t, sub)

	events := collectEvents(t, sub)
	require.NotEmpty(t, events)

	// The subscription handed back by StartAnalysis is attached before the
	// run begins, so the opening meta event is never missed.
	assert.Equal(t, domain.AnalysisEventUserRequestMeta, events[0].Type)
	assert.Contains(t, events[0].Message, "PF Bank")
	assert.Contains(t, events[0].Message, "technical_analyst(m1)")

	counts := countByType(events)
	assert.Equal(t, 3, counts[domain.AnalysisEventAPIRequestMeta])
	assert.Equal(t, 2, counts[domain.AnalysisEventAnalysis])
	assert.Equal(t, 1, counts[domain.AnalysisEventError])
	assert.Equal(t, 1, counts[domain.AnalysisEventConclusion])
	assert.Equal(t, 1, counts[domain.AnalysisEventComplete])

	for _, ev := range events {
		switch ev.Type {
		case domain.AnalysisEventError:
			assert.Equal(t, "fundamental_analyst", ev.Actor)
			assert.Contains(t, ev.Error, "fundamental_analyst analysis failed")
		case domain.AnalysisEventAnalysis:
			require.NotNil(t, ev.Stats)
			assert.NotEmpty(t, ev.Stats.Model)
			assert.Greater(t, ev.Stats.WordCount, 0)
			assert.Greater(t, ev.Stats.CharacterCount, 0)
			assert.Regexp(t, `^\d+\.\d{2}s$`, ev.Stats.TimeTaken)
		case domain.AnalysisEventConclusion:
			assert.Equal(t, "conclusion", ev.Actor)
			assert.Equal(t, "overall cautiously bullish", ev.Content)
		}
	}
	assert.Equal(t, domain.AnalysisEventComplete, events[len(events)-1].Type)

	task, err := tasks.GetTask(taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	assert.Equal(t, domain.Progress{Current: 3, Total: 3, Percentage: 100}, task.Progress)

	records := analysisRepo.all()
	require.Len(t, records, 3)
	actors := make([]string, 0, len(records))
	for _, rec := range records {
		assert.Equal(t, "600000", rec.StockCode)
		actors = append(actors, rec.Actor)
	}
	assert.ElementsMatch(t, []string{"technical_analyst", "risk_manager", "conclusion"}, actors)
}

func TestAnalysisAllActorsFailedMarksTaskFailed(t *testing.T) {
	gateway := &fakeGateway{
		errs: map[string]error{
			"technical_analyst":   errors.New("overloaded"),
			"fundamental_analyst": errors.New("overloaded"),
		},
	}
	tasks := newTestTaskService(0)

	svc := NewAnalysisService(AnalysisServiceConfig{
		Gateway:   gateway,
		StockRepo: newFakeStockRepo(testStock()),
		Tasks:     tasks,
		Logger:    logger.NewNop(),
	})

	taskID, sub, err := svc.StartAnalysis(domain.AnalysisRequest{
		StockCode: "600000",
		Actors: []domain.ActorSpec{
			{Actor: "technical_analyst", Model: "m1"},
			{Actor: "fundamental_analyst", Model: "m2"},
		},
		ConclusionModel: "m3",
	})
	require.NoError(t, err)

	events := collectEvents(t, sub)
	counts := countByType(events)
	assert.Equal(t, 2, counts[domain.AnalysisEventError])
	assert.Zero(t, counts[domain.AnalysisEventConclusion])
	assert.Equal(t, 1, counts[domain.AnalysisEventComplete])

	// With no successful outputs the conclusion call is skipped entirely.
	assert.Equal(t, 2, gateway.callCount())

	task, err := tasks.GetTask(taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.Equal(t, "all actors failed", task.Error)
}

func TestAnalysisSkipsConclusionWhenNotRequested(t *testing.T) {
	gateway := &fakeGateway{}
	tasks := newTestTaskService(0)

	svc := NewAnalysisService(AnalysisServiceConfig{
		Gateway:   gateway,
		StockRepo: newFakeStockRepo(testStock()),
		Tasks:     tasks,
		Logger:    logger.NewNop(),
	})

	taskID, sub, err := svc.StartAnalysis(domain.AnalysisRequest{
		StockCode: "600000",
		Actors:    []domain.ActorSpec{{Actor: "technical_analyst", Model: "m1"}},
	})
	require.NoError(t, err)

	events := collectEvents(t, sub)
	counts := countByType(events)
	assert.Equal(t, 1, counts[domain.AnalysisEventAnalysis])
	assert.Zero(t, counts[domain.AnalysisEventConclusion])

	task, err := tasks.GetTask(taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
}

func TestAnalysisConclusionFailureDoesNotFailTask(t *testing.T) {
	gateway := &fakeGateway{
		errs: map[string]error{domain.ConclusionPseudoActor: errors.New("overloaded")},
	}
	tasks := newTestTaskService(0)

	svc := NewAnalysisService(AnalysisServiceConfig{
		Gateway:   gateway,
		StockRepo: newFakeStockRepo(testStock()),
		Tasks:     tasks,
		Logger:    logger.NewNop(),
	})

	taskID, sub, err := svc.StartAnalysis(domain.AnalysisRequest{
		StockCode:       "600000",
		Actors:          []domain.ActorSpec{{Actor: "technical_analyst", Model: "m1"}},
		ConclusionModel: "m2",
	})
	require.NoError(t, err)

	events := collectEvents(t, sub)
	counts := countByType(events)
	assert.Equal(t, 1, counts[domain.AnalysisEventAnalysis])
	assert.Equal(t, 1, counts[domain.AnalysisEventError])
	assert.Zero(t, counts[domain.AnalysisEventConclusion])

	// Both conclusion branches report the same pseudo-actor label.
	for _, ev := range events {
		if ev.Type == domain.AnalysisEventError {
			assert.Equal(t, "conclusion", ev.Actor)
		}
	}

	task, err := tasks.GetTask(taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
}

func TestStartAnalysisValidation(t *testing.T) {
	svc := NewAnalysisService(AnalysisServiceConfig{
		Gateway:   &fakeGateway{},
		StockRepo: newFakeStockRepo(testStock()),
		Tasks:     newTestTaskService(0),
		Logger:    logger.NewNop(),
	})

	cases := []struct {
		name string
		req  domain.AnalysisRequest
		want error
	}{
		{
			name: "missing stock code",
			req:  domain.AnalysisRequest{Actors: []domain.ActorSpec{{Actor: "a", Model: "m"}}},
			want: ErrAnalysisInvalidInput,
		},
		{
			name: "no actors",
			req:  domain.AnalysisRequest{StockCode: "600000"},
			want: ErrAnalysisNoActors,
		},
		{
			name: "actor without model",
			req: domain.AnalysisRequest{
				StockCode: "600000",
				Actors:    []domain.ActorSpec{{Actor: "a", Model: " "}},
			},
			want: ErrAnalysisInvalidInput,
		},
		{
			name: "unknown stock",
			req: domain.AnalysisRequest{
				StockCode: "999999",
				Actors:    []domain.ActorSpec{{Actor: "a", Model: "m"}},
			},
			want: ErrStockNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, sub, err := svc.StartAnalysis(tc.req)
			assert.ErrorIs(t, err, tc.want)
			assert.Nil(t, sub)
		})
	}
}

func TestAnalysisSubscribeUnknownTask(t *testing.T) {
	svc := NewAnalysisService(AnalysisServiceConfig{
		Gateway:   &fakeGateway{},
		StockRepo: newFakeStockRepo(),
		Tasks:     newTestTaskService(0),
		Logger:    logger.NewNop(),
	})

	_, err := svc.Subscribe("nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
