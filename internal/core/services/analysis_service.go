package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Tyler050121/react-stock-app/internal/core/ports"
	"github.com/Tyler050121/react-stock-app/internal/core/stream"
	"github.com/Tyler050121/react-stock-app/internal/domain"
	"github.com/Tyler050121/react-stock-app/internal/infrastructure/logger"
)

type AnalysisServiceConfig struct {
	Gateway      ports.ModelGateway
	StockRepo    ports.StockRepository
	AnalysisRepo ports.AnalysisRepository
	Tasks        ports.TaskRegistry
	Logger       *logger.Logger

	// Watchdog force-fails a run stuck beyond this bound.
	Watchdog     time.Duration
	StreamBuffer int
}

// AnalysisService drives analysis tasks: one concurrent gateway call per
// actor, events published in completion order, an optional conclusion
// synthesized from the successful outputs, then a terminal complete event.
// One actor failing never aborts the others.
type AnalysisService struct {
	cfg    AnalysisServiceConfig
	logger *logger.Logger

	hubMu sync.RWMutex
	hubs  map[string]*stream.Hub[domain.AnalysisEvent]
}

type actorResult struct {
	actor   string
	content string
	ok      bool
}

func NewAnalysisService(cfg AnalysisServiceConfig) *AnalysisService {
	if cfg.Watchdog <= 0 {
		cfg.Watchdog = 10 * time.Minute
	}
	return &AnalysisService{
		cfg:    cfg,
		logger: cfg.Logger,
		hubs:   make(map[string]*stream.Hub[domain.AnalysisEvent]),
	}
}

// StartAnalysis validates the request, registers the task and schedules the
// run. Validation failures are synchronous; no task id is issued for them.
// The returned subscription is attached before the run goroutine starts, so
// the caller sees the stream from its first event.
func (s *AnalysisService) StartAnalysis(req domain.AnalysisRequest) (string, *ports.AnalysisSubscription, error) {
	if strings.TrimSpace(req.StockCode) == "" {
		return "", nil, ErrAnalysisInvalidInput
	}
	if len(req.Actors) == 0 {
		return "", nil, ErrAnalysisNoActors
	}
	for _, a := range req.Actors {
		if strings.TrimSpace(a.Actor) == "" || strings.TrimSpace(a.Model) == "" {
			return "", nil, ErrAnalysisInvalidInput
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stock, err := s.cfg.StockRepo.GetByCode(ctx, req.StockCode)
	if err != nil {
		return "", nil, ErrStockNotFound
	}
	klines, err := s.cfg.StockRepo.GetKLines(ctx, stock.ID, ports.KLineQuery{Resolution: "1d"})
	if err != nil {
		s.logger.Warnw("analysis_kline_load_failed", "code", req.StockCode, "error", err)
	}

	task := s.cfg.Tasks.CreateTask(domain.TaskKindAnalysis)

	hub := stream.NewHub[domain.AnalysisEvent](s.cfg.StreamBuffer)
	s.hubMu.Lock()
	s.hubs[task.ID] = hub
	s.hubMu.Unlock()

	ch, cancelSub := hub.Subscribe()
	go s.run(task.ID, req, stock, klines, hub)

	s.logger.Infow("analysis_start", "task_id", task.ID, "code", req.StockCode, "actors", len(req.Actors))
	return task.ID, &ports.AnalysisSubscription{Events: ch, Cancel: cancelSub}, nil
}

// Subscribe attaches a reader to the task's event stream. Already published
// events are not replayed; for terminal tasks the channel is already closed.
func (s *AnalysisService) Subscribe(taskID string) (*ports.AnalysisSubscription, error) {
	if _, err := s.cfg.Tasks.GetTask(taskID); err != nil {
		return nil, err
	}

	s.hubMu.RLock()
	hub := s.hubs[taskID]
	s.hubMu.RUnlock()

	if hub == nil {
		ch := make(chan domain.AnalysisEvent)
		close(ch)
		return &ports.AnalysisSubscription{Events: ch, Cancel: func() {}}, nil
	}

	ch, cancel := hub.Subscribe()
	return &ports.AnalysisSubscription{Events: ch, Cancel: cancel}, nil
}

func (s *AnalysisService) run(taskID string, req domain.AnalysisRequest, stock *domain.Stock, klines []domain.KLine, hub *stream.Hub[domain.AnalysisEvent]) {
	// Subscriber disconnects do not cancel the run; only the watchdog does.
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Watchdog)
	defer cancel()

	if err := s.cfg.Tasks.Transition(taskID, domain.TaskStatusRunning); err != nil {
		s.logger.Errorw("analysis_transition_failed", "task_id", taskID, "error", err)
	}

	pairs := make([]string, 0, len(req.Actors))
	for _, a := range req.Actors {
		pairs = append(pairs, fmt.Sprintf("%s(%s)", a.Actor, a.Model))
	}
	hub.Publish(domain.AnalysisEvent{
		Type:      domain.AnalysisEventUserRequestMeta,
		Message:   fmt.Sprintf("analyzing %s (%s) with actors: %s", stock.Name, stock.Code, strings.Join(pairs, ", ")),
		Timestamp: time.Now(),
	})

	klineContext := formatKLineContext(klines)
	total := len(req.Actors)
	s.cfg.Tasks.SetProgress(taskID, 0, total)

	results := make(chan actorResult)
	for _, spec := range req.Actors {
		go func(spec domain.ActorSpec) {
			results <- s.runActor(ctx, taskID, spec, stock, klineContext, hub)
		}(spec)
	}

	var succeeded []actorResult
	for i := 0; i < total; i++ {
		res := <-results
		if res.ok {
			succeeded = append(succeeded, res)
		}
		s.cfg.Tasks.SetProgress(taskID, i+1, total)
	}

	conclusionOK := false
	if req.ConclusionModel != "" && len(succeeded) > 0 {
		conclusionOK = s.runConclusion(ctx, req.ConclusionModel, stock, succeeded, hub)
	}

	hub.Publish(domain.AnalysisEvent{
		Type:      domain.AnalysisEventComplete,
		Message:   fmt.Sprintf("analysis finished, %d of %d actors succeeded", len(succeeded), total),
		Timestamp: time.Now(),
	})

	terminal := domain.TaskStatusCompleted
	if len(succeeded) == 0 && !conclusionOK {
		terminal = domain.TaskStatusFailed
		s.cfg.Tasks.SetError(taskID, "all actors failed")
	}
	if err := s.cfg.Tasks.Transition(taskID, terminal); err != nil {
		s.logger.Errorw("analysis_transition_failed", "task_id", taskID, "error", err)
	}

	hub.Close()
	s.hubMu.Lock()
	delete(s.hubs, taskID)
	s.hubMu.Unlock()

	s.logger.Infow("analysis_done", "task_id", taskID, "code", stock.Code,
		"succeeded", len(succeeded), "total", total, "status", terminal)
}

func (s *AnalysisService) runActor(ctx context.Context, taskID string, spec domain.ActorSpec, stock *domain.Stock, klineContext string, hub *stream.Hub[domain.AnalysisEvent]) actorResult {
	hub.Publish(domain.AnalysisEvent{
		Type:      domain.AnalysisEventAPIRequestMeta,
		Actor:     spec.Actor,
		Message:   fmt.Sprintf("requesting %s for %s analysis", spec.Model, spec.Actor),
		Stats:     &domain.AnalysisStats{Model: spec.Model},
		Timestamp: time.Now(),
	})

	prompt := actorPrompt(spec.Actor, stock.Name, stock.Code, klineContext)
	start := time.Now()
	content, err := s.cfg.Gateway.Generate(ctx, spec.Actor, spec.Model, prompt)
	if err != nil {
		s.logger.Warnw("analysis_actor_failed", "task_id", taskID, "actor", spec.Actor, "model", spec.Model, "error", err)
		hub.Publish(domain.AnalysisEvent{
			Type:      domain.AnalysisEventError,
			Actor:     spec.Actor,
			Error:     fmt.Sprintf("%s analysis failed: %s", spec.Actor, err.Error()),
			Stats:     &domain.AnalysisStats{Model: spec.Model},
			Timestamp: time.Now(),
		})
		return actorResult{actor: spec.Actor}
	}

	hub.Publish(domain.AnalysisEvent{
		Type:    domain.AnalysisEventAnalysis,
		Actor:   spec.Actor,
		Content: content,
		Stats: &domain.AnalysisStats{
			Model:          spec.Model,
			WordCount:      len(strings.Fields(content)),
			CharacterCount: len([]rune(content)),
			TimeTaken:      fmt.Sprintf("%.2fs", time.Since(start).Seconds()),
		},
		Timestamp: time.Now(),
	})

	s.persistRecord(stock.Code, spec.Actor, spec.Model, content)
	return actorResult{actor: spec.Actor, content: content, ok: true}
}

func (s *AnalysisService) runConclusion(ctx context.Context, model string, stock *domain.Stock, succeeded []actorResult, hub *stream.Hub[domain.AnalysisEvent]) bool {
	prompt := conclusionPrompt(stock.Name, stock.Code, succeeded)
	start := time.Now()
	content, err := s.cfg.Gateway.Generate(ctx, domain.ConclusionPseudoActor, model, prompt)
	if err != nil {
		s.logger.Warnw("analysis_conclusion_failed", "code", stock.Code, "model", model, "error", err)
		hub.Publish(domain.AnalysisEvent{
			Type:      domain.AnalysisEventError,
			Actor:     "conclusion",
			Error:     "conclusion generation failed: " + err.Error(),
			Stats:     &domain.AnalysisStats{Model: model},
			Timestamp: time.Now(),
		})
		return false
	}

	hub.Publish(domain.AnalysisEvent{
		Type:    domain.AnalysisEventConclusion,
		Actor:   "conclusion",
		Content: content,
		Stats: &domain.AnalysisStats{
			Model:          model,
			WordCount:      len(strings.Fields(content)),
			CharacterCount: len([]rune(content)),
			TimeTaken:      fmt.Sprintf("%.2fs", time.Since(start).Seconds()),
		},
		Timestamp: time.Now(),
	})

	s.persistRecord(stock.Code, "conclusion", model, content)
	return true
}

func (s *AnalysisService) persistRecord(code, actor, model, content string) {
	if s.cfg.AnalysisRepo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	record := &domain.AnalysisRecord{
		StockCode: code,
		Actor:     actor,
		Model:     model,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.cfg.AnalysisRepo.Create(ctx, record); err != nil {
		s.logger.Warnw("analysis_record_save_failed", "code", code, "actor", actor, "error", err)
	}
}
