package ports

import (
	"context"

	"github.com/Tyler050121/react-stock-app/internal/domain"
)

// MarketDataSource fetches raw per-security data from the upstream market
// data endpoints. Every call is fallible per item.
type MarketDataSource interface {
	ListSecurities(ctx context.Context, limit int) ([]domain.SecurityRef, error)
	FetchSecurity(ctx context.Context, ref domain.SecurityRef) (*domain.SecuritySnapshot, error)
}

// ModelGateway generates text for one (actor, model, prompt) triple.
type ModelGateway interface {
	Generate(ctx context.Context, actor, model, prompt string) (string, error)
}

// TaskRegistry owns task records and their lifecycle state.
type TaskRegistry interface {
	CreateTask(kind domain.TaskKind) *domain.Task
	GetTask(id string) (*domain.Task, error)
	Transition(id string, next domain.TaskStatus) error
	SetProgress(id string, current, total int) error
	SetError(id string, msg string)
}

// CrawlSubscription is one live reader of a crawl progress stream. Events
// closes once the stream terminates; Cancel detaches early without
// stopping the underlying crawl.
type CrawlSubscription struct {
	Initial domain.CrawlProgressEvent
	Events  <-chan domain.CrawlProgressEvent
	Cancel  func()
}

type CrawlService interface {
	StartCrawl(stockCount int) (string, error)
	GetStatus(taskID string) (*domain.Task, error)
	Subscribe(taskID string) (*CrawlSubscription, error)
	RefreshOne(ctx context.Context, code string) error
}

// AnalysisSubscription is one live reader of an analysis event stream.
type AnalysisSubscription struct {
	Events <-chan domain.AnalysisEvent
	Cancel func()
}

// AnalysisService starts analysis runs and streams their events. The
// subscription returned by StartAnalysis is attached before the run begins,
// so the caller observes the stream from its first event; Subscribe attaches
// additional readers later and gets only events published from then on.
type AnalysisService interface {
	StartAnalysis(req domain.AnalysisRequest) (string, *AnalysisSubscription, error)
	Subscribe(taskID string) (*AnalysisSubscription, error)
}
