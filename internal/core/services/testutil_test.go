package services

import (
	"context"
	"errors"
	"sync"

	"github.com/Tyler050121/react-stock-app/internal/core/ports"
	"github.com/Tyler050121/react-stock-app/internal/domain"
)

// fakeSource serves a fixed worklist and fails per-code on demand.
type fakeSource struct {
	refs    []domain.SecurityRef
	listErr error

	mu        sync.Mutex
	attempts  map[string]int
	permFail  map[string]error
	transient map[string]int // fail this many attempts before succeeding
	fetchGate chan struct{}  // when set, FetchSecurity blocks until closed
}

func (f *fakeSource) ListSecurities(ctx context.Context, limit int) ([]domain.SecurityRef, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	refs := f.refs
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

func (f *fakeSource) FetchSecurity(ctx context.Context, ref domain.SecurityRef) (*domain.SecuritySnapshot, error) {
	if f.fetchGate != nil {
		select {
		case <-f.fetchGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	if f.attempts == nil {
		f.attempts = make(map[string]int)
	}
	f.attempts[ref.Code]++
	attempt := f.attempts[ref.Code]
	permErr := f.permFail[ref.Code]
	transientN := f.transient[ref.Code]
	f.mu.Unlock()

	if permErr != nil {
		return nil, permErr
	}
	if attempt <= transientN {
		return nil, domain.Transient(errors.New("upstream timeout"))
	}
	return &domain.SecuritySnapshot{SecurityRef: ref}, nil
}

func (f *fakeSource) attemptCount(code string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[code]
}

// fakeStockRepo keeps stocks in a map and records saved snapshot codes.
type fakeStockRepo struct {
	mu      sync.Mutex
	stocks  map[string]*domain.Stock
	klines  []domain.KLine
	saved   []string
	saveErr error
}

func newFakeStockRepo(stocks ...*domain.Stock) *fakeStockRepo {
	r := &fakeStockRepo{stocks: make(map[string]*domain.Stock)}
	for _, s := range stocks {
		r.stocks[s.Code] = s
	}
	return r
}

func (r *fakeStockRepo) GetAll(ctx context.Context) ([]domain.Stock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Stock, 0, len(r.stocks))
	for _, s := range r.stocks {
		out = append(out, *s)
	}
	return out, nil
}

func (r *fakeStockRepo) GetByCode(ctx context.Context, code string) (*domain.Stock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stocks[code]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, errors.New("record not found")
}

func (r *fakeStockRepo) GetKLines(ctx context.Context, stockID uint, q ports.KLineQuery) ([]domain.KLine, error) {
	return r.klines, nil
}

func (r *fakeStockRepo) GetLatestFinancial(ctx context.Context, stockID uint) (*domain.FinancialData, error) {
	return nil, errors.New("record not found")
}

func (r *fakeStockRepo) SaveSnapshot(ctx context.Context, snap *domain.SecuritySnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = append(r.saved, snap.Code)
	return nil
}

func (r *fakeStockRepo) savedCodes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.saved...)
}

// fakeAnalysisRepo records created analysis rows.
type fakeAnalysisRepo struct {
	mu      sync.Mutex
	records []domain.AnalysisRecord
}

func (r *fakeAnalysisRepo) Create(ctx context.Context, record *domain.AnalysisRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *record)
	return nil
}

func (r *fakeAnalysisRepo) GetByStockCode(ctx context.Context, code string, limit int) ([]domain.AnalysisRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AnalysisRecord, 0)
	for _, rec := range r.records {
		if rec.StockCode == code {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeAnalysisRepo) all() []domain.AnalysisRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AnalysisRecord(nil), r.records...)
}

// fakeGateway answers per actor from fixed maps.
type fakeGateway struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	calls   []string
}

func (g *fakeGateway) Generate(ctx context.Context, actor, model, prompt string) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, actor)
	g.mu.Unlock()

	if err := g.errs[actor]; err != nil {
		return "", err
	}
	if reply, ok := g.replies[actor]; ok {
		return reply, nil
	}
	return "generated analysis text", nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// gatedRegistry delays the first transition until gate is closed, so tests
// can subscribe before any event is published.
type gatedRegistry struct {
	ports.TaskRegistry
	gate <-chan struct{}
	once sync.Once
}

func (g *gatedRegistry) Transition(id string, next domain.TaskStatus) error {
	g.once.Do(func() { <-g.gate })
	return g.TaskRegistry.Transition(id, next)
}
