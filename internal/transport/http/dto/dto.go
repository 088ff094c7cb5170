package dto

import (
	"encoding/json"
	"strings"

	"github.com/Tyler050121/react-stock-app/internal/domain"
)

type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

type StartCrawlResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type StockResponse struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	Market    string `json:"market"`
	UpdatedAt string `json:"updated_at"`
}

func StockToResponse(s *domain.Stock) StockResponse {
	return StockResponse{
		Code:      s.Code,
		Name:      s.Name,
		Market:    s.Market,
		UpdatedAt: s.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func StocksToResponse(stocks []domain.Stock) []StockResponse {
	out := make([]StockResponse, 0, len(stocks))
	for i := range stocks {
		out = append(out, StockToResponse(&stocks[i]))
	}
	return out
}

// AnalysisRequestBody is the wire shape of an analysis request. The list
// may contain the "conclusion_model" pseudo-actor, which selects the
// synthesis model rather than an analyst role.
type AnalysisRequestBody struct {
	Actors []domain.ActorSpec `json:"actors"`
}

// ParseAnalysisActors decodes the actors payload from a raw JSON body or
// an encoded query parameter.
func ParseAnalysisActors(raw []byte) (*AnalysisRequestBody, error) {
	var body AnalysisRequestBody
	if err := json.Unmarshal(raw, &body); err != nil {
		// The EventSource client sends the bare actor array.
		var actors []domain.ActorSpec
		if err2 := json.Unmarshal(raw, &actors); err2 != nil {
			return nil, err
		}
		body.Actors = actors
	}
	return &body, nil
}

// ToDomain splits the wire payload into analyst roles and the optional
// conclusion model, dropping entries with a missing actor or model.
func (b *AnalysisRequestBody) ToDomain(stockCode string) domain.AnalysisRequest {
	req := domain.AnalysisRequest{StockCode: stockCode}
	for _, spec := range b.Actors {
		actor := strings.TrimSpace(spec.Actor)
		model := strings.TrimSpace(spec.Model)
		if actor == domain.ConclusionPseudoActor {
			req.ConclusionModel = model
			continue
		}
		if actor == "" || model == "" {
			continue
		}
		req.Actors = append(req.Actors, domain.ActorSpec{Actor: actor, Model: model})
	}
	return req
}
