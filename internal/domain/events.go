package domain

import "time"

// CrawlProgressEvent is one data frame of a crawl progress stream. The field
// names are part of the client wire contract.
type CrawlProgressEvent struct {
	Current     int        `json:"current"`
	Total       int        `json:"total"`
	Percentage  int        `json:"percentage"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	FailedCount int        `json:"failed_count,omitempty"`
}

// AnalysisEventType values are part of the client wire contract.
type AnalysisEventType string

const (
	AnalysisEventUserRequestMeta AnalysisEventType = "user_request_meta"
	AnalysisEventAPIRequestMeta  AnalysisEventType = "api_request_meta"
	AnalysisEventAnalysis        AnalysisEventType = "analysis"
	AnalysisEventConclusion      AnalysisEventType = "conclusion"
	AnalysisEventError           AnalysisEventType = "error"
	AnalysisEventComplete        AnalysisEventType = "complete"
)

// AnalysisStats carries per-call generation metadata alongside a result.
type AnalysisStats struct {
	Model          string `json:"model,omitempty"`
	WordCount      int    `json:"word_count,omitempty"`
	CharacterCount int    `json:"character_count,omitempty"`
	TimeTaken      string `json:"time_taken,omitempty"`
}

// AnalysisEvent is one data frame of an analysis stream. Events are
// append-only: once published they are never mutated.
type AnalysisEvent struct {
	Type      AnalysisEventType `json:"type"`
	Actor     string            `json:"actor,omitempty"`
	Content   string            `json:"content,omitempty"`
	Message   string            `json:"message,omitempty"`
	Error     string            `json:"error,omitempty"`
	Stats     *AnalysisStats    `json:"stats,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// ActorSpec is one (actor, model) pair of an analysis request. The
// pseudo-actor "conclusion_model" selects the synthesis model and never
// counts as an analyst role.
type ActorSpec struct {
	Actor string `json:"actor"`
	Model string `json:"model"`
}

const ConclusionPseudoActor = "conclusion_model"

// AnalysisRequest is a validated request for one analysis run.
type AnalysisRequest struct {
	StockCode       string
	Actors          []ActorSpec // analyst roles only, in request order
	ConclusionModel string      // empty when no conclusion was requested
}
