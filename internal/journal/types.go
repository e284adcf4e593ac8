package journal

import (
	"time"

	"convergence-engine/internal/signal"
)

// EventType 表示日志事件类型。
type EventType string

const (
	EventEvaluation EventType = "evaluation"
	EventNarration  EventType = "narration"
	EventResolution EventType = "resolution"
	EventError      EventType = "error"
)

// Event 封装通用事件。
type Event struct {
	Type       EventType   `json:"type"`
	Instrument string      `json:"instrument,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Payload    interface{} `json:"payload"`
}

// EvaluationPayload 记录一次评估的信号与指标。
type EvaluationPayload struct {
	Signal signal.Signal `json:"signal"`
}

// NarrationPayload 记录信号解读。
type NarrationPayload struct {
	SignalID string `json:"signal_id"`
	Text     string `json:"text"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Status 为信号跟踪状态。
type Status string

const (
	StatusActive  Status = "active"
	StatusHitTP   Status = "hit_tp"
	StatusHitSL   Status = "hit_sl"
	StatusExpired Status = "expired"
)

// SignalRecord 为持久化的信号及其结果。
type SignalRecord struct {
	ID         string        `json:"id"`
	Instrument string        `json:"instrument"`
	Action     signal.Action `json:"action"`
	Entry      float64       `json:"entry"`
	Stop       float64       `json:"stop"`
	Target     float64       `json:"target"`
	Score      int           `json:"score"`
	Confidence string        `json:"confidence"`
	Aligned    int           `json:"aligned"`
	Status     Status        `json:"status"`
	ExitPrice  *float64      `json:"exit_price,omitempty"`
	PnLPct     *float64      `json:"pnl_pct,omitempty"`
	Narrative  string        `json:"narrative,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	ExitAt     *time.Time    `json:"exit_at,omitempty"`
}

// Performance 为单个合约已平仓信号的统计。
type Performance struct {
	Instrument string  `json:"instrument"`
	Total      int     `json:"total"`
	Closed     int     `json:"closed"`
	Profitable int     `json:"profitable"`
	Losing     int     `json:"losing"`
	WinRatePct float64 `json:"win_rate_pct"`
	AvgPnLPct  float64 `json:"avg_pnl_pct"`
	BestPct    float64 `json:"best_pct"`
	WorstPct   float64 `json:"worst_pct"`
}
