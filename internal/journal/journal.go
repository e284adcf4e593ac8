package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"convergence-engine/internal/signal"
	"convergence-engine/internal/store"
)

const defaultKeepPerInstrument = 100

// Journal 持久化评估事件与信号历史，并跟踪信号结果。
type Journal struct {
	store  *store.Store
	db     *sql.DB
	logger *zap.Logger

	expiry time.Duration
	keep   int
}

// Option 调整 Journal 行为。
type Option func(*Journal)

// WithExpiry 设置信号过期时长。
func WithExpiry(d time.Duration) Option {
	return func(j *Journal) {
		if d > 0 {
			j.expiry = d
		}
	}
}

// WithKeep 设置每个合约保留的信号条数。
func WithKeep(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.keep = n
		}
	}
}

// New 初始化日志服务并创建表结构。
func New(ctx context.Context, st *store.Store, logger *zap.Logger, opts ...Option) (*Journal, error) {
	if st == nil {
		return nil, fmt.Errorf("journal: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	j := &Journal{
		store:  st,
		db:     st.DB(),
		logger: logger,
		expiry: 24 * time.Hour,
		keep:   defaultKeepPerInstrument,
	}
	for _, opt := range opts {
		opt(j)
	}

	if err := st.Migrate(ctx,
		`CREATE TABLE IF NOT EXISTS journal_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	instrument TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_journal_events_type ON journal_events(event_type)`,
		`CREATE TABLE IF NOT EXISTS signal_history (
	id TEXT PRIMARY KEY,
	instrument TEXT NOT NULL,
	action TEXT NOT NULL,
	entry REAL NOT NULL,
	stop REAL NOT NULL,
	target REAL NOT NULL,
	score INTEGER NOT NULL,
	confidence TEXT NOT NULL,
	aligned INTEGER NOT NULL,
	status TEXT NOT NULL,
	exit_price REAL,
	pnl_pct REAL,
	narrative TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	exit_at INTEGER
)`,
		`CREATE INDEX IF NOT EXISTS idx_signal_history_instrument ON signal_history(instrument, created_at)`,
	); err != nil {
		return nil, fmt.Errorf("journal: 初始化表失败: %w", err)
	}

	return j, nil
}

// Record 写入单个事件。
func (j *Journal) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("journal: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO journal_events (event_type, instrument, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type), strings.ToUpper(event.Instrument), string(payload), event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal: 写入事件失败: %w", err)
	}

	return nil
}

// RecordEvaluation 记录一次评估结果，失败只记日志。
func (j *Journal) RecordEvaluation(ctx context.Context, sig signal.Signal) {
	if err := j.Record(ctx, Event{
		Type:       EventEvaluation,
		Instrument: sig.Instrument,
		Timestamp:  sig.Timestamp,
		Payload:    EvaluationPayload{Signal: sig},
	}); err != nil {
		j.logger.Warn("记录评估事件失败", zap.Error(err))
	}
}

// RecordError 记录异常。
func (j *Journal) RecordError(ctx context.Context, instrument, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: ctxMap,
	}
	if recErr := j.Record(ctx, Event{
		Type:       EventError,
		Instrument: instrument,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}); recErr != nil {
		j.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按类型检索最近事件，eventType 为空时返回全部类型。
func (j *Journal) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, instrument, payload, created_at FROM journal_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ        string
			instrument string
			payload    string
			created    string
		)
		if scanErr := rows.Scan(&typ, &instrument, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("journal: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Time{}
		}

		events = append(events, Event{
			Type:       EventType(typ),
			Instrument: instrument,
			Timestamp:  ts,
			Payload:    json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: 读取事件失败: %w", err)
	}

	return events, nil
}

// AddSignal 保存方向性信号并返回其ID；SKIP 不保存，返回空ID。
// 每个合约只保留最近 keep 条。
func (j *Journal) AddSignal(ctx context.Context, sig signal.Signal) (string, error) {
	if sig.Action == signal.ActionSkip {
		return "", nil
	}
	instrument := strings.ToUpper(sig.Instrument)
	id := uuid.NewString()
	created := sig.Timestamp
	if created.IsZero() {
		created = time.Now().UTC()
	}

	err := j.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO signal_history
	(id, instrument, action, entry, stop, target, score, confidence, aligned, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, instrument, string(sig.Action), sig.Entry, sig.Stop, sig.Target,
			sig.Score, string(sig.Confidence), max(sig.Bullish, sig.Bearish), string(StatusActive), created.UnixMilli(),
		); err != nil {
			return fmt.Errorf("journal: 写入信号失败: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM signal_history WHERE instrument = ? AND id NOT IN (
	SELECT id FROM signal_history WHERE instrument = ? ORDER BY created_at DESC, rowid DESC LIMIT ?)`,
			instrument, instrument, j.keep,
		); err != nil {
			return fmt.Errorf("journal: 清理旧信号失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	j.logger.Info("记录新信号",
		zap.String("id", id),
		zap.String("instrument", instrument),
		zap.String("action", string(sig.Action)),
		zap.Int("score", sig.Score),
		zap.Float64("entry", sig.Entry),
	)
	return id, nil
}

// SetNarrative 为信号附加解读文本。
func (j *Journal) SetNarrative(ctx context.Context, id, text string) error {
	res, err := j.db.ExecContext(ctx, `UPDATE signal_history SET narrative = ? WHERE id = ?`, text, id)
	if err != nil {
		return fmt.Errorf("journal: 更新信号解读失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("journal: 信号 %s 不存在", id)
	}
	return j.Record(ctx, Event{Type: EventNarration, Timestamp: time.Now().UTC(), Payload: NarrationPayload{SignalID: id, Text: text}})
}

// Resolve 用最新价格检查合约的活跃信号：触及止盈/止损即平仓，超过有效期则过期。
// 返回本次状态发生变化的信号。
func (j *Journal) Resolve(ctx context.Context, instrument string, price float64, at time.Time) ([]SignalRecord, error) {
	if price <= 0 {
		return nil, fmt.Errorf("journal: 价格必须为正")
	}
	active, err := j.query(ctx, `WHERE instrument = ? AND status = ? ORDER BY created_at ASC`,
		strings.ToUpper(instrument), string(StatusActive))
	if err != nil {
		return nil, err
	}

	resolved := make([]SignalRecord, 0)
	for _, rec := range active {
		status := outcome(rec, price, at, j.expiry)
		if status == StatusActive {
			continue
		}

		pnl := pnlPct(rec.Action, rec.Entry, price)
		exitAt := at.UTC()
		if _, err := j.db.ExecContext(ctx,
			`UPDATE signal_history SET status = ?, exit_price = ?, pnl_pct = ?, exit_at = ? WHERE id = ?`,
			string(status), price, pnl, exitAt.UnixMilli(), rec.ID,
		); err != nil {
			return resolved, fmt.Errorf("journal: 更新信号状态失败: %w", err)
		}

		rec.Status = status
		rec.ExitPrice = &price
		rec.PnLPct = &pnl
		rec.ExitAt = &exitAt
		resolved = append(resolved, rec)

		if err := j.Record(ctx, Event{Type: EventResolution, Instrument: rec.Instrument, Timestamp: exitAt, Payload: rec}); err != nil {
			j.logger.Warn("记录信号结果事件失败", zap.Error(err))
		}
		j.logger.Info("信号已结束",
			zap.String("id", rec.ID),
			zap.String("instrument", rec.Instrument),
			zap.String("status", string(status)),
			zap.Float64("pnl_pct", pnl),
		)
	}
	return resolved, nil
}

// ListSignals 返回最近的信号（新到旧），instrument 为空时返回全部合约。
func (j *Journal) ListSignals(ctx context.Context, instrument string, limit int) ([]SignalRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if instrument == "" {
		return j.query(ctx, `ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	}
	return j.query(ctx, `WHERE instrument = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, strings.ToUpper(instrument), limit)
}

// Performance 统计合约已触及止盈止损的信号表现。
func (j *Journal) Performance(ctx context.Context, instrument string) (Performance, error) {
	records, err := j.query(ctx, `WHERE instrument = ?`, strings.ToUpper(instrument))
	if err != nil {
		return Performance{}, err
	}

	perf := Performance{Instrument: strings.ToUpper(instrument), Total: len(records)}
	sum := 0.0
	for _, rec := range records {
		if (rec.Status != StatusHitTP && rec.Status != StatusHitSL) || rec.PnLPct == nil {
			continue
		}
		p := *rec.PnLPct
		if perf.Closed == 0 || p > perf.BestPct {
			perf.BestPct = p
		}
		if perf.Closed == 0 || p < perf.WorstPct {
			perf.WorstPct = p
		}
		perf.Closed++
		sum += p
		switch {
		case p > 0:
			perf.Profitable++
		case p < 0:
			perf.Losing++
		}
	}
	if perf.Closed > 0 {
		perf.WinRatePct = float64(perf.Profitable) / float64(perf.Closed) * 100
		perf.AvgPnLPct = sum / float64(perf.Closed)
	}
	return perf, nil
}

func (j *Journal) query(ctx context.Context, clause string, args ...interface{}) ([]SignalRecord, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT id, instrument, action, entry, stop, target, score, confidence, aligned,
	status, exit_price, pnl_pct, narrative, created_at, exit_at FROM signal_history `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: 查询信号失败: %w", err)
	}
	defer rows.Close()

	out := make([]SignalRecord, 0)
	for rows.Next() {
		var (
			rec       SignalRecord
			action    string
			status    string
			exitPrice sql.NullFloat64
			pnl       sql.NullFloat64
			created   int64
			exitAt    sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.Instrument, &action, &rec.Entry, &rec.Stop, &rec.Target, &rec.Score,
			&rec.Confidence, &rec.Aligned, &status, &exitPrice, &pnl, &rec.Narrative, &created, &exitAt); err != nil {
			return nil, fmt.Errorf("journal: 解析信号失败: %w", err)
		}
		rec.Action = signal.Action(action)
		rec.Status = Status(status)
		rec.CreatedAt = time.UnixMilli(created).UTC()
		if exitPrice.Valid {
			v := exitPrice.Float64
			rec.ExitPrice = &v
		}
		if pnl.Valid {
			v := pnl.Float64
			rec.PnLPct = &v
		}
		if exitAt.Valid {
			ts := time.UnixMilli(exitAt.Int64).UTC()
			rec.ExitAt = &ts
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: 读取信号失败: %w", err)
	}
	return out, nil
}

func outcome(rec SignalRecord, price float64, at time.Time, expiry time.Duration) Status {
	switch rec.Action {
	case signal.ActionLong:
		if rec.Target > 0 && price >= rec.Target {
			return StatusHitTP
		}
		if rec.Stop > 0 && price <= rec.Stop {
			return StatusHitSL
		}
	case signal.ActionShort:
		if rec.Target > 0 && price <= rec.Target {
			return StatusHitTP
		}
		if rec.Stop > 0 && price >= rec.Stop {
			return StatusHitSL
		}
	}
	if expiry > 0 && !at.Before(rec.CreatedAt.Add(expiry)) {
		return StatusExpired
	}
	return StatusActive
}

func pnlPct(action signal.Action, entry, exit float64) float64 {
	if entry <= 0 {
		return 0
	}
	switch action {
	case signal.ActionLong:
		return (exit - entry) / entry * 100
	case signal.ActionShort:
		return (entry - exit) / entry * 100
	default:
		return 0
	}
}
