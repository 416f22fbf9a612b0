// Package persistence provides SQLite-backed storage for deal history,
// reputation scores, market events and world snapshots.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/domain"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/reputation"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/telemetry"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/world"
)

// DB wraps a SQLite connection. It implements reputation.Store.
type DB struct {
	conn *sqlx.DB
}

var _ reputation.Store = (*DB)(nil)

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite has a single writer.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deal_history (
		deal_id TEXT PRIMARY KEY,
		negotiation_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		carrier_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		agreed_price REAL NOT NULL,
		negotiation_rounds INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		on_time_delivery INTEGER,
		actual_eta REAL,
		promised_eta REAL NOT NULL,
		route TEXT NOT NULL DEFAULT '',
		distance REAL NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL,
		completed_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reputation_scores (
		agent_id TEXT PRIMARY KEY,
		agent_type TEXT NOT NULL,
		total_deals INTEGER NOT NULL,
		successful_deals INTEGER NOT NULL,
		failed_deals INTEGER NOT NULL,
		overall_score REAL NOT NULL,
		reliability_score REAL NOT NULL,
		negotiation_fairness REAL NOT NULL,
		avg_negotiation_rounds REAL NOT NULL,
		on_time_percentage REAL NOT NULL,
		last_updated INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		type TEXT NOT NULL,
		actor TEXT NOT NULL,
		message TEXT NOT NULL,
		data_json TEXT NOT NULL,
		at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS market_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deals_warehouse ON deal_history(warehouse_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_deals_carrier ON deal_history(carrier_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_deals_outcome ON deal_history(outcome, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type dealRow struct {
	DealID            string          `db:"deal_id"`
	NegotiationID     string          `db:"negotiation_id"`
	WarehouseID       string          `db:"warehouse_id"`
	CarrierID         string          `db:"carrier_id"`
	OrderID           string          `db:"order_id"`
	AgreedPrice       float64         `db:"agreed_price"`
	NegotiationRounds int             `db:"negotiation_rounds"`
	Outcome           string          `db:"outcome"`
	OnTimeDelivery    sql.NullBool    `db:"on_time_delivery"`
	ActualETA         sql.NullFloat64 `db:"actual_eta"`
	PromisedETA       float64         `db:"promised_eta"`
	Route             string          `db:"route"`
	Distance          float64         `db:"distance"`
	Timestamp         int64           `db:"timestamp"`
	CompletedAt       int64           `db:"completed_at"`
}

func toDealRow(d domain.Deal) dealRow {
	r := dealRow{
		DealID:            d.ID,
		NegotiationID:     d.NegotiationID,
		WarehouseID:       d.WarehouseID,
		CarrierID:         d.CarrierID,
		OrderID:           d.OrderID,
		AgreedPrice:       d.AgreedPrice,
		NegotiationRounds: d.NegotiationRounds,
		Outcome:           string(d.Outcome),
		PromisedETA:       d.PromisedETA,
		Route:             d.Route,
		Distance:          d.Distance,
		Timestamp:         d.Timestamp.UnixMilli(),
		CompletedAt:       d.CompletedAt.UnixMilli(),
	}
	if d.OnTimeDelivery != nil {
		r.OnTimeDelivery = sql.NullBool{Bool: *d.OnTimeDelivery, Valid: true}
	}
	if d.ActualETA != nil {
		r.ActualETA = sql.NullFloat64{Float64: *d.ActualETA, Valid: true}
	}
	return r
}

func (r dealRow) deal() domain.Deal {
	d := domain.Deal{
		ID:                r.DealID,
		NegotiationID:     r.NegotiationID,
		WarehouseID:       r.WarehouseID,
		CarrierID:         r.CarrierID,
		OrderID:           r.OrderID,
		AgreedPrice:       r.AgreedPrice,
		NegotiationRounds: r.NegotiationRounds,
		Outcome:           domain.Outcome(r.Outcome),
		PromisedETA:       r.PromisedETA,
		Route:             r.Route,
		Distance:          r.Distance,
		Timestamp:         time.UnixMilli(r.Timestamp).UTC(),
		CompletedAt:       time.UnixMilli(r.CompletedAt).UTC(),
	}
	if r.OnTimeDelivery.Valid {
		v := r.OnTimeDelivery.Bool
		d.OnTimeDelivery = &v
	}
	if r.ActualETA.Valid {
		v := r.ActualETA.Float64
		d.ActualETA = &v
	}
	return d
}

// SaveDeal appends a deal. Deal history is append-only; saving the same
// deal ID twice is an error.
func (db *DB) SaveDeal(ctx context.Context, d domain.Deal) error {
	_, err := db.conn.NamedExecContext(ctx, `
		INSERT INTO deal_history (deal_id, negotiation_id, warehouse_id, carrier_id, order_id,
			agreed_price, negotiation_rounds, outcome, on_time_delivery, actual_eta, promised_eta,
			route, distance, timestamp, completed_at)
		VALUES (:deal_id, :negotiation_id, :warehouse_id, :carrier_id, :order_id,
			:agreed_price, :negotiation_rounds, :outcome, :on_time_delivery, :actual_eta, :promised_eta,
			:route, :distance, :timestamp, :completed_at)`,
		toDealRow(d))
	if err != nil {
		return fmt.Errorf("insert deal %s: %w", d.ID, err)
	}
	return nil
}

// SaveDelivery fills in the delivery outcome of a saved deal. The agreed
// terms are left as written.
func (db *DB) SaveDelivery(ctx context.Context, d domain.Deal) error {
	res, err := db.conn.NamedExecContext(ctx, `
		UPDATE deal_history
		SET on_time_delivery = :on_time_delivery, actual_eta = :actual_eta, completed_at = :completed_at
		WHERE deal_id = :deal_id`,
		toDealRow(d))
	if err != nil {
		return fmt.Errorf("update delivery %s: %w", d.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update delivery %s: %w", d.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("deal %s: %w", d.ID, reputation.ErrDealNotFound)
	}
	return nil
}

// QueryDeals returns deals newest first, filtered by party and outcome.
func (db *DB) QueryDeals(ctx context.Context, q reputation.Query) ([]domain.Deal, error) {
	query := "SELECT * FROM deal_history WHERE 1=1"
	var args []any
	if q.AgentID != "" {
		query += " AND (warehouse_id = ? OR carrier_id = ?)"
		args = append(args, q.AgentID, q.AgentID)
	}
	if q.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, string(q.Outcome))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY timestamp DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	var rows []dealRow
	if err := db.conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query deals: %w", err)
	}
	deals := make([]domain.Deal, 0, len(rows))
	for _, r := range rows {
		deals = append(deals, r.deal())
	}
	return deals, nil
}

// DealStats aggregates deal history in SQL.
func (db *DB) DealStats(ctx context.Context, agentID string) (reputation.DealStats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN outcome = 'SUCCESS' THEN 1 ELSE 0 END), 0) AS successful,
			COALESCE(AVG(negotiation_rounds), 0) AS avg_rounds,
			COALESCE(AVG(agreed_price), 0) AS avg_price,
			COALESCE(SUM(CASE WHEN on_time_delivery = 1 THEN 1 ELSE 0 END), 0) AS on_time,
			COUNT(on_time_delivery) AS completed
		FROM deal_history`
	var args []any
	if agentID != "" {
		query += " WHERE warehouse_id = ? OR carrier_id = ?"
		args = append(args, agentID, agentID)
	}

	var st reputation.DealStats
	if err := db.conn.GetContext(ctx, &st, query, args...); err != nil {
		return reputation.DealStats{}, fmt.Errorf("deal stats: %w", err)
	}
	if st.Completed > 0 {
		st.OnTimePct = float64(st.OnTime) / float64(st.Completed)
	}
	return st, nil
}

type scoreRow struct {
	reputation.Score
	LastUpdatedMs int64 `db:"last_updated"`
}

// LoadReputation returns nil, nil when the agent has no score yet.
func (db *DB) LoadReputation(ctx context.Context, agentID string) (*reputation.Score, error) {
	var row scoreRow
	err := db.conn.GetContext(ctx, &row, "SELECT * FROM reputation_scores WHERE agent_id = ?", agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load reputation %s: %w", agentID, err)
	}
	s := row.Score
	s.LastUpdated = time.UnixMilli(row.LastUpdatedMs).UTC()
	return &s, nil
}

// SaveReputation upserts a score.
func (db *DB) SaveReputation(ctx context.Context, s reputation.Score) error {
	_, err := db.conn.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO reputation_scores (agent_id, agent_type, total_deals, successful_deals,
			failed_deals, overall_score, reliability_score, negotiation_fairness, avg_negotiation_rounds,
			on_time_percentage, last_updated)
		VALUES (:agent_id, :agent_type, :total_deals, :successful_deals,
			:failed_deals, :overall_score, :reliability_score, :negotiation_fairness, :avg_negotiation_rounds,
			:on_time_percentage, :last_updated)`,
		scoreRow{Score: s, LastUpdatedMs: s.LastUpdated.UnixMilli()})
	if err != nil {
		return fmt.Errorf("save reputation %s: %w", s.AgentID, err)
	}
	return nil
}

var metricColumns = map[reputation.Metric]string{
	reputation.MetricOverall:     "overall_score",
	reputation.MetricReliability: "reliability_score",
	reputation.MetricTotalDeals:  "total_deals",
	reputation.MetricOnTime:      "on_time_percentage",
}

// TopAgents ranks agents of one type (all types when empty) by metric.
func (db *DB) TopAgents(ctx context.Context, agentType domain.AgentType, limit int, metric reputation.Metric) ([]reputation.Score, error) {
	col, ok := metricColumns[metric]
	if !ok {
		return nil, fmt.Errorf("unknown reputation metric %q", metric)
	}
	if limit <= 0 {
		limit = 10
	}
	query := "SELECT * FROM reputation_scores"
	var args []any
	if agentType != "" {
		query += " WHERE agent_type = ?"
		args = append(args, string(agentType))
	}
	query += " ORDER BY " + col + " DESC, agent_id ASC LIMIT ?"
	args = append(args, limit)

	var rows []scoreRow
	if err := db.conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("top agents: %w", err)
	}
	out := make([]reputation.Score, 0, len(rows))
	for _, r := range rows {
		s := r.Score
		s.LastUpdated = time.UnixMilli(r.LastUpdatedMs).UTC()
		out = append(out, s)
	}
	return out, nil
}

// SaveEvents appends events in one transaction.
func (db *DB) SaveEvents(events []telemetry.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex("INSERT INTO events (tick, type, actor, message, data_json, at) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		if _, err := stmt.Exec(e.Tick, string(e.Type), e.Actor, e.Message, string(data), e.At.UnixMilli()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type eventRow struct {
	Tick     uint64 `db:"tick"`
	Type     string `db:"type"`
	Actor    string `db:"actor"`
	Message  string `db:"message"`
	DataJSON string `db:"data_json"`
	At       int64  `db:"at"`
}

// RecentEvents returns the most recent events, newest first.
func (db *DB) RecentEvents(limit int) ([]telemetry.Event, error) {
	var rows []eventRow
	err := db.conn.Select(&rows,
		"SELECT tick, type, actor, message, data_json, at FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	events := make([]telemetry.Event, 0, len(rows))
	for _, r := range rows {
		e := telemetry.Event{
			Type:    telemetry.EventType(r.Type),
			Tick:    r.Tick,
			Actor:   r.Actor,
			Message: r.Message,
			At:      time.UnixMilli(r.At).UTC(),
		}
		if r.DataJSON != "" && r.DataJSON != "null" {
			if err := json.Unmarshal([]byte(r.DataJSON), &e.Data); err != nil {
				slog.Debug("skipping event data", "error", err)
			}
		}
		events = append(events, e)
	}
	return events, nil
}

// SaveMeta stores a key-value metadata pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO market_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value by key.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM market_meta WHERE key = ?", key)
	return value, err
}

// SaveJSON stores v as JSON under a metadata key.
func (db *DB) SaveJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := db.SaveMeta(key, string(data)); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// LoadJSON decodes the value stored under key into v. It reports false
// and leaves v alone when the key was never saved.
func (db *DB) LoadJSON(key string, v any) (bool, error) {
	raw, err := db.GetMeta(key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return true, nil
}

// SaveWorldSnapshot stores the network conditions and the tick.
func (db *DB) SaveWorldSnapshot(s world.Snapshot) error {
	if err := db.SaveJSON("world_snapshot", s); err != nil {
		return err
	}
	slog.Info("world snapshot saved", "tick", s.Tick, "cities", len(s.Cities), "routes", len(s.Routes))
	return nil
}

// LoadWorldSnapshot returns the last saved snapshot, or false when none
// exists.
func (db *DB) LoadWorldSnapshot() (world.Snapshot, bool, error) {
	var s world.Snapshot
	ok, err := db.LoadJSON("world_snapshot", &s)
	if err != nil || !ok {
		return world.Snapshot{}, false, err
	}
	return s, true, nil
}
