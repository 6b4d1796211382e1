package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/revittco/sare/internal/store"
)

const evolutionColumns = `id, entry_id, cycle, timestamp, action_type, detail,
	routes, action_order, created_at`

func (d *DB) InsertEvolutionRecord(ctx context.Context, r *store.EvolutionRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = nowUTC()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = nowUTC()
	}

	_, err := d.q.ExecContext(ctx, `
		INSERT INTO evolution_records (`+evolutionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EntryID, r.Cycle, formatTime(r.Timestamp), r.ActionType,
		r.Detail, normalizeJSON(r.Routes, "[]"), normalizeJSON(r.Order, "[]"),
		formatTime(r.CreatedAt),
	)
	return mapConstraintError(err)
}

func (d *DB) GetEvolutionRecord(ctx context.Context, id string) (*store.EvolutionRecord, error) {
	row := d.q.QueryRowContext(ctx,
		`SELECT `+evolutionColumns+` FROM evolution_records WHERE id = ?`, id)
	r, err := scanEvolutionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return r, err
}

func (d *DB) QueryEvolutionRecords(
	ctx context.Context, f store.EvolutionFilter,
) ([]store.EvolutionRecord, int, error) {
	where, args := buildEvolutionWhere(f)

	var total int
	countQ := "SELECT COUNT(*) FROM evolution_records" + where
	if err := d.q.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	dataQ := `SELECT ` + evolutionColumns + ` FROM evolution_records` + where +
		` ORDER BY timestamp DESC, cycle DESC, rowid DESC LIMIT ? OFFSET ?`
	dataArgs := append(args, limit, f.Offset)

	rows, err := d.q.QueryContext(ctx, dataQ, dataArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []store.EvolutionRecord
	for rows.Next() {
		r, err := scanEvolutionRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

func (d *DB) GetEvolutionStats(
	ctx context.Context, after, before time.Time,
) (*store.EvolutionStats, error) {
	s := store.EvolutionStats{ByType: make(map[string]int)}
	args := []any{formatTime(after), formatTime(before)}

	err := d.q.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT entry_id),
			COALESCE(MIN(cycle), 0), COALESCE(MAX(cycle), 0)
		FROM evolution_records
		WHERE timestamp >= ? AND timestamp <= ?`,
		args...,
	).Scan(&s.TotalActions, &s.Entries, &s.FirstCycle, &s.LastCycle)
	if err != nil {
		return nil, err
	}

	rows, err := d.q.QueryContext(ctx, `
		SELECT action_type, COUNT(*) FROM evolution_records
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY action_type`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		s.ByType[typ] = n
	}
	return &s, rows.Err()
}

func (d *DB) PruneEvolutionRecords(ctx context.Context, before time.Time) (int, error) {
	res, err := d.q.ExecContext(ctx,
		`DELETE FROM evolution_records WHERE timestamp < ?`, formatTime(before))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func buildEvolutionWhere(f store.EvolutionFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.EntryID != nil {
		clauses = append(clauses, "entry_id = ?")
		args = append(args, *f.EntryID)
	}
	if f.ActionType != nil {
		clauses = append(clauses, "action_type = ?")
		args = append(args, *f.ActionType)
	}
	if f.After != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, formatTime(*f.After))
	}
	if f.Before != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, formatTime(*f.Before))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvolutionRow(s scanner) (*store.EvolutionRecord, error) {
	var r store.EvolutionRecord
	var ts, createdAt, routes, order string
	err := s.Scan(&r.ID, &r.EntryID, &r.Cycle, &ts, &r.ActionType, &r.Detail,
		&routes, &order, &createdAt)
	if err != nil {
		return nil, err
	}
	r.Timestamp = parseTime(ts)
	r.CreatedAt = parseTime(createdAt)
	r.Routes = json.RawMessage(routes)
	r.Order = json.RawMessage(order)
	return &r, nil
}
