package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"

	"github.com/hpungsan/cardbox/internal/card"
	"github.com/hpungsan/cardbox/internal/errors"
)

// maxKeysPerQuery bounds the number of keys bound into one SELECT.
const maxKeysPerQuery = 400

const cardColumns = `rowid, graph, name, uuid, time, summary_json, image`

// Put inserts or replaces the card stored under its key.
// An existing card is only replaced when the new time is not older, so
// concurrent writers resolve as last-write-wins by time.
// Returns false when the write was ignored for being older.
func Put(ctx context.Context, db *sql.DB, c *card.Card) (bool, error) {
	summaryJSON, err := encodeSummary(c.Summary)
	if err != nil {
		return false, errors.NewInternal(err)
	}

	query := `
		INSERT INTO cards (graph, name, uuid, time, summary_json, image)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(graph, name) DO UPDATE SET
			uuid = excluded.uuid,
			time = excluded.time,
			summary_json = excluded.summary_json,
			image = excluded.image
		WHERE excluded.time >= cards.time
	`

	result, err := db.ExecContext(ctx, query,
		c.Graph, c.Name, c.UUID, c.Time, summaryJSON, c.Image,
	)
	if err != nil {
		return false, errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return rowsAffected > 0, nil
}

// Patch updates the given fields of an existing card in place.
// Missing keys are not an error: Patch returns false and changes nothing.
// When p.Time is set the patch only applies if it does not move time backwards.
func Patch(ctx context.Context, db *sql.DB, key card.Key, p card.Patch) (bool, error) {
	if p.IsEmpty() {
		return Exists(ctx, db, key)
	}

	var (
		sets []string
		args []any
	)
	if p.UUID != nil {
		sets = append(sets, "uuid = ?")
		args = append(args, *p.UUID)
	}
	if p.Time != nil {
		sets = append(sets, "time = ?")
		args = append(args, *p.Time)
	}
	if p.Summary != nil {
		summaryJSON, err := encodeSummary(*p.Summary)
		if err != nil {
			return false, errors.NewInternal(err)
		}
		sets = append(sets, "summary_json = ?")
		args = append(args, summaryJSON)
	}
	if p.Image != nil {
		sets = append(sets, "image = ?")
		args = append(args, *p.Image)
	}

	query := "UPDATE cards SET " + strings.Join(sets, ", ") + " WHERE graph = ? AND name = ?"
	args = append(args, key.Graph, key.Name)
	if p.Time != nil {
		query += " AND time <= ?"
		args = append(args, *p.Time)
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return rowsAffected > 0, nil
}

// Delete removes the card stored under key. Returns false if there was none.
func Delete(ctx context.Context, db *sql.DB, key card.Key) (bool, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM cards WHERE graph = ? AND name = ?`, key.Graph, key.Name)
	if err != nil {
		return false, errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return rowsAffected > 0, nil
}

// DeleteGraph removes every card of a graph and returns how many were removed.
func DeleteGraph(ctx context.Context, db *sql.DB, graph string) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM cards WHERE graph = ?`, graph)
	if err != nil {
		return 0, errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return rowsAffected, nil
}

// Get retrieves the card stored under key.
// Returns (nil, nil) when there is none.
func Get(ctx context.Context, db *sql.DB, key card.Key) (*card.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE graph = ? AND name = ?`

	row := db.QueryRowContext(ctx, query, key.Graph, key.Name)
	r, err := scanCard(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	return &r.card, nil
}

// Exists reports whether a card is stored under key.
func Exists(ctx context.Context, db *sql.DB, key card.Key) (bool, error) {
	var exists int
	err := db.QueryRowContext(ctx,
		`SELECT 1 FROM cards WHERE graph = ? AND name = ? LIMIT 1`, key.Graph, key.Name,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// Count returns the number of cards in a graph.
func Count(ctx context.Context, db *sql.DB, graph string) (int, error) {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards WHERE graph = ?`, graph).Scan(&count); err != nil {
		return 0, errors.NewInternal(err)
	}
	return count, nil
}

// ListByRecency returns cards of a graph ordered by time descending.
// Ties keep insertion order. limit <= 0 returns every card.
func ListByRecency(ctx context.Context, db *sql.DB, graph string, limit, offset int) ([]card.Card, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + cardColumns + `
		FROM cards
		WHERE graph = ?
		ORDER BY time DESC, rowid ASC
		LIMIT ? OFFSET ?
	`

	rows, err := db.QueryContext(ctx, query, graph, limit, offset)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	items := []card.Card{}
	for rows.Next() {
		r, err := scanCard(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		items = append(items, r.card)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	return items, nil
}

// ListByKeys returns the cards stored under any of keys, in recency order.
// Keys without a card are skipped.
func ListByKeys(ctx context.Context, db *sql.DB, keys []card.Key) ([]card.Card, error) {
	var all []row
	for start := 0; start < len(keys); start += maxKeysPerQuery {
		end := min(start+maxKeysPerQuery, len(keys))
		chunk, err := listChunk(ctx, db, keys[start:end])
		if err != nil {
			return nil, err
		}
		all = append(all, chunk...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].card.Time != all[j].card.Time {
			return all[i].card.Time > all[j].card.Time
		}
		return all[i].rowid < all[j].rowid
	})

	items := make([]card.Card, 0, len(all))
	seen := make(map[card.Key]bool, len(all))
	for _, r := range all {
		k := r.card.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		items = append(items, r.card)
	}
	return items, nil
}

// listChunk selects the cards for one bounded batch of keys.
func listChunk(ctx context.Context, db *sql.DB, keys []card.Key) ([]row, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	conds := make([]string, len(keys))
	args := make([]any, 0, len(keys)*2)
	for i, k := range keys {
		conds[i] = "(graph = ? AND name = ?)"
		args = append(args, k.Graph, k.Name)
	}

	query := `SELECT ` + cardColumns + ` FROM cards WHERE ` + strings.Join(conds, " OR ")
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		r, err := scanCard(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// row is a scanned card plus its rowid (insertion order).
type row struct {
	rowid int64
	card  card.Card
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanCard scans a single row into a card.
func scanCard(s scanner) (row, error) {
	var (
		r           row
		summaryJSON string
	)

	err := s.Scan(
		&r.rowid, &r.card.Graph, &r.card.Name, &r.card.UUID,
		&r.card.Time, &summaryJSON, &r.card.Image,
	)
	if err != nil {
		return row{}, err
	}

	if err := json.Unmarshal([]byte(summaryJSON), &r.card.Summary); err != nil {
		return row{}, err
	}
	if r.card.Summary == nil {
		r.card.Summary = []string{}
	}

	return r, nil
}

// encodeSummary serializes summary lines, storing nil as an empty list.
func encodeSummary(summary []string) (string, error) {
	if summary == nil {
		summary = []string{}
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
