package repository

import (
	"context"
	"database/sql"
	"errors"
)

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

const trackColumns = `id, guild_id, title, url, uri, author, thumbnail, duration_ms,
       is_stream, source_name, identifier, added_by, order_index`

func scanTrack(row interface{ Scan(...any) error }) (Track, error) {
	var t Track
	var isStream int
	err := row.Scan(
		&t.ID, &t.GuildID, &t.Title, &t.URL, &t.URI, &t.Author, &t.Thumbnail,
		&t.DurationMs, &isStream, &t.SourceName, &t.Identifier, &t.AddedBy,
		&t.OrderIndex,
	)
	if err != nil {
		return Track{}, err
	}
	t.IsStream = isStream != 0
	return t, nil
}

// AddTrack appends a track to the guild's queue at max(order_index)+1 and
// returns the stored row.
func (r *Repo) AddTrack(ctx context.Context, t Track) (Track, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(order_index), 0) FROM tracks WHERE guild_id = ?`, t.GuildID)
	var maxOrder int
	if err := row.Scan(&maxOrder); err != nil {
		return Track{}, err
	}
	t.OrderIndex = maxOrder + 1

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO tracks (guild_id, title, url, uri, author, thumbnail, duration_ms,
		                    is_stream, source_name, identifier, added_by, order_index)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.GuildID, t.Title, t.URL, t.URI, t.Author, t.Thumbnail, t.DurationMs,
		boolToInt(t.IsStream), t.SourceName, t.Identifier, t.AddedBy, t.OrderIndex,
	)
	if err != nil {
		return Track{}, err
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return Track{}, err
	}
	return t, nil
}

// ListTracks returns the guild's queue in FIFO order.
func (r *Repo) ListTracks(ctx context.Context, guild string) ([]Track, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+trackColumns+` FROM tracks WHERE guild_id = ? ORDER BY order_index ASC`, guild)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FirstTrack returns the head of the guild's queue, or nil if the queue is empty.
func (r *Repo) FirstTrack(ctx context.Context, guild string) (*Track, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+trackColumns+` FROM tracks WHERE guild_id = ? ORDER BY order_index ASC LIMIT 1`, guild)
	t, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTrack returns a track by id, or nil if it no longer exists.
func (r *Repo) GetTrack(ctx context.Context, id int64) (*Track, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+trackColumns+` FROM tracks WHERE id = ?`, id)
	t, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repo) DeleteTrack(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tracks WHERE id = ?`, id)
	return err
}

func (r *Repo) ClearTracks(ctx context.Context, guild string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tracks WHERE guild_id = ?`, guild)
	return err
}

// Reorder rewrites order_index as 0..N-1 following orderedIDs, in a single
// transaction. A failed reorder leaves the queue untouched.
func (r *Repo) Reorder(ctx context.Context, guild string, orderedIDs []int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`UPDATE tracks SET order_index = ? WHERE id = ? AND guild_id = ?`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i, id := range orderedIDs {
		if _, err := stmt.ExecContext(ctx, i, id, guild); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
