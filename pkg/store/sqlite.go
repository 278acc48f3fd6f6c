package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"vocabvoice/pkg/db"
	"vocabvoice/pkg/model"
)

// Store composes all sub-interfaces.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	ItemStore
	AssetStore
	StateStore

	Close() error
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(db *db.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Items ---

// GetItem returns nil without error when the item does not exist.
func (s *SQLiteStore) GetItem(ctx context.Context, id model.ContentID) (*model.ContentItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT content_id, word, example, language FROM content_item WHERE content_id = ?`, int64(id))

	var it model.ContentItem
	var example, language sql.NullString
	err := row.Scan(&it.ContentID, &it.Word, &example, &language)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	it.Example = example.String
	it.Language = language.String
	return &it, nil
}

// GetItems returns the existing items in the order of ids. Unknown ids are skipped.
func (s *SQLiteStore) GetItems(ctx context.Context, ids []model.ContentID) ([]model.ContentItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = int64(id)
	}
	query := `SELECT content_id, word, example, language FROM content_item WHERE content_id IN (` +
		strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[model.ContentID]model.ContentItem, len(ids))
	for rows.Next() {
		var it model.ContentItem
		var example, language sql.NullString
		if err := rows.Scan(&it.ContentID, &it.Word, &example, &language); err != nil {
			return nil, err
		}
		it.Example = example.String
		it.Language = language.String
		byID[it.ContentID] = it
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.ContentItem, 0, len(byID))
	for _, id := range ids {
		if it, ok := byID[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *SQLiteStore) SaveItem(ctx context.Context, it *model.ContentItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO content_item (content_id, word, example, language) VALUES (?, ?, ?, ?)`,
		int64(it.ContentID), it.Word, it.Example, it.Language)
	return err
}

func (s *SQLiteStore) ClearItems(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM content_item")
	return err
}

// --- Assets ---

func (s *SQLiteStore) AssetFor(ctx context.Context, id model.ContentID, kind model.Kind) (model.AssetRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT content_id, kind, storage_path, size_bytes, text, created_at FROM asset WHERE content_id = ? AND kind = ?`,
		int64(id), string(kind))

	rec, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AssetRecord{}, false, nil
	}
	if err != nil {
		return model.AssetRecord{}, false, fmt.Errorf("failed to load asset %d/%s: %w", id, kind, err)
	}
	return rec, true, nil
}

// RecordAsset replaces the record of the slot.
func (s *SQLiteStore) RecordAsset(ctx context.Context, rec model.AssetRecord) error {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO asset (content_id, kind, storage_path, size_bytes, text, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		int64(rec.ContentID), string(rec.Kind), rec.StoragePath, rec.SizeBytes, rec.Text, created.UTC())
	return err
}

func (s *SQLiteStore) ListAssets(ctx context.Context) ([]model.AssetRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content_id, kind, storage_path, size_bytes, text, created_at FROM asset ORDER BY content_id, kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AssetRecord
	for rows.Next() {
		rec, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteAsset(ctx context.Context, id model.ContentID, kind model.Kind) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM asset WHERE content_id = ? AND kind = ?", int64(id), string(kind))
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(row scanner) (model.AssetRecord, error) {
	var rec model.AssetRecord
	var kind string
	var size sql.NullInt64
	var text sql.NullString
	var created sql.NullTime
	if err := row.Scan(&rec.ContentID, &kind, &rec.StoragePath, &size, &text, &created); err != nil {
		return model.AssetRecord{}, err
	}
	rec.Kind = model.Kind(kind)
	rec.SizeBytes = size.Int64
	rec.Text = text.String
	if created.Valid {
		rec.CreatedAt = created.Time
	}
	return rec, nil
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if err != nil {
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	query := `INSERT OR REPLACE INTO persistent_state (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, time.Now().UTC())
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}
