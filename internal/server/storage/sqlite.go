package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/lifelog/internal/common"
	"github.com/dmitrijs2005/lifelog/internal/server/entries"
)

//go:embed schema.sql
var sqliteSchema string

// SqliteStore is a file-backed DocumentStore and StateStore for single-node
// deployments and tests. The full entry document is stored as JSON next to
// the indexed columns the search filter needs.
type SqliteStore struct {
	db *sql.DB
}

func NewSqliteStore(ctx context.Context, dsn string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying sqlite schema: %w", err)
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Put(ctx context.Context, e *entries.Entry) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entries (entry_uuid, entry_type, input_handler_id, group_id, seq_id,
			start_time, end_time, latitude, longitude, entry_hash, mutation_count, doc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entry_uuid) DO UPDATE SET
			entry_type = excluded.entry_type,
			input_handler_id = excluded.input_handler_id,
			group_id = excluded.group_id,
			seq_id = excluded.seq_id,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			entry_hash = excluded.entry_hash,
			mutation_count = excluded.mutation_count,
			doc = excluded.doc`,
		e.UUID(), string(e.Type), e.InputHandlerID, nullString(e.GroupID), e.SeqID,
		e.StartTime, e.EndTime, e.Latitude, e.Longitude, e.Hash(), e.MutationCount, string(doc))
	if err != nil {
		return fmt.Errorf("upserting entry: %w", err)
	}
	return nil
}

func (s *SqliteStore) Get(ctx context.Context, uuid entries.EntryUUID) (*entries.Entry, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM entries WHERE entry_uuid = ?`, uuid).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: entry %s", common.ErrNotFound, uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("selecting entry: %w", err)
	}
	return decodeDoc(doc)
}

func (s *SqliteStore) GetMany(ctx context.Context, uuids []entries.EntryUUID) ([]*entries.Entry, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	ph := make([]string, len(uuids))
	args := make([]any, len(uuids))
	for i, u := range uuids {
		ph[i] = "?"
		args[i] = u
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT doc FROM entries WHERE entry_uuid IN (%s) ORDER BY start_time`, strings.Join(ph, ", ")),
		args...)
	if err != nil {
		return nil, fmt.Errorf("selecting entries: %w", err)
	}
	defer rows.Close()
	return scanDocs(rows)
}

func (s *SqliteStore) Delete(ctx context.Context, uuid entries.EntryUUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE entry_uuid = ?`, uuid)
	if err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: entry %s", common.ErrNotFound, uuid)
	}
	return nil
}

func (s *SqliteStore) Search(ctx context.Context, f Filter) ([]entries.EntryUUID, error) {
	conds, args := filterSQL(f, func(int) string { return "?" })
	query := `SELECT entry_uuid FROM entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY start_time"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching entries: %w", err)
	}
	defer rows.Close()

	var uuids []entries.EntryUUID
	for rows.Next() {
		var u entries.EntryUUID
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		uuids = append(uuids, u)
	}
	return uuids, rows.Err()
}

func (s *SqliteStore) GetState(ctx context.Context, handlerID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM connector_state WHERE handler_id = ? AND key = ?`, handlerID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: state %s/%s", common.ErrNotFound, handlerID, key)
	}
	if err != nil {
		return "", fmt.Errorf("selecting state: %w", err)
	}
	return value, nil
}

func (s *SqliteStore) SetState(ctx context.Context, handlerID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connector_state (handler_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (handler_id, key) DO UPDATE SET value = excluded.value`,
		handlerID, key, value)
	if err != nil {
		return fmt.Errorf("upserting state: %w", err)
	}
	return nil
}

func (s *SqliteStore) Close() error { return s.db.Close() }

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func decodeDoc(doc string) (*entries.Entry, error) {
	var e entries.Entry
	if err := json.Unmarshal([]byte(doc), &e); err != nil {
		return nil, fmt.Errorf("decoding entry document: %w", err)
	}
	return &e, nil
}

func scanDocs(rows *sql.Rows) ([]*entries.Entry, error) {
	var result []*entries.Entry
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		e, err := decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
