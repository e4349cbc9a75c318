package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/lifelog/internal/common"
	"github.com/dmitrijs2005/lifelog/internal/server/entries"
	"github.com/dmitrijs2005/lifelog/internal/server/migrations"
)

// PostgresStore is the production DocumentStore and StateStore backed by
// PostgreSQL through the pgx stdlib driver.
type PostgresStore struct {
	db *sql.DB
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// NewPostgresStore opens the connection and applies the embedded goose
// migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres db: %w", err)
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		db.Close()
		return nil, err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Put(ctx context.Context, e *entries.Entry) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entries (entry_uuid, entry_type, input_handler_id, group_id, seq_id,
			start_time, end_time, latitude, longitude, entry_hash, mutation_count, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
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

func (s *PostgresStore) Get(ctx context.Context, uuid entries.EntryUUID) (*entries.Entry, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM entries WHERE entry_uuid = $1`, uuid).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: entry %s", common.ErrNotFound, uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("selecting entry: %w", err)
	}
	return decodeDoc(doc)
}

func (s *PostgresStore) GetMany(ctx context.Context, uuids []entries.EntryUUID) ([]*entries.Entry, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	ph := make([]string, len(uuids))
	args := make([]any, len(uuids))
	for i, u := range uuids {
		ph[i] = fmt.Sprintf("$%d", i+1)
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

func (s *PostgresStore) Delete(ctx context.Context, uuid entries.EntryUUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE entry_uuid = $1`, uuid)
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

func (s *PostgresStore) Search(ctx context.Context, f Filter) ([]entries.EntryUUID, error) {
	conds, args := filterSQL(f, func(n int) string { return fmt.Sprintf("$%d", n) })
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

func (s *PostgresStore) GetState(ctx context.Context, handlerID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM connector_state WHERE handler_id = $1 AND key = $2`, handlerID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: state %s/%s", common.ErrNotFound, handlerID, key)
	}
	if err != nil {
		return "", fmt.Errorf("selecting state: %w", err)
	}
	return value, nil
}

func (s *PostgresStore) SetState(ctx context.Context, handlerID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connector_state (handler_id, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (handler_id, key) DO UPDATE SET value = excluded.value`,
		handlerID, key, value)
	if err != nil {
		return fmt.Errorf("upserting state: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }
