// Package storage provides the reference SQLite-backed implementation of
// engine.Storage: a two-connection (write/read) pool over a single file,
// with outputs and transactions kept in separate tables so a transaction's
// BEEF is stored once no matter how many topics admit outputs from it.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/4chain-ag/go-overlay-services/pkg/core/engine"
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/overlay"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage implements engine.Storage over a sqlite3 file. Writes go
// through wDB (capped to a single connection, since sqlite serializes
// writers anyway); reads use rDB so lookups aren't blocked behind a writer
// holding the file lock.
type SQLiteStorage struct {
	wDB *sql.DB
	rDB *sql.DB
}

var _ engine.Storage = (*SQLiteStorage)(nil)

var pragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA busy_timeout=5000;",
	"PRAGMA temp_store=MEMORY;",
	"PRAGMA mmap_size=30000000000;",
}

const schema = `
CREATE TABLE IF NOT EXISTS transactions(
	txid TEXT PRIMARY KEY,
	beef BLOB NOT NULL,
	created_at TEXT NOT NULL DEFAULT current_timestamp,
	updated_at TEXT NOT NULL DEFAULT current_timestamp
);
CREATE TABLE IF NOT EXISTS outputs(
	outpoint TEXT NOT NULL,
	topic TEXT NOT NULL,
	height INTEGER,
	idx BIGINT NOT NULL DEFAULT 0,
	satoshis BIGINT NOT NULL,
	script BLOB NOT NULL,
	ancelliary_beef BLOB,
	consumes TEXT NOT NULL DEFAULT '[]',
	consumed_by TEXT NOT NULL DEFAULT '[]',
	dependencies TEXT NOT NULL DEFAULT '[]',
	spent BOOL NOT NULL DEFAULT false,
	created_at TEXT NOT NULL DEFAULT current_timestamp,
	updated_at TEXT NOT NULL DEFAULT current_timestamp,
	PRIMARY KEY(outpoint, topic)
);
CREATE INDEX IF NOT EXISTS idx_outputs_topic ON outputs(topic);
CREATE INDEX IF NOT EXISTS idx_outputs_topic_height_idx ON outputs(topic, height, idx);
CREATE TABLE IF NOT EXISTS applied_transactions(
	txid TEXT NOT NULL,
	topic TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT current_timestamp,
	updated_at TEXT NOT NULL DEFAULT current_timestamp,
	PRIMARY KEY(txid, topic)
);
`

// NewSQLiteStorage opens (creating if absent) a sqlite3 database at conn,
// applies the engine's pragma set to both its write and read connections,
// and ensures the schema exists.
func NewSQLiteStorage(conn string) (*SQLiteStorage, error) {
	wdb, err := openTuned(conn)
	if err != nil {
		return nil, err
	}
	for _, stmt := range strings.Split(schema, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := wdb.Exec(stmt); err != nil {
			return nil, err
		}
	}
	wdb.SetMaxOpenConns(1)

	rdb, err := openTuned(conn)
	if err != nil {
		return nil, err
	}
	return &SQLiteStorage{wDB: wdb, rDB: rdb}, nil
}

func openTuned(conn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", conn)
	if err != nil {
		return nil, err
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, err
		}
	}
	return db, nil
}

func (s *SQLiteStorage) InsertOutput(ctx context.Context, utxo *engine.Output) error {
	consumed, err := marshalOrEmptyArray(utxo.OutputsConsumed)
	if err != nil {
		return err
	}
	dependencies, err := marshalOrEmptyArray(utxo.AncillaryTxids)
	if err != nil {
		return err
	}

	if _, err := s.wDB.ExecContext(ctx, `
        INSERT INTO outputs(topic, outpoint, height, idx, satoshis, script, spent, consumes, dependencies, ancelliary_beef)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(outpoint, topic) DO NOTHING`,
		utxo.Topic,
		utxo.Outpoint.String(),
		utxo.BlockHeight,
		utxo.BlockIdx,
		utxo.Satoshis,
		utxo.Script,
		utxo.Spent,
		consumed,
		dependencies,
		utxo.AncillaryBeef,
	); err != nil {
		return err
	}

	_, err = s.wDB.ExecContext(ctx, `
        INSERT INTO transactions(txid, beef)
        VALUES(?, ?)
        ON CONFLICT(txid) DO NOTHING`,
		utxo.Outpoint.Txid.String(),
		utxo.Beef,
	)
	return err
}

// marshalOrEmptyArray JSON-encodes v, collapsing a nil/empty slice to the
// literal "[]" rather than "null" so the stored column always round-trips
// through json.Unmarshal into a slice, never a nil-vs-error ambiguity.
func marshalOrEmptyArray(v any) ([]byte, error) {
	switch t := v.(type) {
	case []*overlay.Outpoint:
		if len(t) == 0 {
			return []byte("[]"), nil
		}
	case []*chainhash.Hash:
		if len(t) == 0 {
			return []byte("[]"), nil
		}
	}
	return json.Marshal(v)
}

// outputRowScanner collects the destinations shared by every query that
// reads a full outputs row, so each query method only has to declare the
// columns it alone selects (outpoint/topic vary by query).
type outputRowScanner struct {
	consumes     []byte
	consumedBy   []byte
	dependencies []byte
}

func (s *outputRowScanner) apply(output *engine.Output) error {
	if err := json.Unmarshal(s.consumes, &output.OutputsConsumed); err != nil {
		return err
	}
	if err := json.Unmarshal(s.consumedBy, &output.ConsumedBy); err != nil {
		return err
	}
	if s.dependencies != nil {
		if err := json.Unmarshal(s.dependencies, &output.AncillaryTxids); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) FindOutput(ctx context.Context, outpoint *overlay.Outpoint, topic *string, spent *bool, includeBEEF bool) (*engine.Output, error) {
	output := &engine.Output{Outpoint: *outpoint}

	var query strings.Builder
	args := []interface{}{}
	query.WriteString(`SELECT topic, height, idx, satoshis, script, spent, consumes, consumed_by, dependencies, ancelliary_beef, t.beef
        FROM outputs `)
	if includeBEEF {
		query.WriteString(`JOIN transactions t ON t.txid = ? `)
		args = append(args, outpoint.Txid.String())
	} else {
		query.WriteString(`JOIN (SELECT null as beef) t `)
	}
	query.WriteString(`WHERE outpoint = ? `)
	args = append(args, outpoint.String())
	if topic != nil {
		query.WriteString("AND topic = ? ")
		args = append(args, *topic)
	}
	if spent != nil {
		query.WriteString("AND spent = ? ")
		args = append(args, *spent)
	}

	row := &outputRowScanner{}
	err := s.rDB.QueryRowContext(ctx, query.String(), args...).Scan(
		&output.Topic,
		&output.BlockHeight,
		&output.BlockIdx,
		&output.Satoshis,
		&output.Script,
		&output.Spent,
		&row.consumes,
		&row.consumedBy,
		&row.dependencies,
		&output.AncillaryBeef,
		&output.Beef,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if err := row.apply(output); err != nil {
		return nil, err
	}
	return output, nil
}

func (s *SQLiteStorage) FindOutputs(ctx context.Context, outpoints []*overlay.Outpoint, topic *string, spent *bool, includeBEEF bool) ([]*engine.Output, error) {
	if len(outpoints) == 0 {
		return nil, nil
	}

	var query strings.Builder
	query.WriteString(`SELECT topic, outpoint, height, idx, satoshis, script, spent, consumes, consumed_by, dependencies, ancelliary_beef, t.beef
        FROM outputs `)
	if includeBEEF {
		query.WriteString(`JOIN transactions t ON t.txid = substr(outpoint, 1, 64) `)
	} else {
		query.WriteString(`JOIN (SELECT null as beef) t `)
	}
	query.WriteString(`WHERE outpoint IN (` + placeholders(len(outpoints)) + ") ")
	args := make([]interface{}, 0, len(outpoints)+2)
	for _, outpoint := range outpoints {
		args = append(args, outpoint.String())
	}
	if topic != nil {
		query.WriteString("AND topic = ? ")
		args = append(args, *topic)
	}
	if spent != nil {
		query.WriteString("AND spent = ? ")
		args = append(args, *spent)
	}

	rows, err := s.rDB.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var outputs []*engine.Output
	for rows.Next() {
		output := &engine.Output{}
		var op string
		row := &outputRowScanner{}
		if err := rows.Scan(
			&output.Topic,
			&op,
			&output.BlockHeight,
			&output.BlockIdx,
			&output.Satoshis,
			&output.Script,
			&output.Spent,
			&row.consumes,
			&row.consumedBy,
			&row.dependencies,
			&output.AncillaryBeef,
			&output.Beef,
		); err != nil {
			return nil, err
		}
		outpoint, err := overlay.NewOutpointFromString(op)
		if err != nil {
			return nil, err
		}
		if err := row.apply(output); err != nil {
			return nil, err
		}
		output.Outpoint = *outpoint
		outputs = append(outputs, output)
	}
	return outputs, nil
}

func (s *SQLiteStorage) FindOutputsForTransaction(ctx context.Context, txid *chainhash.Hash, includeBEEF bool) ([]*engine.Output, error) {
	var query strings.Builder
	query.WriteString(`SELECT topic, outpoint, height, idx, satoshis, script, spent, consumes, consumed_by, dependencies, ancelliary_beef, t.beef
        FROM outputs `)
	if includeBEEF {
		query.WriteString(`JOIN transactions t ON t.txid = substr(outpoint, 1, 64) `)
	} else {
		query.WriteString(`JOIN (SELECT null as beef) t `)
	}
	query.WriteString(`WHERE outpoint LIKE ?
		ORDER BY outpoint ASC`)

	rows, err := s.rDB.QueryContext(ctx, query.String(), txid.String()+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var outputs []*engine.Output
	for rows.Next() {
		output := &engine.Output{}
		var op string
		row := &outputRowScanner{}
		if err := rows.Scan(
			&output.Topic,
			&op,
			&output.BlockHeight,
			&output.BlockIdx,
			&output.Satoshis,
			&output.Script,
			&output.Spent,
			&row.consumes,
			&row.consumedBy,
			&row.dependencies,
			&output.AncillaryBeef,
			&output.Beef,
		); err != nil {
			return nil, err
		}
		outpoint, err := overlay.NewOutpointFromString(op)
		if err != nil {
			return nil, err
		}
		if err := row.apply(output); err != nil {
			return nil, err
		}
		output.Outpoint = *outpoint
		outputs = append(outputs, output)
	}
	return outputs, nil
}

func (s *SQLiteStorage) FindUTXOsForTopic(ctx context.Context, topic string, since uint64, includeBEEF bool) ([]*engine.Output, error) {
	var query strings.Builder
	query.WriteString(`SELECT outpoint, height, idx, satoshis, script, spent, consumes, consumed_by, ancelliary_beef, t.beef
        FROM outputs `)
	if includeBEEF {
		query.WriteString(`JOIN transactions t ON t.txid = substr(outpoint, 1, 64) `)
	} else {
		query.WriteString(`JOIN (SELECT null as beef) t `)
	}
	query.WriteString(`WHERE topic = ? AND height >= ?
        ORDER BY height ASC, idx ASC`)

	rows, err := s.rDB.QueryContext(ctx, query.String(), topic, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var outputs []*engine.Output
	for rows.Next() {
		output := &engine.Output{Topic: topic}
		var op string
		row := &outputRowScanner{}
		if err := rows.Scan(
			&op,
			&output.BlockHeight,
			&output.BlockIdx,
			&output.Satoshis,
			&output.Script,
			&output.Spent,
			&row.consumes,
			&row.consumedBy,
			&output.AncillaryBeef,
			&output.Beef,
		); err != nil {
			return nil, err
		}
		outpoint, err := overlay.NewOutpointFromString(op)
		if err != nil {
			return nil, err
		}
		if err := row.apply(output); err != nil {
			return nil, err
		}
		output.Outpoint = *outpoint
		outputs = append(outputs, output)
	}
	return outputs, nil
}

func (s *SQLiteStorage) DeleteOutput(ctx context.Context, outpoint *overlay.Outpoint, topic string) error {
	_, err := s.wDB.ExecContext(ctx, `
        DELETE FROM outputs
        WHERE topic = ? AND outpoint = ?`,
		topic,
		outpoint.String(),
	)
	return err
}

func (s *SQLiteStorage) DeleteOutputs(ctx context.Context, outpoints []*overlay.Outpoint, topic string) error {
	query := `
        DELETE FROM outputs
        WHERE topic = ? AND outpoint IN (` + placeholders(len(outpoints)) + ")"
	args := make([]interface{}, 0, len(outpoints)+1)
	args = append(args, topic)
	for _, outpoint := range outpoints {
		args = append(args, outpoint.String())
	}
	_, err := s.wDB.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLiteStorage) MarkUTXOAsSpent(ctx context.Context, outpoint *overlay.Outpoint, topic string) error {
	_, err := s.wDB.ExecContext(ctx, `
        UPDATE outputs
        SET spent = true
        WHERE topic = ? AND outpoint = ?`,
		topic,
		outpoint.String(),
	)
	return err
}

func (s *SQLiteStorage) MarkUTXOsAsSpent(ctx context.Context, outpoints []*overlay.Outpoint, topic string) error {
	query := `
        UPDATE outputs
        SET spent = true
        WHERE topic = ? AND outpoint IN (` + placeholders(len(outpoints)) + ")"
	args := make([]interface{}, 0, len(outpoints)+1)
	args = append(args, topic)
	for _, outpoint := range outpoints {
		args = append(args, outpoint.String())
	}
	_, err := s.wDB.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLiteStorage) UpdateConsumedBy(ctx context.Context, outpoint *overlay.Outpoint, topic string, consumedBy []*overlay.Outpoint) error {
	consumedByStr, err := marshalOrEmptyArray(consumedBy)
	if err != nil {
		return err
	}
	_, err = s.wDB.ExecContext(ctx, `
		UPDATE outputs
		SET consumed_by = ?
		WHERE topic = ? AND outpoint = ?`,
		consumedByStr,
		topic,
		outpoint.String(),
	)
	return err
}

func (s *SQLiteStorage) UpdateTransactionBEEF(ctx context.Context, txid *chainhash.Hash, beef []byte) error {
	_, err := s.wDB.ExecContext(ctx, `
        UPDATE transactions
        SET beef = ?
        WHERE txid = ?`,
		beef,
		txid.String(),
	)
	return err
}

func (s *SQLiteStorage) UpdateOutputBlockHeight(ctx context.Context, outpoint *overlay.Outpoint, topic string, blockHeight uint32, blockIndex uint64, ancillaryBeef []byte) error {
	_, err := s.wDB.ExecContext(ctx, `
        UPDATE outputs
        SET height = ?, idx = ?, ancelliary_beef = ?
        WHERE topic = ? AND outpoint = ?`,
		blockHeight,
		blockIndex,
		ancillaryBeef,
		topic,
		outpoint.String(),
	)
	return err
}

func (s *SQLiteStorage) InsertAppliedTransaction(ctx context.Context, tx *overlay.AppliedTransaction) error {
	_, err := s.wDB.ExecContext(ctx, `
        INSERT INTO applied_transactions(topic, txid)
        VALUES(?, ?)
        ON CONFLICT(topic, txid) DO NOTHING`,
		tx.Topic,
		tx.Txid.String(),
	)
	return err
}

func (s *SQLiteStorage) DoesAppliedTransactionExist(ctx context.Context, tx *overlay.AppliedTransaction) (bool, error) {
	var exists bool
	err := s.rDB.QueryRowContext(ctx, `
        SELECT EXISTS(SELECT 1 FROM applied_transactions WHERE topic = ? AND txid = ?)`,
		tx.Topic,
		tx.Txid.String(),
	).Scan(&exists)
	return exists, err
}

func (s *SQLiteStorage) Close() error {
	s.rDB.Close() //nolint:errcheck
	return s.wDB.Close()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return "?" + strings.Repeat(",?", n-1)
}
