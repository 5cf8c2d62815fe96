package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	logx "syncd/pkg/logx"
)

//go:embed migrations.sql
var migrationSQL string

const upsertKV = `INSERT INTO syncd_kv(name, value, updated_at) VALUES(?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

// sqlStore is shared by the sqlite and postgres drivers. sqlx rebinds the
// '?' placeholders to the driver's bind style.
type sqlStore struct {
	db  *sqlx.DB
	log logx.Logger
}

func (s *sqlStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migrationSQL)
	return err
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrClosed
	}
	var v string
	err := s.db.GetContext(ctx, &v, s.db.Rebind(`SELECT value FROM syncd_kv WHERE name = ?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqlStore) Put(ctx context.Context, key, value string) error {
	return s.PutMany(ctx, map[string]string{key: value})
}

func (s *sqlStore) PutMany(ctx context.Context, kv map[string]string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if len(kv) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		q := tx.Rebind(upsertKV)
		// Stable order keeps lock acquisition consistent across writers.
		for _, k := range sortedKeys(kv) {
			if _, err := tx.ExecContext(ctx, q, k, kv[k], now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqlStore) Delete(ctx context.Context, keys ...string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if len(keys) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		q, args, err := sqlx.In(`DELETE FROM syncd_kv WHERE name IN (?)`, keys)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(q), args...)
		return err
	})
}

func (s *sqlStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn("kv rollback failed", logx.Err(rbErr))
		}
		return err
	}
	return tx.Commit()
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
