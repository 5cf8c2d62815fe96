package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	logx "syncd/pkg/logx"
)

func openForTest(t *testing.T, cfg Config) Store {
	t.Helper()
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s) error: %v", cfg.Driver, err)
	}
	return st
}

func TestStoreDrivers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  func(dir string) Config
	}{
		{name: "memory", cfg: func(string) Config { return Config{Driver: "memory"} }},
		{name: "file", cfg: func(dir string) Config { return Config{Driver: "file", Path: filepath.Join(dir, "state.json")} }},
		{name: "sqlite", cfg: func(dir string) Config { return Config{Driver: "sqlite", Path: filepath.Join(dir, "state.db")} }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openForTest(t, tt.cfg(t.TempDir()))
			defer st.Close()

			if _, ok, err := st.Get(ctx, "missing"); err != nil || ok {
				t.Fatalf("Get(missing) = ok %v err %v, want miss", ok, err)
			}
			if err := st.PutMany(ctx, map[string]string{"a": "1", "b": "2"}); err != nil {
				t.Fatalf("PutMany error: %v", err)
			}
			if err := st.Put(ctx, "a", "3"); err != nil {
				t.Fatalf("Put error: %v", err)
			}
			if v, ok, err := st.Get(ctx, "a"); err != nil || !ok || v != "3" {
				t.Fatalf("Get(a) = %q %v %v, want 3", v, ok, err)
			}
			if err := st.Delete(ctx, "a", "b"); err != nil {
				t.Fatalf("Delete error: %v", err)
			}
			if _, ok, _ := st.Get(ctx, "b"); ok {
				t.Fatal("b should be deleted")
			}
		})
	}
}

func TestDurableDriversSurviveReopen(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			cfg := Config{Driver: driver, Path: filepath.Join(t.TempDir(), "state.db")}

			st := openForTest(t, cfg)
			if err := PutInt64(ctx, st, "job/a/backoff_ms", 4000); err != nil {
				t.Fatalf("PutInt64 error: %v", err)
			}
			if err := PutBool(ctx, st, "global/power_connected", true); err != nil {
				t.Fatalf("PutBool error: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close error: %v", err)
			}

			st = openForTest(t, cfg)
			defer st.Close()
			if v, ok, err := GetInt64(ctx, st, "job/a/backoff_ms"); err != nil || !ok || v != 4000 {
				t.Fatalf("GetInt64 = %d %v %v, want 4000", v, ok, err)
			}
			if v, ok, err := GetBool(ctx, st, "global/power_connected"); err != nil || !ok || !v {
				t.Fatalf("GetBool = %v %v %v, want true", v, ok, err)
			}
		})
	}
}

func TestFileJournalSkipsTornLine(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	st := openForTest(t, Config{Driver: "file", Path: path})
	if err := st.Put(ctx, "k", "v"); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	_ = st.Close()

	journal := filepath.Join(filepath.Dir(path), "state.kv.journal.jsonl")
	f, err := os.OpenFile(journal, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	_, _ = f.WriteString(`{"set":{"k":"tor`)
	_ = f.Close()

	st = openForTest(t, Config{Driver: "file", Path: path})
	defer st.Close()
	if v, _, _ := st.Get(ctx, "k"); v != "v" {
		t.Fatalf("Get(k) = %q, want v", v)
	}
}

func TestErrorsWrapPersistence(t *testing.T) {
	ctx := context.Background()
	st := openForTest(t, Config{Driver: "memory"})
	_ = st.Close()
	err := st.Put(ctx, "k", "v")
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("Put after Close = %v, want ErrPersistence", err)
	}
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Put after Close = %v, want ErrClosed", err)
	}

	if _, err := Open(Config{Driver: "bogus"}, logx.Nop()); !errors.Is(err, ErrPersistence) {
		t.Fatalf("Open(bogus) = %v, want ErrPersistence", err)
	}
}

func TestGetInt64RejectsGarbage(t *testing.T) {
	ctx := context.Background()
	st := openForTest(t, Config{Driver: "memory"})
	_ = st.Put(ctx, "n", "not-a-number")
	if _, _, err := GetInt64(ctx, st, "n"); !errors.Is(err, ErrPersistence) {
		t.Fatalf("GetInt64 garbage = %v, want ErrPersistence", err)
	}
}
