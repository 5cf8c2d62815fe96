package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "syncd/pkg/logx"
)

const fileCompactEvery = 1000

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.kv.snapshot.json (periodic snapshot)
//   - <prefix>.kv.journal.jsonl (append-only journal, fsync'd per commit)
//
// Each commit is one journal line, so a torn trailing line drops the whole
// batch on replay. The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	kv           map[string]string

	writes int
}

type journalRecord struct {
	Set map[string]string `json:"set,omitempty"`
	Del []string          `json:"del,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".kv.snapshot.json"
	journalPath := prefix + ".kv.journal.jsonl"

	kv := map[string]string{}
	if err := loadSnapshot(snapPath, kv); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	good, err := replayJournal(journalPath, kv)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	// Cut a torn tail so the next append starts on a fresh line.
	if st, err := jf.Stat(); err == nil && st.Size() > good {
		log.Warn("kv journal has a torn tail; truncating", logx.String("path", journalPath), logx.Int64("size", st.Size()), logx.Int64("good", good))
		if err := jf.Truncate(good); err != nil {
			_ = jf.Close()
			return nil, err
		}
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		kv:           kv,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return "", false, ErrClosed
	}
	v, ok := s.kv[key]
	return v, ok, nil
}

func (s *fileStore) Put(ctx context.Context, key, value string) error {
	return s.PutMany(ctx, map[string]string{key: value})
}

func (s *fileStore) PutMany(ctx context.Context, kv map[string]string) error {
	if len(kv) == 0 {
		return nil
	}
	return s.commit(ctx, journalRecord{Set: kv})
}

func (s *fileStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.commit(ctx, journalRecord{Del: keys})
}

func (s *fileStore) commit(ctx context.Context, rec journalRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}

	// Durable first, then visible.
	if err := json.NewEncoder(s.journal).Encode(rec); err != nil {
		return err
	}
	if err := s.journal.Sync(); err != nil {
		return err
	}
	apply(s.kv, rec)

	s.writes++
	if s.writes%fileCompactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("kv compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.kv); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func apply(kv map[string]string, rec journalRecord) {
	for k, v := range rec.Set {
		kv[k] = v
	}
	for _, k := range rec.Del {
		delete(kv, k)
	}
}

func loadSnapshot(path string, out map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]string
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

// replayJournal applies every complete journal line to out and returns the
// byte length of the newline-terminated prefix.
func replayJournal(path string, out map[string]string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var good int64
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			// EOF: anything left without a newline is a torn write.
			if errors.Is(err, io.EOF) {
				return good, nil
			}
			return good, err
		}
		good += int64(len(line))
		var rec journalRecord
		if jerr := json.Unmarshal(line, &rec); jerr != nil {
			continue
		}
		apply(out, rec)
	}
}
