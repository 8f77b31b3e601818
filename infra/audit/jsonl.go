package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kilianp07/parlock/core/audit"
)

// JSONLStore appends records to a JSONL file rotated by lumberjack.
type JSONLStore struct {
	mu   sync.Mutex
	out  *lumberjack.Logger
	path string
}

// NewJSONLStore creates a store with rotation options in megabytes and days.
func NewJSONLStore(path string, maxSizeMB, maxBackups, maxAgeDays int) (*JSONLStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
	}
	return &JSONLStore{out: lj, path: path}, nil
}

// Append writes the record and triggers rotation if needed.
func (s *JSONLStore) Append(_ context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.NewEncoder(s.out).Encode(rec)
}

// Query reads the live file and its rotated backups, oldest record first.
func (s *JSONLStore) Query(ctx context.Context, q audit.Query) ([]audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ext := filepath.Ext(s.path)
	base := s.path[:len(s.path)-len(ext)]
	backups, err := filepath.Glob(base + "-*" + ext)
	if err != nil {
		return nil, err
	}
	files := append(backups, s.path)
	var res []audit.Record
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recs, err := readJSONL(name, q)
		if err != nil {
			return nil, err
		}
		res = append(res, recs...)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Timestamp.Before(res[j].Timestamp) })
	return res, nil
}

func readJSONL(name string, q audit.Query) ([]audit.Record, error) {
	f, err := os.Open(name)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	var res []audit.Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r audit.Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		if q.Match(r) {
			res = append(res, r)
		}
	}
	return res, scanner.Err()
}

// Close closes the underlying writer.
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Close()
}
