package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	logx "ixfnotify/pkg/logx"
)

// Spool subdirectories that receive processed batch files.
const (
	SpoolDone   = "done"
	SpoolFailed = "failed"
)

func isBatchFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// ProcessSpool processes the batch files in dir in name order. Each file is
// moved to done/ or failed/ afterwards so a file is handled once. It returns
// the number of files processed.
func (s *Service) ProcessSpool(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("notify: read spool: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && isBatchFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var errs []error
	n := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		path := filepath.Join(dir, name)
		dest := SpoolDone
		b, err := LoadBatch(path)
		if err == nil {
			err = s.Process(ctx, b)
		}
		if err != nil {
			dest = SpoolFailed
			s.log.Warn("spool batch failed", logx.String("file", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		} else {
			s.log.Info("spool batch processed",
				logx.String("file", name),
				logx.Int("notifications", len(b.Notifications)),
				logx.Int("errors", len(b.Errors)),
			)
		}
		if err := moveInto(filepath.Join(dir, dest), path); err != nil {
			// Stop here rather than reprocess the same file next run.
			return n, errors.Join(append(errs, err)...)
		}
		n++
	}
	return n, errors.Join(errs...)
}

func moveInto(dir, path string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("notify: spool: %w", err)
	}
	if err := os.Rename(path, filepath.Join(dir, filepath.Base(path))); err != nil {
		return fmt.Errorf("notify: spool: %w", err)
	}
	return nil
}
