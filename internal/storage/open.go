package storage

import (
	"errors"
	"fmt"
	"strings"

	logx "ixfnotify/pkg/logx"
)

// ErrUnknownDriver is returned by Open for an unsupported Config.Driver.
var ErrUnknownDriver = errors.New("storage: unknown driver")

// Open returns the store selected by cfg.Driver, or a nil Store when
// storage is disabled. Callers treat a nil Store as "keep nothing".
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		log.Debug("storage disabled")
		return nil, nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, driver)
	}
}
