package config

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"
)

// Validate checks bounds and formats that would otherwise surface only when
// a component starts. It does not touch the network or the filesystem.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		return fmt.Errorf("logging.file.path is required when logging.file.enabled is true")
	}

	if cfg.IXF.TicketDays < 0 {
		return fmt.Errorf("ixf.ticket_days must be >= 0")
	}
	if _, err := ParseDurationField("ixf.error_notification_period", cfg.IXF.ErrorNotificationPeriod); err != nil {
		return err
	}
	if u := strings.TrimSpace(cfg.IXF.BaseURL); u != "" {
		if err := checkURL("ixf.base_url", u); err != nil {
			return err
		}
	}

	if d := cfg.Dispatch; d != nil {
		if d.Workers < 0 || d.QueueSize < 0 || d.RatePerSec < 0 || d.RetryMax < 0 || d.DedupMaxEntries < 0 {
			return fmt.Errorf("dispatch: counts must be >= 0")
		}
		for path, raw := range map[string]string{
			"dispatch.send_timeout":    d.SendTimeout,
			"dispatch.retry_base":      d.RetryBase,
			"dispatch.retry_max_delay": d.RetryMaxDelay,
			"dispatch.dedup_window":    d.DedupWindow,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				return err
			}
		}
	}

	if strings.TrimSpace(cfg.Email.Host) != "" {
		if cfg.Email.Port < 0 || cfg.Email.Port > 65535 {
			return fmt.Errorf("email.port: out of range")
		}
		if _, err := mail.ParseAddress(cfg.Email.FromAddress); err != nil {
			return fmt.Errorf("email.from_address: %w", err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) != "" && cfg.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id is required when telegram.token is set")
	}
	if _, err := ParseDurationField("telegram.timeout", cfg.Telegram.Timeout); err != nil {
		return err
	}

	if u := strings.TrimSpace(cfg.Tickets.URL); u != "" {
		if err := checkURL("tickets.url", u); err != nil {
			return err
		}
	}
	if cfg.Tickets.RetryMax < 0 {
		return fmt.Errorf("tickets.retry_max must be >= 0")
	}
	for path, raw := range map[string]string{
		"tickets.timeout":        cfg.Tickets.Timeout,
		"tickets.retry_wait_min": cfg.Tickets.RetryWaitMin,
		"tickets.retry_wait_max": cfg.Tickets.RetryWaitMax,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("storage.path is required when storage.driver=sqlite")
			}
		default:
			return fmt.Errorf("unknown storage.driver: %s", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}

	if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("schedule.timezone: invalid %q: %w", tz, err)
		}
	}
	if _, err := ParseDurationField("schedule.job_timeout", cfg.Schedule.JobTimeout); err != nil {
		return err
	}
	return nil
}

func checkURL(path, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: absolute http(s) url required, got %q", path, raw)
	}
	return nil
}
