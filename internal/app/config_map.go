package app

import (
	"fmt"
	"strings"
	"time"

	"ixfnotify/internal/config"
	"ixfnotify/internal/dispatch"
	"ixfnotify/internal/notify"
	"ixfnotify/internal/schedule"
	"ixfnotify/internal/storage"
	"ixfnotify/internal/ticket"
	"ixfnotify/internal/transport/email"
	"ixfnotify/internal/transport/telegram"
	logx "ixfnotify/pkg/logx"
)

const (
	defaultTicketAgedSpec = "@daily"
	defaultSpoolSpec      = "1m"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapNotify(cfg *config.Config) (notify.Config, error) {
	period, err := config.ParseDurationOrDefault("ixf.error_notification_period", cfg.IXF.ErrorNotificationPeriod, 24*time.Hour)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Save:                    cfg.IXF.Save,
		SubjectPrefix:           cfg.IXF.SubjectPrefix,
		NotifyIXEnabled:         cfg.IXF.NotifyIX,
		NotifyNetEnabled:        cfg.IXF.NotifyNet,
		TicketsEnabled:          cfg.IXF.Tickets,
		MailDebug:               cfg.IXF.MailDebug,
		TicketDays:              cfg.IXF.TicketDays,
		ErrorNotificationPeriod: period,
		BaseURL:                 cfg.IXF.BaseURL,
	}, nil
}

func mapDispatch(cfg *config.Config) (dispatch.Config, error) {
	d := config.DefaultDispatch
	if cfg.Dispatch != nil {
		d = *cfg.Dispatch
	}
	out := dispatch.Config{
		Enabled:         d.Enabled,
		Workers:         d.Workers,
		QueueSize:       d.QueueSize,
		RatePerSec:      d.RatePerSec,
		RetryMax:        d.RetryMax,
		DedupMaxEntries: d.DedupMaxEntries,
		PersistDedup:    d.PersistDedup,
		MirrorEmail:     d.MirrorEmail,
	}
	var err error
	if out.SendTimeout, err = config.ParseDurationOrDefault("dispatch.send_timeout", d.SendTimeout, 30*time.Second); err != nil {
		return dispatch.Config{}, err
	}
	if out.RetryBase, err = config.ParseDurationOrDefault("dispatch.retry_base", d.RetryBase, 500*time.Millisecond); err != nil {
		return dispatch.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("dispatch.retry_max_delay", d.RetryMaxDelay, 10*time.Second); err != nil {
		return dispatch.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("dispatch.dedup_window", d.DedupWindow); err != nil {
		return dispatch.Config{}, err
	}
	return out, nil
}

func mapEmail(cfg *config.Config) email.Config {
	port := cfg.Email.Port
	if port == 0 {
		port = 25
	}
	return email.Config{
		Host:        strings.TrimSpace(cfg.Email.Host),
		Port:        port,
		Username:    cfg.Email.Username,
		Password:    cfg.Email.Password,
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
	}
}

func mapTelegram(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:    strings.TrimSpace(cfg.Telegram.Token),
		ChatID:   cfg.Telegram.ChatID,
		ThreadID: cfg.Telegram.ThreadID,
		Timeout:  timeout,
	}, nil
}

func mapTickets(cfg *config.Config) (ticket.Config, error) {
	t := cfg.Tickets
	out := ticket.Config{
		URL:         strings.TrimSpace(t.URL),
		Key:         t.APIKey,
		PersonEmail: t.PersonEmail,
		PersonName:  t.PersonName,
		RetryMax:    t.RetryMax,
	}
	var err error
	if out.Timeout, err = config.ParseDurationOrDefault("tickets.timeout", t.Timeout, 15*time.Second); err != nil {
		return ticket.Config{}, err
	}
	if out.RetryWaitMin, err = config.ParseDurationField("tickets.retry_wait_min", t.RetryWaitMin); err != nil {
		return ticket.Config{}, err
	}
	if out.RetryWaitMax, err = config.ParseDurationField("tickets.retry_wait_max", t.RetryWaitMax); err != nil {
		return ticket.Config{}, err
	}
	return out, nil
}

// mapStorage reports false when storage is disabled.
func mapStorage(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSchedule(cfg *config.Config) (schedule.Config, error) {
	timeout, err := config.ParseDurationField("schedule.job_timeout", cfg.Schedule.JobTimeout)
	if err != nil {
		return schedule.Config{}, err
	}
	return schedule.Config{
		Enabled:    cfg.Schedule.Enabled,
		Timezone:   cfg.Schedule.Timezone,
		JobTimeout: timeout,
	}, nil
}

// jobSpecs returns the normalized specs of the ticket sweep and the spool
// pickup.
func jobSpecs(cfg *config.Config) (aged, spool string, err error) {
	raw := cfg.Schedule.TicketAged
	if strings.TrimSpace(raw) == "" {
		raw = defaultTicketAgedSpec
	}
	if aged, err = schedule.Normalize(raw); err != nil {
		return "", "", fmt.Errorf("schedule.ticket_aged: %w", err)
	}
	raw = cfg.Schedule.Spool
	if strings.TrimSpace(raw) == "" {
		raw = defaultSpoolSpec
	}
	if spool, err = schedule.Normalize(raw); err != nil {
		return "", "", fmt.Errorf("schedule.spool: %w", err)
	}
	return aged, spool, nil
}

// validate checks everything the component mappings reject.
func validate(cfg *config.Config) error {
	if _, err := mapNotify(cfg); err != nil {
		return err
	}
	if _, err := mapDispatch(cfg); err != nil {
		return err
	}
	if _, err := mapTelegram(cfg); err != nil {
		return err
	}
	if _, err := mapTickets(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorage(cfg); err != nil {
		return err
	}
	if _, err := mapSchedule(cfg); err != nil {
		return err
	}
	_, _, err := jobSpecs(cfg)
	return err
}
