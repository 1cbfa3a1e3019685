package config

import (
	"reflect"
	"sort"
	"strings"

	logx "ixfnotify/pkg/logx"
)

// DefaultDispatch is what an omitted dispatch section means.
var DefaultDispatch = DispatchConfig{
	Enabled:         true,
	Workers:         2,
	QueueSize:       512,
	RatePerSec:      3,
	RetryMax:        3,
	RetryBase:       "500ms",
	RetryMaxDelay:   "10s",
	DedupWindow:     "1m",
	DedupMaxEntries: 2000,
}

// SummarizeConfigChange returns the changed sections (sorted) and safe
// structured attrs for logging. Secrets (passwords, tokens, api keys) are
// only ever reported as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.IXF, newCfg.IXF) {
		n := newCfg.IXF
		changed = append(changed, "ixf")
		attrs = append(attrs,
			logx.Bool("ixf.save", n.Save),
			logx.Bool("ixf.notify_ix", n.NotifyIX),
			logx.Bool("ixf.notify_net", n.NotifyNet),
			logx.Bool("ixf.tickets", n.Tickets),
			logx.Bool("ixf.mail_debug", n.MailDebug),
			logx.Int("ixf.ticket_days", n.TicketDays),
		)
	}

	oldD, newD := dispatchOrDefault(oldCfg.Dispatch), dispatchOrDefault(newCfg.Dispatch)
	if !reflect.DeepEqual(oldD, newD) {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Bool("dispatch.enabled", newD.Enabled),
			logx.Int("dispatch.workers", newD.Workers),
			logx.Int("dispatch.queue_size", newD.QueueSize),
			logx.Int("dispatch.rate_per_sec", newD.RatePerSec),
			logx.Int("dispatch.retry_max", newD.RetryMax),
			logx.Bool("dispatch.persist_dedup", newD.PersistDedup),
			logx.Bool("dispatch.mirror_email", newD.MirrorEmail),
		)
	}

	if !reflect.DeepEqual(oldCfg.Email, newCfg.Email) {
		changed = append(changed, "email")
		attrs = append(attrs,
			logx.String("email.host", strings.TrimSpace(newCfg.Email.Host)),
			logx.Int("email.port", newCfg.Email.Port),
			logx.Bool("email.password_set", newCfg.Email.Password != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Int64("telegram.chat_id", newCfg.Telegram.ChatID),
			logx.Int("telegram.thread_id", newCfg.Telegram.ThreadID),
		)
	}

	if !reflect.DeepEqual(oldCfg.Tickets, newCfg.Tickets) {
		changed = append(changed, "tickets")
		attrs = append(attrs,
			logx.String("tickets.url", strings.TrimSpace(newCfg.Tickets.URL)),
			logx.Bool("tickets.api_key_set", newCfg.Tickets.APIKey != ""),
			logx.Int("tickets.retry_max", newCfg.Tickets.RetryMax),
		)
	}

	// Nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Bool("schedule.enabled", newCfg.Schedule.Enabled),
			logx.String("schedule.timezone", strings.TrimSpace(newCfg.Schedule.Timezone)),
			logx.String("schedule.ticket_aged", strings.TrimSpace(newCfg.Schedule.TicketAged)),
			logx.String("schedule.spool", strings.TrimSpace(newCfg.Schedule.Spool)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func dispatchOrDefault(d *DispatchConfig) DispatchConfig {
	if d == nil {
		return DefaultDispatch
	}
	return *d
}

// RestartRequired filters sections down to those that only take effect
// after a restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "storage", "email", "telegram", "tickets":
			out = append(out, s)
		}
	}
	return out
}
