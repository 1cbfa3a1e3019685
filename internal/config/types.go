package config

// Config is the whole service configuration. Optional sections are pointers
// so an omitted block can be told apart from an explicit zero value.
type Config struct {
	Logging  LoggingConfig   `json:"logging"`
	IXF      IXFConfig       `json:"ixf"`
	Dispatch *DispatchConfig `json:"dispatch,omitempty"`
	Email    EmailConfig     `json:"email"`
	Telegram TelegramConfig  `json:"telegram"`
	Tickets  TicketsConfig   `json:"tickets"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Schedule ScheduleConfig  `json:"schedule"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// IXFConfig is the importer notification policy.
//
// Save must be true for anything to be sent or stored; a config without it
// only renders.
type IXFConfig struct {
	Save          bool   `json:"save"`
	SubjectPrefix string `json:"subject_prefix,omitempty"`
	NotifyIX      bool   `json:"notify_ix"`
	NotifyNet     bool   `json:"notify_net"`
	Tickets       bool   `json:"tickets"`
	MailDebug     bool   `json:"mail_debug,omitempty"`
	TicketDays    int    `json:"ticket_days"`
	// ErrorNotificationPeriod is a Go duration string (default "24h").
	ErrorNotificationPeriod string `json:"error_notification_period,omitempty"`
	BaseURL                 string `json:"base_url,omitempty"`
	// SpoolDir holds batch files waiting to be processed.
	SpoolDir string `json:"spool_dir,omitempty"`
}

// DispatchConfig controls the outbound delivery pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, dispatch defaults to enabled=true.
type DispatchConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
	// MirrorEmail copies every delivered email to the Telegram chat.
	MirrorEmail bool `json:"mirror_email,omitempty"`
}

// EmailConfig is the SMTP relay. An empty host logs emails instead.
type EmailConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	FromAddress string `json:"from_address"`
	FromName    string `json:"from_name,omitempty"`
}

// TelegramConfig is the ops chat. An empty token disables the channel.
type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	// Timeout is a Go duration string (default "10s").
	Timeout string `json:"timeout,omitempty"`
}

// TicketsConfig is the helpdesk API. An empty url keeps tickets local.
type TicketsConfig struct {
	URL          string `json:"url"`
	APIKey       string `json:"api_key,omitempty"`
	PersonEmail  string `json:"person_email,omitempty"`
	PersonName   string `json:"person_name,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
	RetryMax     int    `json:"retry_max,omitempty"`
	RetryWaitMin string `json:"retry_wait_min,omitempty"`
	RetryWaitMax string `json:"retry_wait_max,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/ixfnotify.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ScheduleConfig controls the periodic jobs. Job specs accept cron
// expressions, "@daily"-style descriptors, Go durations and HH:MM.
type ScheduleConfig struct {
	Enabled    bool   `json:"enabled"`
	Timezone   string `json:"timezone,omitempty"`
	JobTimeout string `json:"job_timeout,omitempty"`
	// TicketAged escalates stale proposals (default "@daily").
	TicketAged string `json:"ticket_aged,omitempty"`
	// Spool picks up batch files from ixf.spool_dir (default "1m").
	Spool string `json:"spool,omitempty"`
}
