package core

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

func MustLoadBaseConfig(path string) CoreConfig {
	if path == "" {
		return LoadBaseConfigFromENV()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	conf := &CoreConfig{}
	if err = toml.Unmarshal(raw, conf); err != nil {
		panic(err)
	}
	conf.applyDefaults()

	return *conf
}

func LoadBaseConfigFromENV() CoreConfig {
	var c CoreConfig
	c.FromENV()
	c.applyDefaults()
	return c
}

type CoreConfig struct {
	Addr     string      `toml:"addr"`
	Log      Log         `toml:"log"`
	Postgres PGConfig    `toml:"postgres"`
	Redis    RedisConfig `toml:"redis"`

	Security Security       `toml:"security"`
	Session  SessionConfig  `toml:"session"`
	Presence PresenceConfig `toml:"presence"`
}

// SessionConfig tunes the orchestrator's delivery safety nets. The reload
// poll runs even while the feed is connected; push delivery is not
// exactly-once across reconnects, so the poll is a correctness net, not an
// optimization.
type SessionConfig struct {
	ReloadPollSeconds      int `toml:"reload_poll_seconds"`       // default 15
	DisconnectReloadAfter  int `toml:"disconnect_reload_seconds"` // default 30
	MessageTimeoutSeconds  int `toml:"message_timeout_seconds"`   // default 15
	RefreshGuardSeconds    int `toml:"refresh_guard_seconds"`     // default 5
	ReconcileWindowSeconds int `toml:"reconcile_window_seconds"`  // default 30
}

func (c *SessionConfig) applyDefaults() {
	if c.ReloadPollSeconds <= 0 {
		c.ReloadPollSeconds = 15
	}
	if c.DisconnectReloadAfter <= 0 {
		c.DisconnectReloadAfter = 30
	}
	if c.MessageTimeoutSeconds <= 0 {
		c.MessageTimeoutSeconds = 15
	}
	if c.RefreshGuardSeconds <= 0 {
		c.RefreshGuardSeconds = 5
	}
	if c.ReconcileWindowSeconds <= 0 {
		c.ReconcileWindowSeconds = 30
	}
}

func (c SessionConfig) ReloadPoll() time.Duration {
	return time.Duration(c.ReloadPollSeconds) * time.Second
}

func (c SessionConfig) DisconnectReload() time.Duration {
	return time.Duration(c.DisconnectReloadAfter) * time.Second
}

func (c SessionConfig) MessageTimeout() time.Duration {
	return time.Duration(c.MessageTimeoutSeconds) * time.Second
}

func (c SessionConfig) RefreshGuard() time.Duration {
	return time.Duration(c.RefreshGuardSeconds) * time.Second
}

func (c SessionConfig) ReconcileWindow() time.Duration {
	return time.Duration(c.ReconcileWindowSeconds) * time.Second
}

type PresenceConfig struct {
	TickSeconds        int `toml:"tick_seconds"`         // default 60
	CalendarDebounceMS int `toml:"calendar_debounce_ms"` // default 500
	WriteDebounceMS    int `toml:"write_debounce_ms"`    // default 1000

	// built-in working-hours calendar, used when no external calendar
	// backend is configured
	WorkStart string `toml:"work_start"` // HH:MM, default 09:00
	WorkEnd   string `toml:"work_end"`   // HH:MM, default 17:00
	Timezone  string `toml:"timezone"`   // IANA name, default process local
}

func (c *PresenceConfig) applyDefaults() {
	if c.TickSeconds <= 0 {
		c.TickSeconds = 60
	}
	if c.CalendarDebounceMS <= 0 {
		c.CalendarDebounceMS = 500
	}
	if c.WriteDebounceMS <= 0 {
		c.WriteDebounceMS = 1000
	}
	if c.WorkStart == "" {
		c.WorkStart = "09:00"
	}
	if c.WorkEnd == "" {
		c.WorkEnd = "17:00"
	}
}

func (c PresenceConfig) Tick() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

func (c PresenceConfig) CalendarDebounce() time.Duration {
	return time.Duration(c.CalendarDebounceMS) * time.Millisecond
}

func (c PresenceConfig) WriteDebounce() time.Duration {
	return time.Duration(c.WriteDebounceMS) * time.Millisecond
}

type Security struct {
	EncryptKey string `toml:"encrypt_key"`
}

func (c *CoreConfig) applyDefaults() {
	c.Session.applyDefaults()
	c.Presence.applyDefaults()
}

func (c *CoreConfig) FromENV() {
	c.Addr = os.Getenv("LEAP_API_SERVICE_ADDRESS")
	c.Security.EncryptKey = os.Getenv("LEAP_SECURITY_ENCRYPT_KEY")
	c.Log.FromENV()
	c.Postgres.FromENV()
	c.Redis.FromENV()
}

type PGConfig struct {
	DSN string `toml:"dsn"`
}

func (m *PGConfig) FromENV() {
	m.DSN = os.Getenv("LEAP_API_POSTGRESQL_DSN")
}

func (c PGConfig) FormatDSN() string {
	return c.DSN
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

func (r *RedisConfig) FromENV() {
	r.Addr = os.Getenv("LEAP_REDIS_ADDR")
	r.Password = os.Getenv("LEAP_REDIS_PASSWORD")
	if dbStr := os.Getenv("LEAP_REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			r.DB = db
		}
	}
}

type Log struct {
	Level string `toml:"level"`
	Path  string `toml:"path"`
}

func (l *Log) FromENV() {
	l.Level = os.Getenv("LEAP_API_LOG_LEVEL")
	l.Path = os.Getenv("LEAP_API_LOG_PATH")
}

func (l *Log) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}
