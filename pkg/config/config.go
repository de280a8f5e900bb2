// Package config holds the tunable settings of a sub-hunter run and their
// viper bindings.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type ClassifyConfig struct {
	MinV2Links           int  `mapstructure:"min_v2_links"`
	MinClashProxies      int  `mapstructure:"min_clash_proxies"`
	MinClashValidProxies int  `mapstructure:"min_clash_valid_proxies"`
	MinBodyLength        int  `mapstructure:"min_body_length"`
	SampleNodeCheck      bool `mapstructure:"sample_node_check"`
	SampleNodeCount      int  `mapstructure:"sample_node_count"`
	SampleNodeTimeoutSec int  `mapstructure:"sample_node_timeout_sec"`
}

type RetentionConfig struct {
	DailyIncrement     int `mapstructure:"daily_increment"`
	FailThreshold      int `mapstructure:"fail_threshold"`
	PerOwnerLimit      int `mapstructure:"per_owner_limit"`
	LastmodCacheTTLSec int `mapstructure:"lastmod_cache_ttl_sec"`
	SampleWorkers      int `mapstructure:"sample_workers"`
	SampleTimeoutSec   int `mapstructure:"sample_timeout_sec"`
}

type HistoryConfig struct {
	Path          string `mapstructure:"path"`
	Backup        bool   `mapstructure:"backup"`
	ExportReserve bool   `mapstructure:"export_reserve"`
}

type FetchConfig struct {
	Transport     string   `mapstructure:"transport"`
	UserAgent     string   `mapstructure:"user_agent"`
	TimeoutSec    int      `mapstructure:"timeout_sec"`
	MaxBodyBytes  int64    `mapstructure:"max_body_bytes"`
	MaxRetries    int      `mapstructure:"max_retries"`
	MaxBackoffSec int      `mapstructure:"max_backoff_sec"`
	Headers       []string `mapstructure:"headers"`
}

type DiscoverConfig struct {
	MaxDepth   int `mapstructure:"max_depth"`
	MaxVisited int `mapstructure:"max_visited"`
}

type GistConfig struct {
	ID       string `mapstructure:"id"`
	Token    string `mapstructure:"token"`
	Filename string `mapstructure:"filename"`
}

type OutputConfig struct {
	Path           string     `mapstructure:"path"`
	RemovalLogPath string     `mapstructure:"removal_log_path"`
	Gist           GistConfig `mapstructure:"gist"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds the postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

type Settings struct {
	Classify   ClassifyConfig  `mapstructure:"classify"`
	Retention  RetentionConfig `mapstructure:"retention"`
	History    HistoryConfig   `mapstructure:"history"`
	Fetch      FetchConfig     `mapstructure:"fetch"`
	Discover   DiscoverConfig  `mapstructure:"discover"`
	MaxWorkers int             `mapstructure:"max_workers"`
	Output     OutputConfig    `mapstructure:"output"`
	Database   DatabaseConfig  `mapstructure:"database"`
}

var defaults = map[string]any{
	"classify.min_v2_links":            1,
	"classify.min_clash_proxies":       1,
	"classify.min_clash_valid_proxies": 2,
	"classify.min_body_length":         30,
	"classify.sample_node_check":       false,
	"classify.sample_node_count":       1,
	"classify.sample_node_timeout_sec": 2,

	"retention.daily_increment":       0,
	"retention.fail_threshold":        3,
	"retention.per_owner_limit":       5,
	"retention.lastmod_cache_ttl_sec": 86400,
	"retention.sample_workers":        8,
	"retention.sample_timeout_sec":    8,

	"history.path":           "data/history.json",
	"history.backup":         false,
	"history.export_reserve": true,

	"fetch.transport":       "",
	"fetch.user_agent":      "sub-hunter/1.0",
	"fetch.timeout_sec":     10,
	"fetch.max_body_bytes":  256 * 1024,
	"fetch.max_retries":     5,
	"fetch.max_backoff_sec": 60,
	"fetch.headers":         []string{},

	"discover.max_depth":   1,
	"discover.max_visited": 5000,

	"max_workers": 20,

	"output.path":             "data/subscriptions.txt",
	"output.removal_log_path": "data/removed.log",
	"output.gist.id":          "",
	"output.gist.token":       "",
	"output.gist.filename":    "subscriptions.txt",

	"database.enabled":  false,
	"database.host":     "localhost",
	"database.port":     5432,
	"database.user":     "postgres",
	"database.password": "",
	"database.dbname":   "sub_hunter",
	"database.sslmode":  "disable",
}

// envAliases maps setting keys onto the environment names the tool has
// always recognized.
var envAliases = map[string]string{
	"classify.min_v2_links":            "MIN_V2_LINKS",
	"classify.min_clash_proxies":       "MIN_CLASH_PROXIES",
	"classify.min_clash_valid_proxies": "MIN_CLASH_VALID_PROXIES",
	"classify.min_body_length":         "MIN_BODY_LENGTH",
	"classify.sample_node_check":       "ENABLE_SAMPLE_NODE_CHECK",
	"classify.sample_node_count":       "SAMPLE_NODE_CHECK_COUNT",
	"classify.sample_node_timeout_sec": "SAMPLE_NODE_CHECK_TIMEOUT",
	"retention.daily_increment":        "DAILY_INCREMENT",
	"retention.fail_threshold":         "FAIL_THRESHOLD",
	"retention.per_owner_limit":        "PER_OWNER_HISTORY_LIMIT",
	"retention.lastmod_cache_ttl_sec":  "LASTMOD_CACHE_TTL",
	"history.path":                     "HISTORY_PATH",
	"history.backup":                   "ENABLE_HISTORY_BACKUP",
	"fetch.transport":                  "FETCH_TRANSPORT",
	"max_workers":                      "MAX_WORKERS",
	"output.path":                      "OUTPUT_PATH",
	"output.removal_log_path":          "REMOVAL_LOG_PATH",
	"output.gist.id":                   "GIST_ID",
	"output.gist.token":                "GIST_TOKEN",
}

// SetDefaults registers defaults and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		// Both the legacy name and the derived SECTION_KEY name work.
		_ = v.BindEnv(key, env, strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
}

// Load decodes the settings known to v.
func Load(v *viper.Viper) (Settings, error) {
	SetDefaults(v)
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	if s.MaxWorkers <= 0 {
		s.MaxWorkers = 1
	}
	return s, nil
}
