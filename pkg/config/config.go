package config

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ani-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis is optional. Without it dispatchers and notifiers only poll.
	Redis RedisConfig `yaml:"redis"`

	ANI       ANIConfig       `yaml:"ani"`
	Worker    WorkerConfig    `yaml:"worker"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Mail      MailConfig      `yaml:"mail"`
	Retention RetentionConfig `yaml:"retention"`
	Taxonomy  TaxonomyConfig  `yaml:"taxonomy"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"gtdb"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"gtdb_ani"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds the wake-up bus connection.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Channel  string `yaml:"channel" env:"REDIS_CHANNEL" env-default:"ani:events"`
}

// ANIConfig holds admission limits and per-pair execution policy.
type ANIConfig struct {
	MaxPairwise           int `yaml:"max_pairwise" env:"ANI_MAX_PAIRWISE" env-default:"1000"`
	MaxUserFileSizeMbEach int `yaml:"max_user_file_size_mb_each" env:"ANI_MAX_USER_FILE_SIZE_MB_EACH" env-default:"20"`
	MaxUserFileNameLength int `yaml:"max_user_file_name_length" env:"ANI_MAX_USER_FILE_NAME_LENGTH" env-default:"100"`
	MaxUserFileCount      int `yaml:"max_user_file_count" env:"ANI_MAX_USER_FILE_COUNT" env-default:"100"`
	MaxQueuePendingJobs   int `yaml:"max_queue_pending_jobs" env:"ANI_MAX_QUEUE_PENDING_JOBS" env-default:"1000"`

	// SupportedVersionsStr is a comma-separated list of tool versions.
	// Format: "skani_0.2.2,fastani_1.33"
	SupportedVersionsStr string `yaml:"supported_versions" env:"ANI_SUPPORTED_VERSIONS" env-default:"skani_0.2.2,skani_0.2.1,fastani_1.33,fastani_1.32"`

	// SupportedVersions is the parsed list from SupportedVersionsStr (not from config file).
	SupportedVersions []string `yaml:"-"`

	JobIDSpace            int64 `yaml:"job_id_space" env:"ANI_JOB_ID_SPACE" env-default:"4294967296"`
	JobIDMintAttempts     int   `yaml:"job_id_mint_attempts" env:"ANI_JOB_ID_MINT_ATTEMPTS" env-default:"3"`
	PerPairTimeoutSeconds int   `yaml:"per_pair_timeout_seconds" env:"ANI_PER_PAIR_TIMEOUT_SECONDS" env-default:"600"`
	PerPairRetryBudget    int   `yaml:"per_pair_retry_budget" env:"ANI_PER_PAIR_RETRY_BUDGET" env-default:"3"`
}

// WorkerConfig holds dispatcher and worker runtime settings.
type WorkerConfig struct {
	Concurrency         int    `yaml:"concurrency" env:"WORKER_CONCURRENCY" env-default:"4"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds" env:"WORKER_POLL_INTERVAL_SECONDS" env-default:"5"`
	LeaseGraceSeconds   int    `yaml:"lease_grace_seconds" env:"WORKER_LEASE_GRACE_SECONDS" env-default:"60"`
	ScratchDir          string `yaml:"scratch_dir" env:"WORKER_SCRATCH_DIR" env-default:""`

	// ProgramsStr is a comma-separated list of version=binary pairs.
	// Format: "skani_0.2.2=/opt/skani/0.2.2/skani,fastani_1.33=fastANI"
	ProgramsStr string `yaml:"programs" env:"WORKER_PROGRAMS" env-default:"skani_0.2.2=skani,skani_0.2.1=skani,fastani_1.33=fastANI,fastani_1.32=fastANI"`

	// Programs is the parsed map from ProgramsStr (not from config file).
	Programs map[string]string `yaml:"-"`
}

// MirrorConfig holds the local NCBI mirror settings.
type MirrorConfig struct {
	Root               string  `yaml:"root" env:"MIRROR_ROOT" env-default:"/srv/db/ncbi/genomes/all"`
	FetchMissing       bool    `yaml:"fetch_missing" env:"MIRROR_FETCH_MISSING" env-default:"false"`
	DownloadsPerSecond float64 `yaml:"downloads_per_second" env:"MIRROR_DOWNLOADS_PER_SECOND" env-default:"2"`
}

// MailConfig holds the completion notification relay.
type MailConfig struct {
	Host        string `yaml:"host" env:"SMTP_HOST" env-default:""`
	Port        int    `yaml:"port" env:"SMTP_PORT" env-default:"25"`
	From        string `yaml:"from" env:"SMTP_FROM" env-default:"noreply@gtdb.ecogenomic.org"`
	Username    string `yaml:"username" env:"SMTP_USERNAME" env-default:""`
	Password    string `yaml:"-" env:"SMTP_PASSWORD"` // Secret - not in YAML
	PortalURL   string `yaml:"portal_url" env:"MAIL_PORTAL_URL" env-default:"https://gtdb.ecogenomic.org/tools/skani"`
	MaxAttempts int    `yaml:"max_attempts" env:"MAIL_MAX_ATTEMPTS" env-default:"5"`
}

// RetentionConfig holds the retention pass settings.
type RetentionConfig struct {
	IntervalMinutes        int  `yaml:"interval_minutes" env:"RETENTION_INTERVAL_MINUTES" env-default:"5"`
	DropResults            bool `yaml:"drop_results" env:"RETENTION_DROP_RESULTS" env-default:"false"`
	StaleSubmissionMinutes int  `yaml:"stale_submission_minutes" env:"RETENTION_STALE_SUBMISSION_MINUTES" env-default:"60"`
}

// TaxonomyConfig holds the taxonomy collaborator cache settings.
type TaxonomyConfig struct {
	CacheTTLMinutes int `yaml:"cache_ttl_minutes" env:"TAXONOMY_CACHE_TTL_MINUTES" env-default:"60"`
}

// Limits is the static configuration surface returned to clients.
type Limits struct {
	MaxPairwise           int      `json:"maxPairwise"`
	MaxUserFileSizeMbEach int      `json:"maxUserFileSizeMbEach"`
	MaxUserFileNameLength int      `json:"maxUserFileNameLength"`
	MaxUserFileCount      int      `json:"maxUserFileCount"`
	MaxQueuePendingJobs   int      `json:"maxQueuePendingJobs"`
	SupportedVersions     []string `json:"supportedVersions"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() error {
	c.ANI.SupportedVersions = parseList(c.ANI.SupportedVersionsStr)

	programs, err := parsePairs(c.Worker.ProgramsStr)
	if err != nil {
		return fmt.Errorf("worker.programs: %w", err)
	}
	c.Worker.Programs = programs
	return nil
}

func (c *Config) validate() error {
	if c.ANI.MaxPairwise <= 0 {
		return fmt.Errorf("ani.max_pairwise must be positive")
	}
	if c.ANI.JobIDSpace <= 0 || c.ANI.JobIDSpace > 1<<32 {
		return fmt.Errorf("ani.job_id_space must be in (0, 2^32]")
	}
	if c.ANI.JobIDMintAttempts <= 0 {
		return fmt.Errorf("ani.job_id_mint_attempts must be positive")
	}
	if c.ANI.PerPairRetryBudget <= 0 {
		return fmt.Errorf("ani.per_pair_retry_budget must be positive")
	}
	if len(c.ANI.SupportedVersions) == 0 {
		return fmt.Errorf("ani.supported_versions must not be empty")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	if c.Mail.Host != "" {
		if _, err := mail.ParseAddress(c.Mail.From); err != nil {
			return fmt.Errorf("mail.from is not a valid address: %w", err)
		}
	}
	return nil
}

// PerPairTimeout returns the wall-clock limit of a single tool invocation.
func (c *ANIConfig) PerPairTimeout() time.Duration {
	return time.Duration(c.PerPairTimeoutSeconds) * time.Second
}

// MaxUploadBytes returns the per-file upload ceiling in bytes.
func (c *ANIConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUserFileSizeMbEach) * 1024 * 1024
}

// Limits returns the client-facing configuration projection.
func (c *ANIConfig) Limits() Limits {
	return Limits{
		MaxPairwise:           c.MaxPairwise,
		MaxUserFileSizeMbEach: c.MaxUserFileSizeMbEach,
		MaxUserFileNameLength: c.MaxUserFileNameLength,
		MaxUserFileCount:      c.MaxUserFileCount,
		MaxQueuePendingJobs:   c.MaxQueuePendingJobs,
		SupportedVersions:     c.SupportedVersions,
	}
}

// PollInterval returns the dispatcher poll interval.
func (c *WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Interval returns the retention pass interval.
func (c *RetentionConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", ResolveHostForDocker(c.Host), c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// parseList splits a comma-separated value, dropping blanks.
func parseList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parsePairs parses "key1=value1,key2=value2" into a map.
func parsePairs(value string) (map[string]string, error) {
	pairs := make(map[string]string)
	for _, item := range parseList(value) {
		key, val, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(key) == "" || strings.TrimSpace(val) == "" {
			return nil, fmt.Errorf("malformed entry %q", item)
		}
		pairs[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	return pairs, nil
}
