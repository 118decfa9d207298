package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ScyllaConfig holds the cluster connection settings.
type ScyllaConfig struct {
	Hosts           []string
	Keyspace        string
	Table           string
	ConnectTimeout  time.Duration
	MetadataRefresh time.Duration
	Consistency     string
	Username        string
	Password        string
	CreateSchema    bool
}

// RedisConfig points at the node-tag lease registry. Empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LeaseTTL time.Duration
}

// InfluxConfig configures the ingestion metrics sink. Empty URL disables it.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Enabled reports whether metrics should be shipped to InfluxDB.
func (c InfluxConfig) Enabled() bool { return c.URL != "" }

// AuthConfig configures the optional bearer-token gate on the ingestion route.
type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

// Enabled reports whether ingestion requests must carry a valid token.
func (c AuthConfig) Enabled() bool { return c.JWTSecret != "" }

// TLSConfig switches the listener to HTTPS when CertFile is set.
type TLSConfig struct {
	CertFile string
	KeyFile  string
	// SelfSigned generates the pair on first start if neither file exists.
	SelfSigned bool
}

// Enabled reports whether the listener serves HTTPS.
func (c TLSConfig) Enabled() bool { return c.CertFile != "" }

// Config holds the application's configuration.
type Config struct {
	Scylla       ScyllaConfig
	Redis        RedisConfig
	Influx       InfluxConfig
	Auth         AuthConfig
	TLS          TLSConfig
	BindAddress  string
	Port         string
	IngestPath   string
	MaxBodyBytes int64
	// NodeTag disambiguates identifiers minted by this writer. It must be
	// unique per concurrently running instance.
	NodeTag     [6]byte
	CORSOrigins []string
	LogLevel    slog.Level
}

// ListenAddress is the host:port the HTTP listener binds to.
func (c Config) ListenAddress() string {
	return c.BindAddress + ":" + c.Port
}

// LoadConfig loads the configuration from environment variables, after
// merging in envFile (".env" when empty) if it exists.
func LoadConfig(envFile string) (Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		slog.Info("no env file found, relying on system environment variables", "file", envFile)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an environment lookup function.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	env := envReader{lookup: lookup}

	cfg := Config{
		Scylla: ScyllaConfig{
			Hosts:           splitList(env.str("SCYLLA_HOSTS", "")),
			Keyspace:        env.str("SCYLLA_KEYSPACE", "raspi_sensing"),
			Table:           env.str("SCYLLA_TABLE", "temps"),
			ConnectTimeout:  env.duration("SCYLLA_CONNECT_TIMEOUT", 3*time.Second),
			MetadataRefresh: env.duration("SCYLLA_METADATA_REFRESH", 10*time.Second),
			Consistency:     strings.ToUpper(env.str("SCYLLA_CONSISTENCY", "QUORUM")),
			Username:        env.str("SCYLLA_USERNAME", ""),
			Password:        env.str("SCYLLA_PASSWORD", ""),
			CreateSchema:    env.boolean("SCYLLA_CREATE_SCHEMA", false),
		},
		Redis: RedisConfig{
			Addr:     env.str("REDIS_ADDR", ""),
			Password: env.str("REDIS_PASSWORD", ""),
			DB:       env.integer("REDIS_DB", 0),
			LeaseTTL: env.duration("NODE_TAG_LEASE_TTL", 30*time.Second),
		},
		Influx: InfluxConfig{
			URL:    env.str("INFLUXDB_URL", ""),
			Token:  env.str("INFLUXDB_TOKEN", ""),
			Org:    env.str("INFLUXDB_ORG", ""),
			Bucket: env.str("INFLUXDB_BUCKET", ""),
		},
		Auth: AuthConfig{
			JWTSecret:   env.str("INGEST_JWT_SECRET", ""),
			JWTIssuer:   env.str("INGEST_JWT_ISSUER", ""),
			JWTAudience: env.str("INGEST_JWT_AUDIENCE", ""),
		},
		TLS: TLSConfig{
			CertFile:   env.str("TLS_CERT_FILE", ""),
			KeyFile:    env.str("TLS_KEY_FILE", ""),
			SelfSigned: env.boolean("TLS_SELF_SIGNED", false),
		},
		BindAddress:  env.str("BIND_ADDRESS", "0.0.0.0"),
		Port:         env.str("PORT", "8081"),
		IngestPath:   env.str("INGEST_PATH", "/posttemp"),
		MaxBodyBytes: int64(env.integer("MAX_BODY_BYTES", 64<<10)),
		CORSOrigins:  splitList(env.str("CORS_ALLOWED_ORIGINS", "")),
	}
	if env.err != nil {
		return Config{}, env.err
	}

	if len(cfg.Scylla.Hosts) == 0 {
		return Config{}, fmt.Errorf("SCYLLA_HOSTS is not set")
	}

	rawTag, ok := lookup("NODE_TAG")
	if !ok || strings.TrimSpace(rawTag) == "" {
		return Config{}, fmt.Errorf("NODE_TAG is not set; every writer needs its own 6-byte tag")
	}
	tag, err := ParseNodeTag(rawTag)
	if err != nil {
		return Config{}, fmt.Errorf("NODE_TAG: %w", err)
	}
	cfg.NodeTag = tag

	level, err := parseLevel(env.str("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = level

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("MAX_BODY_BYTES must be positive")
	}
	if !strings.HasPrefix(cfg.IngestPath, "/") {
		return Config{}, fmt.Errorf("INGEST_PATH must start with '/'")
	}

	influx := cfg.Influx
	if influx.Enabled() && (influx.Token == "" || influx.Org == "" || influx.Bucket == "") {
		return Config{}, fmt.Errorf("InfluxDB configuration is incomplete. Please set INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG and INFLUXDB_BUCKET")
	}
	if cfg.Auth.Enabled() && (cfg.Auth.JWTIssuer == "" || cfg.Auth.JWTAudience == "") {
		return Config{}, fmt.Errorf("INGEST_JWT_SECRET requires INGEST_JWT_ISSUER and INGEST_JWT_AUDIENCE")
	}

	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		return Config{}, fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if cfg.TLS.SelfSigned && !cfg.TLS.Enabled() {
		return Config{}, fmt.Errorf("TLS_SELF_SIGNED requires TLS_CERT_FILE and TLS_KEY_FILE")
	}

	return cfg, nil
}

// ParseNodeTag parses a node tag written as six hex octets separated by
// ':' or '-', or as twelve bare hex digits.
func ParseNodeTag(s string) ([6]byte, error) {
	var tag [6]byte
	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(clean) != 12 {
		return tag, fmt.Errorf("want 6 bytes, got %q", s)
	}
	for i := range tag {
		b, err := strconv.ParseUint(clean[2*i:2*i+2], 16, 8)
		if err != nil {
			return tag, fmt.Errorf("invalid hex in %q: %w", s, err)
		}
		tag[i] = byte(b)
	}
	return tag, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(s))
	return level, err
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// envReader collects the first parse error so LoadConfig can report it
// once instead of checking after every variable.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err == nil && d <= 0 {
		err = fmt.Errorf("must be positive")
	}
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *envReader) integer(key string, def int) int {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *envReader) boolean(key string, def bool) bool {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s: %w", key, err)
	}
}
