package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default endpoints for the YouTube Data API and Google's OAuth2 token service.
const (
	DefaultTokenURL   = "https://oauth2.googleapis.com/token"
	DefaultAPIBaseURL = "https://www.googleapis.com"
)

// Per-mode metadata defaults. {date} is substituted at run time.
const (
	defaultStreamTitle = "🔴 Cozy Live Stream - {date}"
	defaultStreamDesc  = "🔴 LIVE: Automatically generated cozy background stream using GitHub Actions and FFmpeg.\n" +
		"Stream started at {date}.\n" +
		"Perfect for studying, relaxing, or sleeping."
	defaultStreamTags = "live,cozy,lofi,study,relax,sleep"

	defaultUploadTitle = "Cozy 12-Hour Random Stream - {date}"
	defaultUploadDesc  = "Automatically generated cozy background stream using GitHub Actions and FFmpeg.\n" +
		"Generated at {date}."
	defaultUploadTags = "cozy,lofi,study,relax,sleep"

	// DateLayout renders the {date} placeholder, e.g. "2024-05-01 13:45 UTC".
	DateLayout = "2006-01-02 15:04 UTC"
)

// Error reports missing or invalid configuration. It is always fatal and is
// raised before any remote call is attempted.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// Config holds application configuration loaded from environment.
type Config struct {
	YouTube  YouTubeConfig
	Metadata MetadataConfig
	Encoder  EncoderConfig
	Upload   UploadConfig
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	LogLevel string
}

// YouTubeConfig holds OAuth client credentials and API endpoints.
type YouTubeConfig struct {
	ClientID          string
	ClientSecret      string
	RefreshToken      string
	TokenURL          string
	APIBaseURL        string
	RequestsPerSecond float64
}

// MetadataConfig holds raw publishing metadata overrides. Empty values (nil
// for Tags) mean "use the default for the current mode".
type MetadataConfig struct {
	TitleTemplate string
	Description   string
	Tags          []string
	Privacy       string
	CategoryID    string
	DurationHours float64
}

// EncoderConfig controls the ffmpeg subprocess.
type EncoderConfig struct {
	FFmpegPath   string
	StallTimeout time.Duration
}

// UploadConfig controls the resumable upload driver.
type UploadConfig struct {
	ChunkSizeMB int
	MaxRetries  int
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	CORSAllowedOrigins string // comma-separated, or "*"
}

// DatabaseConfig holds the PostgreSQL connection string. Empty disables run history.
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds operator token signing settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds credentials and the archive bucket. Empty bucket disables archiving.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ArchiveBucket   string
	ArchiveMedia    bool
}

// Metadata is the resolved video/broadcast metadata for one run.
type Metadata struct {
	Title       string
	Description string
	Tags        []string
	Privacy     string
	CategoryID  string
}

// Load reads configuration from environment, with optional .env file.
// Privacy and duration are validated here so a bad value never reaches the network.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))

	cfg := &Config{
		YouTube: YouTubeConfig{
			ClientID:          os.Getenv("YOUTUBE_CLIENT_ID"),
			ClientSecret:      os.Getenv("YOUTUBE_CLIENT_SECRET"),
			RefreshToken:      os.Getenv("YOUTUBE_REFRESH_TOKEN"),
			TokenURL:          getEnv("YOUTUBE_TOKEN_URL", DefaultTokenURL),
			APIBaseURL:        strings.TrimRight(getEnv("YOUTUBE_API_BASE_URL", DefaultAPIBaseURL), "/"),
			RequestsPerSecond: getEnvFloat("YOUTUBE_REQUESTS_PER_SECOND", 5),
		},
		Metadata: MetadataConfig{
			TitleTemplate: os.Getenv("YT_TITLE_TEMPLATE"),
			Description:   os.Getenv("YT_DESCRIPTION"),
			Tags:          lookupList("YT_TAGS"),
			Privacy:       strings.ToLower(strings.TrimSpace(getEnv("YT_PRIVACY_STATUS", "unlisted"))),
			CategoryID:    getEnv("YT_CATEGORY_ID", "10"),
			DurationHours: 6,
		},
		Encoder: EncoderConfig{
			FFmpegPath:   getEnv("FFMPEG_PATH", "ffmpeg"),
			StallTimeout: getEnvDuration("ENCODER_STALL_TIMEOUT", 2*time.Minute),
		},
		Upload: UploadConfig{
			ChunkSizeMB: getEnvInt("UPLOAD_CHUNK_SIZE_MB", 8),
			MaxRetries:  getEnvInt("UPLOAD_MAX_RETRIES", 5),
		},
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", ""),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:   getEnv("AWS_S3_ARCHIVE_BUCKET", ""),
			ArchiveMedia:    getEnvBool("ARCHIVE_MEDIA", false),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := ValidatePrivacy(cfg.Metadata.Privacy); err != nil {
		return nil, err
	}
	if v := os.Getenv("YT_DURATION_HOURS"); v != "" {
		hours, err := ParseDurationHours(v)
		if err != nil {
			return nil, &Error{Key: "YT_DURATION_HOURS", Reason: err.Error()}
		}
		cfg.Metadata.DurationHours = hours
	}
	return cfg, nil
}

// Validate reports the first missing OAuth secret.
func (c YouTubeConfig) Validate() error {
	required := []struct{ key, value string }{
		{"YOUTUBE_CLIENT_ID", c.ClientID},
		{"YOUTUBE_CLIENT_SECRET", c.ClientSecret},
		{"YOUTUBE_REFRESH_TOKEN", c.RefreshToken},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &Error{Key: r.key, Reason: "missing required environment variable"}
		}
	}
	return nil
}

// ValidatePrivacy accepts exactly public, unlisted or private.
func ValidatePrivacy(privacy string) error {
	switch privacy {
	case "public", "unlisted", "private":
		return nil
	}
	return &Error{Key: "YT_PRIVACY_STATUS", Reason: fmt.Sprintf("invalid value %q (must be public, unlisted, or private)", privacy)}
}

// ParseDurationHours parses a positive, finite number of hours.
func ParseDurationHours(s string) (float64, error) {
	hours, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if hours <= 0 || hours > 24*7 {
		return 0, fmt.Errorf("out of range: %v hours", hours)
	}
	return hours, nil
}

// HoursToDuration converts fractional hours to whole seconds, truncating like
// the encoder's -t flag expects.
func HoursToDuration(hours float64) time.Duration {
	return time.Duration(int64(hours*3600)) * time.Second
}

// StreamMetadata resolves live broadcast metadata at now.
func (m MetadataConfig) StreamMetadata(now time.Time) Metadata {
	return m.resolve(now, defaultStreamTitle, defaultStreamDesc, defaultStreamTags)
}

// UploadMetadata resolves on-demand video metadata at now.
func (m MetadataConfig) UploadMetadata(now time.Time) Metadata {
	return m.resolve(now, defaultUploadTitle, defaultUploadDesc, defaultUploadTags)
}

func (m MetadataConfig) resolve(now time.Time, title, desc, tags string) Metadata {
	date := now.UTC().Format(DateLayout)
	if m.TitleTemplate != "" {
		title = m.TitleTemplate
	}
	desc = strings.ReplaceAll(desc, "{date}", date)
	// A configured description is sent verbatim.
	if m.Description != "" {
		desc = m.Description
	}
	resolvedTags := m.Tags
	if resolvedTags == nil {
		resolvedTags = splitTrim(tags, ",")
	}
	return Metadata{
		Title:       strings.ReplaceAll(title, "{date}", date),
		Description: desc,
		Tags:        append([]string{}, resolvedTags...),
		Privacy:     m.Privacy,
		CategoryID:  m.CategoryID,
	}
}

// lookupList returns nil when key is unset and a (possibly empty) list when set.
func lookupList(key string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	out := splitTrim(v, ",")
	if out == nil {
		out = []string{}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if v == "0" {
			return 0
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
