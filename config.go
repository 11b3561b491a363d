package imageguard

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gobeaver/beaver-kit/config"
)

type Config struct {
	// Source driver used to open stored uploads (local, s3, gcs, azure, sftp, zip)
	Source string `env:"IMAGEGUARD_SOURCE,default:local"`

	// Local source configuration
	LocalBasePath string `env:"IMAGEGUARD_LOCAL_BASE_PATH,default:./uploads"`

	// S3 source configuration
	S3Region          string `env:"IMAGEGUARD_S3_REGION,default:us-east-1"`
	S3Bucket          string `env:"IMAGEGUARD_S3_BUCKET"`
	S3Prefix          string `env:"IMAGEGUARD_S3_PREFIX"`
	S3Endpoint        string `env:"IMAGEGUARD_S3_ENDPOINT"`
	S3AccessKeyID     string `env:"IMAGEGUARD_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"IMAGEGUARD_S3_SECRET_ACCESS_KEY"`
	S3ForcePathStyle  bool   `env:"IMAGEGUARD_S3_FORCE_PATH_STYLE,default:false"`

	// GCS (Google Cloud Storage) source configuration
	GCSBucket          string `env:"IMAGEGUARD_GCS_BUCKET"`
	GCSPrefix          string `env:"IMAGEGUARD_GCS_PREFIX"`
	GCSCredentialsFile string `env:"IMAGEGUARD_GCS_CREDENTIALS_FILE"` // Path to service account JSON

	// Azure Blob Storage source configuration
	AzureAccountName   string `env:"IMAGEGUARD_AZURE_ACCOUNT_NAME"`
	AzureAccountKey    string `env:"IMAGEGUARD_AZURE_ACCOUNT_KEY"`
	AzureContainerName string `env:"IMAGEGUARD_AZURE_CONTAINER_NAME"`
	AzurePrefix        string `env:"IMAGEGUARD_AZURE_PREFIX"`
	AzureEndpoint      string `env:"IMAGEGUARD_AZURE_ENDPOINT"` // Optional custom endpoint

	// SFTP source configuration
	SFTPHost       string `env:"IMAGEGUARD_SFTP_HOST"`
	SFTPPort       int    `env:"IMAGEGUARD_SFTP_PORT,default:22"`
	SFTPUsername   string `env:"IMAGEGUARD_SFTP_USERNAME"`
	SFTPPassword   string `env:"IMAGEGUARD_SFTP_PASSWORD"`
	SFTPPrivateKey string `env:"IMAGEGUARD_SFTP_PRIVATE_KEY"` // Path to private key file
	SFTPBasePath   string `env:"IMAGEGUARD_SFTP_BASE_PATH"`

	// Zip bundle source configuration
	ZipPath string `env:"IMAGEGUARD_ZIP_PATH"` // archive whose entries are validated

	// Validation limits
	MinFileSize       int64  `env:"IMAGEGUARD_MIN_FILE_SIZE,default:100"`
	MaxFileSize       int64  `env:"IMAGEGUARD_MAX_FILE_SIZE,default:52428800"` // 50MB default
	AllowedMimeTypes  string `env:"IMAGEGUARD_ALLOWED_MIME_TYPES"`             // comma-separated subset
	BlockedNames      string `env:"IMAGEGUARD_BLOCKED_NAMES"`                  // comma-separated globs, added to defaults
	DeniedFields      string `env:"IMAGEGUARD_DENIED_FIELDS"`                  // comma-separated, added to defaults
	ContentSampleSize int64  `env:"IMAGEGUARD_CONTENT_SAMPLE_SIZE,default:65536"`
	EntropyThreshold  string `env:"IMAGEGUARD_ENTROPY_THRESHOLD,default:3.0"`
	MaxStringLength   int    `env:"IMAGEGUARD_MAX_STRING_LENGTH,default:1000"`
	MaxMetadataDepth  int    `env:"IMAGEGUARD_MAX_METADATA_DEPTH,default:32"`
	MaxPixels         int    `env:"IMAGEGUARD_MAX_PIXELS"` // 0 disables the dimension check
	RulesFile         string `env:"IMAGEGUARD_RULES_FILE"` // optional YAML rule file
	ExtractText       bool   `env:"IMAGEGUARD_EXTRACT_TEXT,default:false"`

	// Verdict cache (none, memory, redis)
	CacheDriver     string `env:"IMAGEGUARD_CACHE_DRIVER,default:none"`
	CacheTTL        string `env:"IMAGEGUARD_CACHE_TTL,default:1h"`
	CacheMaxEntries int    `env:"IMAGEGUARD_CACHE_MAX_ENTRIES,default:10000"` // memory cache only
	RedisURL        string `env:"IMAGEGUARD_REDIS_URL,default:redis://localhost:6379/0"`

	// Metrics namespace for the Prometheus collectors
	MetricsNamespace string `env:"IMAGEGUARD_METRICS_NAMESPACE,default:imageguard"`
	MetricsAddr      string `env:"IMAGEGUARD_METRICS_ADDR"` // e.g. :9090; empty disables the endpoint
}

// GetConfig returns config loaded from environment
func GetConfig() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Constraints converts the configured limits into validator constraints.
func (c *Config) Constraints() (Constraints, error) {
	constraints := DefaultConstraints()

	if c.MinFileSize > 0 {
		constraints.MinFileSize = c.MinFileSize
	}
	if c.MaxFileSize > 0 {
		constraints.MaxFileSize = c.MaxFileSize
	}
	if types := splitList(c.AllowedMimeTypes); len(types) > 0 {
		constraints.AcceptedTypes = types
	}
	constraints.BlockedNames = append(constraints.BlockedNames, splitList(c.BlockedNames)...)
	constraints.DeniedFields = append(constraints.DeniedFields, splitList(c.DeniedFields)...)
	if c.ContentSampleSize > 0 {
		constraints.ContentSampleSize = c.ContentSampleSize
	}
	if c.EntropyThreshold != "" {
		threshold, err := strconv.ParseFloat(c.EntropyThreshold, 64)
		if err != nil {
			return Constraints{}, fmt.Errorf("invalid entropy threshold %q: %w", c.EntropyThreshold, err)
		}
		constraints.EntropyThreshold = threshold
	}
	if c.MaxStringLength > 0 {
		constraints.MaxStringLength = c.MaxStringLength
	}
	if c.MaxMetadataDepth > 0 {
		constraints.MaxMetadataDepth = c.MaxMetadataDepth
	}
	constraints.MaxPixels = c.MaxPixels
	return constraints, nil
}

// CacheExpiry parses CacheTTL.
func (c *Config) CacheExpiry() (time.Duration, error) {
	if c.CacheTTL == "" {
		return 0, nil
	}
	ttl, err := time.ParseDuration(c.CacheTTL)
	if err != nil {
		return 0, fmt.Errorf("invalid cache ttl %q: %w", c.CacheTTL, err)
	}
	return ttl, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
