package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr               string
	DatabaseURL        string
	JWTSecret          string
	JWTPublicKeyFile   string
	JWTIssuer          string
	MaxAttachmentBytes int64
	MaxPerResponse     int
	MaxPerAudit        int
	BlobDriver         string
	BlobDir            string
	S3Bucket           string
	S3Prefix           string
	KafkaBrokers       []string
	KafkaTopic         string
	LogLevel           string
	RequestTimeout     time.Duration
	MaxUploadMemory    int64
}

const (
	defaultAddr               = ":8070"
	defaultMaxAttachmentBytes = 8 << 20
	defaultMaxPerResponse     = 10
	defaultMaxPerAudit        = 100
	defaultBlobDriver         = "fs"
	defaultBlobDir            = "./data/blobs"
	defaultKafkaTopic         = "audit-sync.notifications"
	defaultLogLevel           = "info"
	defaultRequestTimeout     = 30 * time.Second
	defaultMaxUploadMemory    = 16 << 20
)

// Load reads configuration from the environment and validates it for the
// HTTP service.
func Load() (Config, error) {
	cfg := Read()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read reads configuration without validating it. A .env file in the working
// directory is applied first when present; real environment values win.
func Read() Config {
	_ = godotenv.Load()

	return Config{
		Addr:               getEnv("AUDIT_SYNC_ADDR", defaultAddr),
		DatabaseURL:        firstNonEmpty(os.Getenv("AUDIT_SYNC_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		JWTSecret:          os.Getenv("AUDIT_SYNC_JWT_SECRET"),
		JWTPublicKeyFile:   os.Getenv("AUDIT_SYNC_JWT_PUBLIC_KEY_FILE"),
		JWTIssuer:          os.Getenv("AUDIT_SYNC_JWT_ISSUER"),
		MaxAttachmentBytes: getInt64("AUDIT_SYNC_ATTACHMENT_MAX_BYTES", defaultMaxAttachmentBytes),
		MaxPerResponse:     int(getInt64("AUDIT_SYNC_ATTACHMENT_MAX_PER_RESPONSE", defaultMaxPerResponse)),
		MaxPerAudit:        int(getInt64("AUDIT_SYNC_ATTACHMENT_MAX_PER_AUDIT", defaultMaxPerAudit)),
		BlobDriver:         strings.ToLower(getEnv("AUDIT_SYNC_BLOB_DRIVER", defaultBlobDriver)),
		BlobDir:            getEnv("AUDIT_SYNC_BLOB_DIR", defaultBlobDir),
		S3Bucket:           os.Getenv("AUDIT_SYNC_S3_BUCKET"),
		S3Prefix:           os.Getenv("AUDIT_SYNC_S3_PREFIX"),
		KafkaBrokers:       splitList(os.Getenv("AUDIT_SYNC_KAFKA_BROKERS")),
		KafkaTopic:         getEnv("AUDIT_SYNC_KAFKA_TOPIC", defaultKafkaTopic),
		LogLevel:           getEnv("AUDIT_SYNC_LOG_LEVEL", defaultLogLevel),
		RequestTimeout:     getDuration("AUDIT_SYNC_REQUEST_TIMEOUT", defaultRequestTimeout),
		MaxUploadMemory:    getInt64("AUDIT_SYNC_MAX_UPLOAD_MEMORY", defaultMaxUploadMemory),
	}
}

// ValidateStorage checks the settings needed to reach the database and the
// blob store, which is all the maintenance commands use.
func (c Config) ValidateStorage() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL or AUDIT_SYNC_DATABASE_URL required")
	}
	switch c.BlobDriver {
	case "fs":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("AUDIT_SYNC_S3_BUCKET required when AUDIT_SYNC_BLOB_DRIVER=s3")
		}
	default:
		return fmt.Errorf("unknown AUDIT_SYNC_BLOB_DRIVER %q", c.BlobDriver)
	}
	return nil
}

func (c Config) Validate() error {
	if err := c.ValidateStorage(); err != nil {
		return err
	}
	if c.JWTSecret == "" && c.JWTPublicKeyFile == "" {
		return fmt.Errorf("AUDIT_SYNC_JWT_SECRET or AUDIT_SYNC_JWT_PUBLIC_KEY_FILE required")
	}
	if c.MaxAttachmentBytes < 0 || c.MaxPerResponse < 0 || c.MaxPerAudit < 0 {
		return fmt.Errorf("attachment limits must not be negative")
	}
	if c.MaxPerAudit > 0 && c.MaxPerResponse > c.MaxPerAudit {
		return fmt.Errorf("AUDIT_SYNC_ATTACHMENT_MAX_PER_AUDIT (%d) must not be below AUDIT_SYNC_ATTACHMENT_MAX_PER_RESPONSE (%d)", c.MaxPerAudit, c.MaxPerResponse)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
