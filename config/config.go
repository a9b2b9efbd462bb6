package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	AWS       AWSConfig
	Encoder   EncoderConfig
	Recording RecordingConfig
	Stream    StreamConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the media bucket name.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	MediaBucket          string
	PublicBaseURL        string // optional CDN/base URL for media objects
	PresignExpireMinutes int
}

// EncoderConfig holds live HLS encoding settings.
type EncoderConfig struct {
	WorkDir           string // per-session working dirs live under this; empty = os.TempDir()
	SegmentSeconds    int    // HLS segment length
	WindowSize        int    // segments kept in the live index
	UploadPollSeconds int    // segment uploader poll interval
	FFmpegBin         string
}

// RecordingConfig holds archival recording settings.
type RecordingConfig struct {
	OutputDir        string // directory for temp recording files; empty = os.TempDir()
	StopGraceSeconds int    // wait for ffmpeg to flush on stop
}

// StreamConfig holds room allocation and lifecycle settings.
type StreamConfig struct {
	RoomCapacity       int
	MaxRoomsPerSession int
	StatsPushSeconds   int
	DefaultMaxDuration int // seconds; 0 = unlimited
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "podcast"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			MediaBucket:          getEnv("AWS_S3_MEDIA_BUCKET", "podcast-media-bucket"),
			PublicBaseURL:        strings.TrimRight(getEnv("MEDIA_PUBLIC_BASE_URL", ""), "/"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Encoder: EncoderConfig{
			WorkDir:           getEnv("ENCODER_WORK_DIR", ""),
			SegmentSeconds:    getEnvInt("ENCODER_SEGMENT_SEC", 4),
			WindowSize:        getEnvInt("ENCODER_WINDOW_SIZE", 6),
			UploadPollSeconds: getEnvInt("ENCODER_UPLOAD_POLL_SEC", 2),
			FFmpegBin:         getEnv("FFMPEG_BIN", "ffmpeg"),
		},
		Recording: RecordingConfig{
			OutputDir:        getEnv("RECORDING_OUTPUT_DIR", ""),
			StopGraceSeconds: getEnvInt("RECORDING_STOP_GRACE_SEC", 10),
		},
		Stream: StreamConfig{
			RoomCapacity:       getEnvInt("STREAM_ROOM_CAPACITY", 20),
			MaxRoomsPerSession: getEnvInt("STREAM_MAX_ROOMS", 50),
			StatsPushSeconds:   getEnvInt("STREAM_STATS_PUSH_SEC", 5),
			DefaultMaxDuration: getEnvInt("STREAM_DEFAULT_MAX_DURATION_SEC", 0),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
