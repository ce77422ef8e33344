package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 애플리케이션 전체 설정
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Sync      SyncConfig
	Log       LogConfig
}

// RedisConfig Redis 설정. Addr가 비어 있으면 in-memory 채널로 동작
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// DatabaseConfig PostgreSQL 설정. Host가 비어 있으면 in-memory 저장소로 동작
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	TimeZone string
}

// DSN builds the libpq connection string shared by GORM and the LISTEN connection.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode, c.TimeZone,
	)
}

// AuthConfig 인증 설정
type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	SecureCookie      bool
}

// ServerConfig HTTP 서버 설정
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// WebSocketConfig WebSocket 관련 설정
type WebSocketConfig struct {
	ReadBufferSize   int
	WriteBufferSize  int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	SendQueueSize    int
}

// CORSConfig CORS 설정
type CORSConfig struct {
	AllowOrigins string
	AllowHeaders string
}

// SyncConfig timing and depth knobs of the sync engine. Shared by the server
// and by client sessions.
type SyncConfig struct {
	ThrottleInterval  time.Duration
	DebounceWindow    time.Duration
	HistoryDepth      int
	PresenceHeartbeat time.Duration
	EphemeralTTL      time.Duration
}

// LogConfig 로깅 설정
type LogConfig struct {
	Level string
	JSON  bool
}

// DefaultSync returns the stock sync timings.
func DefaultSync() SyncConfig {
	return SyncConfig{
		ThrottleInterval:  16 * time.Millisecond,
		DebounceWindow:    300 * time.Millisecond,
		HistoryDepth:      50,
		PresenceHeartbeat: 30 * time.Second,
		EphemeralTTL:      60 * time.Second,
	}
}

// Load 환경 변수에서 설정 로드. .env 파일이 있으면 먼저 읽는다
func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, errors.New("required environment variable JWT_SECRET is not set")
	}
	if jwtSecret == "change-this-secret-in-production" {
		return nil, errors.New("JWT_SECRET must be changed from its placeholder value")
	}

	def := DefaultSync()
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", ":8080"),
			ReadTimeout:     getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getDuration("IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:   getInt("WS_READ_BUFFER_SIZE", 16*1024),
			WriteBufferSize:  getInt("WS_WRITE_BUFFER_SIZE", 16*1024),
			HandshakeTimeout: getDuration("WS_HANDSHAKE_TIMEOUT", 10*time.Second),
			WriteTimeout:     getDuration("WS_WRITE_TIMEOUT", 5*time.Second),
			SendQueueSize:    getInt("WS_SEND_QUEUE_SIZE", 256),
		},
		CORS: CORSConfig{
			AllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "*"),
			AllowHeaders: getEnv("CORS_ALLOW_HEADERS", "Origin, Content-Type, Accept, Authorization"),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getDuration("ACCESS_TOKEN_EXPIRY", 1*time.Hour),
			SecureCookie:      getBool("SECURE_COOKIE", false),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "canvas:"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "postgres"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			TimeZone: getEnv("DB_TIMEZONE", "UTC"),
		},
		Sync: SyncConfig{
			ThrottleInterval:  getDuration("SYNC_THROTTLE_INTERVAL", def.ThrottleInterval),
			DebounceWindow:    getDuration("SYNC_DEBOUNCE_WINDOW", def.DebounceWindow),
			HistoryDepth:      getInt("HISTORY_DEPTH", def.HistoryDepth),
			PresenceHeartbeat: getDuration("PRESENCE_HEARTBEAT", def.PresenceHeartbeat),
			EphemeralTTL:      getDuration("EPHEMERAL_TTL", def.EphemeralTTL),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			JSON:  getBool("LOG_JSON", false),
		},
	}

	if cfg.Sync.HistoryDepth <= 0 {
		return nil, fmt.Errorf("HISTORY_DEPTH must be positive, got %d", cfg.Sync.HistoryDepth)
	}
	return cfg, nil
}

// getEnv 환경 변수 조회 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt 정수형 환경 변수 조회
func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getBool 불리언 환경 변수 조회
func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getDuration 시간 환경 변수 조회
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		// 숫자만 있으면 초로 간주
		if !strings.ContainsAny(value, "smh") {
			if secs, err := strconv.Atoi(value); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
