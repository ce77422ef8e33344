package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"realtime-canvas/internal/relay"
)

const pingTimeout = 2 * time.Second

// HealthHandler 헬스체크 핸들러. db/rdb가 nil이면 in-memory 모드로 간주
type HealthHandler struct {
	db  *gorm.DB
	rdb *redis.Client
	hub *relay.Hub
}

// NewHealthHandler HealthHandler 생성
func NewHealthHandler(db *gorm.DB, rdb *redis.Client, hub *relay.Hub) *HealthHandler {
	return &HealthHandler{db: db, rdb: rdb, hub: hub}
}

// ComponentCheck 컴포넌트 상태
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse 헬스체크 응답
type HealthResponse struct {
	Status    string                    `json:"status"`
	Timestamp string                    `json:"timestamp"`
	Checks    map[string]ComponentCheck `json:"checks"`
	Boards    int                       `json:"boards"`
}

func (h *HealthHandler) pingDB(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (h *HealthHandler) pingRedis(ctx context.Context) error {
	return h.rdb.Ping(ctx).Err()
}

// Check 전체 상태 확인 (DB + Redis)
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), pingTimeout)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    make(map[string]ComponentCheck),
	}
	if h.hub != nil {
		response.Boards = h.hub.Boards()
	}

	// 1. Database 체크
	if h.db == nil {
		response.Checks["database"] = ComponentCheck{Status: "not_configured"}
	} else {
		start := time.Now()
		if err := h.pingDB(ctx); err != nil {
			response.Status = "unhealthy"
			response.Checks["database"] = ComponentCheck{
				Status: "unhealthy",
				Error:  "database ping failed",
			}
		} else {
			response.Checks["database"] = ComponentCheck{
				Status:  "healthy",
				Latency: time.Since(start).String(),
			}
		}
	}

	// 2. Redis 체크
	if h.rdb == nil {
		response.Checks["redis"] = ComponentCheck{Status: "not_configured"}
	} else {
		start := time.Now()
		if err := h.pingRedis(ctx); err != nil {
			response.Status = "unhealthy"
			response.Checks["redis"] = ComponentCheck{
				Status: "unhealthy",
				Error:  "redis ping failed",
			}
		} else {
			response.Checks["redis"] = ComponentCheck{
				Status:  "healthy",
				Latency: time.Since(start).String(),
			}
		}
	}

	statusCode := fiber.StatusOK
	if response.Status == "unhealthy" {
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(response)
}

// Liveness K8s liveness probe용 (단순 체크)
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.SendString("OK")
}

// Readiness K8s readiness probe용 (DB, Redis 연결 체크)
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), pingTimeout)
	defer cancel()

	if h.db != nil {
		if err := h.pingDB(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).SendString("NOT READY")
		}
	}
	if h.rdb != nil {
		if err := h.pingRedis(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).SendString("NOT READY")
		}
	}
	return c.SendString("READY")
}
