package server

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"realtime-canvas/internal/auth"
	"realtime-canvas/internal/config"
	"realtime-canvas/internal/durable"
	"realtime-canvas/internal/handler"
	"realtime-canvas/internal/metrics"
	"realtime-canvas/internal/middleware"
	"realtime-canvas/internal/relay"
)

// Deps 서버가 사용하는 외부 자원. DB/Redis는 선택
type Deps struct {
	Store  durable.Store
	Open   relay.ChannelFactory
	DB     *gorm.DB
	Redis  *redis.Client
	Clock  clock.Clock
	Logger *zap.Logger
}

// Server Fiber 서버 래퍼
type Server struct {
	app *fiber.App
	cfg *config.Config
	log *zap.Logger

	// 종료 시 열린 릴레이 연결을 모두 닫는다
	ctx    context.Context
	cancel context.CancelFunc

	hub           *relay.Hub
	boardHandler  *handler.BoardHandler
	relayHandler  *handler.RelayWSHandler
	healthHandler *handler.HealthHandler
	authHandler   *handler.AuthHandler
	jwtManager    *auth.JWTManager
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	log := d.Logger.Named("server")

	app := fiber.New(fiber.Config{
		AppName:               "Realtime Canvas",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:        16384, // 16KB - 큰 헤더 허용
		WriteBufferSize:       16384,
		BodyLimit:             4 * 1024 * 1024,
		DisableStartupMessage: true,
	})

	ctx, cancel := context.WithCancel(context.Background())

	jwtManager := auth.NewJWTManagerWithClock(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, d.Clock)
	hub := relay.NewHub(d.Open, relay.Options{
		SendQueue:    cfg.WebSocket.SendQueueSize,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		Logger:       d.Logger,
	})

	return &Server{
		app:           app,
		cfg:           cfg,
		log:           log,
		ctx:           ctx,
		cancel:        cancel,
		hub:           hub,
		boardHandler:  handler.NewBoardHandler(d.Store, d.Clock, d.Logger),
		relayHandler:  handler.NewRelayWSHandler(ctx, hub, d.Logger),
		healthHandler: handler.NewHealthHandler(d.DB, d.Redis, hub),
		authHandler:   handler.NewAuthHandler(jwtManager, cfg.Auth.AccessTokenExpiry, cfg.Auth.SecureCookie),
		jwtManager:    jwtManager,
	}
}

// App fiber 앱 (테스트용)
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub 릴레이 허브
func (s *Server) Hub() *relay.Hub {
	return s.hub
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "UTC",
		Next: func(c *fiber.Ctx) bool {
			// 프로브/스크랩 요청은 로그 생략
			p := c.Path()
			return p == "/health" || p == "/healthz" || p == "/readyz" || p == "/metrics"
		},
	}))

	s.app.Use(metrics.Middleware())

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, PATCH, DELETE, OPTIONS",
		AllowCredentials: s.cfg.CORS.AllowOrigins != "*",
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/healthz", s.healthHandler.Liveness)
	s.app.Get("/readyz", s.healthHandler.Readiness)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Rate Limiter 설정 (인증 엔드포인트용 - Brute Force 방지)
	authLimiter := limiter.New(limiter.Config{
		Max:        10,              // 최대 10회
		Expiration: 1 * time.Minute, // 1분당
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() // IP 기반 제한
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	requireAuth := auth.AuthMiddleware(s.jwtManager)

	// Auth 라우트 그룹
	authGroup := s.app.Group("/auth")
	authGroup.Post("/session", authLimiter, s.authHandler.CreateSession)
	authGroup.Post("/logout", requireAuth, s.authHandler.Logout)
	authGroup.Get("/me", requireAuth, s.authHandler.GetMe)

	// Board 라우트 그룹 (인증 필요)
	boardGroup := s.app.Group("/api/boards/:boardId", requireAuth, middleware.RequireBoard())
	boardGroup.Get("", s.boardHandler.GetBoard)
	boardGroup.Get("/online", s.relayHandler.Online)
	boardGroup.Post("/entities", s.boardHandler.CreateEntity)
	boardGroup.Patch("/entities/:id", s.boardHandler.UpdateEntity)
	boardGroup.Delete("/entities/:id", s.boardHandler.DeleteEntity)
	boardGroup.Post("/layers", s.boardHandler.CreateLayer)
	boardGroup.Patch("/layers/:id", s.boardHandler.UpdateLayer)
	boardGroup.Delete("/layers/:id", s.boardHandler.DeleteLayer)

	// WebSocket 릴레이 엔드포인트
	s.app.Get("/ws/boards/:boardId", requireAuth, middleware.RequireBoard(), s.relayHandler.Upgrade,
		websocket.New(s.relayHandler.HandleWebSocket, websocket.Config{
			ReadBufferSize:   s.cfg.WebSocket.ReadBufferSize,
			WriteBufferSize:  s.cfg.WebSocket.WriteBufferSize,
			HandshakeTimeout: s.cfg.WebSocket.HandshakeTimeout,
		}))
}

// Listen 주어진 리스너로 서비스 (테스트용)
func (s *Server) Listen(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Run 서버 시작. ctx가 끝나면 Graceful Shutdown
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("realtime canvas starting",
			zap.String("addr", s.cfg.Server.Port),
			zap.String("relay", "ws://localhost"+s.cfg.Server.Port+"/ws/boards/:boardId"),
		)
		errCh <- s.app.Listen(s.cfg.Server.Port)
	}()

	select {
	case err := <-errCh:
		s.cancel()
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	if err := s.Shutdown(); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Shutdown 서버 종료. 릴레이 연결을 먼저 닫아 on_disconnect 정리를 끝낸다
func (s *Server) Shutdown() error {
	s.cancel()
	return s.app.ShutdownWithTimeout(s.cfg.Server.ShutdownTimeout)
}
