package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"realtime-canvas/internal/auth"
)

// AuthHandler 인증 핸들러. 토큰 발급은 외부(IdP 또는 issue_token)에서 하고,
// 여기서는 브라우저용 쿠키 설정과 현재 사용자 조회만 담당한다
type AuthHandler struct {
	jwtManager   *auth.JWTManager
	accessExpiry time.Duration
	secureCookie bool
}

// NewAuthHandler AuthHandler 생성
func NewAuthHandler(jwtManager *auth.JWTManager, accessExpiry time.Duration, secureCookie bool) *AuthHandler {
	return &AuthHandler{
		jwtManager:   jwtManager,
		accessExpiry: accessExpiry,
		secureCookie: secureCookie,
	}
}

// SessionRequest 쿠키 세션 생성 요청
type SessionRequest struct {
	AccessToken string `json:"accessToken"`
}

// CreateSession 검증된 액세스 토큰을 HTTP-Only 쿠키로 설정
// 브라우저 WebSocket 연결은 이 쿠키로 인증된다
func (h *AuthHandler) CreateSession(c *fiber.Ctx) error {
	var req SessionRequest
	if err := c.BodyParser(&req); err != nil || req.AccessToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "accessToken is required",
		})
	}

	claims, err := h.jwtManager.ValidateAccessToken(req.AccessToken)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid or expired access token",
		})
	}

	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    req.AccessToken,
		Path:     "/",
		MaxAge:   int(h.accessExpiry.Seconds()),
		Secure:   h.secureCookie,
		HTTPOnly: true,
		SameSite: "Lax",
	})

	return c.JSON(fiber.Map{"user": claims.User()})
}

// Logout 액세스 토큰 쿠키 삭제
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   h.secureCookie,
		HTTPOnly: true,
	})

	return c.JSON(fiber.Map{
		"message": "logged out successfully",
	})
}

// GetMe 현재 사용자 정보
func (h *AuthHandler) GetMe(c *fiber.Ctx) error {
	user, ok := auth.UserFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "not authenticated",
		})
	}
	return c.JSON(user)
}
