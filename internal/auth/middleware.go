package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"realtime-canvas/internal/model"
)

// tokenFrom 요청에서 토큰 추출 (Authorization 헤더 > 쿠키 > token 쿼리)
// 브라우저 WebSocket은 헤더를 못 붙이므로 쿼리 파라미터도 허용
func tokenFrom(c *fiber.Ctx) (string, error) {
	if authHeader := c.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return "", errors.New("invalid authorization header format")
		}
		return parts[1], nil
	}
	if token := c.Cookies("access_token"); token != "" {
		return token, nil
	}
	if token := c.Query("token"); token != "" {
		return token, nil
	}
	return "", errors.New("missing authorization token")
}

func setLocals(c *fiber.Ctx, claims *Claims) {
	c.Locals("userID", claims.UserID)
	c.Locals("name", claims.Name)
	c.Locals("photoURL", claims.PhotoURL)
	c.Locals("claims", claims)
}

// AuthMiddleware JWT 인증 미들웨어
func AuthMiddleware(jwtManager *JWTManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := tokenFrom(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		// 토큰 검증
		claims, err := jwtManager.ValidateAccessToken(token)
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "token expired",
					"code":  "TOKEN_EXPIRED",
				})
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
			})
		}

		// 사용자 정보를 컨텍스트에 저장
		setLocals(c, claims)
		return c.Next()
	}
}

// OptionalAuthMiddleware 선택적 인증 미들웨어 (인증 실패해도 계속 진행)
func OptionalAuthMiddleware(jwtManager *JWTManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token, err := tokenFrom(c); err == nil {
			if claims, err := jwtManager.ValidateAccessToken(token); err == nil {
				setLocals(c, claims)
			}
		}
		return c.Next()
	}
}

// UserFromCtx 미들웨어가 저장한 사용자 조회
func UserFromCtx(c *fiber.Ctx) (model.User, bool) {
	claims, ok := c.Locals("claims").(*Claims)
	if !ok || claims == nil {
		return model.User{}, false
	}
	return claims.User(), true
}
