package middleware

import (
	"github.com/gofiber/fiber/v2"

	"realtime-canvas/internal/auth"
	"realtime-canvas/internal/model"
)

// RequireBoard 보드 ID와 사용자 ID 형식 확인 미들웨어 (AuthMiddleware 다음에 위치)
// 두 값 모두 ephemeral 경로와 Redis 채널 이름의 일부가 된다
func RequireBoard() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, ok := auth.UserFromCtx(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}
		if err := model.ValidateKey("userId", user.ID); err != nil {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		boardID := c.Params("boardId")
		if err := model.ValidateKey("boardId", boardID); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		// 보드 ID를 컨텍스트에 저장
		c.Locals("boardID", boardID)
		return c.Next()
	}
}
