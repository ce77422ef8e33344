package handler

import (
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"realtime-canvas/internal/apperr"
	"realtime-canvas/internal/auth"
	"realtime-canvas/internal/boardsync"
	"realtime-canvas/internal/durable"
	"realtime-canvas/internal/model"
)

// BoardHandler 보드 REST 핸들러 (durable store 직접 접근)
// 실시간 편집은 세션/릴레이 경로를 타고, 이 핸들러는 조회·외부 연동용이다.
type BoardHandler struct {
	store durable.Store
	clock clock.Clock
	log   *zap.Logger
}

// NewBoardHandler BoardHandler 생성
func NewBoardHandler(store durable.Store, clk clock.Clock, log *zap.Logger) *BoardHandler {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BoardHandler{store: store, clock: clk, log: log.Named("board-handler")}
}

// CreateEntityRequest 도형 생성 요청. 빈 값은 기본값으로 채운다
type CreateEntityRequest struct {
	ID       string           `json:"id"`
	Type     model.EntityType `json:"type"`
	Position model.Point      `json:"position"`
	Width    float64          `json:"width"`
	Height   float64          `json:"height"`
	Rotation float64          `json:"rotation"`
	Fill     string           `json:"fill"`
	Opacity  *float64         `json:"opacity"`
	Order    *float64         `json:"order"`
	LayerID  string           `json:"layerId"`
	Name     string           `json:"name"`
	Text     string           `json:"text"`
}

// CreateLayerRequest 레이어 생성 요청
type CreateLayerRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GetBoard 보드 전체 스냅샷 조회
func (h *BoardHandler) GetBoard(c *fiber.Ctx) error {
	snap, err := h.store.Load(c.UserContext(), c.Params("boardId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(snap)
}

// CreateEntity 도형 생성
func (h *BoardHandler) CreateEntity(c *fiber.Ctx) error {
	board := c.Params("boardId")
	var req CreateEntityRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	snap, err := h.store.Load(c.UserContext(), board)
	if err != nil {
		return h.fail(c, err)
	}
	e := h.buildEntity(c, req, snap)
	if err := model.ValidateEntity(e); err != nil {
		return h.fail(c, err)
	}

	stored, err := h.store.CreateEntity(c.UserContext(), board, e)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(stored)
}

func (h *BoardHandler) buildEntity(c *fiber.Ctx, req CreateEntityRequest, snap durable.Snapshot) model.Entity {
	now := h.clock.Now()
	e := model.Entity{
		ID:        req.ID,
		Type:      req.Type,
		Position:  req.Position,
		Width:     req.Width,
		Height:    req.Height,
		Rotation:  req.Rotation,
		Fill:      req.Fill,
		Opacity:   model.DefaultOpacity,
		LayerID:   req.LayerID,
		Visible:   true,
		Name:      req.Name,
		Text:      req.Text,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if u, ok := auth.UserFromCtx(c); ok {
		e.CreatedBy = u.ID
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Type == "" {
		e.Type = model.EntityRectangle
	}
	if e.Width == 0 {
		e.Width = model.DefaultDimension
	}
	if e.Height == 0 {
		e.Height = model.DefaultDimension
	}
	if e.Fill == "" {
		e.Fill = model.DefaultFill
	}
	if req.Opacity != nil {
		e.Opacity = *req.Opacity
	}

	var top float64
	for _, x := range snap.Entities {
		if x.Order > top {
			top = x.Order
		}
	}
	if req.Order != nil {
		e.Order = *req.Order
	} else {
		e.Order = top + 1
	}

	known := false
	for _, l := range snap.Layers {
		if l.ID == e.LayerID {
			known = true
			break
		}
	}
	if !known {
		e.LayerID = model.DefaultLayerID
	}
	if e.Name == "" {
		e.Name = boardsync.DisplayName(e.Type, snap.Entities)
	}
	return e
}

// UpdateEntity 도형 부분 수정
func (h *BoardHandler) UpdateEntity(c *fiber.Ctx) error {
	var p model.Patch
	if err := c.BodyParser(&p); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if p.IsEmpty() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "empty patch"})
	}
	if err := model.ValidatePatch(p); err != nil {
		return h.fail(c, err)
	}
	if err := h.store.UpdateEntity(c.UserContext(), c.Params("boardId"), c.Params("id"), p); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteEntity 도형 삭제
func (h *BoardHandler) DeleteEntity(c *fiber.Ctx) error {
	if err := h.store.DeleteEntity(c.UserContext(), c.Params("boardId"), c.Params("id")); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// CreateLayer 레이어 생성
func (h *BoardHandler) CreateLayer(c *fiber.Ctx) error {
	board := c.Params("boardId")
	var req CreateLayerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.ID == model.DefaultLayerID {
		return h.fail(c, apperr.ErrDefaultLayer)
	}

	snap, err := h.store.Load(c.UserContext(), board)
	if err != nil {
		return h.fail(c, err)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Name == "" {
		req.Name = boardsync.LayerName(snap.Layers)
	}

	now := h.clock.Now()
	l, err := h.store.CreateLayer(c.UserContext(), board, model.Layer{
		ID:        req.ID,
		Name:      req.Name,
		Visible:   true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(l)
}

// UpdateLayer 레이어 이름/표시/잠금 변경
func (h *BoardHandler) UpdateLayer(c *fiber.Ctx) error {
	var p model.LayerPatch
	if err := c.BodyParser(&p); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if p.IsEmpty() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "empty patch"})
	}
	if err := h.store.UpdateLayer(c.UserContext(), c.Params("boardId"), c.Params("id"), p); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteLayer 레이어 삭제 (소속 도형은 기본 레이어로 이동)
func (h *BoardHandler) DeleteLayer(c *fiber.Ctx) error {
	if err := h.store.DeleteLayer(c.UserContext(), c.Params("boardId"), c.Params("id")); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// fail 도메인 에러를 HTTP 상태 코드로 변환
func (h *BoardHandler) fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case apperr.IsValidation(err):
		status = fiber.StatusBadRequest
	case errors.Is(err, apperr.ErrDefaultLayer), errors.Is(err, apperr.ErrTransformLocked):
		status = fiber.StatusConflict
	case errors.Is(err, durable.ErrNotFound), apperr.IsStale(err):
		status = fiber.StatusNotFound
	default:
		h.log.Error("board request failed",
			zap.String("board", c.Params("boardId")),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
