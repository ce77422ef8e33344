package model

import (
	"time"
)

// EntityType 도형 타입
type EntityType string

const (
	EntityRectangle EntityType = "rectangle"
	EntityCircle    EntityType = "circle"
	EntityText      EntityType = "text"
)

func (t EntityType) String() string {
	return string(t)
}

// Valid reports whether t is one of the known shape types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityRectangle, EntityCircle, EntityText:
		return true
	}
	return false
}

const (
	MinDimension     = 5.0
	DefaultDimension = 100.0
	DefaultOpacity   = 1.0
	DefaultFill      = "#3b82f6"

	DefaultLayerID   = "default"
	DefaultLayerName = "Default Layer"
)

// Point 캔버스 좌표
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p shifted by (dx, dy).
func (p Point) Add(dx, dy float64) Point {
	return Point{X: p.X + dx, Y: p.Y + dy}
}

// Sub returns the delta p - q.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// IsZero reports whether p is the origin.
func (p Point) IsZero() bool {
	return p.X == 0 && p.Y == 0
}

// Entity 보드 위의 도형
type Entity struct {
	ID       string     `json:"id" validate:"required"`
	Type     EntityType `json:"type" validate:"oneof=rectangle circle text"`
	Position Point      `json:"position"`
	Width    float64    `json:"width" validate:"gte=5"`
	Height   float64    `json:"height" validate:"gte=5"`
	Rotation float64    `json:"rotation"`
	Fill     string     `json:"fill"`
	Opacity  float64    `json:"opacity" validate:"gte=0,lte=1"`
	Order    float64    `json:"order"`
	LayerID  string     `json:"layerId"`
	Visible  bool       `json:"visible"`
	Locked   bool       `json:"locked"`
	Name     string     `json:"name"`
	Text     string     `json:"text,omitempty"`

	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Ephemeral only, never written to the durable store.
	TransformingBy string `json:"transformingBy,omitempty"`
}

// Layer 레이어
type Layer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Visible   bool      `json:"visible"`
	Locked    bool      `json:"locked"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsDefault reports whether l is the board's default layer.
func (l Layer) IsDefault() bool {
	return l.ID == DefaultLayerID
}

// NewDefaultLayer builds the reserved default layer.
func NewDefaultLayer(now time.Time) Layer {
	return Layer{
		ID:        DefaultLayerID,
		Name:      DefaultLayerName,
		Visible:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// LayerPatch 레이어 부분 업데이트
type LayerPatch struct {
	Name    *string `json:"name,omitempty"`
	Visible *bool   `json:"visible,omitempty"`
	Locked  *bool   `json:"locked,omitempty"`
}

// ApplyTo writes the present fields onto l.
func (p LayerPatch) ApplyTo(l *Layer) {
	if p.Name != nil {
		l.Name = *p.Name
	}
	if p.Visible != nil {
		l.Visible = *p.Visible
	}
	if p.Locked != nil {
		l.Locked = *p.Locked
	}
}

// IsEmpty reports whether no field is set.
func (p LayerPatch) IsEmpty() bool {
	return p.Name == nil && p.Visible == nil && p.Locked == nil
}

// User 보드에 접속한 사용자
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	PhotoURL string `json:"photoURL,omitempty"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
