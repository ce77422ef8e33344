package model

import (
	"time"
)

// EntityRecord 도형 영속 레코드
type EntityRecord struct {
	BoardID   string    `gorm:"primaryKey;type:varchar(64);index:idx_canvas_entities_board_order,priority:1" json:"board_id"`
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Type      string    `gorm:"type:varchar(20);not null" json:"type"`
	X         float64   `gorm:"not null" json:"x"`
	Y         float64   `gorm:"not null" json:"y"`
	Width     float64   `gorm:"not null" json:"width"`
	Height    float64   `gorm:"not null" json:"height"`
	Rotation  float64   `json:"rotation"`
	Fill      string    `gorm:"type:varchar(32)" json:"fill"`
	Opacity   float64   `json:"opacity"`
	SortOrder float64   `gorm:"column:sort_order;index:idx_canvas_entities_board_order,priority:2" json:"order"`
	LayerID   string    `gorm:"type:varchar(64);index" json:"layer_id"`
	Visible   bool      `json:"visible"`
	Locked    bool      `json:"locked"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Text      string    `gorm:"type:text" json:"text"`
	CreatedBy string    `gorm:"type:varchar(64)" json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (EntityRecord) TableName() string {
	return "canvas_entities"
}

// NewEntityRecord maps an entity onto its table row. TransformingBy is dropped.
func NewEntityRecord(boardID string, e Entity) EntityRecord {
	return EntityRecord{
		BoardID:   boardID,
		ID:        e.ID,
		Type:      e.Type.String(),
		X:         e.Position.X,
		Y:         e.Position.Y,
		Width:     e.Width,
		Height:    e.Height,
		Rotation:  e.Rotation,
		Fill:      e.Fill,
		Opacity:   e.Opacity,
		SortOrder: e.Order,
		LayerID:   e.LayerID,
		Visible:   e.Visible,
		Locked:    e.Locked,
		Name:      e.Name,
		Text:      e.Text,
		CreatedBy: e.CreatedBy,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

// Entity converts the row back into an entity.
func (r EntityRecord) Entity() Entity {
	return Entity{
		ID:        r.ID,
		Type:      EntityType(r.Type),
		Position:  Point{X: r.X, Y: r.Y},
		Width:     r.Width,
		Height:    r.Height,
		Rotation:  r.Rotation,
		Fill:      r.Fill,
		Opacity:   r.Opacity,
		Order:     r.SortOrder,
		LayerID:   r.LayerID,
		Visible:   r.Visible,
		Locked:    r.Locked,
		Name:      r.Name,
		Text:      r.Text,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// PatchColumns maps the present fields of p onto column names for a partial UPDATE.
func PatchColumns(p Patch) map[string]any {
	cols := make(map[string]any)
	if p.Type != nil {
		cols["type"] = p.Type.String()
	}
	if p.Position != nil {
		cols["x"] = p.Position.X
		cols["y"] = p.Position.Y
	}
	if p.Width != nil {
		cols["width"] = *p.Width
	}
	if p.Height != nil {
		cols["height"] = *p.Height
	}
	if p.Rotation != nil {
		cols["rotation"] = *p.Rotation
	}
	if p.Fill != nil {
		cols["fill"] = *p.Fill
	}
	if p.Opacity != nil {
		cols["opacity"] = *p.Opacity
	}
	if p.Order != nil {
		cols["sort_order"] = *p.Order
	}
	if p.LayerID != nil {
		cols["layer_id"] = *p.LayerID
	}
	if p.Visible != nil {
		cols["visible"] = *p.Visible
	}
	if p.Locked != nil {
		cols["locked"] = *p.Locked
	}
	if p.Name != nil {
		cols["name"] = *p.Name
	}
	if p.Text != nil {
		cols["text"] = *p.Text
	}
	return cols
}

// LayerRecord 레이어 영속 레코드
type LayerRecord struct {
	BoardID   string    `gorm:"primaryKey;type:varchar(64)" json:"board_id"`
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	Visible   bool      `json:"visible"`
	Locked    bool      `json:"locked"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (LayerRecord) TableName() string {
	return "canvas_layers"
}

// NewLayerRecord maps a layer onto its table row.
func NewLayerRecord(boardID string, l Layer) LayerRecord {
	return LayerRecord{
		BoardID:   boardID,
		ID:        l.ID,
		Name:      l.Name,
		Visible:   l.Visible,
		Locked:    l.Locked,
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
}

// Layer converts the row back into a layer.
func (r LayerRecord) Layer() Layer {
	return Layer{
		ID:        r.ID,
		Name:      r.Name,
		Visible:   r.Visible,
		Locked:    r.Locked,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// LayerPatchColumns maps the present fields of p onto column names.
func LayerPatchColumns(p LayerPatch) map[string]any {
	cols := make(map[string]any)
	if p.Name != nil {
		cols["name"] = *p.Name
	}
	if p.Visible != nil {
		cols["visible"] = *p.Visible
	}
	if p.Locked != nil {
		cols["locked"] = *p.Locked
	}
	return cols
}
