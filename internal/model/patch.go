package model

import (
	"fmt"

	"realtime-canvas/internal/apperr"
)

// Field names the updatable entity fields. The set is closed: anything not
// listed here cannot be written through a Patch.
type Field string

const (
	FieldType     Field = "type"
	FieldPosition Field = "position"
	FieldWidth    Field = "width"
	FieldHeight   Field = "height"
	FieldRotation Field = "rotation"
	FieldFill     Field = "fill"
	FieldOpacity  Field = "opacity"
	FieldOrder    Field = "order"
	FieldLayerID  Field = "layerId"
	FieldVisible  Field = "visible"
	FieldLocked   Field = "locked"
	FieldName     Field = "name"
	FieldText     Field = "text"
)

// Patch is a partial entity. A nil pointer means "field not present".
type Patch struct {
	Type     *EntityType `json:"type,omitempty" validate:"omitempty,oneof=rectangle circle text"`
	Position *Point      `json:"position,omitempty"`
	Width    *float64    `json:"width,omitempty" validate:"omitempty,gte=5"`
	Height   *float64    `json:"height,omitempty" validate:"omitempty,gte=5"`
	Rotation *float64    `json:"rotation,omitempty"`
	Fill     *string     `json:"fill,omitempty"`
	Opacity  *float64    `json:"opacity,omitempty" validate:"omitempty,gte=0,lte=1"`
	Order    *float64    `json:"order,omitempty"`
	LayerID  *string     `json:"layerId,omitempty"`
	Visible  *bool       `json:"visible,omitempty"`
	Locked   *bool       `json:"locked,omitempty"`
	Name     *string     `json:"name,omitempty"`
	Text     *string     `json:"text,omitempty"`
}

// Fields lists the present fields in a stable order.
func (p Patch) Fields() []Field {
	fields := make([]Field, 0, 4)
	if p.Type != nil {
		fields = append(fields, FieldType)
	}
	if p.Position != nil {
		fields = append(fields, FieldPosition)
	}
	if p.Width != nil {
		fields = append(fields, FieldWidth)
	}
	if p.Height != nil {
		fields = append(fields, FieldHeight)
	}
	if p.Rotation != nil {
		fields = append(fields, FieldRotation)
	}
	if p.Fill != nil {
		fields = append(fields, FieldFill)
	}
	if p.Opacity != nil {
		fields = append(fields, FieldOpacity)
	}
	if p.Order != nil {
		fields = append(fields, FieldOrder)
	}
	if p.LayerID != nil {
		fields = append(fields, FieldLayerID)
	}
	if p.Visible != nil {
		fields = append(fields, FieldVisible)
	}
	if p.Locked != nil {
		fields = append(fields, FieldLocked)
	}
	if p.Name != nil {
		fields = append(fields, FieldName)
	}
	if p.Text != nil {
		fields = append(fields, FieldText)
	}
	return fields
}

// IsEmpty reports whether no field is present.
func (p Patch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// ApplyTo writes the present fields onto e.
func (p Patch) ApplyTo(e *Entity) {
	if p.Type != nil {
		e.Type = *p.Type
	}
	if p.Position != nil {
		e.Position = *p.Position
	}
	if p.Width != nil {
		e.Width = *p.Width
	}
	if p.Height != nil {
		e.Height = *p.Height
	}
	if p.Rotation != nil {
		e.Rotation = *p.Rotation
	}
	if p.Fill != nil {
		e.Fill = *p.Fill
	}
	if p.Opacity != nil {
		e.Opacity = *p.Opacity
	}
	if p.Order != nil {
		e.Order = *p.Order
	}
	if p.LayerID != nil {
		e.LayerID = *p.LayerID
	}
	if p.Visible != nil {
		e.Visible = *p.Visible
	}
	if p.Locked != nil {
		e.Locked = *p.Locked
	}
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.Text != nil {
		e.Text = *p.Text
	}
}

// CaptureFrom returns a patch with the same present fields as p, holding
// e's current values. It is the field-level before-state of an update.
func (p Patch) CaptureFrom(e Entity) Patch {
	var out Patch
	if p.Type != nil {
		out.Type = Ptr(e.Type)
	}
	if p.Position != nil {
		out.Position = Ptr(e.Position)
	}
	if p.Width != nil {
		out.Width = Ptr(e.Width)
	}
	if p.Height != nil {
		out.Height = Ptr(e.Height)
	}
	if p.Rotation != nil {
		out.Rotation = Ptr(e.Rotation)
	}
	if p.Fill != nil {
		out.Fill = Ptr(e.Fill)
	}
	if p.Opacity != nil {
		out.Opacity = Ptr(e.Opacity)
	}
	if p.Order != nil {
		out.Order = Ptr(e.Order)
	}
	if p.LayerID != nil {
		out.LayerID = Ptr(e.LayerID)
	}
	if p.Visible != nil {
		out.Visible = Ptr(e.Visible)
	}
	if p.Locked != nil {
		out.Locked = Ptr(e.Locked)
	}
	if p.Name != nil {
		out.Name = Ptr(e.Name)
	}
	if p.Text != nil {
		out.Text = Ptr(e.Text)
	}
	return out
}

// DiffersFrom reports whether applying p to e would change at least one field.
func (p Patch) DiffersFrom(e Entity) bool {
	next := e
	p.ApplyTo(&next)
	return next != e
}

// Merge returns p overlaid with the present fields of o.
func (p Patch) Merge(o Patch) Patch {
	out := p
	if o.Type != nil {
		out.Type = o.Type
	}
	if o.Position != nil {
		out.Position = o.Position
	}
	if o.Width != nil {
		out.Width = o.Width
	}
	if o.Height != nil {
		out.Height = o.Height
	}
	if o.Rotation != nil {
		out.Rotation = o.Rotation
	}
	if o.Fill != nil {
		out.Fill = o.Fill
	}
	if o.Opacity != nil {
		out.Opacity = o.Opacity
	}
	if o.Order != nil {
		out.Order = o.Order
	}
	if o.LayerID != nil {
		out.LayerID = o.LayerID
	}
	if o.Visible != nil {
		out.Visible = o.Visible
	}
	if o.Locked != nil {
		out.Locked = o.Locked
	}
	if o.Name != nil {
		out.Name = o.Name
	}
	if o.Text != nil {
		out.Text = o.Text
	}
	return out
}

// PatchFromEntity captures every persisted field of e.
func PatchFromEntity(e Entity) Patch {
	return Patch{
		Type:     Ptr(e.Type),
		Position: Ptr(e.Position),
		Width:    Ptr(e.Width),
		Height:   Ptr(e.Height),
		Rotation: Ptr(e.Rotation),
		Fill:     Ptr(e.Fill),
		Opacity:  Ptr(e.Opacity),
		Order:    Ptr(e.Order),
		LayerID:  Ptr(e.LayerID),
		Visible:  Ptr(e.Visible),
		Locked:   Ptr(e.Locked),
		Name:     Ptr(e.Name),
		Text:     Ptr(e.Text),
	}
}

// EntityFromPatch rebuilds an entity from a partial-entity record, filling
// missing fields with creation defaults.
func EntityFromPatch(id string, p Patch) Entity {
	e := Entity{
		ID:      id,
		Type:    EntityRectangle,
		Width:   DefaultDimension,
		Height:  DefaultDimension,
		Fill:    DefaultFill,
		Opacity: DefaultOpacity,
		LayerID: DefaultLayerID,
		Visible: true,
	}
	p.ApplyTo(&e)
	return e
}

// FieldPatch builds a single-field patch from a dynamic (field, value) pair.
// Unknown fields and mismatched value types are rejected.
func FieldPatch(field Field, value any) (Patch, error) {
	var p Patch
	switch field {
	case FieldPosition:
		v, ok := value.(Point)
		if !ok {
			return p, typeMismatch(field, "point", value)
		}
		p.Position = &v
	case FieldWidth, FieldHeight, FieldRotation, FieldOpacity, FieldOrder:
		v, ok := toFloat(value)
		if !ok {
			return p, typeMismatch(field, "number", value)
		}
		switch field {
		case FieldWidth:
			p.Width = &v
		case FieldHeight:
			p.Height = &v
		case FieldRotation:
			p.Rotation = &v
		case FieldOpacity:
			p.Opacity = &v
		case FieldOrder:
			p.Order = &v
		}
	case FieldFill, FieldLayerID, FieldName, FieldText:
		v, ok := value.(string)
		if !ok {
			return p, typeMismatch(field, "string", value)
		}
		switch field {
		case FieldFill:
			p.Fill = &v
		case FieldLayerID:
			p.LayerID = &v
		case FieldName:
			p.Name = &v
		case FieldText:
			p.Text = &v
		}
	case FieldVisible, FieldLocked:
		v, ok := value.(bool)
		if !ok {
			return p, typeMismatch(field, "bool", value)
		}
		if field == FieldVisible {
			p.Visible = &v
		} else {
			p.Locked = &v
		}
	default:
		return p, apperr.Validation(string(field), "is not an updatable field")
	}
	return p, ValidatePatch(p)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func typeMismatch(field Field, want string, got any) error {
	return apperr.Validation(string(field), fmt.Sprintf("expects %s, got %T", want, got))
}
