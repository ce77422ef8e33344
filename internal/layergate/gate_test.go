package layergate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"realtime-canvas/internal/model"
)

func TestIsSelectable(t *testing.T) {
	tests := []struct {
		name         string
		entityVis    bool
		layer        *model.Layer
		wantSelected bool
	}{
		{"both visible", true, &model.Layer{Visible: true}, true},
		{"entity hidden", false, &model.Layer{Visible: true}, false},
		{"layer hidden", true, &model.Layer{Visible: false}, false},
		{"both hidden", false, &model.Layer{Visible: false}, false},
		{"no layer", true, nil, true},
		{"no layer entity hidden", false, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := model.Entity{Visible: tt.entityVis}
			assert.Equal(t, tt.wantSelected, IsSelectable(e, tt.layer))
		})
	}
}

func TestIsEditable(t *testing.T) {
	unlocked := &model.Layer{Visible: true}
	locked := &model.Layer{Visible: true, Locked: true}

	assert.True(t, IsEditable(model.Entity{}, unlocked))
	assert.False(t, IsEditable(model.Entity{Locked: true}, unlocked))
	assert.False(t, IsEditable(model.Entity{}, locked))
	assert.True(t, IsEditable(model.Entity{}, nil))

	// locked entities remain selectable
	e := model.Entity{Visible: true, Locked: true}
	assert.True(t, IsSelectable(e, unlocked))
	assert.False(t, IsEditable(e, unlocked))
}

func TestMarqueeSkipsHiddenEntities(t *testing.T) {
	layers := map[string]*model.Layer{
		"shown":  {ID: "shown", Visible: true},
		"hidden": {ID: "hidden", Visible: false},
	}
	layerOf := func(id string) *model.Layer { return layers[id] }

	entities := []model.Entity{
		{ID: "inside", Visible: true, LayerID: "shown", Position: model.Point{X: 10, Y: 10}, Width: 20, Height: 20},
		{ID: "hidden-entity", Visible: false, LayerID: "shown", Position: model.Point{X: 10, Y: 10}, Width: 20, Height: 20},
		{ID: "hidden-layer", Visible: true, LayerID: "hidden", Position: model.Point{X: 10, Y: 10}, Width: 20, Height: 20},
		{ID: "outside", Visible: true, LayerID: "shown", Position: model.Point{X: 500, Y: 500}, Width: 20, Height: 20},
		{ID: "edge", Visible: true, LayerID: "shown", Position: model.Point{X: 100, Y: 0}, Width: 10, Height: 10},
	}

	area := RectFromPoints(model.Point{X: 100, Y: 100}, model.Point{X: 0, Y: 0})
	assert.Equal(t, []string{"inside", "edge"}, Marquee(entities, layerOf, area))
}
