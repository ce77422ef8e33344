package boardsync

import (
	"strconv"
	"strings"

	"realtime-canvas/internal/model"
)

const copyPrefix = "Copy of "

func typeLabel(t model.EntityType) string {
	s := t.String()
	if s == "" {
		return "Shape"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// DisplayName returns "<Type> n" with n one past the highest number already
// used by an entity of that type.
func DisplayName(t model.EntityType, existing []model.Entity) string {
	label := typeLabel(t)
	prefix := label + " "
	highest := 0
	for _, e := range existing {
		if e.Type != t || !strings.HasPrefix(e.Name, prefix) {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(e.Name, prefix)); err == nil && n > highest {
			highest = n
		}
	}
	return prefix + strconv.Itoa(highest+1)
}

// CopyName names a duplicate. Copies of copies do not stack the prefix.
func CopyName(name string) string {
	if strings.HasPrefix(name, copyPrefix) {
		return name
	}
	return copyPrefix + name
}

// LayerName names a new layer "Layer n" after the layers that already exist.
func LayerName(existing []model.Layer) string {
	return "Layer " + strconv.Itoa(len(existing)+1)
}
