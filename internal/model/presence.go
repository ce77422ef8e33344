package model

import "time"

// PresenceUser 보드 접속자
type PresenceUser struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	PhotoURL    string    `json:"photoURL,omitempty"`
	JoinedAt    time.Time `json:"joinedAt"`
	LastSeen    time.Time `json:"lastSeen"`
}

// Cursor 실시간 커서 위치
type Cursor struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Position  Point     `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

// ShapePreview is an in-progress placement or paste before commit.
type ShapePreview struct {
	Type     EntityType `json:"type"`
	Position Point      `json:"position"`
	Width    float64    `json:"width"`
	Height   float64    `json:"height"`
	Fill     string     `json:"fill"`
	UserID   string     `json:"userId"`
	UserName string     `json:"userName"`
}
