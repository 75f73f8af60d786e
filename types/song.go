package types

import "time"

// Song is a playable catalog entry.
type Song struct {
	// ID is the unique, monotonic identifier of the song.
	ID int `json:"id"`

	Title  string `json:"title"`
	Artist string `json:"artist"`

	// URL references the stored audio asset (e.g. "/uploads/<key>").
	URL string `json:"url"`

	// Muted hides the song from plain users.
	Muted bool `json:"muted"`

	CreatedAt time.Time `json:"createdAt"`
}

// SongRequest is a user suggestion awaiting admin approval or rejection.
// It is never updated in place.
type SongRequest struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist"`

	// RequestedBy is the username of the requester. It is informational only.
	RequestedBy string `json:"requestedBy"`

	CreatedAt time.Time `json:"createdAt"`
}

// BotCursor is the persisted update offset of the remote control surface.
type BotCursor struct {
	Offset int64 `json:"offset"`
}
