package room

const (
	StatusPending  = "pending"
	StatusActive   = "active"
	StatusLeft     = "left"
	StatusRejected = "rejected"
	StatusApproved = "approved"
)

// Room timestamps are unix milliseconds. An empty VideoURL means no video is set.
type Room struct {
	Id               string  `redis:"id"`
	Code             string  `redis:"code"`
	VideoURL         string  `redis:"video_url"`
	PlaybackPosition float64 `redis:"playback_position"`
	IsPlaying        bool    `redis:"is_playing"`
	SubtitleEnabled  bool    `redis:"subtitle_enabled"`
	CreatedAt        int64   `redis:"created_at"`
	UpdatedAt        int64   `redis:"updated_at"`
}

type CreateRoomParams struct {
	Id        string
	Code      string
	VideoURL  string
	CreatedAt int64
}

// UpdateRoomParams carries a partial update, nil fields are left untouched.
type UpdateRoomParams struct {
	Code             string
	VideoURL         *string
	PlaybackPosition *float64
	IsPlaying        *bool
	SubtitleEnabled  *bool
	UpdatedAt        int64
}
