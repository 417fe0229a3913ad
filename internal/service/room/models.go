package room

import (
	"time"

	"github.com/sharetube/syncserver/internal/repository/room"
)

const (
	StatusPending  = room.StatusPending
	StatusActive   = room.StatusActive
	StatusLeft     = room.StatusLeft
	StatusApproved = room.StatusApproved
	StatusRejected = room.StatusRejected
)

type Room struct {
	Id               string    `json:"id"`
	Code             string    `json:"code"`
	VideoURL         *string   `json:"video_url"`
	PlaybackPosition float64   `json:"playback_position"`
	IsPlaying        bool      `json:"is_playing"`
	SubtitleEnabled  bool      `json:"subtitle_enabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Participant struct {
	UserId   string     `json:"user_id"`
	Username string     `json:"username"`
	IsHost   bool       `json:"is_host"`
	Status   string     `json:"status"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at"`
}

type JoinRequest struct {
	Id             string     `json:"id"`
	RoomCode       string     `json:"room_code"`
	UserId         string     `json:"user_id"`
	Username       string     `json:"username"`
	Browser        string     `json:"browser"`
	BrowserVersion string     `json:"browser_version"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at"`
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func optionalMillis(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}

	t := fromMillis(ms)
	return &t
}

func newRoom(r room.Room) Room {
	var videoURL *string
	if r.VideoURL != "" {
		videoURL = &r.VideoURL
	}

	return Room{
		Id:               r.Id,
		Code:             r.Code,
		VideoURL:         videoURL,
		PlaybackPosition: r.PlaybackPosition,
		IsPlaying:        r.IsPlaying,
		SubtitleEnabled:  r.SubtitleEnabled,
		CreatedAt:        fromMillis(r.CreatedAt),
		UpdatedAt:        fromMillis(r.UpdatedAt),
	}
}

func newParticipant(p room.Participant) Participant {
	return Participant{
		UserId:   p.UserId,
		Username: p.Username,
		IsHost:   p.IsHost,
		Status:   p.Status,
		JoinedAt: fromMillis(p.JoinedAt),
		LeftAt:   optionalMillis(p.LeftAt),
	}
}

func newJoinRequest(jr room.JoinRequest) JoinRequest {
	return JoinRequest{
		Id:             jr.Id,
		RoomCode:       jr.RoomCode,
		UserId:         jr.UserId,
		Username:       jr.Username,
		Browser:        jr.Browser,
		BrowserVersion: jr.BrowserVersion,
		Status:         jr.Status,
		CreatedAt:      fromMillis(jr.CreatedAt),
		ResolvedAt:     optionalMillis(jr.ResolvedAt),
	}
}
