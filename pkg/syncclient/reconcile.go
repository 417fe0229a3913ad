package syncclient

import (
	"encoding/json"
	"math"
	"slices"
	"time"
)

// DriftThreshold is how far the local position may drift from a pushed position before
// the player is seeked.
const DriftThreshold = 2 * time.Second

const (
	MessageTypeJoin           = "join"
	MessageTypeUserJoined     = "user_joined"
	MessageTypeUserLeft       = "user_left"
	MessageTypeRoomUpdate     = "room_update"
	MessageTypeSeek           = "seek"
	MessageTypeApprovalStatus = "approval_status"
	MessageTypeJoinRequest    = "join_request"
)

const (
	AdmissionUnknown  = ""
	AdmissionPending  = "pending"
	AdmissionApproved = "approved"
	AdmissionRejected = "rejected"
)

type ActionKind string

const (
	ActionLoad      ActionKind = "load"
	ActionPlay      ActionKind = "play"
	ActionPause     ActionKind = "pause"
	ActionSeek      ActionKind = "seek"
	ActionSubtitles ActionKind = "subtitles"
)

// Action is a side effect the player has to perform.
type Action struct {
	Kind     ActionKind
	VideoURL string
	Position float64
	Enabled  bool
}

// LocalState is the player state predicted by a client. Position is sampled at
// UpdatedAt and advances with wall time while IsPlaying.
type LocalState struct {
	UserId          string
	VideoURL        string
	Position        float64
	IsPlaying       bool
	SubtitleEnabled bool
	UpdatedAt       time.Time
	// LastInteraction is the time of the latest local play/pause/seek by the user.
	LastInteraction time.Time
	Viewers         []string
	Admission       string
}

// PositionAt extrapolates the playback position at now.
func (s LocalState) PositionAt(now time.Time) float64 {
	if !s.IsPlaying || s.UpdatedAt.IsZero() || now.Before(s.UpdatedAt) {
		return s.Position
	}

	return s.Position + now.Sub(s.UpdatedAt).Seconds()
}

func (s LocalState) anchored(now time.Time) LocalState {
	s.Position = s.PositionAt(now)
	s.UpdatedAt = now
	return s
}

// Interacted records a local user interaction at now.
func (s LocalState) Interacted(now time.Time) LocalState {
	s.LastInteraction = now
	return s
}

// Message is any frame the server pushes.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Position  float64         `json:"position,omitempty"`
	Username  string          `json:"username,omitempty"`
	UserId    string          `json:"userId,omitempty"`
	RequestId string          `json:"requestId,omitempty"`
	Status    string          `json:"status,omitempty"`
}

// RoomPayload is the room_update payload. Absent fields are left untouched.
type RoomPayload struct {
	VideoURL         *string    `json:"video_url,omitempty"`
	PlaybackPosition *float64   `json:"playback_position,omitempty"`
	IsPlaying        *bool      `json:"is_playing,omitempty"`
	SubtitleEnabled  *bool      `json:"subtitle_enabled,omitempty"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

// Reconcile merges msg into state and returns the new state together with the player
// actions it requires. state is not modified.
func Reconcile(state LocalState, msg Message, now time.Time) (LocalState, []Action) {
	state.Viewers = slices.Clone(state.Viewers)

	switch msg.Type {
	case MessageTypeRoomUpdate:
		var payload RoomPayload
		if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &payload) != nil {
			return state, nil
		}
		return reconcileRoom(state, payload, now)
	case MessageTypeSeek:
		state.Position = msg.Position
		state.UpdatedAt = now
		return state, []Action{{Kind: ActionSeek, Position: msg.Position}}
	case MessageTypeUserJoined:
		state.Viewers = append(state.Viewers, msg.Username)
	case MessageTypeUserLeft:
		if i := slices.Index(state.Viewers, msg.Username); i >= 0 {
			state.Viewers = slices.Delete(state.Viewers, i, i+1)
		}
	case MessageTypeApprovalStatus:
		if msg.UserId == state.UserId {
			state.Admission = msg.Status
		}
	}

	return state, nil
}

func reconcileRoom(state LocalState, payload RoomPayload, now time.Time) (LocalState, []Action) {
	var actions []Action

	sentAt := now
	if payload.UpdatedAt != nil {
		sentAt = *payload.UpdatedAt
	}

	videoChanged := payload.VideoURL != nil && *payload.VideoURL != state.VideoURL
	if videoChanged {
		state.VideoURL = *payload.VideoURL
		state.Position = 0
		if payload.PlaybackPosition != nil {
			state.Position = *payload.PlaybackPosition
		}
		state.UpdatedAt = now
		actions = append(actions, Action{Kind: ActionLoad, VideoURL: state.VideoURL, Position: state.Position})
	}

	if payload.IsPlaying != nil && *payload.IsPlaying != state.IsPlaying {
		// a user who acted after the update was sent keeps control of autoplay
		autoplayBlocked := *payload.IsPlaying && state.LastInteraction.After(sentAt)
		if !autoplayBlocked {
			state = state.anchored(now)
			state.IsPlaying = *payload.IsPlaying
			if state.IsPlaying {
				actions = append(actions, Action{Kind: ActionPlay, Position: state.Position})
			} else {
				actions = append(actions, Action{Kind: ActionPause, Position: state.Position})
			}
		}
	}

	if !videoChanged && payload.PlaybackPosition != nil {
		drift := math.Abs(state.PositionAt(now) - *payload.PlaybackPosition)
		if drift > DriftThreshold.Seconds() {
			state.Position = *payload.PlaybackPosition
			state.UpdatedAt = now
			actions = append(actions, Action{Kind: ActionSeek, Position: state.Position})
		}
	}

	if payload.SubtitleEnabled != nil && *payload.SubtitleEnabled != state.SubtitleEnabled {
		state.SubtitleEnabled = *payload.SubtitleEnabled
		actions = append(actions, Action{Kind: ActionSubtitles, Enabled: state.SubtitleEnabled})
	}

	return state, actions
}
