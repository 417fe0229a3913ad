package controller

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sharetube/syncserver/internal/service/room"
	"github.com/sharetube/syncserver/pkg/rest"
)

func (c controller) healthz(w http.ResponseWriter, r *http.Request) {
	rest.WriteJSON(w, http.StatusOK, rest.Envelope{
		"status": "ok",
		"rooms":  c.roomService.LiveRooms(),
	})
}

// readValid decodes and validates the request body, writing the error response itself.
func (c controller) readValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := rest.ReadJSON(r, dst); err != nil {
		c.logger.InfoContext(r.Context(), "failed to read json", "error", err)
		rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
		return false
	}

	if validationErrors, ok := c.validate.Validate(dst); !ok {
		c.logger.InfoContext(r.Context(), "validation failed", "errors", validationErrors)
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return false
	}

	return true
}

type createRoomRequest struct {
	Username string  `json:"username" validate:"required,max=32"`
	VideoURL *string `json:"video_url" validate:"omitempty,url"`
}

type createRoomResponse struct {
	Room   room.Room `json:"room"`
	UserId string    `json:"user_id"`
	Token  string    `json:"token"`
}

func (c controller) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if !c.readValid(w, r, &req) {
		return
	}

	userId := c.getUserId(r)
	createRoomResp, err := c.roomService.CreateRoom(r.Context(), &room.CreateRoomParams{
		UserId:   userId,
		Username: req.Username,
		VideoURL: req.VideoURL,
	})
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusCreated, rest.Envelope{"data": createRoomResponse{
		Room:   createRoomResp.Room,
		UserId: userId,
		Token:  createRoomResp.Token,
	}})
}

func (c controller) getRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := c.roomService.GetRoom(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": rm})
}

type updateRoomRequest struct {
	VideoURL         *string  `json:"video_url" validate:"omitempty,url"`
	PlaybackPosition *float64 `json:"playback_position" validate:"omitempty,gte=0"`
	IsPlaying        *bool    `json:"is_playing"`
	SubtitleEnabled  *bool    `json:"subtitle_enabled"`
}

func (c controller) updateRoom(w http.ResponseWriter, r *http.Request) {
	var req updateRoomRequest
	if !c.readValid(w, r, &req) {
		return
	}

	claims := c.getClaimsFromCtx(r.Context())
	rm, err := c.roomService.UpdateRoom(r.Context(), &room.UpdateRoomParams{
		RoomCode:         claims.RoomCode,
		SenderId:         claims.UserId,
		VideoURL:         req.VideoURL,
		PlaybackPosition: req.PlaybackPosition,
		IsPlaying:        req.IsPlaying,
		SubtitleEnabled:  req.SubtitleEnabled,
	})
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": rm})
}

// rosterEntry is the public view of a participant. User ids stay private since they
// identify a browser to the server.
type rosterEntry struct {
	Username string     `json:"username"`
	IsHost   bool       `json:"is_host"`
	Status   string     `json:"status"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at"`
}

func (c controller) listParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := c.roomService.ListParticipants(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	roster := make([]rosterEntry, 0, len(participants))
	for _, p := range participants {
		roster = append(roster, rosterEntry{
			Username: p.Username,
			IsHost:   p.IsHost,
			Status:   p.Status,
			JoinedAt: p.JoinedAt,
			LeftAt:   p.LeftAt,
		})
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": roster})
}

type requestJoinRequest struct {
	Username string `json:"username" validate:"required,max=32"`
}

// requestJoinResponse carries a member token when active, or a pending token that only
// lets the requester wait on /ws.
type requestJoinResponse struct {
	Status      string            `json:"status"`
	UserId      string            `json:"user_id"`
	Participant *room.Participant `json:"participant,omitempty"`
	Request     *room.JoinRequest `json:"request,omitempty"`
	Token       string            `json:"token,omitempty"`
}

func (c controller) requestJoin(w http.ResponseWriter, r *http.Request) {
	var req requestJoinRequest
	if !c.readValid(w, r, &req) {
		return
	}

	userId := c.getUserId(r)
	browser, browserVersion := parseBrowser(r.UserAgent())

	requestJoinResp, err := c.roomService.RequestJoin(r.Context(), &room.RequestJoinParams{
		RoomCode:       chi.URLParam(r, "code"),
		UserId:         userId,
		Username:       req.Username,
		Browser:        browser,
		BrowserVersion: browserVersion,
	})
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if requestJoinResp.Status == room.StatusPending {
		status = http.StatusAccepted
	}

	rest.WriteJSON(w, status, rest.Envelope{"data": requestJoinResponse{
		Status:      requestJoinResp.Status,
		UserId:      userId,
		Participant: requestJoinResp.Participant,
		Request:     requestJoinResp.JoinRequest,
		Token:       requestJoinResp.Token,
	}})
}

func (c controller) listJoinRequests(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", room.StatusPending, room.StatusApproved, room.StatusRejected:
	default:
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"error": "status must be one of [pending approved rejected]"})
		return
	}

	joinRequests, err := c.roomService.ListJoinRequests(r.Context(), chi.URLParam(r, "code"), status)
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": joinRequests})
}

type getJoinRequestResponse struct {
	Request room.JoinRequest `json:"request"`
	Token   string           `json:"token,omitempty"`
}

// getJoinRequest lets a requester poll its own request. Once approved the response carries
// the member token.
func (c controller) getJoinRequest(w http.ResponseWriter, r *http.Request) {
	roomCode := chi.URLParam(r, "code")

	jr, err := c.roomService.GetJoinRequest(r.Context(), roomCode, chi.URLParam(r, "id"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	if jr.UserId != c.getUserId(r) {
		c.writeError(w, r, room.ErrJoinRequestNotFound)
		return
	}

	resp := getJoinRequestResponse{Request: jr}
	if jr.Status == room.StatusApproved {
		token, err := c.roomService.IssueToken(r.Context(), roomCode, jr.UserId)
		if err != nil {
			c.writeError(w, r, err)
			return
		}
		resp.Token = token
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": resp})
}

func (c controller) approveJoinRequest(w http.ResponseWriter, r *http.Request) {
	jr, err := c.roomService.Approve(r.Context(), &room.ResolveJoinRequestParams{
		RoomCode:  chi.URLParam(r, "code"),
		RequestId: chi.URLParam(r, "id"),
	})
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": jr})
}

func (c controller) rejectJoinRequest(w http.ResponseWriter, r *http.Request) {
	jr, err := c.roomService.Reject(r.Context(), &room.ResolveJoinRequestParams{
		RoomCode:  chi.URLParam(r, "code"),
		RequestId: chi.URLParam(r, "id"),
	})
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": jr})
}
