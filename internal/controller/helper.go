package controller

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sharetube/syncserver/internal/service/room"
	"github.com/sharetube/syncserver/pkg/rest"
)

const (
	headerPrefix = "St-"
	userIdLength = 32
)

func (c controller) generateTimeBasedId() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + uuid.NewString()[:8]
}

func (c controller) header(r *http.Request, key string) string {
	return r.Header.Get(headerPrefix + key)
}

// getUserId returns the caller's browser identity: a keyed digest of the network origin,
// the User-Agent and the St-Fingerprint header. Clients cannot choose it.
func (c controller) getUserId(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	mac := hmac.New(sha256.New, []byte(c.cfg.Secret))
	mac.Write([]byte(host + "|" + r.UserAgent() + "|" + c.header(r, "Fingerprint")))

	return hex.EncodeToString(mac.Sum(nil))[:userIdLength]
}

var browserPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"Edge", regexp.MustCompile(`Edg(?:e|A|iOS)?/([\d.]+)`)},
	{"Opera", regexp.MustCompile(`(?:OPR|Opera)/([\d.]+)`)},
	{"Firefox", regexp.MustCompile(`(?:Firefox|FxiOS)/([\d.]+)`)},
	{"Chrome", regexp.MustCompile(`(?:Chrome|CriOS)/([\d.]+)`)},
	{"Safari", regexp.MustCompile(`Version/([\d.]+).*Safari/`)},
}

// parseBrowser extracts the browser name and version from a User-Agent header.
func parseBrowser(userAgent string) (string, string) {
	for _, p := range browserPatterns {
		if m := p.re.FindStringSubmatch(userAgent); m != nil {
			return p.name, m[1]
		}
	}

	if userAgent == "" {
		return "", ""
	}

	name, version, _ := strings.Cut(strings.Fields(userAgent)[0], "/")
	return name, version
}

func (c controller) bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}

	return token, true
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, room.ErrRoomNotFound),
		errors.Is(err, room.ErrJoinRequestNotFound),
		errors.Is(err, room.ErrParticipantNotFound):
		return http.StatusNotFound
	case errors.Is(err, room.ErrPermissionDenied),
		errors.Is(err, room.ErrNotAdmitted),
		errors.Is(err, room.ErrAlreadyJoined):
		return http.StatusForbidden
	case errors.Is(err, room.ErrInvalidPosition),
		errors.Is(err, room.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, room.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, room.ErrRoomCodeExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (c controller) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		c.logger.ErrorContext(r.Context(), "request failed", "error", err)
		rest.WriteJSON(w, status, rest.Envelope{"error": "internal server error"})
		return
	}

	c.logger.InfoContext(r.Context(), "request rejected", "status", status, "error", err)
	rest.WriteJSON(w, status, rest.Envelope{"error": err.Error()})
}
