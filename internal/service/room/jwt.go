package room

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identify a browser within a room. A Pending token only lets its holder wait on
// /ws for the outcome of its join request.
type Claims struct {
	RoomCode string
	UserId   string
	IsHost   bool
	Pending  bool
}

func (s service) generateJWT(claims *Claims) (string, error) {
	mapClaims := jwt.MapClaims{
		"room_code": claims.RoomCode,
		"user_id":   claims.UserId,
		"is_host":   claims.IsHost,
	}
	if claims.Pending {
		mapClaims["pending"] = true
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims)

	return token.SignedString([]byte(s.secret))
}

// ParseJWT verifies tokenString and returns its claims.
func (s service) ParseJWT(tokenString string) (Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	roomCode, ok := mapClaims["room_code"].(string)
	if !ok || roomCode == "" {
		return Claims{}, ErrInvalidToken
	}

	userId, ok := mapClaims["user_id"].(string)
	if !ok || userId == "" {
		return Claims{}, ErrInvalidToken
	}

	isHost, _ := mapClaims["is_host"].(bool)
	pending, _ := mapClaims["pending"].(bool)

	return Claims{
		RoomCode: roomCode,
		UserId:   userId,
		IsHost:   isHost,
		Pending:  pending,
	}, nil
}

// issueToken signs a token for an active participant.
func (s service) issueToken(p Participant, roomCode string) (string, error) {
	token, err := s.generateJWT(&Claims{
		RoomCode: roomCode,
		UserId:   p.UserId,
		IsHost:   p.IsHost,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return token, nil
}

// issuePendingToken signs a token for a requester waiting for approval.
func (s service) issuePendingToken(roomCode, userId string) (string, error) {
	token, err := s.generateJWT(&Claims{
		RoomCode: roomCode,
		UserId:   userId,
		Pending:  true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return token, nil
}
