package room

type Participant struct {
	RoomCode string `redis:"room_code"`
	UserId   string `redis:"user_id"`
	Username string `redis:"username"`
	IsHost   bool   `redis:"is_host"`
	Status   string `redis:"status"`
	JoinedAt int64  `redis:"joined_at"`
	LeftAt   int64  `redis:"left_at"`
}

type SetParticipantParams struct {
	RoomCode string
	UserId   string
	Username string
	IsHost   bool
	Status   string
	JoinedAt int64
}

type GetParticipantParams struct {
	RoomCode string
	UserId   string
}

type UpdateParticipantStatusParams struct {
	RoomCode  string
	UserId    string
	Status    string
	Username  string
	UpdatedAt int64
}
