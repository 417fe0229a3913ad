package room

type JoinRequest struct {
	Id             string `redis:"id"`
	RoomCode       string `redis:"room_code"`
	UserId         string `redis:"user_id"`
	Username       string `redis:"username"`
	Browser        string `redis:"browser"`
	BrowserVersion string `redis:"browser_version"`
	Status         string `redis:"status"`
	CreatedAt      int64  `redis:"created_at"`
	ResolvedAt     int64  `redis:"resolved_at"`
}

type CreateJoinRequestParams struct {
	Id             string
	RoomCode       string
	UserId         string
	Username       string
	Browser        string
	BrowserVersion string
	CreatedAt      int64
}

type GetJoinRequestParams struct {
	RoomCode  string
	RequestId string
}

// ResolveJoinRequestParams resolves a pending request. Approval also activates the
// requester as a participant in the same write.
type ResolveJoinRequestParams struct {
	RoomCode   string
	RequestId  string
	Status     string
	ResolvedAt int64
}
