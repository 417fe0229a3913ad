package inmemory

import (
	"log/slog"
	"sync"

	"github.com/sharetube/syncserver/internal/repository/connection"
	"golang.org/x/exp/maps"
)

type roomConns struct {
	mu      sync.Mutex
	joined  map[*connection.Conn]connection.Binding
	waiting map[*connection.Conn]connection.Binding
	// set once the room became empty; a dead entry is replaced, never reused
	dead bool
}

func newRoomConns() *roomConns {
	return &roomConns{
		joined:  make(map[*connection.Conn]connection.Binding),
		waiting: make(map[*connection.Conn]connection.Binding),
	}
}

func (rc *roomConns) empty() bool {
	return len(rc.joined) == 0 && len(rc.waiting) == 0
}

type repo struct {
	mu     sync.RWMutex
	rooms  map[string]*roomConns
	index  sync.Map // *connection.Conn -> room code
	logger *slog.Logger
}

func NewRepo(logger *slog.Logger) *repo {
	return &repo{
		rooms:  make(map[string]*roomConns),
		logger: logger,
	}
}

func (r *repo) getRoom(roomCode string) *roomConns {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.rooms[roomCode]
}

func (r *repo) getOrCreateRoom(roomCode string, stale *roomConns) *roomConns {
	if stale == nil {
		if rc := r.getRoom(roomCode); rc != nil {
			return rc
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rc, ok := r.rooms[roomCode]
	if !ok || rc == stale {
		rc = newRoomConns()
		r.rooms[roomCode] = rc
	}

	return rc
}

func (r *repo) dropRoom(roomCode string, rc *roomConns) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[roomCode] == rc {
		delete(r.rooms, roomCode)
		r.logger.Debug("room dropped from registry", "room_code", roomCode)
	}
}

// withRoom runs fn under the room lock, creating the room entry when needed.
func (r *repo) withRoom(roomCode string, fn func(rc *roomConns)) {
	var stale *roomConns
	for {
		rc := r.getOrCreateRoom(roomCode, stale)
		rc.mu.Lock()
		if rc.dead {
			rc.mu.Unlock()
			stale = rc
			continue
		}
		fn(rc)
		rc.mu.Unlock()
		return
	}
}

// detach removes conn from the room it is bound to and returns the removed binding.
func (r *repo) detach(conn *connection.Conn, roomCode string) (connection.Binding, bool) {
	rc := r.getRoom(roomCode)
	if rc == nil {
		return connection.Binding{}, false
	}

	rc.mu.Lock()
	binding, ok := rc.joined[conn]
	if ok {
		delete(rc.joined, conn)
	} else if binding, ok = rc.waiting[conn]; ok {
		delete(rc.waiting, conn)
	}
	drop := rc.empty() && !rc.dead
	if drop {
		rc.dead = true
	}
	rc.mu.Unlock()

	if drop {
		r.dropRoom(roomCode, rc)
	}

	return binding, ok
}

// Register binds conn to the joined set of roomCode. It reports whether the connection
// was not already joined to that room.
func (r *repo) Register(conn *connection.Conn, roomCode, userId, username string) bool {
	if prev, ok := r.index.Load(conn); ok && prev.(string) != roomCode {
		r.detach(conn, prev.(string))
	}

	added := false
	r.withRoom(roomCode, func(rc *roomConns) {
		if _, ok := rc.joined[conn]; !ok {
			added = true
		}
		delete(rc.waiting, conn)
		rc.joined[conn] = connection.Binding{
			RoomCode: roomCode,
			UserId:   userId,
			Username: username,
		}
	})
	r.index.Store(conn, roomCode)

	r.logger.Debug("connection registered", "conn_id", conn.Id(), "room_code", roomCode, "user_id", userId, "added", added)
	return added
}

// RegisterWaiting binds conn to the waiting set of roomCode. Waiting connections only
// receive messages addressed to their identity.
func (r *repo) RegisterWaiting(conn *connection.Conn, roomCode, userId, username string) {
	if prev, ok := r.index.Load(conn); ok {
		r.detach(conn, prev.(string))
	}

	r.withRoom(roomCode, func(rc *roomConns) {
		rc.waiting[conn] = connection.Binding{
			RoomCode: roomCode,
			UserId:   userId,
			Username: username,
			Waiting:  true,
		}
	})
	r.index.Store(conn, roomCode)

	r.logger.Debug("connection waiting", "conn_id", conn.Id(), "room_code", roomCode, "user_id", userId)
}

// Promote moves the waiting connections of userId into the joined set.
func (r *repo) Promote(roomCode, userId string) []connection.Entry {
	rc := r.getRoom(roomCode)
	if rc == nil {
		return nil
	}

	var promoted []connection.Entry
	rc.mu.Lock()
	for conn, binding := range rc.waiting {
		if binding.UserId != userId {
			continue
		}
		delete(rc.waiting, conn)
		binding.Waiting = false
		rc.joined[conn] = binding
		promoted = append(promoted, connection.Entry{Conn: conn, Binding: binding})
	}
	rc.mu.Unlock()

	return promoted
}

// RemoveWaiting unbinds the waiting connections of userId without closing them.
func (r *repo) RemoveWaiting(roomCode, userId string) []*connection.Conn {
	rc := r.getRoom(roomCode)
	if rc == nil {
		return nil
	}

	var removed []*connection.Conn
	rc.mu.Lock()
	for conn, binding := range rc.waiting {
		if binding.UserId == userId {
			delete(rc.waiting, conn)
			removed = append(removed, conn)
		}
	}
	drop := rc.empty() && !rc.dead
	if drop {
		rc.dead = true
	}
	rc.mu.Unlock()

	for _, conn := range removed {
		r.index.CompareAndDelete(conn, roomCode)
	}

	if drop {
		r.dropRoom(roomCode, rc)
	}

	return removed
}

// Unregister removes conn from whatever set it was in. ok is false when the connection
// was not registered, so concurrent callers observe a binding at most once.
func (r *repo) Unregister(conn *connection.Conn) (connection.Binding, bool) {
	roomCode, ok := r.index.LoadAndDelete(conn)
	if !ok {
		return connection.Binding{}, false
	}

	binding, ok := r.detach(conn, roomCode.(string))
	r.logger.Debug("connection unregistered", "conn_id", conn.Id(), "room_code", roomCode, "found", ok)

	return binding, ok
}

func (r *repo) Lookup(conn *connection.Conn) (connection.Binding, bool) {
	roomCode, ok := r.index.Load(conn)
	if !ok {
		return connection.Binding{}, false
	}

	rc := r.getRoom(roomCode.(string))
	if rc == nil {
		return connection.Binding{}, false
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if binding, ok := rc.joined[conn]; ok {
		return binding, true
	}
	binding, ok := rc.waiting[conn]

	return binding, ok
}

func (r *repo) snapshot(roomCode string, filter func(connection.Binding) bool, withWaiting bool) []*connection.Conn {
	rc := r.getRoom(roomCode)
	if rc == nil {
		return nil
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if filter == nil {
		return maps.Keys(rc.joined)
	}

	conns := make([]*connection.Conn, 0)
	for conn, binding := range rc.joined {
		if filter(binding) {
			conns = append(conns, conn)
		}
	}
	if withWaiting {
		for conn, binding := range rc.waiting {
			if filter(binding) {
				conns = append(conns, conn)
			}
		}
	}

	return conns
}

func (r *repo) deliver(conns []*connection.Conn, msg []byte, exclude *connection.Conn) int {
	delivered := 0
	for _, conn := range conns {
		if conn == exclude {
			continue
		}
		if err := conn.Enqueue(msg); err != nil {
			r.logger.Debug("skipping connection", "conn_id", conn.Id(), "error", err)
			continue
		}
		delivered++
	}

	return delivered
}

// Broadcast delivers msg to every joined connection of roomCode except exclude. It never
// blocks on a recipient; a recipient that cannot take the message is closed.
func (r *repo) Broadcast(roomCode string, msg []byte, exclude *connection.Conn) int {
	return r.deliver(r.snapshot(roomCode, nil, false), msg, exclude)
}

// SendTo delivers msg to the joined and waiting connections of userId.
func (r *repo) SendTo(roomCode, userId string, msg []byte) int {
	conns := r.snapshot(roomCode, func(b connection.Binding) bool {
		return b.UserId == userId
	}, true)

	return r.deliver(conns, msg, nil)
}

// HasUser reports whether userId has a joined connection in roomCode.
func (r *repo) HasUser(roomCode, userId string) bool {
	conns := r.snapshot(roomCode, func(b connection.Binding) bool {
		return b.UserId == userId
	}, false)

	return len(conns) > 0
}

// Members returns the bindings of the joined connections of roomCode.
func (r *repo) Members(roomCode string) []connection.Binding {
	rc := r.getRoom(roomCode)
	if rc == nil {
		return nil
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	return maps.Values(rc.joined)
}

func (r *repo) Len(roomCode string) int {
	rc := r.getRoom(roomCode)
	if rc == nil {
		return 0
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	return len(rc.joined)
}

func (r *repo) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return maps.Keys(r.rooms)
}

// Close closes every registered connection. Bindings are released by the connection
// owners as their transports shut down.
func (r *repo) Close() {
	r.mu.RLock()
	rooms := maps.Values(r.rooms)
	r.mu.RUnlock()

	closed := 0
	for _, rc := range rooms {
		rc.mu.Lock()
		conns := append(maps.Keys(rc.joined), maps.Keys(rc.waiting)...)
		rc.mu.Unlock()

		for _, conn := range conns {
			if conn.Close() {
				closed++
			}
		}
	}

	r.logger.Info("connection registry closed", "closed_connections", closed)
}
