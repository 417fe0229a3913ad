package connection

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("connection not found")
	ErrClosed   = errors.New("connection closed")
)

// Binding is what a registered connection is attached to.
type Binding struct {
	RoomCode string
	UserId   string
	Username string
	Waiting  bool
}

// Conn is the process-local side of one client transport. Outbound frames are queued
// into a bounded buffer drained by the transport writer.
type Conn struct {
	id        string
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func New(bufferSize int) *Conn {
	if bufferSize < 1 {
		bufferSize = 1
	}

	return &Conn{
		id:   uuid.NewString(),
		send: make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
}

func (c *Conn) Id() string {
	return c.id
}

// Messages is drained by the transport writer.
func (c *Conn) Messages() <-chan []byte {
	return c.send
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Enqueue never blocks. A full buffer closes the connection.
func (c *Conn) Enqueue(msg []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		c.Close()
		return ErrClosed
	}
}

// Close reports whether this call closed the connection.
func (c *Conn) Close() bool {
	closed := false
	c.closeOnce.Do(func() {
		close(c.done)
		closed = true
	})

	return closed
}

func (c *Conn) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

type Entry struct {
	Conn    *Conn
	Binding Binding
}
