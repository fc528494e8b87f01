package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	messageBufferSize = 16
	maxMessageSize    = 4096
)

// Client is a websocket Handle. Writes happen on its own goroutine; Send
// only queues.
type Client struct {
	id         uuid.UUID
	connection *websocket.Conn
	clock      clockwork.Clock
	log        zerolog.Logger

	state       atomic.Int32
	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

var _ Handle = (*Client)(nil)

// NewClient wraps connection and starts its writer.
func NewClient(connection *websocket.Conn, clock clockwork.Clock, log zerolog.Logger) *Client {
	id := uuid.New()
	c := &Client{
		id:          id,
		connection:  connection,
		clock:       clock,
		log:         log.With().Str("client_id", id.String()).Logger(),
		sendChannel: make(chan []byte, messageBufferSize),
		doneChannel: make(chan struct{}),
	}
	c.configureReads()
	c.wg.Add(1)
	go c.run()
	return c
}

func (c *Client) ID() uuid.UUID { return c.id }

func (c *Client) Liveness() Liveness { return Liveness(c.state.Load()) }

func (c *Client) Send(msg []byte) bool {
	if c.Liveness() != Open {
		return false
	}
	select {
	case c.sendChannel <- msg:
		return true
	default:
		c.log.Warn().Msg("send buffer full, dropping message")
		return false
	}
}

// ReadLoop blocks reading frames and hands each text frame to onMessage.
// It returns when the peer goes away or the read deadline passes, after
// marking the client as closing.
func (c *Client) ReadLoop(onMessage func([]byte)) error {
	for {
		kind, data, err := c.connection.ReadMessage()
		if err != nil {
			c.state.CompareAndSwap(int32(Open), int32(Closing))
			return err
		}
		if kind == websocket.TextMessage {
			onMessage(data)
		}
	}
}

// Close sends a close frame and releases the connection. It is idempotent.
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		c.state.CompareAndSwap(int32(Open), int32(Closing))
		close(c.doneChannel)
		// the writer must be gone before we write the close frame
		c.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.updateWriteDeadline()
		_ = c.connection.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = c.connection.Close()
		c.state.Store(int32(Closed))
	})
}

func (c *Client) run() {
	ticker := c.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.wg.Done()

	for {
		select {
		case msg := <-c.sendChannel:
			c.updateWriteDeadline()
			if err := c.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				c.state.CompareAndSwap(int32(Open), int32(Closing))
				return
			}
		case <-ticker.Chan():
			c.updateWriteDeadline()
			if err := c.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.state.CompareAndSwap(int32(Open), int32(Closing))
				return
			}
		case <-c.doneChannel:
			return
		}
	}
}

func (c *Client) configureReads() {
	c.connection.SetReadLimit(maxMessageSize)
	c.updateReadDeadline()
	c.connection.SetPongHandler(func(string) error {
		c.updateReadDeadline()
		return nil
	})
}

func (c *Client) updateWriteDeadline() {
	_ = c.connection.SetWriteDeadline(c.clock.Now().Add(writeDeadline))
}

func (c *Client) updateReadDeadline() {
	_ = c.connection.SetReadDeadline(c.clock.Now().Add(pongDeadline))
}
