package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBuffer     = 256
)

// Client is a websocket connection to the coordinator.
type Client struct {
	id       string
	userId   int
	conn     *websocket.Conn
	srv      *Server
	log      zerolog.Logger
	send     chan *ServerMessage
	stop     chan struct{}
	stopOnce sync.Once
	limiter  *rate.Limiter
}

// NewClient wraps conn for userId, 0 for anonymous connections. limiter
// bounds the inbound event rate.
func NewClient(conn *websocket.Conn, srv *Server, logger zerolog.Logger, userId int, limiter *rate.Limiter) *Client {
	id := uuid.NewString()
	return &Client{
		id:      id,
		userId:  userId,
		conn:    conn,
		srv:     srv,
		log:     logger.With().Str("conn", id).Int("user", userId).Logger(),
		send:    make(chan *ServerMessage, sendBuffer),
		stop:    make(chan struct{}),
		limiter: limiter,
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) UserId() int {
	return c.userId
}

func (c *Client) Send(msg *ServerMessage) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- msg:
	default:
		c.log.Warn().Str("event", msg.Event).Msg("send buffer full, dropping message")
		return false
	}
	return true
}

func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Serve registers the client and runs its pumps until the connection
// closes.
func (c *Client) Serve(ctx context.Context) {
	c.srv.Connect(c)
	go c.Write()
	c.Read(ctx)
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug().Msg("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Error().Err(err).Str("event", msg.Event).Msg("failed to serialize message")
				continue
			}
			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}

func (c *Client) Read(ctx context.Context) {
	defer func() {
		c.conn.Close()
		c.srv.Disconnect(c)
		c.Close()
		c.log.Debug().Msg("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws: read")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug().Err(err).Msg("error parsing message")
			c.Send(ErrInvalidMessage(-1))
			continue
		}
		msg.Timestamp = Now()

		if !c.limiter.Allow() {
			c.Send(errorEvent(msg.Id, EventError, ErrTooManyRequests))
			continue
		}

		c.srv.Handle(ctx, c, &msg)
	}
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn().Err(err).Msg("write message")
		}
		return false
	}
	return true
}
