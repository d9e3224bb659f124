// Package server manages individual WebSocket clients, handling read/write
// pumps, command dispatch, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/relaychat/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one WebSocket connection. Its read pump applies commands to the
// coordinator one at a time, which keeps per-connection ordering.
type Client struct {
	id             session.ConnID
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	coordinator    *session.Coordinator
	addr           string
	closed         bool
	maxMessageSize int64
}

// NewClient creates a Client with a fresh connection id. The client's send
// channel is buffered to absorb bursts.
func NewClient(conn *websocket.Conn, hub *Hub, coordinator *session.Coordinator, addr string, cfg Config) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		id:             session.ConnID(uuid.NewString()),
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		hub:            hub,
		coordinator:    coordinator,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
	}
}

// ID returns the connection id assigned to the client.
func (c *Client) ID() session.ConnID {
	return c.id
}

// GetSendChan returns the client's send channel for reading outgoing frames.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Warn().Err(err).Str("addr", c.addr).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Warn().Err(err).Str("addr", c.addr).Msg("error setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs the read failure according to its kind. Every read
// error ends the read loop.
func (c *Client) handleReadError(err error) {
	logger := log.With().Str("conn_id", string(c.id)).Str("addr", c.addr).Logger()

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		logger.Warn().Int64("limit", c.maxMessageSize).Msg("message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		logger.Debug().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		logger.Debug().Err(err).Msg("client connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		logger.Warn().Err(err).Msg("unexpected WebSocket error")
	default:
		logger.Warn().Err(err).Msg("WebSocket read error")
	}
}

// processMessage decodes one inbound frame, applies it and queues the
// resulting deliveries. Malformed frames are answered with a notice.
func (c *Client) processMessage(raw []byte) bool {
	cmd, err := DecodeCommand(raw)
	if err != nil {
		log.Debug().Err(err).Str("conn_id", string(c.id)).Msg("invalid command")
		c.hub.Deliver([]session.Delivery{{
			To:    c.id,
			Event: session.SystemMessage{Text: "Unrecognized command."},
		}})
		return false
	}

	log.Debug().Str("conn_id", string(c.id)).Str("type", string(cmd.Type)).Msg("command received")
	c.hub.Deliver(cmd.Apply(c.coordinator, c.id))
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Warn().Err(err).Str("addr", c.addr).Msg("error closing connection in readPump")
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.processMessage(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	case <-c.hub.ctx.Done():
		return false
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		log.Warn().Err(err).Str("addr", c.addr).Msg("error closing connection in writePump")
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Warn().Err(err).Str("addr", c.addr).Msg("error setting write deadline")
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		log.Warn().Err(err).Str("addr", c.addr).Msg("error writing close message")
	}
	return false
}

// writeTextMessage writes a frame and any frames queued behind it, one per line.
func (c *Client) writeTextMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		log.Warn().Err(err).Str("addr", c.addr).Msg("error creating writer")
		return false
	}

	if !c.writeMessageContent(w, message) {
		return false
	}

	if !c.writeQueuedMessages(w) {
		return false
	}

	return c.closeWriter(w)
}

func (c *Client) writeMessageContent(w io.WriteCloser, message []byte) bool {
	if _, err := w.Write(message); err != nil {
		log.Warn().Err(err).Str("addr", c.addr).Msg("error writing message")
		return false
	}
	return true
}

func (c *Client) writeQueuedMessages(w io.WriteCloser) bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		message, ok := <-c.send
		if !ok {
			// Flush what we have; the next read sees the closed channel.
			return true
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			log.Warn().Err(err).Str("addr", c.addr).Msg("error writing newline")
			return false
		}
		if !c.writeMessageContent(w, message) {
			return false
		}
	}
	return true
}

func (c *Client) closeWriter(w io.WriteCloser) bool {
	if err := w.Close(); err != nil {
		log.Warn().Err(err).Str("addr", c.addr).Msg("error closing writer")
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Warn().Err(err).Str("addr", c.addr).Msg("error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		log.Warn().Err(err).Str("addr", c.addr).Msg("error writing ping message")
		return false
	}
	return true
}
