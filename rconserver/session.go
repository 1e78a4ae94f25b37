package rconserver

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/medcat/steam-mist/logger"
	"github.com/medcat/steam-mist/rcon"
	"github.com/medcat/steam-mist/utils"
)

// session serves one client connection.
type session struct {
	id        int32
	conn      net.Conn
	server    *Server
	log       logger.Logger
	authed    bool
	closeOnce sync.Once
}

func newSession(id int32, conn net.Conn, server *Server) *session {
	return &session{
		id:     id,
		conn:   conn,
		server: server,
		log: server.log.With(
			logger.Field{Key: "conn", Value: id},
			logger.Field{Key: "remote", Value: conn.RemoteAddr().String()},
		),
	}
}

// handle reads requests until the client disconnects or the session is
// closed.
func (c *session) handle() {
	defer c.Close()
	c.log.Debug("client connected")

	for {
		req, err := rcon.ReadPacket(c.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.log.Warn("read failed", logger.Field{Key: "error", Value: err.Error()})
			}
			return
		}

		if err := c.dispatch(req); err != nil {
			c.log.Warn("write failed", logger.Field{Key: "error", Value: err.Error()})
			return
		}
	}
}

func (c *session) dispatch(req rcon.Packet) error {
	switch {
	case req.Type == rcon.TypeAuth:
		return c.authenticate(req)

	case req.Type == rcon.TypeExecCommand:
		if !c.authed {
			return c.send(rcon.Packet{ID: -1, Type: rcon.TypeAuthResponse})
		}
		return c.execute(req)

	case req.Type == rcon.TypeResponseValue && len(req.Body) == 0:
		// Mirror the empty packet, then emit the marker that ends a response.
		return c.send(
			rcon.Packet{ID: req.ID, Type: rcon.TypeResponseValue},
			rcon.Packet{ID: req.ID, Type: rcon.TypeResponseValue, Body: []byte{0x00, 0x01, 0x00, 0x00}},
		)

	default:
		c.log.Debug("ignoring packet", logger.Field{Key: "id", Value: req.ID}, logger.Field{Key: "type", Value: int32(req.Type)})
		return nil
	}
}

func (c *session) authenticate(req rcon.Packet) error {
	verdict := rcon.Packet{ID: req.ID, Type: rcon.TypeAuthResponse}
	c.authed = string(req.Body) == c.server.config.Password
	if !c.authed {
		verdict.ID = -1
		c.log.Warn("bad rcon password")
	} else {
		c.log.Info("client authenticated")
	}

	return c.send(rcon.Packet{ID: req.ID, Type: rcon.TypeResponseValue}, verdict)
}

func (c *session) execute(req rcon.Packet) error {
	out := []byte(c.server.config.Handler(string(req.Body)))
	limit := c.server.config.MaxFragmentBody

	var fragments []rcon.Packet
	for len(out) > limit {
		fragments = append(fragments, rcon.Packet{ID: req.ID, Type: rcon.TypeResponseValue, Body: out[:limit]})
		out = out[limit:]
	}
	fragments = append(fragments, rcon.Packet{ID: req.ID, Type: rcon.TypeResponseValue, Body: out})

	c.log.Debug("command executed",
		logger.Field{Key: "command", Value: string(req.Body)},
		logger.Field{Key: "fragments", Value: len(fragments)},
	)
	return c.send(fragments...)
}

// send writes every packet in one call so they reach the client back to
// back.
func (c *session) send(ps ...rcon.Packet) error {
	frames := make([][]byte, len(ps))
	for i, p := range ps {
		frames[i] = rcon.Encode(p)
	}

	_, err := c.conn.Write(utils.JoinBytes(frames...))
	return err
}

// Close closes the connection once.
func (c *session) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		c.log.Debug("client disconnected")
	})

	return err
}
