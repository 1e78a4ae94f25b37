package rconserver

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medcat/steam-mist/rcon"
)

func startServer(t *testing.T, config Config) *Server {
	t.Helper()
	if config.Addr == "" {
		config.Addr = "127.0.0.1:0"
	}

	s := New(config)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.Addr(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func write(t *testing.T, conn net.Conn, ps ...rcon.Packet) {
	t.Helper()
	for _, p := range ps {
		_, err := p.WriteTo(conn)
		require.NoError(t, err)
	}
}

func read(t *testing.T, conn net.Conn, n int) []rcon.Packet {
	t.Helper()
	out := make([]rcon.Packet, 0, n)
	for j := 0; j < n; j++ {
		p, err := rcon.ReadPacket(conn)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func TestServer_Addr_before_start(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"})
	assert.Equal(t, "", s.Addr())
	s.Stop()
}

func TestServer_Start_twice(t *testing.T) {
	s := startServer(t, Config{})
	assert.Error(t, s.Start())
}

func TestServer_Start_bad_address(t *testing.T) {
	s := New(Config{Addr: "256.0.0.1:bad"})
	assert.Error(t, s.Start())
}

func TestServer_auth(t *testing.T) {
	s := startServer(t, Config{Password: "secret"})

	t.Run("accepted", func(t *testing.T) {
		conn := dial(t, s)
		write(t, conn, rcon.NewPacket(7, rcon.TypeAuth, "secret"))

		got := read(t, conn, 2)
		assert.True(t, got[0].IsEmpty())
		assert.Equal(t, int32(7), got[0].ID)
		assert.Equal(t, rcon.TypeAuthResponse, got[1].Type)
		assert.Equal(t, int32(7), got[1].ID)
	})

	t.Run("rejected", func(t *testing.T) {
		conn := dial(t, s)
		write(t, conn, rcon.NewPacket(7, rcon.TypeAuth, "wrong"))

		got := read(t, conn, 2)
		assert.True(t, got[0].IsEmpty())
		assert.Equal(t, rcon.TypeAuthResponse, got[1].Type)
		assert.Equal(t, int32(-1), got[1].ID)
	})
}

func TestServer_exec_requires_auth(t *testing.T) {
	s := startServer(t, Config{Password: "secret"})
	conn := dial(t, s)

	write(t, conn, rcon.NewPacket(3, rcon.TypeExecCommand, "status"))
	got := read(t, conn, 1)
	assert.Equal(t, rcon.TypeAuthResponse, got[0].Type)
	assert.Equal(t, int32(-1), got[0].ID)
}

func TestServer_exec_default_handler(t *testing.T) {
	s := startServer(t, Config{Password: "secret"})
	conn := dial(t, s)

	write(t, conn, rcon.NewPacket(1, rcon.TypeAuth, "secret"))
	read(t, conn, 2)

	write(t, conn, rcon.NewPacket(2, rcon.TypeExecCommand, "foo"))
	got := read(t, conn, 1)
	assert.Equal(t, "Unknown command \"foo\"\n", string(got[0].Body))
	assert.Equal(t, int32(2), got[0].ID)
}

func TestServer_exec_fragments(t *testing.T) {
	s := startServer(t, Config{
		Password:        "secret",
		MaxFragmentBody: 4,
		Handler:         func(string) string { return "0123456789" },
	})
	conn := dial(t, s)

	write(t, conn, rcon.NewPacket(1, rcon.TypeAuth, "secret"))
	read(t, conn, 2)

	write(t, conn,
		rcon.NewPacket(2, rcon.TypeExecCommand, "cvarlist"),
		rcon.Packet{ID: 2, Type: rcon.TypeResponseValue},
	)
	got := read(t, conn, 5)

	bodies := make([]string, 0, 3)
	for _, p := range got[:3] {
		assert.Equal(t, rcon.TypeResponseValue, p.Type)
		bodies = append(bodies, string(p.Body))
	}
	assert.Equal(t, []string{"0123", "4567", "89"}, bodies)
	assert.True(t, got[3].IsEmpty())
	assert.True(t, got[4].IsSentinel())
}

func TestServer_empty_response_value_is_mirrored(t *testing.T) {
	s := startServer(t, Config{})
	conn := dial(t, s)

	write(t, conn, rcon.Packet{ID: 9, Type: rcon.TypeResponseValue})
	got := read(t, conn, 2)

	assert.True(t, got[0].IsEmpty())
	assert.Equal(t, int32(9), got[0].ID)
	assert.True(t, got[1].IsSentinel())
	assert.Equal(t, int32(9), got[1].ID)
}

func TestServer_large_output_uses_default_fragment_size(t *testing.T) {
	out := strings.Repeat("x", DefaultMaxFragmentBody+1)
	s := startServer(t, Config{Password: "p", Handler: func(string) string { return out }})
	conn := dial(t, s)

	write(t, conn, rcon.NewPacket(1, rcon.TypeAuth, "p"))
	read(t, conn, 2)

	write(t, conn, rcon.NewPacket(2, rcon.TypeExecCommand, "dump"))
	got := read(t, conn, 2)
	assert.Len(t, got[0].Body, DefaultMaxFragmentBody)
	assert.Equal(t, "x", string(got[1].Body))
}

func TestServer_Stop_closes_sessions(t *testing.T) {
	s := startServer(t, Config{})
	conn := dial(t, s)

	assert.Eventually(t, func() bool { return s.SessionCount() == 1 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.Equal(t, 0, s.SessionCount())

	_, err := rcon.ReadPacket(conn)
	assert.Error(t, err)

	// Second call is a no-op.
	s.Stop()
}
