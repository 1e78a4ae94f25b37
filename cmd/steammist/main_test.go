package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medcat/steam-mist/rconserver"
)

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	os.Exit(m.Run())
}

type result struct {
	code   int
	stdout string
	stderr string
}

func invoke(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer

	full := append([]string{"-config", filepath.Join(t.TempDir(), "none.json"), "-log-level", "error"}, args...)
	code := run(context.Background(), full, strings.NewReader(stdin), &stdout, &stderr)

	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func startRCON(t *testing.T, password string) (string, string) {
	t.Helper()
	srv := rconserver.New(rconserver.Config{
		Addr:            "127.0.0.1:0",
		Password:        password,
		Handler:         newConsole().Execute,
		MaxFragmentBody: 32,
	})
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	host, port, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	return host, port
}

func TestRun_usage(t *testing.T) {
	assert.Equal(t, 2, invoke(t, "").code)

	r := invoke(t, "", "bogus")
	assert.Equal(t, 2, r.code)
	assert.Contains(t, r.stderr, "unknown command")

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run(context.Background(), []string{"-version"}, nil, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "steammist")
}

func TestRun_bad_config(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steammist.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", path, "rcon"}, nil, &stdout, &stderr)
	assert.Equal(t, 1, code)
}

func TestRCON_commands(t *testing.T) {
	host, port := startRCON(t, "pw")

	r := invoke(t, "", "rcon", "-host", host, "-port", port, "-password", "pw", "echo hello", "hostname")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, "hello\n\"hostname\" = \"steammist test server\"\n", r.stdout)
	assert.Contains(t, r.stderr, "authenticated")
	assert.Contains(t, r.stderr, "3 packets sent, next id 4")
}

func TestRCON_stdin(t *testing.T) {
	host, port := startRCON(t, "pw")

	r := invoke(t, "echo one\n\n  echo two  \n", "rcon", "-host", host, "-port", port, "-password", "pw")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, "one\ntwo\n", r.stdout)
}

func TestRCON_table(t *testing.T) {
	host, port := startRCON(t, "pw")

	r := invoke(t, "", "rcon", "-host", host, "-port", port, "-password", "pw", "-table", "cvarlist")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "> cvarlist")
	assert.Contains(t, r.stdout, "SINGLE")
	assert.Contains(t, r.stdout, "NO", "cvarlist output spans several packets")
}

func TestRCON_bad_password(t *testing.T) {
	host, port := startRCON(t, "pw")

	r := invoke(t, "", "rcon", "-host", host, "-port", port, "-password", "nope", "status")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "rejected")
	assert.Empty(t, r.stdout)
}

func TestAPI_call_with_cache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"response":{"path":%q,"key":%q,"appid":%q}}`,
			r.URL.Path, r.URL.Query().Get("key"), r.URL.Query().Get("appid"))
	}))
	defer srv.Close()

	domain := strings.TrimPrefix(srv.URL, "http://")
	cachePath := filepath.Join(t.TempDir(), "cache.json")
	args := []string{"api",
		"-domain", domain, "-key", "k1", "-version", "2",
		"-arg", "appid=440", "-cache", "file", "-cache-mode", "file", "-cache-path", cachePath,
		"-get", "response",
		"steam_news", "get_news_for_app",
	}

	r := invoke(t, "", args...)
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, `"path": "/ISteamNews/GetNewsForApp/v0002"`)
	assert.Contains(t, r.stdout, `"key": "k1"`)
	assert.Contains(t, r.stdout, `"appid": "440"`)

	r = invoke(t, "", append(args[:len(args)-2:len(args)-2], "-stats", "steam_news", "get_news_for_app")...)
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Entries")
	assert.Equal(t, int32(1), hits.Load(), "the second call is answered from the cache file")
}

func TestAPI_usage(t *testing.T) {
	r := invoke(t, "", "api", "only_interface")
	assert.Equal(t, 2, r.code)

	r = invoke(t, "", "api", "-arg", "novalue", "i", "m")
	assert.Equal(t, 2, r.code)
}

func TestAPI_status_error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	r := invoke(t, "", "api", "-domain", strings.TrimPrefix(srv.URL, "http://"), "ISteamUser", "GetPlayerSummaries")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "403")
}

func TestConsole_Execute(t *testing.T) {
	c := newConsole()

	assert.Equal(t, "hi there\n", c.Execute("echo hi there"))
	assert.Equal(t, "", c.Execute("   "))
	assert.Equal(t, "Unknown command \"kick\"\n", c.Execute("kick bob"))
	assert.Contains(t, c.Execute("status"), "players : 0 (24 max)")

	assert.Equal(t, "", c.Execute(`sv_cheats "1"`))
	assert.Equal(t, "\"sv_cheats\" = \"1\"\n", c.Execute("sv_cheats"))

	list := c.Execute("cvarlist")
	assert.True(t, strings.HasSuffix(list, strconv.Itoa(4)+" convars\n"))
	assert.Less(t, strings.Index(list, "hostname"), strings.Index(list, "sv_cheats"))
}

func TestArgList(t *testing.T) {
	l := argList{}
	require.NoError(t, l.Set("b=2"))
	require.NoError(t, l.Set("a=1=x"))
	assert.Error(t, l.Set("=3"))
	assert.Equal(t, "a=1=x,b=2", l.String())
}
