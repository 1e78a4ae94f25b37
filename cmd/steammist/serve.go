package main

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pterm/pterm"

	"github.com/medcat/steam-mist/rconserver"
	"github.com/medcat/steam-mist/utils"
)

func (a *app) runServe(ctx context.Context, args []string) error {
	c := a.cfg.Server

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	listen := fs.String("listen", c.Listen, "address to listen on")
	password := fs.String("password", c.Password, "RCON password; random when empty")
	fragment := fs.Int("fragment", c.MaxFragmentBody, "largest response body per packet; 0 for the default")
	fs.Usage = func() {
		fmt.Fprintln(a.stderr, "usage: steammist serve [flags]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if *password == "" {
		*password = utils.GenerateRandomString(16)
		pterm.Info.WithWriter(a.stderr).Printfln("generated password: %s", *password)
	}

	srv := rconserver.New(rconserver.Config{
		Addr:            *listen,
		Password:        *password,
		Handler:         newConsole().Execute,
		MaxFragmentBody: *fragment,
		Logger:          a.log,
	})
	if err := srv.Start(); err != nil {
		return err
	}
	pterm.Success.WithWriter(a.stderr).Printfln("listening on %s", srv.Addr())

	<-ctx.Done()
	srv.Stop()

	return nil
}

// console is a tiny stand-in for a game server console: a few commands and
// a table of cvars shared by every connection.
type console struct {
	mu    sync.Mutex
	cvars map[string]string
}

func newConsole() *console {
	return &console{cvars: map[string]string{
		"hostname":     "steammist test server",
		"sv_cheats":    "0",
		"mp_timelimit": "30",
		"maxplayers":   "24",
	}}
}

// Execute runs one command line and returns its output.
func (c *console) Execute(line string) string {
	name, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch name {
	case "echo":
		return rest + "\n"
	case "status":
		return fmt.Sprintf("hostname: %s\nversion : steammist/%s\nplayers : 0 (%s max)\n",
			c.cvars["hostname"], version, c.cvars["maxplayers"])
	case "cvarlist":
		names := make([]string, 0, len(c.cvars))
		for k := range c.cvars {
			names = append(names, k)
		}
		sort.Strings(names)

		var sb strings.Builder
		for _, k := range names {
			fmt.Fprintf(&sb, "%-24s : %s\n", k, c.cvars[k])
		}
		fmt.Fprintf(&sb, "%d convars\n", len(names))
		return sb.String()
	case "":
		return ""
	}

	if v, ok := c.cvars[name]; ok {
		if rest == "" {
			return fmt.Sprintf("\"%s\" = \"%s\"\n", name, v)
		}
		c.cvars[name] = strings.Trim(rest, "\"")
		return ""
	}

	return fmt.Sprintf("Unknown command \"%s\"\n", name)
}
