package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/pterm/pterm"

	"github.com/medcat/steam-mist/rcon"
	"github.com/medcat/steam-mist/utils"
)

var errAuthRejected = errors.New("rcon password rejected")

func (a *app) runRCON(ctx context.Context, args []string) error {
	c := a.cfg.RCON

	fs := flag.NewFlagSet("rcon", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	host := fs.String("host", c.Host, "server host")
	port := fs.Int("port", c.Port, "server RCON port")
	password := fs.String("password", c.Password, "RCON password")
	timeout := fs.Duration("timeout", c.Timeout(), "per packet read timeout")
	table := fs.Bool("table", false, "print each response fragment as a table row")
	fs.Usage = func() {
		fmt.Fprintln(a.stderr, "usage: steammist rcon [flags] [command ...]")
		fmt.Fprintln(a.stderr, "Commands are read from stdin, one per line, when none are given.")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	session := rcon.NewSession(*host, *port, rcon.Config{
		Timeout:        *timeout,
		Logger:         a.log,
		LogAuthPackets: c.LogAuthPackets,
		TrackPackets:   true,
	})
	defer session.Close()

	ok, err := session.Authenticate(*password)
	if err != nil {
		return fmt.Errorf("authenticate to %s:%d: %w", *host, *port, err)
	}
	if !ok {
		return fmt.Errorf("%s:%d: %w", *host, *port, errAuthRejected)
	}
	pterm.Success.WithWriter(a.stderr).Printfln("authenticated to %s:%d", *host, *port)

	run := func(command string) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := session.ExecuteCommand(command)
		if err != nil {
			return fmt.Errorf("%s: %w", command, err)
		}

		if *table {
			a.printFragments(command, res)
		} else {
			fmt.Fprint(a.stdout, responseText(res))
		}
		return nil
	}

	if fs.NArg() > 0 {
		for _, command := range fs.Args() {
			if err := run(command); err != nil {
				return err
			}
		}
	} else if err := forEachLine(a.stdin, run); err != nil {
		return err
	}

	a.log.Debug("rcon session finished")
	if t := session.Tracker(); t != nil {
		pterm.Info.WithWriter(a.stderr).Printfln("%d packets sent, next id %d", t.Size(), session.NextID())
	}

	return nil
}

// responseText joins the fragment bodies, cut at the first NUL, and ends the
// text with a newline.
func responseText(res rcon.Result) string {
	var sb strings.Builder
	for _, p := range res.Packets() {
		sb.WriteString(utils.ReadStringFromBytes(p.Body))
	}

	out := sb.String()
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}

	return out
}

func (a *app) printFragments(command string, res rcon.Result) {
	_, single := res.Single()

	tw := tablewriter.NewWriter(a.stdout)
	tw.SetHeader([]string{"#", "ID", "Type", "Bytes", "Body"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for i, p := range res.Packets() {
		tw.Append([]string{
			strconv.Itoa(i + 1),
			strconv.Itoa(int(p.ID)),
			strconv.Itoa(int(p.Type)),
			strconv.Itoa(len(p.Body)),
			strings.TrimRight(utils.ReadStringFromBytes(p.Body), "\n"),
		})
	}
	tw.SetFooter([]string{"", "", "", "single", utils.BoolToYesNo(single)})

	fmt.Fprintf(a.stdout, "> %s\n", command)
	tw.Render()
}

// forEachLine calls fn for every non-blank line of r.
func forEachLine(r io.Reader, fn func(string) error) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}

	return sc.Err()
}
