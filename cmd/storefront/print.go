package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/urfave/cli"

	"github.com/p-blackswan/agrostore/internal/notify"
)

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}

// output prints v as JSON when --json is set, otherwise calls text.
func (env *environment) output(v any, text func(w io.Writer)) error {
	if env.json {
		return printJSON(env.w, v)
	}
	text(env.w)
	return nil
}

// table writes tab-separated rows aligned in columns.
func table(w io.Writer, header string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	tw.Flush()
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func items(n int) string {
	return english.Plural(n, "item", "")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func printNotifications(w io.Writer, ns []notify.Notification) {
	for _, n := range ns {
		line := n.Title
		if n.Message != "" && n.Message != n.Title {
			line += ": " + n.Message
		}
		fmt.Fprintf(w, "[%s] %s\n", n.Level, line)

		fields := make([]string, 0, len(n.Fields))
		for f := range n.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			fmt.Fprintf(w, "    %s: %s\n", f, strings.Join(n.Fields[f], " "))
		}
	}
}

// argID parses the i-th positional argument as an id.
func argID(c *cli.Context, i int, name string) (int64, error) {
	raw := c.Args().Get(i)
	if raw == "" {
		return 0, fmt.Errorf("missing %s", name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return id, nil
}
