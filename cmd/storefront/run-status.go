package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli"

	"github.com/p-blackswan/agrostore/internal/health"
)

var errUnhealthy = errors.New("some checks failed")

func runStatus(c *cli.Context) error {
	env := envFrom(c)
	ctx := env.at("/")

	report := env.health.Run(ctx)
	out := struct {
		health.Report
		API      string `json:"api"`
		SignedIn bool   `json:"signed_in"`
	}{report, env.cfg.APIBaseURL, env.session.LoggedIn(ctx)}

	err := env.output(out, func(w io.Writer) {
		fmt.Fprintf(w, "api:       %s\n", out.API)
		fmt.Fprintf(w, "signed in: %s\n", yesNo(out.SignedIn))
		rows := make([][]string, 0, len(report.Checks))
		for _, name := range report.Names() {
			r := report.Checks[name]
			rows = append(rows, []string{name, string(r.Status), r.Latency.Round(time.Millisecond).String(), r.Error})
		}
		table(w, "CHECK\tSTATUS\tLATENCY\tERROR", rows)
	})
	if err != nil {
		return err
	}
	if report.Status != health.StatusOK {
		return errUnhealthy
	}
	return nil
}
