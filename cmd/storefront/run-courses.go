package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/urfave/cli"

	"github.com/p-blackswan/agrostore/internal/courses"
)

func runCourses(c *cli.Context) error {
	env := envFrom(c)
	list, err := env.courses.List(env.at("/courses"))
	if err != nil {
		return err
	}

	return env.output(list, func(w io.Writer) {
		rows := make([][]string, 0, len(list))
		for _, co := range list {
			seats := strconv.Itoa(co.SeatsLeft)
			if co.SeatsLeft <= 0 {
				seats = "full"
			}
			rows = append(rows, []string{strconv.FormatInt(co.ID, 10), co.Title, co.StartDate, co.Price.String(), seats})
		}
		table(w, "ID\tTITLE\tSTARTS\tPRICE\tSEATS", rows)
	})
}

func runCourseApply(c *cli.Context) error {
	env := envFrom(c)
	id, err := argID(c, 0, "course id")
	if err != nil {
		return err
	}
	ctx := env.at("/courses/" + strconv.FormatInt(id, 10))

	app := courses.Application{
		CourseID: id,
		FullName: c.String("full-name"),
		Phone:    c.String("phone"),
		Email:    c.String("email"),
		Comment:  c.String("comment"),
	}
	// Signed-in users can leave out what the profile already has.
	if env.session.LoggedIn(ctx) && (app.FullName == "" || app.Phone == "" || app.Email == "") {
		if p, err := env.session.Profile(ctx); err == nil {
			if app.FullName == "" {
				app.FullName = p.FullName()
			}
			if app.Phone == "" {
				app.Phone = p.Phone
			}
			if app.Email == "" {
				app.Email = p.Email
			}
		}
	}

	res, err := env.courses.Apply(ctx, app)
	if err != nil {
		return err
	}
	return env.output(res, func(w io.Writer) {
		fmt.Fprintf(w, "Application #%d for course %d: %s\n", res.ID, res.CourseID, res.Status)
	})
}
