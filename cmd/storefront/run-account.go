package main

import (
	"fmt"
	"io"

	"github.com/urfave/cli"

	"github.com/p-blackswan/agrostore/internal/account"
)

func runLogin(c *cli.Context) error {
	env := envFrom(c)
	ctx := env.at("/")

	creds := account.Credentials{
		Email:    c.String("email"),
		Password: c.String("password"),
	}
	if err := env.session.Login(ctx, creds); err != nil {
		return err
	}
	return printSignedIn(env)
}

func runRegister(c *cli.Context) error {
	env := envFrom(c)
	ctx := env.at("/")

	reg := account.Registration{
		Email:           c.String("email"),
		Password:        c.String("password"),
		PasswordConfirm: c.String("password"),
		FirstName:       c.String("first-name"),
		LastName:        c.String("last-name"),
		Phone:           c.String("phone"),
	}
	if err := env.session.Register(ctx, reg); err != nil {
		return err
	}
	return printSignedIn(env)
}

func printSignedIn(env *environment) error {
	p, err := env.session.Profile(env.at("/profile"))
	if err != nil {
		return err
	}
	return env.output(p, func(w io.Writer) {
		fmt.Fprintf(w, "Signed in as %s <%s>\n", p.FullName(), p.Email)
	})
}

func runLogout(c *cli.Context) error {
	env := envFrom(c)
	if err := env.session.Logout(env.at("/")); err != nil {
		return err
	}
	return env.output(map[string]bool{"signed_in": false}, func(w io.Writer) {
		fmt.Fprintln(w, "Signed out")
	})
}

func runWhoami(c *cli.Context) error {
	env := envFrom(c)
	p, err := env.session.Profile(env.at("/profile"))
	if err != nil {
		return err
	}
	return env.output(p, func(w io.Writer) {
		fmt.Fprintf(w, "%s <%s>\n", p.FullName(), p.Email)
		if p.Phone != "" {
			fmt.Fprintf(w, "phone: %s\n", p.Phone)
		}
	})
}
