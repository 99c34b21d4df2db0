package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli"
)

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "dev"

const metadataKey = "env"

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(app.ErrWriter, "error: %s\n", err)
		os.Exit(1)
	}
}

func newApp(w, e io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "storefront"
	app.Usage = "agricultural storefront from the terminal"
	app.Version = version
	app.Writer = w
	app.ErrWriter = e
	app.Metadata = map[string]interface{}{}

	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: " debug logging",
		},
		cli.BoolFlag{
			Name:  "json, j",
			Usage: " print results as JSON",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:  "login",
			Usage: "sign in and keep the session in the state database",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "email, e", Usage: "*account `EMAIL`"},
				cli.StringFlag{Name: "password, p", Usage: "*account `PASSWORD`", EnvVar: "AGROSTORE_PASSWORD"},
			},
			Action: runLogin,
		},
		{
			Name:  "register",
			Usage: "create an account and sign in",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "email, e", Usage: "*account `EMAIL`"},
				cli.StringFlag{Name: "password, p", Usage: "*account `PASSWORD`", EnvVar: "AGROSTORE_PASSWORD"},
				cli.StringFlag{Name: "first-name", Usage: "*`NAME`"},
				cli.StringFlag{Name: "last-name", Usage: " `NAME`"},
				cli.StringFlag{Name: "phone", Usage: " `PHONE` in E.164 form"},
			},
			Action: runRegister,
		},
		{
			Name:   "logout",
			Usage:  "sign out and forget the stored tokens",
			Action: runLogout,
		},
		{
			Name:   "whoami",
			Usage:  "show the signed-in account",
			Action: runWhoami,
		},
		{
			Name:  "products",
			Usage: "list catalog products",
			Flags: []cli.Flag{
				cli.Int64Flag{Name: "category, c", Usage: " category `ID`"},
				cli.StringFlag{Name: "search, s", Usage: " search `TEXT`"},
				cli.StringFlag{Name: "ordering, o", Usage: " `FIELD` [price|-price|name|-name]"},
				cli.BoolFlag{Name: "in-stock", Usage: " only products in stock"},
				cli.IntFlag{Name: "page", Usage: " page `NUMBER`"},
				cli.IntFlag{Name: "page-size", Usage: " `COUNT` per page"},
			},
			Action: runProducts,
		},
		{
			Name:      "product",
			Usage:     "show one product",
			ArgsUsage: "PRODUCT_ID",
			Action:    runProduct,
		},
		{
			Name:   "categories",
			Usage:  "list product categories",
			Action: runCategories,
		},
		{
			Name:   "cart",
			Usage:  "show the cart",
			Action: runCart,
		},
		{
			Name:      "cart-add",
			Usage:     "add a product to the cart",
			ArgsUsage: "PRODUCT_ID",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "quantity, q", Value: 1, Usage: " `COUNT` to add"},
			},
			Action: runCartAdd,
		},
		{
			Name:      "cart-set",
			Usage:     "change the quantity of a cart line (0 removes it)",
			ArgsUsage: "ITEM_ID QUANTITY",
			Action:    runCartSet,
		},
		{
			Name:      "cart-remove",
			Usage:     "remove a cart line",
			ArgsUsage: "ITEM_ID",
			Action:    runCartRemove,
		},
		{
			Name:   "cart-clear",
			Usage:  "empty the cart",
			Action: runCartClear,
		},
		{
			Name:   "fav",
			Usage:  "list favorite products",
			Action: runFavorites,
		},
		{
			Name:      "fav-toggle",
			Usage:     "add or remove a product from favorites",
			ArgsUsage: "PRODUCT_ID",
			Action:    runFavoriteToggle,
		},
		{
			Name:  "checkout",
			Usage: "place an order for the cart",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "full-name", Usage: "*recipient `NAME`"},
				cli.StringFlag{Name: "phone", Usage: "*`PHONE` in E.164 form"},
				cli.StringFlag{Name: "email", Usage: " `EMAIL` for the receipt"},
				cli.StringFlag{Name: "delivery, d", Value: "pickup", Usage: " `METHOD` [pickup|courier|post]"},
				cli.StringFlag{Name: "address, a", Usage: " delivery `ADDRESS`, required unless pickup"},
				cli.StringFlag{Name: "payment", Value: "cash", Usage: " `METHOD` [cash|card|online]"},
				cli.StringFlag{Name: "comment", Usage: " `TEXT` for the shop"},
			},
			Action: runCheckout,
		},
		{
			Name:      "orders",
			Usage:     "list orders, or show one",
			ArgsUsage: "[ORDER_ID]",
			Action:    runOrders,
		},
		{
			Name:   "courses",
			Usage:  "list training courses",
			Action: runCourses,
		},
		{
			Name:      "course-apply",
			Usage:     "apply for a course",
			ArgsUsage: "COURSE_ID",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "full-name", Usage: "*`NAME`"},
				cli.StringFlag{Name: "phone", Usage: "*`PHONE` in E.164 form"},
				cli.StringFlag{Name: "email", Usage: " `EMAIL`"},
				cli.StringFlag{Name: "comment", Usage: " `TEXT`"},
			},
			Action: runCourseApply,
		},
		{
			Name:   "status",
			Usage:  "check the API and the local state database",
			Action: runStatus,
		},
	}

	app.Before = func(c *cli.Context) error {
		switch c.Args().First() {
		case "", "help", "h":
			return nil
		}
		env, err := newEnvironment(c.App.Writer, c.App.ErrWriter, c.GlobalBool("verbose"), c.GlobalBool("json"))
		if err != nil {
			return err
		}
		c.App.Metadata[metadataKey] = env
		return nil
	}

	app.After = func(c *cli.Context) error {
		env, ok := c.App.Metadata[metadataKey].(*environment)
		if !ok {
			return nil
		}
		return env.close()
	}

	return app
}

func envFrom(c *cli.Context) *environment {
	return c.App.Metadata[metadataKey].(*environment)
}
