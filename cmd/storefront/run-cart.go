package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/urfave/cli"

	"github.com/p-blackswan/agrostore/internal/cart"
)

func runCart(c *cli.Context) error {
	env := envFrom(c)
	got, err := env.cart.Load(env.at("/cart"))
	if err != nil {
		return err
	}
	return printCart(env, got)
}

func runCartAdd(c *cli.Context) error {
	env := envFrom(c)
	id, err := argID(c, 0, "product id")
	if err != nil {
		return err
	}
	ctx := env.at("/cart")

	// Quantity limits are checked against the lines already in the cart.
	if _, err := env.cart.Load(ctx); err != nil {
		return err
	}
	if _, err := env.catalog.Product(ctx, id); err != nil {
		env.logger.Debug().Err(err).Int64("product_id", id).Msg("product lookup failed")
	}
	got, err := env.cart.Add(ctx, id, c.Int("quantity"))
	if err != nil {
		return err
	}
	return printCart(env, got)
}

func runCartSet(c *cli.Context) error {
	env := envFrom(c)
	id, err := argID(c, 0, "item id")
	if err != nil {
		return err
	}
	quantity, err := strconv.Atoi(c.Args().Get(1))
	if err != nil {
		return fmt.Errorf("invalid quantity: %q", c.Args().Get(1))
	}
	ctx := env.at("/cart")

	if _, err := env.cart.Load(ctx); err != nil {
		return err
	}
	got, err := env.cart.SetQuantity(ctx, id, quantity)
	if err != nil {
		return err
	}
	return printCart(env, got)
}

func runCartRemove(c *cli.Context) error {
	env := envFrom(c)
	id, err := argID(c, 0, "item id")
	if err != nil {
		return err
	}
	ctx := env.at("/cart")

	if _, err := env.cart.Load(ctx); err != nil {
		return err
	}
	got, err := env.cart.Remove(ctx, id)
	if err != nil {
		return err
	}
	return printCart(env, got)
}

func runCartClear(c *cli.Context) error {
	env := envFrom(c)
	got, err := env.cart.Clear(env.at("/cart"))
	if err != nil {
		return err
	}
	return printCart(env, got)
}

func printCart(env *environment, got cart.Cart) error {
	return env.output(got, func(w io.Writer) {
		if got.Empty() {
			fmt.Fprintln(w, "The cart is empty")
			return
		}
		rows := make([][]string, 0, len(got.Items))
		for _, it := range got.Items {
			rows = append(rows, []string{
				strconv.FormatInt(it.ID, 10),
				it.ProductName,
				strconv.Itoa(it.Quantity),
				it.UnitPrice.String(),
				it.TotalPrice.String(),
			})
		}
		table(w, "ITEM\tPRODUCT\tQTY\tPRICE\tTOTAL", rows)
		fmt.Fprintf(w, "%s, total %s\n", items(got.TotalItems), got.TotalPrice)
	})
}
