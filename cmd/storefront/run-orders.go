package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/urfave/cli"

	"github.com/p-blackswan/agrostore/internal/orders"
)

func runCheckout(c *cli.Context) error {
	env := envFrom(c)
	ctx := env.at("/checkout")

	if _, err := env.cart.Load(ctx); err != nil {
		return err
	}
	req := orders.CheckoutRequest{
		FullName:       c.String("full-name"),
		Phone:          c.String("phone"),
		Email:          c.String("email"),
		DeliveryMethod: c.String("delivery"),
		Address:        c.String("address"),
		PaymentMethod:  c.String("payment"),
		Comment:        c.String("comment"),
	}
	order, err := env.orders.Checkout(ctx, req)
	if err != nil {
		return err
	}
	return env.output(order, func(w io.Writer) { printOrder(w, order) })
}

func runOrders(c *cli.Context) error {
	env := envFrom(c)
	ctx := env.at("/orders")

	if c.NArg() > 0 {
		id, err := argID(c, 0, "order id")
		if err != nil {
			return err
		}
		order, err := env.orders.Get(ctx, id)
		if err != nil {
			return err
		}
		return env.output(order, func(w io.Writer) { printOrder(w, order) })
	}

	list, err := env.orders.List(ctx)
	if err != nil {
		return err
	}
	return env.output(list, func(w io.Writer) {
		if len(list) == 0 {
			fmt.Fprintln(w, "No orders yet")
			return
		}
		rows := make([][]string, 0, len(list))
		for _, o := range list {
			rows = append(rows, []string{
				strconv.FormatInt(o.ID, 10),
				o.Number,
				o.Status,
				o.TotalPrice.String(),
				ago(o.CreatedAt),
			})
		}
		table(w, "ID\tNUMBER\tSTATUS\tTOTAL\tPLACED", rows)
	})
}

func printOrder(w io.Writer, o orders.Order) {
	fmt.Fprintf(w, "Order %s (#%d) %s, placed %s\n", o.Number, o.ID, o.Status, ago(o.CreatedAt))
	rows := make([][]string, 0, len(o.Items))
	for _, it := range o.Items {
		rows = append(rows, []string{it.ProductName, strconv.Itoa(it.Quantity), it.UnitPrice.String(), it.TotalPrice.String()})
	}
	table(w, "PRODUCT\tQTY\tPRICE\tTOTAL", rows)
	fmt.Fprintf(w, "total %s, %s delivery, %s payment\n", o.TotalPrice, o.DeliveryMethod, o.PaymentMethod)
	if o.Address != "" {
		fmt.Fprintf(w, "address: %s\n", o.Address)
	}
}
