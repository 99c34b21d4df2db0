package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/urfave/cli"
)

func runFavorites(c *cli.Context) error {
	env := envFrom(c)
	favs, err := env.favorites.Load(env.at("/favorites"))
	if err != nil {
		return err
	}

	return env.output(favs, func(w io.Writer) {
		if len(favs) == 0 {
			fmt.Fprintln(w, "No favorites yet")
			return
		}
		rows := make([][]string, 0, len(favs))
		for _, f := range favs {
			name, price := "-", "-"
			if f.Product != nil {
				name, price = f.Product.Name, f.Product.Price.String()
			}
			rows = append(rows, []string{strconv.FormatInt(f.ProductID, 10), name, price, ago(f.CreatedAt)})
		}
		table(w, "PRODUCT\tNAME\tPRICE\tADDED", rows)
	})
}

func runFavoriteToggle(c *cli.Context) error {
	env := envFrom(c)
	id, err := argID(c, 0, "product id")
	if err != nil {
		return err
	}

	st, err := env.favorites.Toggle(env.at("/products/"+strconv.FormatInt(id, 10)), id)
	if err != nil {
		return err
	}
	return env.output(st, func(w io.Writer) {
		if st.IsFavorited {
			fmt.Fprintf(w, "Product %d added to favorites\n", id)
		} else {
			fmt.Fprintf(w, "Product %d removed from favorites\n", id)
		}
	})
}
