package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"github.com/p-blackswan/agrostore/internal/catalog"
	"github.com/p-blackswan/agrostore/internal/favorites"
)

func runProducts(c *cli.Context) error {
	env := envFrom(c)
	f := catalog.Filter{
		Category: c.Int64("category"),
		Search:   c.String("search"),
		Ordering: c.String("ordering"),
		InStock:  c.Bool("in-stock"),
		Page:     c.Int("page"),
		PageSize: c.Int("page-size"),
	}
	page, err := env.catalog.Products(env.at("/catalog"), f)
	if err != nil {
		return err
	}

	return env.output(page, func(w io.Writer) {
		rows := make([][]string, 0, len(page.Results))
		for _, p := range page.Results {
			price := p.Price.String()
			if p.OldPrice > p.Price {
				price += " (was " + p.OldPrice.String() + ")"
			}
			rows = append(rows, []string{strconv.FormatInt(p.ID, 10), p.Name, p.CategoryName, price, stock(p)})
		}
		table(w, "ID\tNAME\tCATEGORY\tPRICE\tSTOCK", rows)
		fmt.Fprintf(w, "%d of %s products\n", len(page.Results), humanize.Comma(int64(page.Count)))
	})
}

func runProduct(c *cli.Context) error {
	env := envFrom(c)
	id, err := argID(c, 0, "product id")
	if err != nil {
		return err
	}
	ctx := env.at("/products/" + strconv.FormatInt(id, 10))

	p, err := env.catalog.Product(ctx, id)
	if err != nil {
		return err
	}

	var fav *favorites.State
	if env.session.LoggedIn(ctx) {
		s, err := env.favorites.Check(ctx, id)
		if err != nil {
			env.logger.Debug().Err(err).Int64("product_id", id).Msg("favorite check failed")
		} else {
			fav = &s
		}
	}

	out := struct {
		catalog.Product
		Favorite *favorites.State `json:"favorite,omitempty"`
	}{p, fav}
	return env.output(out, func(w io.Writer) {
		fmt.Fprintf(w, "%s (#%d)\n", p.Name, p.ID)
		if p.CategoryName != "" {
			fmt.Fprintf(w, "category: %s\n", p.CategoryName)
		}
		fmt.Fprintf(w, "price:    %s", p.Price)
		if p.Unit != "" {
			fmt.Fprintf(w, " per %s", p.Unit)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "stock:    %s\n", stock(p))
		if fav != nil {
			fmt.Fprintf(w, "favorite: %s\n", yesNo(fav.IsFavorited))
		}
		if p.Description != "" {
			fmt.Fprintf(w, "\n%s\n", p.Description)
		}
	})
}

func runCategories(c *cli.Context) error {
	env := envFrom(c)
	cats, err := env.catalog.Categories(env.at("/catalog"))
	if err != nil {
		return err
	}

	return env.output(cats, func(w io.Writer) {
		names := make(map[int64]string, len(cats))
		for _, cat := range cats {
			names[cat.ID] = cat.Name
		}
		rows := make([][]string, 0, len(cats))
		for _, cat := range cats {
			parent := "-"
			if cat.Parent != 0 {
				parent = names[cat.Parent]
			}
			rows = append(rows, []string{strconv.FormatInt(cat.ID, 10), cat.Name, parent})
		}
		table(w, "ID\tNAME\tPARENT", rows)
	})
}

func stock(p catalog.Product) string {
	if !p.InStock || p.Stock <= 0 {
		return "out of stock"
	}
	return humanize.Comma(int64(p.Stock))
}
