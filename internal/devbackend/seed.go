package devbackend

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/agrostore/internal/catalog"
	"github.com/p-blackswan/agrostore/internal/courses"
	"github.com/p-blackswan/agrostore/internal/money"
)

//go:embed seed.yaml
var defaultSeed []byte

// Seed is the initial catalog, course list and user accounts.
type Seed struct {
	Categories []catalog.Category
	Products   []catalog.Product
	Courses    []courses.Course
	Users      []SeedUser
}

// SeedUser is an account created at startup.
type SeedUser struct {
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Phone     string `yaml:"phone"`
}

type seedFile struct {
	Categories []struct {
		ID     int64  `yaml:"id"`
		Name   string `yaml:"name"`
		Slug   string `yaml:"slug"`
		Parent int64  `yaml:"parent"`
	} `yaml:"categories"`
	Products []struct {
		ID          int64  `yaml:"id"`
		Name        string `yaml:"name"`
		Slug        string `yaml:"slug"`
		Description string `yaml:"description"`
		Category    int64  `yaml:"category"`
		Price       string `yaml:"price"`
		OldPrice    string `yaml:"old_price"`
		Unit        string `yaml:"unit"`
		Stock       int    `yaml:"stock"`
		Image       string `yaml:"image"`
	} `yaml:"products"`
	Courses []struct {
		ID          int64  `yaml:"id"`
		Title       string `yaml:"title"`
		Description string `yaml:"description"`
		StartDate   string `yaml:"start_date"`
		Duration    string `yaml:"duration"`
		Format      string `yaml:"format"`
		Price       string `yaml:"price"`
		Seats       int    `yaml:"seats"`
	} `yaml:"courses"`
	Users []SeedUser `yaml:"users"`
}

// DefaultSeed returns the embedded seed.
func DefaultSeed() (Seed, error) {
	return ParseSeed(defaultSeed)
}

// LoadSeed reads a seed file, or the embedded one when path is empty.
func LoadSeed(path string) (Seed, error) {
	if path == "" {
		return DefaultSeed()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("reading seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes YAML seed data and checks its references.
func ParseSeed(data []byte) (Seed, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Seed{}, fmt.Errorf("parsing seed: %w", err)
	}

	var s Seed
	names := make(map[int64]string, len(f.Categories))
	for _, c := range f.Categories {
		names[c.ID] = c.Name
		s.Categories = append(s.Categories, catalog.Category{ID: c.ID, Name: c.Name, Slug: c.Slug, Parent: c.Parent})
	}

	for _, p := range f.Products {
		catName, ok := names[p.Category]
		if !ok {
			return Seed{}, fmt.Errorf("product %d: unknown category %d", p.ID, p.Category)
		}
		price, err := money.Parse(p.Price)
		if err != nil {
			return Seed{}, fmt.Errorf("product %d price: %w", p.ID, err)
		}
		var old money.Money
		if p.OldPrice != "" {
			if old, err = money.Parse(p.OldPrice); err != nil {
				return Seed{}, fmt.Errorf("product %d old price: %w", p.ID, err)
			}
		}
		s.Products = append(s.Products, catalog.Product{
			ID:           p.ID,
			Name:         p.Name,
			Slug:         p.Slug,
			Description:  p.Description,
			Category:     p.Category,
			CategoryName: catName,
			Price:        price,
			OldPrice:     old,
			Unit:         p.Unit,
			InStock:      p.Stock > 0,
			Stock:        p.Stock,
			Image:        p.Image,
		})
	}

	for _, c := range f.Courses {
		price, err := money.Parse(c.Price)
		if err != nil {
			return Seed{}, fmt.Errorf("course %d price: %w", c.ID, err)
		}
		s.Courses = append(s.Courses, courses.Course{
			ID:          c.ID,
			Title:       c.Title,
			Description: c.Description,
			StartDate:   c.StartDate,
			Duration:    c.Duration,
			Format:      c.Format,
			Price:       price,
			SeatsLeft:   c.Seats,
		})
	}

	s.Users = f.Users
	return s, nil
}
