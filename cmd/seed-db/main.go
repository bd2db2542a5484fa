package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/ghostmarket/internal/domain/product"
	"github.com/xenking/ghostmarket/internal/storage/blob"
	"github.com/xenking/ghostmarket/internal/storage/postgres"
)

type productJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	StorageKey  string          `json:"storageKey"`
	Active      *bool           `json:"active"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		filesDir     string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file, optionally gzip compressed (.gz)")
	flag.StringVar(&filesDir, "files-dir", "", "product files directory; when set, every storage key is checked to exist")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, filesDir); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, filesDir string) error {
	products, err := readProducts(productsFile)
	if err != nil {
		return err
	}
	if filesDir != "" {
		if err := checkFiles(ctx, filesDir, products); err != nil {
			return err
		}
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	if err := postgres.NewProductRepository(pool).Upsert(ctx, products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	return nil
}

func readProducts(path string) ([]product.Product, error) {
	slog.Info("reading products file", slog.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open products file")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	var raw []productJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}

	products := make([]product.Product, 0, len(raw))
	for _, p := range raw {
		if p.ID == "" || p.Name == "" || p.StorageKey == "" {
			return nil, errors.Errorf("product %q: id, name and storageKey are required", p.ID)
		}
		if p.Price.IsNegative() {
			return nil, errors.Errorf("product %q: negative price", p.ID)
		}
		products = append(products, product.Product{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Category:    p.Category,
			Price:       p.Price,
			StorageKey:  p.StorageKey,
			Active:      p.Active == nil || *p.Active,
		})
	}
	return products, nil
}

func checkFiles(ctx context.Context, dir string, products []product.Product) error {
	store, err := blob.NewFS(dir)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	for _, p := range products {
		b, err := store.Open(ctx, p.StorageKey)
		if err != nil {
			return errors.Wrapf(err, "product %s", p.ID)
		}
		_ = b.Content.Close()
		slog.Info("found product file", slog.String("id", p.ID), slog.Int64("size", b.Size))
	}
	return nil
}
