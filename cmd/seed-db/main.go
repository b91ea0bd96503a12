package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/vpn-checkout/internal/domain/auth"
	"github.com/xenking/vpn-checkout/internal/domain/catalog"
	"github.com/xenking/vpn-checkout/internal/domain/pricing"
	"github.com/xenking/vpn-checkout/internal/storage/postgres"
)

type seedFile struct {
	Periods []struct {
		Days    int             `json:"days"`
		Price   decimal.Decimal `json:"price"`
		Enabled bool            `json:"enabled"`
	} `json:"periods"`
	Traffic []struct {
		GB           int             `json:"gb"`
		MonthlyPrice decimal.Decimal `json:"monthly_price"`
		Enabled      bool            `json:"enabled"`
	} `json:"traffic"`
	Servers []struct {
		ID           string          `json:"id"`
		Name         string          `json:"name"`
		MonthlyPrice decimal.Decimal `json:"monthly_price"`
		Available    bool            `json:"available"`
	} `json:"servers"`
	Devices struct {
		MonthlyPrice decimal.Decimal `json:"monthly_price"`
		Free         int             `json:"free"`
		Max          int             `json:"max"`
	} `json:"devices"`
	PromoGroups []struct {
		Name             string                   `json:"name"`
		CategoryPercents map[pricing.Category]int `json:"category_percents"`
		PeriodPercents   map[int]int              `json:"period_percents"`
		AppliesToAddons  bool                     `json:"applies_to_addons"`
	} `json:"promo_groups"`
}

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or VPN_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or VPN_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("VPN_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or VPN_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("VPN_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile, apiKey, pepper string) error {
	slog.Info("reading catalog file", slog.String("path", catalogFile))

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
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

	tx := postgres.NewTxManager(pool)
	cat := postgres.NewCatalogRepository(pool)
	users := postgres.NewUserRepository(pool)

	// Catalog and promo groups are applied atomically.
	err = tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := seedCatalog(ctx, cat, &seed); err != nil {
			return errors.Wrap(err, "seed catalog")
		}
		return seedPromoGroups(ctx, users, &seed)
	})
	if err != nil {
		return err
	}

	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedCatalog(ctx context.Context, repo *postgres.CatalogRepository, seed *seedFile) error {
	for _, p := range seed.Periods {
		if err := repo.UpsertPeriodPrice(ctx, catalog.PeriodPrice{
			Days:    p.Days,
			Price:   pricing.FromDecimal(p.Price),
			Enabled: p.Enabled,
		}); err != nil {
			return err
		}
		slog.Info("upserted period", slog.Int("days", p.Days), slog.String("price", p.Price.StringFixed(2)))
	}

	for _, t := range seed.Traffic {
		if err := repo.UpsertTrafficPackage(ctx, catalog.TrafficPackage{
			GB:           t.GB,
			MonthlyPrice: pricing.FromDecimal(t.MonthlyPrice),
			Enabled:      t.Enabled,
		}); err != nil {
			return err
		}
		slog.Info("upserted traffic package", slog.Int("gb", t.GB))
	}

	for _, s := range seed.Servers {
		if err := repo.UpsertServer(ctx, catalog.Server{
			ID:           s.ID,
			Name:         s.Name,
			MonthlyPrice: pricing.FromDecimal(s.MonthlyPrice),
			Available:    s.Available,
		}); err != nil {
			return err
		}
		slog.Info("upserted server", slog.String("id", s.ID), slog.String("name", s.Name))
	}

	if err := repo.SetDevicePricing(ctx, catalog.DevicePricing{
		MonthlyPrice: pricing.FromDecimal(seed.Devices.MonthlyPrice),
		Free:         seed.Devices.Free,
		Max:          seed.Devices.Max,
	}); err != nil {
		return err
	}
	slog.Info("set device pricing", slog.Int("free", seed.Devices.Free), slog.Int("max", seed.Devices.Max))

	return nil
}

func seedPromoGroups(ctx context.Context, users *postgres.UserRepository, seed *seedFile) error {
	for _, g := range seed.PromoGroups {
		for cat := range g.CategoryPercents {
			if !cat.Valid() {
				return errors.Errorf("promo group %s: unknown category %q", g.Name, cat)
			}
		}
		id, err := users.UpsertPromoGroup(ctx, pricing.PromoGroup{
			Name:             g.Name,
			CategoryPercents: g.CategoryPercents,
			PeriodPercents:   g.PeriodPercents,
			AppliesToAddons:  g.AppliesToAddons,
		})
		if err != nil {
			return err
		}
		slog.Info("upserted promo group", slog.String("name", g.Name), slog.Int64("id", id))
	}
	return nil
}

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding default API key")

	if err := repo.Upsert(ctx, auth.APIKey{
		ID:      "default",
		KeyHash: auth.NewHasher([]byte(pepper)).Hash(apiKey),
		Name:    "Default bot key",
		Scopes:  []string{auth.ScopeCheckout, auth.ScopePayments},
	}); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", "default"))

	return nil
}
