package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/vpn-checkout/internal/domain/catalog"
	"github.com/xenking/vpn-checkout/internal/domain/pricing"
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// PeriodPrice returns the price of a billing period of the given length.
func (r *CatalogRepository) PeriodPrice(ctx context.Context, days int) (*catalog.PeriodPrice, error) {
	var (
		p     catalog.PeriodPrice
		price int64
	)
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT days, price, enabled FROM period_prices WHERE days = $1`, days,
	).Scan(&p.Days, &price, &p.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get period price %d", days)
	}
	p.Price = pricing.Money(price)
	return &p, nil
}

// TrafficPackage returns the traffic tier of the given size.
func (r *CatalogRepository) TrafficPackage(ctx context.Context, gb int) (*catalog.TrafficPackage, error) {
	var (
		p     catalog.TrafficPackage
		price int64
	)
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT gb, monthly_price, enabled FROM traffic_packages WHERE gb = $1`, gb,
	).Scan(&p.GB, &price, &p.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get traffic package %d", gb)
	}
	p.MonthlyPrice = pricing.Money(price)
	return &p, nil
}

// Servers returns the servers among ids in a single query.
func (r *CatalogRepository) Servers(ctx context.Context, ids []string) ([]catalog.Server, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT id, name, monthly_price, available FROM servers WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query servers")
	}
	servers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Server, error) {
		var (
			s     catalog.Server
			price int64
		)
		err := row.Scan(&s.ID, &s.Name, &price, &s.Available)
		s.MonthlyPrice = pricing.Money(price)
		return s, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect servers")
	}
	return servers, nil
}

// DevicePricing returns the device slot policy.
func (r *CatalogRepository) DevicePricing(ctx context.Context) (*catalog.DevicePricing, error) {
	var (
		dp    catalog.DevicePricing
		price int64
	)
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT monthly_price, free_devices, max_devices FROM device_pricing WHERE id`,
	).Scan(&price, &dp.Free, &dp.Max)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrap(err, "get device pricing")
	}
	dp.MonthlyPrice = pricing.Money(price)
	return &dp, nil
}

// UpsertPeriodPrice creates or replaces a period price.
func (r *CatalogRepository) UpsertPeriodPrice(ctx context.Context, p catalog.PeriodPrice) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO period_prices (days, price, enabled) VALUES ($1, $2, $3)
		ON CONFLICT (days) DO UPDATE SET price = EXCLUDED.price, enabled = EXCLUDED.enabled`,
		p.Days, int64(p.Price), p.Enabled)
	if err != nil {
		return errors.Wrapf(err, "upsert period price %d", p.Days)
	}
	return nil
}

// UpsertTrafficPackage creates or replaces a traffic tier.
func (r *CatalogRepository) UpsertTrafficPackage(ctx context.Context, p catalog.TrafficPackage) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO traffic_packages (gb, monthly_price, enabled) VALUES ($1, $2, $3)
		ON CONFLICT (gb) DO UPDATE SET monthly_price = EXCLUDED.monthly_price, enabled = EXCLUDED.enabled`,
		p.GB, int64(p.MonthlyPrice), p.Enabled)
	if err != nil {
		return errors.Wrapf(err, "upsert traffic package %d", p.GB)
	}
	return nil
}

// UpsertServer creates or replaces a server.
func (r *CatalogRepository) UpsertServer(ctx context.Context, s catalog.Server) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO servers (id, name, monthly_price, available) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, monthly_price = EXCLUDED.monthly_price, available = EXCLUDED.available`,
		s.ID, s.Name, int64(s.MonthlyPrice), s.Available)
	if err != nil {
		return errors.Wrapf(err, "upsert server %s", s.ID)
	}
	return nil
}

// SetDevicePricing replaces the device slot policy.
func (r *CatalogRepository) SetDevicePricing(ctx context.Context, dp catalog.DevicePricing) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO device_pricing (id, monthly_price, free_devices, max_devices) VALUES (TRUE, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET monthly_price = EXCLUDED.monthly_price, free_devices = EXCLUDED.free_devices, max_devices = EXCLUDED.max_devices`,
		int64(dp.MonthlyPrice), dp.Free, dp.Max)
	if err != nil {
		return errors.Wrap(err, "set device pricing")
	}
	return nil
}
