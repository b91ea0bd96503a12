// Package catalog describes the sellable items and their undiscounted prices.
package catalog

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/vpn-checkout/internal/domain/pricing"
)

// ErrNotFound is returned when a requested catalog item does not exist.
var ErrNotFound = errors.New("catalog item not found")

// PeriodPrice is the price of a whole billing period.
type PeriodPrice struct {
	Days    int
	Price   pricing.Money
	Enabled bool
}

// TrafficPackage is a monthly traffic tier. GB 0 is the unlimited tier.
type TrafficPackage struct {
	GB           int
	MonthlyPrice pricing.Money
	Enabled      bool
}

// Unlimited reports whether the package has no traffic cap.
func (p TrafficPackage) Unlimited() bool { return p.GB == 0 }

// Server is a country or location a subscription can be connected to.
type Server struct {
	ID           string
	Name         string
	MonthlyPrice pricing.Money
	Available    bool
}

// DevicePricing holds the device slot policy. Free slots are included in
// every subscription; each slot above Free costs MonthlyPrice.
type DevicePricing struct {
	MonthlyPrice pricing.Money
	Free         int
	Max          int
}

// Repository defines read operations for the price catalog.
type Repository interface {
	PeriodPrice(ctx context.Context, days int) (*PeriodPrice, error)
	TrafficPackage(ctx context.Context, gb int) (*TrafficPackage, error)
	// Servers returns the servers found among ids. Missing ids are skipped.
	Servers(ctx context.Context, ids []string) ([]Server, error)
	DevicePricing(ctx context.Context) (*DevicePricing, error)
}
