package checkout

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/vpn-checkout/internal/domain/catalog"
	"github.com/xenking/vpn-checkout/internal/domain/pricing"
	"github.com/xenking/vpn-checkout/internal/domain/subscription"
)

// InvalidSelectionError is a user-correctable problem with the selections,
// such as a disabled traffic tier or an unknown server.
type InvalidSelectionError struct {
	Field  string
	Reason string
}

func (e *InvalidSelectionError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// maxDeviceSlots bounds device counts when the catalog sets no maximum.
const maxDeviceSlots = 1000

func invalid(field, format string, args ...any) *InvalidSelectionError {
	return &InvalidSelectionError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// plan is a priced selection together with the entitlement change it buys.
type plan struct {
	selections Selections
	request    pricing.Request
	grant      subscription.Grant
}

// build validates sel against the catalog and the current subscription and
// resolves every price Compose needs.
func (s *Service) build(
	ctx context.Context,
	userID int64,
	sel Selections,
	sub *subscription.Subscription,
	now time.Time,
) (plan, error) {
	if !sel.Flow.Valid() {
		return plan{}, invalid("flow", "unknown flow %q", sel.Flow)
	}
	if sel.Devices < 0 {
		return plan{}, invalid("devices", "must not be negative")
	}
	if sel.TrafficGB < 0 {
		return plan{}, invalid("traffic", "must not be negative")
	}

	discounts, err := s.discounts.Load(ctx, userID)
	if err != nil {
		return plan{}, errors.Wrap(err, "load discounts")
	}

	var p plan
	switch sel.Flow {
	case pricing.FlowPurchase:
		p, err = s.buildPurchase(ctx, sel, sub, now)
	case pricing.FlowRenewal:
		p, err = s.buildRenewal(ctx, sel, sub)
	case pricing.FlowAddOn:
		p, err = s.buildAddOn(ctx, sel, sub, now)
	}
	if err != nil {
		return plan{}, err
	}

	p.request.Flow = sel.Flow
	p.request.Discounts = discounts
	p.request.Now = now
	p.grant.UserID = userID
	p.grant.Now = now
	return p, nil
}

func (s *Service) buildPurchase(
	ctx context.Context,
	sel Selections,
	sub *subscription.Subscription,
	now time.Time,
) (plan, error) {
	if sub.PaidActive(now) {
		return plan{}, invalid("flow", "subscription is active, renew it instead")
	}
	period, err := s.period(ctx, sel.PeriodDays)
	if err != nil {
		return plan{}, err
	}
	traffic, err := s.traffic(ctx, sel.TrafficGB)
	if err != nil {
		return plan{}, err
	}
	dp, err := s.catalog.DevicePricing(ctx)
	if err != nil {
		return plan{}, errors.Wrap(err, "get device pricing")
	}
	devices := sel.Devices
	if devices == 0 {
		devices = max(dp.Free, 1)
	}
	if limit := deviceLimit(dp); devices > limit {
		return plan{}, invalid("devices", "at most %d devices", limit)
	}
	servers, err := s.servers(ctx, sel.ServerIDs, nil)
	if err != nil {
		return plan{}, err
	}

	devicesPrice, err := priceDevices(dp, max(devices-dp.Free, 0))
	if err != nil {
		return plan{}, err
	}
	normalized := Selections{
		Flow:       sel.Flow,
		PeriodDays: sel.PeriodDays,
		TrafficGB:  sel.TrafficGB,
		Devices:    devices,
		ServerIDs:  sel.ServerIDs,
	}
	return plan{
		selections: normalized,
		request: pricing.Request{
			PeriodDays:  sel.PeriodDays,
			PeriodPrice: period.Price,
			AddOns: []pricing.AddOn{
				{Name: "traffic", Category: pricing.CategoryTraffic, MonthlyPrice: traffic.MonthlyPrice},
				{Name: "devices", Category: pricing.CategoryDevices, MonthlyPrice: devicesPrice},
				{Name: "servers", Category: pricing.CategoryServers, MonthlyPrice: servers},
			},
		},
		grant: subscription.Grant{
			Kind:      subscription.GrantPurchase,
			Days:      sel.PeriodDays,
			TrafficGB: sel.TrafficGB,
			Devices:   devices,
			ServerIDs: sel.ServerIDs,
		},
	}, nil
}

func (s *Service) buildRenewal(ctx context.Context, sel Selections, sub *subscription.Subscription) (plan, error) {
	if sub == nil {
		return plan{}, invalid("flow", "no subscription to renew")
	}
	period, err := s.period(ctx, sel.PeriodDays)
	if err != nil {
		return plan{}, err
	}

	// Current entitlements are renewed as they are, even if the tier is no
	// longer sold.
	traffic, err := s.catalog.TrafficPackage(ctx, sub.TrafficLimitGB)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return plan{}, invalid("traffic", "current traffic tier %d GB is not priced", sub.TrafficLimitGB)
	case err != nil:
		return plan{}, errors.Wrap(err, "get traffic package")
	}
	dp, err := s.catalog.DevicePricing(ctx)
	if err != nil {
		return plan{}, errors.Wrap(err, "get device pricing")
	}
	servers, err := s.servers(ctx, sub.ConnectedServers, sub)
	if err != nil {
		return plan{}, err
	}

	devicesPrice, err := priceDevices(dp, max(sub.DeviceLimit-dp.Free, 0))
	if err != nil {
		return plan{}, err
	}
	return plan{
		selections: Selections{Flow: sel.Flow, PeriodDays: sel.PeriodDays},
		request: pricing.Request{
			PeriodDays:  sel.PeriodDays,
			PeriodPrice: period.Price,
			AddOns: []pricing.AddOn{
				{Name: "traffic", Category: pricing.CategoryTraffic, MonthlyPrice: traffic.MonthlyPrice},
				{Name: "devices", Category: pricing.CategoryDevices, MonthlyPrice: devicesPrice},
				{Name: "servers", Category: pricing.CategoryServers, MonthlyPrice: servers},
			},
		},
		grant: subscription.Grant{
			Kind: subscription.GrantRenewal,
			Days: sel.PeriodDays,
		},
	}, nil
}

func (s *Service) buildAddOn(
	ctx context.Context,
	sel Selections,
	sub *subscription.Subscription,
	now time.Time,
) (plan, error) {
	if !sub.Active(now) {
		return plan{}, invalid("flow", "no active subscription")
	}
	if sel.TrafficGB == 0 && sel.Devices == 0 && len(sel.ServerIDs) == 0 {
		return plan{}, invalid("flow", "nothing to add")
	}

	var addOns []pricing.AddOn
	if sel.TrafficGB > 0 {
		if sub.TrafficLimitGB == 0 {
			return plan{}, invalid("traffic", "traffic is already unlimited")
		}
		traffic, err := s.traffic(ctx, sel.TrafficGB)
		if err != nil {
			return plan{}, err
		}
		addOns = append(addOns, pricing.AddOn{
			Name: "traffic", Category: pricing.CategoryTraffic, MonthlyPrice: traffic.MonthlyPrice,
		})
	}
	if sel.Devices > 0 {
		dp, err := s.catalog.DevicePricing(ctx)
		if err != nil {
			return plan{}, errors.Wrap(err, "get device pricing")
		}
		if most := deviceLimit(dp); sel.Devices > most-sub.DeviceLimit {
			return plan{}, invalid("devices", "at most %d devices, %d already connected", most, sub.DeviceLimit)
		}
		limit := sub.DeviceLimit + sel.Devices
		price, err := priceDevices(dp, max(limit-max(dp.Free, sub.DeviceLimit), 0))
		if err != nil {
			return plan{}, err
		}
		addOns = append(addOns, pricing.AddOn{
			Name: "devices", Category: pricing.CategoryDevices, MonthlyPrice: price,
		})
	}
	if len(sel.ServerIDs) > 0 {
		for _, id := range sel.ServerIDs {
			if sub.HasServer(id) {
				return plan{}, invalid("servers", "server %s is already connected", id)
			}
		}
		servers, err := s.servers(ctx, sel.ServerIDs, nil)
		if err != nil {
			return plan{}, err
		}
		addOns = append(addOns, pricing.AddOn{
			Name: "servers", Category: pricing.CategoryServers, MonthlyPrice: servers,
		})
	}

	return plan{
		selections: Selections{
			Flow:      sel.Flow,
			TrafficGB: sel.TrafficGB,
			Devices:   sel.Devices,
			ServerIDs: sel.ServerIDs,
		},
		request: pricing.Request{
			AddOns:          addOns,
			SubscriptionEnd: sub.EndDate,
		},
		grant: subscription.Grant{
			Kind:      subscription.GrantAddOn,
			TrafficGB: sel.TrafficGB,
			Devices:   sel.Devices,
			ServerIDs: sel.ServerIDs,
		},
	}, nil
}

func (s *Service) period(ctx context.Context, days int) (*catalog.PeriodPrice, error) {
	if days <= 0 {
		return nil, invalid("period", "period is required")
	}
	p, err := s.catalog.PeriodPrice(ctx, days)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return nil, invalid("period", "%d days is not offered", days)
	case err != nil:
		return nil, errors.Wrap(err, "get period price")
	case !p.Enabled:
		return nil, invalid("period", "%d days is not offered", days)
	}
	return p, nil
}

func (s *Service) traffic(ctx context.Context, gb int) (*catalog.TrafficPackage, error) {
	p, err := s.catalog.TrafficPackage(ctx, gb)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return nil, invalid("traffic", "%d GB package does not exist", gb)
	case err != nil:
		return nil, errors.Wrap(err, "get traffic package")
	case !p.Enabled:
		return nil, invalid("traffic", "%d GB package is disabled", gb)
	}
	return p, nil
}

// servers returns the summed monthly price of ids. Servers already connected
// to current are priced even when they are no longer available.
func (s *Service) servers(ctx context.Context, ids []string, current *subscription.Subscription) (pricing.Money, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	for i, id := range ids {
		if slices.Contains(ids[:i], id) {
			return 0, invalid("servers", "server %s selected twice", id)
		}
	}
	found, err := s.catalog.Servers(ctx, ids)
	if err != nil {
		return 0, errors.Wrap(err, "get servers")
	}
	byID := make(map[string]catalog.Server, len(found))
	for _, srv := range found {
		byID[srv.ID] = srv
	}

	var total pricing.Money
	for _, id := range ids {
		srv, ok := byID[id]
		if !ok {
			return 0, invalid("servers", "unknown server %s", id)
		}
		if !srv.Available && !current.HasServer(id) {
			return 0, invalid("servers", "server %s is unavailable", id)
		}
		if total, err = pricing.Add(total, srv.MonthlyPrice); err != nil {
			return 0, invalid("servers", "total server price is too large")
		}
	}
	return total, nil
}

// deviceLimit is the largest device count one subscription may hold.
func deviceLimit(dp *catalog.DevicePricing) int {
	if dp.Max > 0 {
		return dp.Max
	}
	return maxDeviceSlots
}

// priceDevices returns the monthly price of paid device slots.
func priceDevices(dp *catalog.DevicePricing, paid int) (pricing.Money, error) {
	price, err := dp.MonthlyPrice.Mul(int64(paid))
	if err != nil {
		return 0, invalid("devices", "%d paid devices cannot be priced", paid)
	}
	return price, nil
}
