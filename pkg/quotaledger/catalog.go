package quotaledger

// Tier describes one purchasable allowance in the catalog.
type Tier struct {
	// Name is the catalog key, e.g. "basic".
	Name string

	// DisplayName is the human-facing label used in reports.
	DisplayName string

	// GB is the tier size in binary gigabytes before bonus.
	GB int64

	// PriceMinor is the price in minor units of the settlement currency.
	PriceMinor int64

	// BonusPercent is added on top of GB at purchase time.
	BonusPercent int64

	// DurationDays is the grant validity window.
	DurationDays int
}

// ByteLimit computes the grant capacity for this tier:
// gb * 2^30 * (1 + bonus/100), truncated to integer bytes. The math stays
// in int64 with a single truncating division so no float rounding leaks in.
func (t Tier) ByteLimit() int64 {
	return t.GB * GiB * (100 + t.BonusPercent) / 100
}

// Catalog is a fixed, versioned set of purchasable tiers.
type Catalog struct {
	// Version identifies the catalog revision for audit purposes.
	Version string

	tiers map[string]Tier
	order []string
}

// NewCatalog builds a catalog from a tier list, preserving order.
func NewCatalog(version string, tiers []Tier) *Catalog {
	c := &Catalog{
		Version: version,
		tiers:   make(map[string]Tier, len(tiers)),
		order:   make([]string, 0, len(tiers)),
	}
	for _, t := range tiers {
		if _, ok := c.tiers[t.Name]; !ok {
			c.order = append(c.order, t.Name)
		}
		c.tiers[t.Name] = t
	}
	return c
}

// Lookup returns the tier for name, or ErrUnknownTier.
func (c *Catalog) Lookup(name string) (Tier, error) {
	t, ok := c.tiers[name]
	if !ok {
		return Tier{}, ErrUnknownTier
	}
	return t, nil
}

// Tiers returns the tiers in catalog order.
func (c *Catalog) Tiers() []Tier {
	out := make([]Tier, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.tiers[name])
	}
	return out
}

// Len returns the number of tiers in the catalog.
func (c *Catalog) Len() int {
	return len(c.tiers)
}

// DefaultDurationDays is the validity window applied to catalog tiers that
// do not override it.
const DefaultDurationDays = 35

// DefaultCatalog returns the built-in tier catalog. Deployments that price
// differently pass their own catalog through Config.
func DefaultCatalog() *Catalog {
	return NewCatalog("v1", []Tier{
		{Name: "basic", DisplayName: "Basic", GB: 10, PriceMinor: 19900, BonusPercent: 0, DurationDays: DefaultDurationDays},
		{Name: "standard", DisplayName: "Standard", GB: 25, PriceMinor: 39900, BonusPercent: 5, DurationDays: DefaultDurationDays},
		{Name: "advanced", DisplayName: "Advanced", GB: 50, PriceMinor: 69900, BonusPercent: 10, DurationDays: DefaultDurationDays},
		{Name: "premium", DisplayName: "Premium", GB: 100, PriceMinor: 119900, BonusPercent: 15, DurationDays: DefaultDurationDays},
		{Name: "unlimited", DisplayName: "Unlimited", GB: 500, PriceMinor: 249900, BonusPercent: 0, DurationDays: DefaultDurationDays},
	})
}
