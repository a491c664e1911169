package domain

// Filters narrow which triggered events a subscription receives.
// Every rule is optional; an unset rule always passes.
type Filters struct {
	// Locations is an allow-list of location ids.
	Locations []string `json:"locations,omitempty"`
	// Categories is an allow-list of category ids.
	Categories []string `json:"categories,omitempty"`
	// MinStockThreshold suppresses delivery unless the current stock has
	// dropped below this value.
	MinStockThreshold *int `json:"min_stock_threshold,omitempty"`
}

// FilterContext carries the event metadata usable for filtering.
// Fields are pointers because a trigger may omit any of them.
type FilterContext struct {
	LocationID   *string `json:"location_id,omitempty"`
	CategoryID   *string `json:"category_id,omitempty"`
	CurrentStock *int    `json:"current_stock,omitempty"`
}

// IsZero reports whether no filter rule is declared.
func (f Filters) IsZero() bool {
	return len(f.Locations) == 0 && len(f.Categories) == 0 && f.MinStockThreshold == nil
}

// Matches evaluates the filter rules against a trigger's context.
//
// A declared rule whose corresponding context field is absent passes.
// That keeps a category-filtered subscription reachable from triggers that
// carry no category, mirroring what callers have come to depend on.
func (f Filters) Matches(ctx FilterContext) bool {
	if len(f.Locations) > 0 && ctx.LocationID != nil {
		if !containsString(f.Locations, *ctx.LocationID) {
			return false
		}
	}

	if len(f.Categories) > 0 && ctx.CategoryID != nil {
		if !containsString(f.Categories, *ctx.CategoryID) {
			return false
		}
	}

	if f.MinStockThreshold != nil && ctx.CurrentStock != nil {
		if *ctx.CurrentStock >= *f.MinStockThreshold {
			return false
		}
	}

	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
