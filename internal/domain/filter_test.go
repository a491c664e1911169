package domain

import "testing"

func TestFilters_Matches(t *testing.T) {
	tests := []struct {
		name    string
		filters Filters
		ctx     FilterContext
		want    bool
	}{
		{
			name:    "no rules always match",
			filters: Filters{},
			ctx:     FilterContext{LocationID: strPtr("loc-1")},
			want:    true,
		},
		{
			name:    "location in allow list",
			filters: Filters{Locations: []string{"loc-1", "loc-2"}},
			ctx:     FilterContext{LocationID: strPtr("loc-2")},
			want:    true,
		},
		{
			name:    "location not in allow list",
			filters: Filters{Locations: []string{"loc-1"}},
			ctx:     FilterContext{LocationID: strPtr("loc-9")},
			want:    false,
		},
		{
			name:    "location rule passes when context has no location",
			filters: Filters{Locations: []string{"loc-1"}},
			ctx:     FilterContext{},
			want:    true,
		},
		{
			name:    "category in allow list",
			filters: Filters{Categories: []string{"excavators"}},
			ctx:     FilterContext{CategoryID: strPtr("excavators")},
			want:    true,
		},
		{
			name:    "category not in allow list",
			filters: Filters{Categories: []string{"excavators"}},
			ctx:     FilterContext{CategoryID: strPtr("cranes")},
			want:    false,
		},
		{
			name:    "stock below threshold matches",
			filters: Filters{MinStockThreshold: intPtr(5)},
			ctx:     FilterContext{CurrentStock: intPtr(4)},
			want:    true,
		},
		{
			name:    "stock equal to threshold does not match",
			filters: Filters{MinStockThreshold: intPtr(5)},
			ctx:     FilterContext{CurrentStock: intPtr(5)},
			want:    false,
		},
		{
			name:    "stock above threshold does not match",
			filters: Filters{MinStockThreshold: intPtr(5)},
			ctx:     FilterContext{CurrentStock: intPtr(12)},
			want:    false,
		},
		{
			name:    "stock rule passes when context has no stock",
			filters: Filters{MinStockThreshold: intPtr(5)},
			ctx:     FilterContext{LocationID: strPtr("loc-1")},
			want:    true,
		},
		{
			name: "all rules must pass",
			filters: Filters{
				Locations:         []string{"loc-1"},
				Categories:        []string{"excavators"},
				MinStockThreshold: intPtr(5),
			},
			ctx: FilterContext{
				LocationID:   strPtr("loc-1"),
				CategoryID:   strPtr("excavators"),
				CurrentStock: intPtr(3),
			},
			want: true,
		},
		{
			name: "one failing rule suppresses",
			filters: Filters{
				Locations:         []string{"loc-1"},
				MinStockThreshold: intPtr(5),
			},
			ctx: FilterContext{
				LocationID:   strPtr("loc-1"),
				CurrentStock: intPtr(10),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filters.Matches(tt.ctx); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilters_IsZero(t *testing.T) {
	if !(Filters{}).IsZero() {
		t.Error("empty filters should be zero")
	}
	if (Filters{Locations: []string{"loc-1"}}).IsZero() {
		t.Error("filters with a location rule are not zero")
	}
	if (Filters{MinStockThreshold: intPtr(0)}).IsZero() {
		t.Error("filters with a stock rule are not zero")
	}
}
