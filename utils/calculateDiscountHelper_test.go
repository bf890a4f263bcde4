package utils

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCalculateDiscountAmount_Percentage(t *testing.T) {
	cases := []struct {
		subTotal string
		discount string
		expected string
	}{
		{"300", "10", "30"},
		{"300", "0", "0"},
		{"300", "-5", "0"},
		{"300", "100", "300"},
		{"300", "150", "300"}, // percentage capped at 100
		{"99.99", "33.33", "33.33"},
	}
	for _, tc := range cases {
		got := CalculateDiscountAmount(mustDecimal(t, tc.subTotal), mustDecimal(t, tc.discount), "P")
		if !got.Equal(mustDecimal(t, tc.expected)) {
			t.Fatalf("CalculateDiscountAmount(%s, %s%%) expected %s, got %s", tc.subTotal, tc.discount, tc.expected, got)
		}
	}
}

func TestCalculateDiscountAmount_FixedClampedToSubtotal(t *testing.T) {
	got := CalculateDiscountAmount(mustDecimal(t, "250"), mustDecimal(t, "400"), "A")
	if !got.Equal(mustDecimal(t, "250")) {
		t.Fatalf("fixed discount should clamp to subtotal: expected 250, got %s", got)
	}
	got = CalculateDiscountAmount(mustDecimal(t, "250"), mustDecimal(t, "40"), "A")
	if !got.Equal(mustDecimal(t, "40")) {
		t.Fatalf("fixed discount: expected 40, got %s", got)
	}
}

func TestCalculateLineAmounts_PercentDiscount(t *testing.T) {
	pt := "P"
	got := CalculateLineAmounts(
		decimal.NewFromInt(3),
		decimal.NewFromInt(100),
		decimal.NewFromInt(60),
		decimal.NewFromInt(10),
		&pt,
	)
	if !got.PreDiscountTotal.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("pre-discount total expected 300, got %s", got.PreDiscountTotal)
	}
	if !got.DiscountAmount.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("discount amount expected 30, got %s", got.DiscountAmount)
	}
	if !got.LineTotal.Equal(decimal.NewFromInt(270)) {
		t.Fatalf("line total expected 270, got %s", got.LineTotal)
	}
	if !got.LineCost.Equal(decimal.NewFromInt(180)) {
		t.Fatalf("line cost expected 180, got %s", got.LineCost)
	}
	if !got.LineProfit.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("line profit expected 90, got %s", got.LineProfit)
	}
}

func TestCalculateLineAmounts_NoDiscountType(t *testing.T) {
	got := CalculateLineAmounts(
		decimal.NewFromInt(2),
		mustDecimal(t, "19.99"),
		mustDecimal(t, "12.5"),
		decimal.NewFromInt(50), // ignored without a type
		nil,
	)
	if !got.DiscountAmount.IsZero() {
		t.Fatalf("discount without type should be zero, got %s", got.DiscountAmount)
	}
	if !got.LineTotal.Equal(mustDecimal(t, "39.98")) {
		t.Fatalf("line total expected 39.98, got %s", got.LineTotal)
	}
}

func TestCalculateLineAmounts_RoundsEachStep(t *testing.T) {
	pt := "P"
	// 3 * 33.333 = 99.999 -> 100.00 before the discount applies.
	got := CalculateLineAmounts(
		decimal.NewFromInt(3),
		mustDecimal(t, "33.333"),
		decimal.Zero,
		decimal.NewFromInt(10),
		&pt,
	)
	if !got.PreDiscountTotal.Equal(mustDecimal(t, "100")) {
		t.Fatalf("pre-discount total expected 100, got %s", got.PreDiscountTotal)
	}
	if !got.DiscountAmount.Equal(mustDecimal(t, "10")) {
		t.Fatalf("discount amount expected 10, got %s", got.DiscountAmount)
	}
	if !got.LineTotal.Equal(mustDecimal(t, "90")) {
		t.Fatalf("line total expected 90, got %s", got.LineTotal)
	}
}

func TestEffectiveDiscountPercent(t *testing.T) {
	cases := []struct {
		pre      string
		discount string
		expected string
	}{
		{"300", "30", "10"},
		{"300", "300", "100"},
		{"0", "30", "0"},
		{"200", "0", "0"},
		{"150", "50", "33.33"},
	}
	for _, tc := range cases {
		got := EffectiveDiscountPercent(mustDecimal(t, tc.pre), mustDecimal(t, tc.discount))
		if !got.Equal(mustDecimal(t, tc.expected)) {
			t.Fatalf("EffectiveDiscountPercent(%s, %s) expected %s, got %s", tc.pre, tc.discount, tc.expected, got)
		}
	}
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := ParseDecimal(s)
	if err != nil {
		t.Fatalf("ParseDecimal(%q): %v", s, err)
	}
	return d
}
