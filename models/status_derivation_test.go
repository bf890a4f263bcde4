package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSettlementStatusFor(t *testing.T) {
	cases := []struct {
		netPaid  string
		total    string
		expected InvoiceStatus
	}{
		{"0", "100", InvoiceStatusUnpaid},
		{"-10", "100", InvoiceStatusUnpaid}, // negative net paid still reads Unpaid
		{"0.01", "100", InvoiceStatusPartialPaid},
		{"99.99", "100", InvoiceStatusPartialPaid},
		{"100", "100", InvoiceStatusPaid},
		{"150", "100", InvoiceStatusPaid},
		{"0", "0", InvoiceStatusUnpaid},
	}
	for _, tc := range cases {
		netPaid, _ := decimal.NewFromString(tc.netPaid)
		total, _ := decimal.NewFromString(tc.total)
		if got := settlementStatusFor(netPaid, total); got != tc.expected {
			t.Fatalf("settlementStatusFor(%s, %s) expected %s, got %s", tc.netPaid, tc.total, tc.expected, got)
		}
	}
}

func TestDeriveProductStatus_SoldWinsOverProcessing(t *testing.T) {
	cases := []struct {
		hasSoldLine bool
		hasOpenLine bool
		expected    ProductStatus
	}{
		{false, false, ProductStatusInStock},
		{false, true, ProductStatusProcessing},
		{true, false, ProductStatusSold},
		{true, true, ProductStatusSold},
	}
	for _, tc := range cases {
		if got := deriveProductStatus(tc.hasSoldLine, tc.hasOpenLine); got != tc.expected {
			t.Fatalf("deriveProductStatus(sold=%v, open=%v) expected %s, got %s",
				tc.hasSoldLine, tc.hasOpenLine, tc.expected, got)
		}
	}
}

func TestReturnValueFor_UsesEffectiveUnitValue(t *testing.T) {
	item := &InvoiceItem{
		DetailQty:         decimal.NewFromInt(3),
		DetailTotalAmount: decimal.NewFromInt(270), // 300 with a 10% line discount
	}
	got := returnValueFor(item, decimal.NewFromInt(1))
	if !got.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("returning 1 of 3 units on a 270 line: expected 90, got %s", got)
	}
	got = returnValueFor(item, decimal.NewFromInt(3))
	if !got.Equal(decimal.NewFromInt(270)) {
		t.Fatalf("returning all 3 units: expected 270, got %s", got)
	}
}

func TestReturnValueFor_ZeroQtyLine(t *testing.T) {
	item := &InvoiceItem{
		DetailQty:         decimal.Zero,
		DetailTotalAmount: decimal.NewFromInt(100),
	}
	if got := returnValueFor(item, decimal.NewFromInt(1)); !got.IsZero() {
		t.Fatalf("zero-qty line should value returns at 0, got %s", got)
	}
}
