package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/stockbook_backend/config"
	"github.com/mmdatafocus/stockbook_backend/models"
	"github.com/mmdatafocus/stockbook_backend/utils"
	"github.com/shopspring/decimal"
)

// setupIntegrationEnv boots throwaway Redis + MySQL containers, connects the
// globals against them, migrates, and returns a context with actor identity.
// Tests calling it are skipped unless INTEGRATION_TESTS is set.
func setupIntegrationEnv(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "stockbook_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	return ctx
}

type fixture struct {
	currency *models.Currency
	customer *models.Customer
}

func seedFixture(t *testing.T, ctx context.Context) fixture {
	t.Helper()
	db := config.GetDB()

	currency := models.Currency{Name: "Kyat", Code: "MMK", Symbol: "Ks", IsBaseCurrency: utils.NewTrue()}
	if err := db.WithContext(ctx).Create(&currency).Error; err != nil {
		t.Fatalf("create currency: %v", err)
	}
	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: "Walk-in"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	return fixture{currency: &currency, customer: customer}
}

func seedProduct(t *testing.T, ctx context.Context, fx fixture, name string, onHand int64, price int64, cost int64) *models.Product {
	t.Helper()
	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:         name,
		Sku:          strings.ToUpper(name) + "-001",
		CurrencyId:   fx.currency.ID,
		SalesPrice:   decimal.NewFromInt(price),
		PurchaseCost: decimal.NewFromInt(cost),
		OpeningQty:   decimal.NewFromInt(onHand),
	})
	if err != nil {
		t.Fatalf("CreateProduct(%s): %v", name, err)
	}
	return product
}

func reloadProduct(t *testing.T, ctx context.Context, id int) *models.Product {
	t.Helper()
	product, err := models.GetProduct(ctx, id)
	if err != nil {
		t.Fatalf("GetProduct(%d): %v", id, err)
	}
	return product
}

func reloadInvoice(t *testing.T, ctx context.Context, id int) *models.Invoice {
	t.Helper()
	invoice, err := models.GetInvoice(ctx, id)
	if err != nil {
		t.Fatalf("GetInvoice(%d): %v", id, err)
	}
	return invoice
}

// The full lifecycle of the last unit of a product: reserve, fail a second
// reservation, pay, refund, re-reserve from the other invoice.
func TestLastUnitLifecycle_ReserveSettleRefundRetry(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	fx := seedFixture(t, ctx)
	product := seedProduct(t, ctx, fx, "Solo", 1, 100, 60)

	invoiceA, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerId: fx.customer.ID,
		CurrencyId: fx.currency.ID,
		Details: []models.NewInvoiceItem{
			{ProductId: product.ID, DetailQty: decimal.NewFromInt(1)},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice A: %v", err)
	}

	available, err := models.ProductAvailability(ctx, product.ID, 0)
	if err != nil {
		t.Fatalf("ProductAvailability: %v", err)
	}
	if !available.IsZero() {
		t.Fatalf("after reserving the last unit, available should be 0, got %s", available)
	}
	if got := reloadProduct(t, ctx, product.ID).CurrentStatus; got != models.ProductStatusProcessing {
		t.Fatalf("reserved product should be Processing, got %s", got)
	}

	invoiceB, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerId: fx.customer.ID,
		CurrencyId: fx.currency.ID,
	})
	if err != nil {
		t.Fatalf("CreateInvoice B: %v", err)
	}
	_, err = models.AddInvoiceItem(ctx, invoiceB.ID, &models.NewInvoiceItem{
		ProductId: product.ID,
		DetailQty: decimal.NewFromInt(1),
	})
	if err == nil {
		t.Fatalf("adding a reserved unit to invoice B should fail")
	}
	if appErr, ok := utils.AsAppError(err); !ok || appErr.Kind != utils.ErrorKindInsufficientStock {
		t.Fatalf("expected InsufficientStock, got %v", err)
	}

	// Pay invoice A in full: on-hand drops, status goes Paid.
	if _, err := models.RecordInvoiceTransaction(ctx, invoiceA.ID, &models.NewInvoiceTransaction{
		TransactionType: models.TransactionTypePayment,
		Amount:          decimal.NewFromInt(100),
	}); err != nil {
		t.Fatalf("pay invoice A: %v", err)
	}
	if got := reloadInvoice(t, ctx, invoiceA.ID).CurrentStatus; got != models.InvoiceStatusPaid {
		t.Fatalf("invoice A should be Paid, got %s", got)
	}
	if got := reloadProduct(t, ctx, product.ID).OnHandQty; !got.IsZero() {
		t.Fatalf("on-hand after settlement expected 0, got %s", got)
	}
	if got := reloadProduct(t, ctx, product.ID).CurrentStatus; got != models.ProductStatusSold {
		t.Fatalf("settled product should be Sold, got %s", got)
	}

	// Full refund: unit comes back on hand, invoice drops to Unpaid.
	if _, err := models.RecordInvoiceTransaction(ctx, invoiceA.ID, &models.NewInvoiceTransaction{
		TransactionType: models.TransactionTypeRefund,
		Amount:          decimal.NewFromInt(100),
	}); err != nil {
		t.Fatalf("refund invoice A: %v", err)
	}
	invoiceA = reloadInvoice(t, ctx, invoiceA.ID)
	if invoiceA.CurrentStatus != models.InvoiceStatusUnpaid {
		t.Fatalf("refunded invoice should be Unpaid, got %s", invoiceA.CurrentStatus)
	}
	if got := reloadProduct(t, ctx, product.ID).OnHandQty; !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("on-hand after refund expected 1, got %s", got)
	}

	// Invoice A's line still reserves the unit, so invoice B still cannot add.
	if _, err := models.AddInvoiceItem(ctx, invoiceB.ID, &models.NewInvoiceItem{
		ProductId: product.ID,
		DetailQty: decimal.NewFromInt(1),
	}); err == nil {
		t.Fatalf("invoice A still reserves the unit; invoice B add should fail")
	}

	// Cancelling A releases the reservation; B's retry then succeeds.
	if _, err := models.CancelInvoice(ctx, invoiceA.ID, "customer walked away"); err != nil {
		t.Fatalf("CancelInvoice A: %v", err)
	}
	if _, err := models.AddInvoiceItem(ctx, invoiceB.ID, &models.NewInvoiceItem{
		ProductId: product.ID,
		DetailQty: decimal.NewFromInt(1),
	}); err != nil {
		t.Fatalf("invoice B retry should succeed after cancel: %v", err)
	}
}

// Settlement math and the cancellation gate, with the usual 3x100 at 10% line.
func TestSettlement_ConservationAndCancellationGate(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	fx := seedFixture(t, ctx)
	product := seedProduct(t, ctx, fx, "Widget", 5, 100, 60)

	pct := models.DiscountTypePercent
	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerId: fx.customer.ID,
		CurrencyId: fx.currency.ID,
		Details: []models.NewInvoiceItem{
			{
				ProductId:          product.ID,
				DetailQty:          decimal.NewFromInt(3),
				DetailDiscount:     decimal.NewFromInt(10),
				DetailDiscountType: &pct,
			},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if !invoice.InvoiceTotalAmount.Equal(decimal.NewFromInt(270)) {
		t.Fatalf("3x100 at 10%% should total 270, got %s", invoice.InvoiceTotalAmount)
	}
	if len(invoice.Details) != 1 || !invoice.Details[0].DetailDiscountAmount.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("line discount amount expected 30, got %+v", invoice.Details)
	}

	// Partial payment.
	if _, err := models.RecordInvoiceTransaction(ctx, invoice.ID, &models.NewInvoiceTransaction{
		TransactionType: models.TransactionTypePayment,
		Amount:          decimal.NewFromInt(100),
	}); err != nil {
		t.Fatalf("partial payment: %v", err)
	}
	invoice = reloadInvoice(t, ctx, invoice.ID)
	if invoice.CurrentStatus != models.InvoiceStatusPartialPaid {
		t.Fatalf("expected Partial Paid, got %s", invoice.CurrentStatus)
	}
	if !invoice.RemainingBalance.Equal(decimal.NewFromInt(170)) {
		t.Fatalf("balance expected 170, got %s", invoice.RemainingBalance)
	}
	// No stock movement before Paid.
	if got := reloadProduct(t, ctx, product.ID).OnHandQty; !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("on-hand must not move before Paid, got %s", got)
	}

	// Cancellation is gated on net paid = 0.
	if _, err := models.CancelInvoice(ctx, invoice.ID, "nope"); err == nil {
		t.Fatalf("cancel with outstanding payments should fail")
	} else if appErr, ok := utils.AsAppError(err); !ok || appErr.Kind != utils.ErrorKindInvalidState {
		t.Fatalf("expected InvalidState on cancel, got %v", err)
	}

	// Overpayment rejected.
	if _, err := models.RecordInvoiceTransaction(ctx, invoice.ID, &models.NewInvoiceTransaction{
		TransactionType: models.TransactionTypePayment,
		Amount:          decimal.NewFromInt(171),
	}); err == nil {
		t.Fatalf("overpayment should be rejected")
	}

	// Settle the rest.
	settling, err := models.RecordInvoiceTransaction(ctx, invoice.ID, &models.NewInvoiceTransaction{
		TransactionType: models.TransactionTypePayment,
		Amount:          decimal.NewFromInt(170),
	})
	if err != nil {
		t.Fatalf("settling payment: %v", err)
	}
	invoice = reloadInvoice(t, ctx, invoice.ID)
	if invoice.CurrentStatus != models.InvoiceStatusPaid {
		t.Fatalf("expected Paid, got %s", invoice.CurrentStatus)
	}
	if got := reloadProduct(t, ctx, product.ID).OnHandQty; !got.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("on-hand after settlement expected 2, got %s", got)
	}

	// Conservation under void: voiding the settling payment restores both the
	// pre-payment settlement state and the stock it took.
	if _, err := models.VoidInvoiceTransaction(ctx, settling.ID, "keyed in twice"); err != nil {
		t.Fatalf("VoidInvoiceTransaction: %v", err)
	}
	invoice = reloadInvoice(t, ctx, invoice.ID)
	if invoice.CurrentStatus != models.InvoiceStatusPartialPaid {
		t.Fatalf("after void expected Partial Paid, got %s", invoice.CurrentStatus)
	}
	if !invoice.InvoiceTotalPaidAmount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("after void paid amount expected 100, got %s", invoice.InvoiceTotalPaidAmount)
	}
	if got := reloadProduct(t, ctx, product.ID).OnHandQty; !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("void must restore on-hand to 5, got %s", got)
	}

	// Refund the rest, then cancel goes through.
	if _, err := models.RecordInvoiceTransaction(ctx, invoice.ID, &models.NewInvoiceTransaction{
		TransactionType: models.TransactionTypeRefund,
		Amount:          decimal.NewFromInt(100),
	}); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if _, err := models.CancelInvoice(ctx, invoice.ID, "order abandoned"); err != nil {
		t.Fatalf("CancelInvoice after full refund: %v", err)
	}
	if got := reloadProduct(t, ctx, product.ID).CurrentStatus; got != models.ProductStatusInStock {
		t.Fatalf("cancel should release the product back to InStock, got %s", got)
	}
	available, err := models.ProductAvailability(ctx, product.ID, 0)
	if err != nil {
		t.Fatalf("ProductAvailability: %v", err)
	}
	if !available.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("available after cancel expected 5, got %s", available)
	}
}

// N units, M > N concurrent single-unit adds: exactly N succeed.
func TestConcurrentAdds_NoOversell(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	fx := seedFixture(t, ctx)
	const onHand = 2
	const contenders = 6
	product := seedProduct(t, ctx, fx, "Scarce", onHand, 100, 60)

	invoiceIds := make([]int, contenders)
	for i := 0; i < contenders; i++ {
		invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
			CustomerId: fx.customer.ID,
			CurrencyId: fx.currency.ID,
		})
		if err != nil {
			t.Fatalf("CreateInvoice %d: %v", i, err)
		}
		invoiceIds[i] = invoice.ID
	}

	var wg sync.WaitGroup
	results := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = models.AddInvoiceItem(ctx, invoiceIds[i], &models.NewInvoiceItem{
				ProductId: product.ID,
				DetailQty: decimal.NewFromInt(1),
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		if appErr, ok := utils.AsAppError(err); !ok || appErr.Kind != utils.ErrorKindInsufficientStock {
			t.Fatalf("contender %d: expected InsufficientStock, got %v", i, err)
		}
	}
	if succeeded != onHand {
		t.Fatalf("expected exactly %d of %d adds to succeed, got %d", onHand, contenders, succeeded)
	}

	available, err := models.ProductAvailability(ctx, product.ID, 0)
	if err != nil {
		t.Fatalf("ProductAvailability: %v", err)
	}
	if !available.IsZero() {
		t.Fatalf("available after the race expected 0, got %s", available)
	}
}

// Partial void on a paid invoice preserves the original amount in history and
// restores the voided units.
func TestVoidInvoiceItem_PartialVoidClone(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	fx := seedFixture(t, ctx)
	product := seedProduct(t, ctx, fx, "Gadget", 5, 100, 60)
	filler := seedProduct(t, ctx, fx, "Filler", 5, 50, 20)

	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerId: fx.customer.ID,
		CurrencyId: fx.currency.ID,
		Details: []models.NewInvoiceItem{
			{ProductId: product.ID, DetailQty: decimal.NewFromInt(3)},
			{ProductId: filler.ID, DetailQty: decimal.NewFromInt(1)},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if _, err := models.RecordInvoiceTransaction(ctx, invoice.ID, &models.NewInvoiceTransaction{
		TransactionType: models.TransactionTypePayment,
		Amount:          invoice.InvoiceTotalAmount,
	}); err != nil {
		t.Fatalf("pay in full: %v", err)
	}
	if got := reloadProduct(t, ctx, product.ID).OnHandQty; !got.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("on-hand after settlement expected 2, got %s", got)
	}

	invoice = reloadInvoice(t, ctx, invoice.ID)
	var gadgetLine *models.InvoiceItem
	for i := range invoice.Details {
		if invoice.Details[i].ProductId == product.ID {
			gadgetLine = &invoice.Details[i]
		}
	}
	if gadgetLine == nil {
		t.Fatalf("gadget line not found")
	}

	one := decimal.NewFromInt(1)
	if _, err := models.VoidInvoiceItem(ctx, gadgetLine.ID, &one, "wrong item scanned"); err != nil {
		t.Fatalf("partial void: %v", err)
	}

	// One unit back on hand; live line shrank to 2; a born-voided clone holds
	// the voided unit.
	if got := reloadProduct(t, ctx, product.ID).OnHandQty; !got.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("on-hand after partial void expected 3, got %s", got)
	}
	invoice = reloadInvoice(t, ctx, invoice.ID)
	liveQty := decimal.Zero
	voidedQty := decimal.Zero
	for _, d := range invoice.Details {
		if d.ProductId != product.ID {
			continue
		}
		if d.IsVoided() {
			voidedQty = voidedQty.Add(d.DetailQty)
		} else {
			liveQty = liveQty.Add(d.DetailQty)
		}
	}
	if !liveQty.Equal(decimal.NewFromInt(2)) || !voidedQty.Equal(one) {
		t.Fatalf("expected live=2 voided=1, got live=%s voided=%s", liveQty, voidedQty)
	}
	// Invoice total dropped to the live lines only; still Paid.
	if invoice.CurrentStatus != models.InvoiceStatusPaid {
		t.Fatalf("invoice should stay Paid after void, got %s", invoice.CurrentStatus)
	}
	if !invoice.InvoiceTotalAmount.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("total after voiding one 100 unit expected 250, got %s", invoice.InvoiceTotalAmount)
	}
}

// A return on a paid invoice restocks units, tracks the returned total, and
// can spawn a store-credit note; fully-returned invoices reject new payments.
func TestSalesReturn_RestocksAndIssuesCredit(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	fx := seedFixture(t, ctx)
	product := seedProduct(t, ctx, fx, "Returner", 3, 100, 60)

	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerId: fx.customer.ID,
		CurrencyId: fx.currency.ID,
		Details: []models.NewInvoiceItem{
			{ProductId: product.ID, DetailQty: decimal.NewFromInt(3)},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if _, err := models.RecordInvoiceTransaction(ctx, invoice.ID, &models.NewInvoiceTransaction{
		TransactionType: models.TransactionTypePayment,
		Amount:          decimal.NewFromInt(300),
	}); err != nil {
		t.Fatalf("pay in full: %v", err)
	}

	invoice = reloadInvoice(t, ctx, invoice.ID)
	salesReturn, err := models.CreateSalesReturn(ctx, &models.NewSalesReturn{
		InvoiceId:        invoice.ID,
		Reason:           "changed mind",
		IssueStoreCredit: true,
		Details: []models.NewSalesReturnDetail{
			{InvoiceItemId: invoice.Details[0].ID, ReturnQty: decimal.NewFromInt(2)},
		},
	})
	if err != nil {
		t.Fatalf("CreateSalesReturn: %v", err)
	}
	if !salesReturn.TotalAmount.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("return value expected 200, got %s", salesReturn.TotalAmount)
	}
	if got := reloadProduct(t, ctx, product.ID).OnHandQty; !got.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("on-hand after returning 2 of 3 expected 2, got %s", got)
	}

	var note models.CreditNote
	if err := config.GetDB().WithContext(ctx).Where("sales_return_id = ?", salesReturn.ID).First(&note).Error; err != nil {
		t.Fatalf("expected a credit note: %v", err)
	}
	if !note.Amount.Equal(decimal.NewFromInt(200)) || !note.RemainingAmount.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("credit note expected 200/200, got %s/%s", note.Amount, note.RemainingAmount)
	}

	// Over-returning the last unit is rejected.
	if _, err := models.CreateSalesReturn(ctx, &models.NewSalesReturn{
		InvoiceId: invoice.ID,
		Details: []models.NewSalesReturnDetail{
			{InvoiceItemId: invoice.Details[0].ID, ReturnQty: decimal.NewFromInt(2)},
		},
	}); err == nil {
		t.Fatalf("over-return should be rejected")
	}

	// Return the final unit, then any further payment attempt must fail.
	if _, err := models.CreateSalesReturn(ctx, &models.NewSalesReturn{
		InvoiceId: invoice.ID,
		Details: []models.NewSalesReturnDetail{
			{InvoiceItemId: invoice.Details[0].ID, ReturnQty: decimal.NewFromInt(1)},
		},
	}); err != nil {
		t.Fatalf("returning final unit: %v", err)
	}
	// Refund everything so the invoice leaves Paid, then try to pay again.
	if _, err := models.RecordInvoiceTransaction(ctx, invoice.ID, &models.NewInvoiceTransaction{
		TransactionType: models.TransactionTypeRefund,
		Amount:          decimal.NewFromInt(300),
	}); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if _, err := models.RecordInvoiceTransaction(ctx, invoice.ID, &models.NewInvoiceTransaction{
		TransactionType: models.TransactionTypePayment,
		Amount:          decimal.NewFromInt(100),
	}); err == nil {
		t.Fatalf("payment on a fully returned invoice should be rejected")
	}
}

// The acting role's max discount percent caps every discount edit: line
// discounts on add, and the invoice-level discount.
func TestDiscountCeiling_BoundByRole(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	fx := seedFixture(t, ctx)
	product := seedProduct(t, ctx, fx, "Capped", 10, 100, 60)

	role := models.Role{Name: "Cashier", MaxDiscountPercent: decimal.NewFromInt(10)}
	if err := config.GetDB().WithContext(ctx).Create(&role).Error; err != nil {
		t.Fatalf("create role: %v", err)
	}
	cashierCtx := utils.SetRoleIdInContext(ctx, role.ID)

	percent := models.DiscountTypePercent
	invoice, err := models.CreateInvoice(cashierCtx, &models.NewInvoice{
		CustomerId: fx.customer.ID,
		CurrencyId: fx.currency.ID,
		Details: []models.NewInvoiceItem{
			{ProductId: product.ID, DetailQty: decimal.NewFromInt(2)},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	// A 20% line discount is over the cashier's 10% ceiling.
	other := seedProduct(t, ctx, fx, "CappedToo", 10, 100, 60)
	_, err = models.AddInvoiceItem(cashierCtx, invoice.ID, &models.NewInvoiceItem{
		ProductId:          other.ID,
		DetailQty:          decimal.NewFromInt(1),
		DetailDiscount:     decimal.NewFromInt(20),
		DetailDiscountType: &percent,
	})
	if err == nil {
		t.Fatalf("line discount over the role ceiling should be rejected")
	}
	if appErr, ok := utils.AsAppError(err); !ok || appErr.Kind != utils.ErrorKindInvalidAmount {
		t.Fatalf("expected InvalidAmount, got %v", err)
	}

	// Same for the invoice-level discount.
	_, err = models.UpdateInvoiceDiscount(cashierCtx, invoice.ID, &models.UpdateInvoiceDiscountInput{
		InvoiceDiscount:     decimal.NewFromInt(20),
		InvoiceDiscountType: &percent,
	})
	if err == nil {
		t.Fatalf("invoice discount over the role ceiling should be rejected")
	}
	if appErr, ok := utils.AsAppError(err); !ok || appErr.Kind != utils.ErrorKindInvalidAmount {
		t.Fatalf("expected InvalidAmount, got %v", err)
	}

	// At the ceiling it goes through.
	updated, err := models.UpdateInvoiceDiscount(cashierCtx, invoice.ID, &models.UpdateInvoiceDiscountInput{
		InvoiceDiscount:     decimal.NewFromInt(10),
		InvoiceDiscountType: &percent,
	})
	if err != nil {
		t.Fatalf("invoice discount at the role ceiling: %v", err)
	}
	if !updated.InvoiceDiscountAmount.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("10%% of 200 expected 20, got %s", updated.InvoiceDiscountAmount)
	}

	// No role on the context means no ceiling; the same 20% is fine.
	if _, err := models.UpdateInvoiceDiscount(ctx, invoice.ID, &models.UpdateInvoiceDiscountInput{
		InvoiceDiscount:     decimal.NewFromInt(20),
		InvoiceDiscountType: &percent,
	}); err != nil {
		t.Fatalf("discount without a role ceiling: %v", err)
	}
}

// Voiding the only live line of a paid invoice is rejected; the invoice must
// be refunded and cancelled instead. A partial void that keeps the line live
// is still allowed.
func TestVoidInvoiceItem_LastLineRejected(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	fx := seedFixture(t, ctx)
	product := seedProduct(t, ctx, fx, "OnlyLine", 2, 100, 60)

	invoice, err := models.CreateInvoice(ctx, &models.NewInvoice{
		CustomerId: fx.customer.ID,
		CurrencyId: fx.currency.ID,
		Details: []models.NewInvoiceItem{
			{ProductId: product.ID, DetailQty: decimal.NewFromInt(2)},
		},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if _, err := models.RecordInvoiceTransaction(ctx, invoice.ID, &models.NewInvoiceTransaction{
		TransactionType: models.TransactionTypePayment,
		Amount:          invoice.InvoiceTotalAmount,
	}); err != nil {
		t.Fatalf("pay in full: %v", err)
	}

	invoice = reloadInvoice(t, ctx, invoice.ID)
	line := invoice.Details[0]

	_, err = models.VoidInvoiceItem(ctx, line.ID, nil, "no longer wanted")
	if err == nil {
		t.Fatalf("voiding the only line should be rejected")
	}
	if appErr, ok := utils.AsAppError(err); !ok || appErr.Kind != utils.ErrorKindInvalidState {
		t.Fatalf("expected InvalidState, got %v", err)
	}
	// The rejection left nothing behind: no stock movement, invoice untouched.
	if got := reloadProduct(t, ctx, product.ID).OnHandQty; !got.Equal(decimal.Zero) {
		t.Fatalf("on-hand should stay 0 after rejected void, got %s", got)
	}
	if got := reloadInvoice(t, ctx, invoice.ID).CurrentStatus; got != models.InvoiceStatusPaid {
		t.Fatalf("invoice should stay Paid, got %s", got)
	}

	// A partial void keeps the line alive, so it is allowed even on the only
	// line; voiding the remainder afterwards is again the last-line case.
	one := decimal.NewFromInt(1)
	if _, err := models.VoidInvoiceItem(ctx, line.ID, &one, "one unit damaged"); err != nil {
		t.Fatalf("partial void of the only line: %v", err)
	}
	if _, err := models.VoidInvoiceItem(ctx, line.ID, &one, "and the other"); err == nil {
		t.Fatalf("voiding the remainder of the only line should be rejected")
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("stockbook-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("stockbook-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=stockbook_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
