package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"stockdesk/internal/cache"
	"stockdesk/internal/domain"
	"stockdesk/internal/store"
	"stockdesk/internal/store/memory"
)

func newTestService() *Service {
	return New(memory.NewSeeded(), nil)
}

var errInjected = errors.New("injected failure")

// flakyStore wraps the in-memory store and fails selected writes so partial
// checkout and delete outcomes can be observed.
type flakyStore struct {
	*memory.Store
	failLedger     bool
	failItems      bool
	failStock      bool
	failItemDelete bool
}

func (f *flakyStore) CreateLedgerEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, error) {
	if f.failLedger {
		return nil, errInjected
	}
	return f.Store.CreateLedgerEntry(ctx, entry)
}

func (f *flakyStore) CreateTransactionItems(ctx context.Context, transactionID string, items []domain.TransactionItem) error {
	if f.failItems {
		return errInjected
	}
	return f.Store.CreateTransactionItems(ctx, transactionID, items)
}

func (f *flakyStore) DecrementStock(ctx context.Context, sku string, qty int) error {
	if f.failStock {
		return errInjected
	}
	return f.Store.DecrementStock(ctx, sku, qty)
}

func (f *flakyStore) DeleteTransactionItems(ctx context.Context, transactionID string) error {
	if f.failItemDelete {
		return errInjected
	}
	return f.Store.DeleteTransactionItems(ctx, transactionID)
}

// noExpiryStore simulates a database whose products table has no expiry
// column.
type noExpiryStore struct {
	*memory.Store
}

func (noExpiryStore) SupportsExpiry() bool { return false }

func TestCheckoutComputesDiscountedTotal(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	result, err := svc.Checkout(ctx, domain.CheckoutRequest{
		CartItems: []domain.CartItem{
			{ProductSKU: "PCM-500", Name: "Paracetamol 500mg", Price: 100, Quantity: 2},
		},
		DiscountPercent: 10,
		DiscountRs:      5,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if result.Transaction.Subtotal != 200 {
		t.Fatalf("expected subtotal 200, got %v", result.Transaction.Subtotal)
	}
	if result.Transaction.Total != 175 {
		t.Fatalf("expected total 175, got %v", result.Transaction.Total)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", result.Warnings)
	}
	if len(result.Transaction.Items) != 1 || result.Transaction.Items[0].QuantitySold != 2 {
		t.Fatalf("expected one line with quantity 2, got %+v", result.Transaction.Items)
	}

	product, err := svc.GetProduct(ctx, "PCM-500")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Quantity != 138 {
		t.Fatalf("expected stock 138 after checkout, got %d", product.Quantity)
	}
}

func TestCheckoutTotalNeverGoesNegative(t *testing.T) {
	svc := newTestService()

	result, err := svc.Checkout(context.Background(), domain.CheckoutRequest{
		CartItems: []domain.CartItem{
			{ProductSKU: "PCM-500", Price: 100, Quantity: 2},
		},
		DiscountPercent: 100,
		DiscountRs:      5,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if result.Transaction.Total != 0 {
		t.Fatalf("expected total clamped to 0, got %v", result.Transaction.Total)
	}
}

func TestCheckoutInsufficientStockAbortsBeforeAnyWrite(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		CartItems: []domain.CartItem{
			{ProductSKU: "PCM-500", Price: 25, Quantity: 1},
			{ProductSKU: "VIT-C", Price: 300, Quantity: 500},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	list, err := svc.ListTransactions(ctx, 1, 20, "", "")
	if err != nil {
		t.Fatalf("list transactions failed: %v", err)
	}
	if list.Total != 0 {
		t.Fatalf("expected no transactions after aborted checkout, got %d", list.Total)
	}

	product, err := svc.GetProduct(ctx, "PCM-500")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Quantity != 140 {
		t.Fatalf("expected stock untouched at 140, got %d", product.Quantity)
	}
}

func TestCheckoutUnknownProductRejected(t *testing.T) {
	svc := newTestService()

	_, err := svc.Checkout(context.Background(), domain.CheckoutRequest{
		CartItems: []domain.CartItem{
			{ProductSKU: "NO-SUCH", Price: 10, Quantity: 1},
		},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown sku, got %v", err)
	}
}

func TestCheckoutRejectsBadCarts(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty cart, got %v", err)
	}

	_, err = svc.Checkout(ctx, domain.CheckoutRequest{
		CartItems: []domain.CartItem{{ProductSKU: "PCM-500", Price: 25, Quantity: 0}},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero quantity, got %v", err)
	}
}

func TestCheckoutMergesDuplicateCartLines(t *testing.T) {
	svc := newTestService()

	result, err := svc.Checkout(context.Background(), domain.CheckoutRequest{
		CartItems: []domain.CartItem{
			{ProductSKU: "pcm-500", Name: "Paracetamol 500mg", Price: 25, Quantity: 1},
			{ProductSKU: " PCM-500 ", Name: "Paracetamol 500mg", Price: 25, Quantity: 3},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if len(result.Transaction.Items) != 1 {
		t.Fatalf("expected duplicate lines merged into one, got %d", len(result.Transaction.Items))
	}
	if result.Transaction.Items[0].QuantitySold != 4 {
		t.Fatalf("expected merged quantity 4, got %d", result.Transaction.Items[0].QuantitySold)
	}
}

func TestCheckoutOnKhataRecordsCreditEntry(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	contactID := "ct-seed-karim"

	result, err := svc.Checkout(ctx, domain.CheckoutRequest{
		CartItems: []domain.CartItem{
			{ProductSKU: "CGH-SYP", Name: "Cough Syrup 120ml", Price: 180, Quantity: 1},
		},
		ContactID: &contactID,
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	entries, err := svc.LedgerHistory(ctx, contactID)
	if err != nil {
		t.Fatalf("ledger history failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
	if entries[0].Type != domain.LedgerCreditGiven {
		t.Fatalf("expected credit_given entry, got %s", entries[0].Type)
	}
	if entries[0].Amount != result.Transaction.Total {
		t.Fatalf("expected ledger amount %v, got %v", result.Transaction.Total, entries[0].Amount)
	}
	if entries[0].Description != "Sale of 1 item(s)" {
		t.Fatalf("unexpected ledger description %q", entries[0].Description)
	}

	balance, err := svc.ContactBalance(ctx, contactID)
	if err != nil {
		t.Fatalf("contact balance failed: %v", err)
	}
	if balance.Status != domain.BalanceStatusDue {
		t.Fatalf("expected due status after khata sale, got %s", balance.Status)
	}
}

func TestCheckoutLedgerFailureWarnsAndKeepsTransaction(t *testing.T) {
	repo := &flakyStore{Store: memory.NewSeeded(), failLedger: true}
	svc := New(repo, nil)
	ctx := context.Background()
	contactID := "ct-seed-karim"

	result, err := svc.Checkout(ctx, domain.CheckoutRequest{
		CartItems: []domain.CartItem{
			{ProductSKU: "PCM-500", Price: 25, Quantity: 1},
		},
		ContactID: &contactID,
	})
	if err != nil {
		t.Fatalf("checkout should succeed despite ledger failure: %v", err)
	}

	found := false
	for _, warning := range result.Warnings {
		if warning.Stage == domain.WarnStageLedger {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ledger warning, got %v", result.Warnings)
	}

	if _, err := svc.GetTransaction(ctx, result.Transaction.ID); err != nil {
		t.Fatalf("transaction header should exist: %v", err)
	}
	entries, err := svc.LedgerHistory(ctx, contactID)
	if err != nil {
		t.Fatalf("ledger history failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no ledger entries after injected failure, got %d", len(entries))
	}
}

func TestCheckoutItemsFailureWarnsButStillDecrementsStock(t *testing.T) {
	repo := &flakyStore{Store: memory.NewSeeded(), failItems: true}
	svc := New(repo, nil)
	ctx := context.Background()

	result, err := svc.Checkout(ctx, domain.CheckoutRequest{
		CartItems: []domain.CartItem{
			{ProductSKU: "PCM-500", Price: 25, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("checkout should succeed despite item failure: %v", err)
	}

	found := false
	for _, warning := range result.Warnings {
		if warning.Stage == domain.WarnStageItems {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected line item warning, got %v", result.Warnings)
	}

	tx, err := svc.GetTransaction(ctx, result.Transaction.ID)
	if err != nil {
		t.Fatalf("get transaction failed: %v", err)
	}
	if len(tx.Items) != 0 {
		t.Fatalf("expected header without items, got %d items", len(tx.Items))
	}

	product, err := svc.GetProduct(ctx, "PCM-500")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Quantity != 138 {
		t.Fatalf("expected stock decremented to 138, got %d", product.Quantity)
	}
}

func TestCheckoutStockFailureWarnsPerLine(t *testing.T) {
	repo := &flakyStore{Store: memory.NewSeeded(), failStock: true}
	svc := New(repo, nil)

	result, err := svc.Checkout(context.Background(), domain.CheckoutRequest{
		CartItems: []domain.CartItem{
			{ProductSKU: "PCM-500", Price: 25, Quantity: 1},
			{ProductSKU: "BND-STD", Price: 60, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("checkout should succeed despite stock failures: %v", err)
	}

	stockWarnings := 0
	for _, warning := range result.Warnings {
		if warning.Stage == domain.WarnStageStock && warning.ProductSKU != "" {
			stockWarnings++
		}
	}
	if stockWarnings != 2 {
		t.Fatalf("expected 2 stock warnings naming their sku, got %v", result.Warnings)
	}
}

func TestDeleteTransactionRemovesItemsThenHeader(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	result, err := svc.Checkout(ctx, domain.CheckoutRequest{
		CartItems: []domain.CartItem{
			{ProductSKU: "PCM-500", Price: 25, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if err := svc.DeleteTransaction(ctx, result.Transaction.ID); err != nil {
		t.Fatalf("delete transaction failed: %v", err)
	}
	if _, err := svc.GetTransaction(ctx, result.Transaction.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDeleteTransactionKeepsHeaderWhenItemDeleteFails(t *testing.T) {
	repo := &flakyStore{Store: memory.NewSeeded()}
	svc := New(repo, nil)
	ctx := context.Background()

	result, err := svc.Checkout(ctx, domain.CheckoutRequest{
		CartItems: []domain.CartItem{
			{ProductSKU: "PCM-500", Price: 25, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	repo.failItemDelete = true
	if err := svc.DeleteTransaction(ctx, result.Transaction.ID); err == nil {
		t.Fatalf("expected delete to fail when item delete fails")
	}
	if _, err := svc.GetTransaction(ctx, result.Transaction.ID); err != nil {
		t.Fatalf("header should survive a failed item delete: %v", err)
	}
}

func TestContactBalanceDerivedFromLedger(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	contactID := "ct-seed-karim"

	_, err := svc.CreateLedgerEntry(ctx, domain.LedgerEntryCreateRequest{
		ContactID: contactID,
		Amount:    100,
		Type:      domain.LedgerCreditGiven,
	})
	if err != nil {
		t.Fatalf("create credit entry failed: %v", err)
	}
	_, err = svc.CreateLedgerEntry(ctx, domain.LedgerEntryCreateRequest{
		ContactID: contactID,
		Amount:    40,
		Type:      domain.LedgerPaymentReceived,
	})
	if err != nil {
		t.Fatalf("create payment entry failed: %v", err)
	}

	balance, err := svc.ContactBalance(ctx, contactID)
	if err != nil {
		t.Fatalf("contact balance failed: %v", err)
	}
	if balance.Balance != 60 {
		t.Fatalf("expected balance 60, got %v", balance.Balance)
	}
	if balance.Status != domain.BalanceStatusDue {
		t.Fatalf("expected due status, got %s", balance.Status)
	}

	_, err = svc.CreateLedgerEntry(ctx, domain.LedgerEntryCreateRequest{
		ContactID: contactID,
		Amount:    100,
		Type:      domain.LedgerPaymentReceived,
	})
	if err != nil {
		t.Fatalf("create payment entry failed: %v", err)
	}
	balance, err = svc.ContactBalance(ctx, contactID)
	if err != nil {
		t.Fatalf("contact balance failed: %v", err)
	}
	if balance.Balance != -40 || balance.Status != domain.BalanceStatusAdvance {
		t.Fatalf("expected -40 advance, got %v %s", balance.Balance, balance.Status)
	}

	settled, err := svc.ContactBalance(ctx, "ct-seed-medex")
	if err != nil {
		t.Fatalf("contact balance failed: %v", err)
	}
	if settled.Balance != 0 || settled.Status != domain.BalanceStatusSettled {
		t.Fatalf("expected settled 0, got %v %s", settled.Balance, settled.Status)
	}
}

func TestCreateProductNormalizesSKU(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		SKU:       "  pcm-900 ",
		Name:      "Paracetamol 900mg",
		CostPrice: 22,
		Price:     32,
		Quantity:  50,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if product.SKU != "PCM-900" {
		t.Fatalf("expected normalized sku PCM-900, got %s", product.SKU)
	}

	_, err = svc.CreateProduct(ctx, domain.ProductCreateRequest{
		SKU:   "PCM-500",
		Name:  "Duplicate",
		Price: 1,
	})
	if !errors.Is(err, store.ErrDuplicateSKU) {
		t.Fatalf("expected ErrDuplicateSKU, got %v", err)
	}
}

func TestExpiryFallbackOverlaysProducts(t *testing.T) {
	repo := noExpiryStore{Store: memory.New()}
	svc := New(repo, cache.NewMemoryExpiryStore())
	ctx := context.Background()

	created, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		SKU:        "ORS-SCH",
		Name:       "ORS Sachet",
		CostPrice:  22,
		Price:      35,
		Quantity:   80,
		ExpiryDate: "2027-03-01",
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if created.ExpiryDate == nil {
		t.Fatalf("expected expiry date on created product")
	}

	product, err := svc.GetProduct(ctx, "ORS-SCH")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.ExpiryDate == nil {
		t.Fatalf("expected expiry date overlaid from fallback store")
	}
	want := time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)
	if !product.ExpiryDate.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, product.ExpiryDate)
	}
}

func TestDashboardMetricsCountsLowStockAndNearExpiry(t *testing.T) {
	svc := newTestService()

	metrics, err := svc.DashboardMetrics(context.Background())
	if err != nil {
		t.Fatalf("dashboard metrics failed: %v", err)
	}
	if metrics.LowStockCount < 1 {
		t.Fatalf("expected seeded low stock item to be counted, got %d", metrics.LowStockCount)
	}
	if metrics.NearExpiryCount < 1 {
		t.Fatalf("expected seeded near-expiry item to be counted, got %d", metrics.NearExpiryCount)
	}
}

func TestListTransactionsFilters(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	contactID := "ct-seed-karim"

	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		CartItems: []domain.CartItem{{ProductSKU: "PCM-500", Price: 25, Quantity: 1}},
		ContactID: &contactID,
	}); err != nil {
		t.Fatalf("khata checkout failed: %v", err)
	}
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		CartItems: []domain.CartItem{{ProductSKU: "BND-STD", Name: "Bandage Roll", Price: 60, Quantity: 1}},
	}); err != nil {
		t.Fatalf("direct checkout failed: %v", err)
	}

	khata, err := svc.ListTransactions(ctx, 1, 20, "khata", "")
	if err != nil {
		t.Fatalf("khata filter failed: %v", err)
	}
	if khata.Total != 1 {
		t.Fatalf("expected 1 khata transaction, got %d", khata.Total)
	}

	direct, err := svc.ListTransactions(ctx, 1, 20, "direct", "")
	if err != nil {
		t.Fatalf("direct filter failed: %v", err)
	}
	if direct.Total != 1 {
		t.Fatalf("expected 1 direct transaction, got %d", direct.Total)
	}

	search, err := svc.ListTransactions(ctx, 1, 20, "", "bandage")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if search.Total != 1 {
		t.Fatalf("expected 1 match for bandage, got %d", search.Total)
	}

	if _, err := svc.ListTransactions(ctx, 1, 20, "bogus", ""); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown filter, got %v", err)
	}
}

func TestTopProductsRejectsUnknownRanking(t *testing.T) {
	svc := newTestService()

	_, err := svc.TopProducts(context.Background(), "popularity", 5)
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
