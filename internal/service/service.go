package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"stockdesk/internal/analytics"
	"stockdesk/internal/cache"
	"stockdesk/internal/domain"
	"stockdesk/internal/store"
	"stockdesk/internal/xid"
)

const (
	defaultProductsPerPage     = 50
	defaultTransactionsPerPage = 20
	nearExpiryWindow           = 7 * 24 * time.Hour
)

type Service struct {
	repo   store.Repository
	expiry cache.ExpiryStore
}

func New(repo store.Repository, expiryStore cache.ExpiryStore) *Service {
	if expiryStore == nil {
		expiryStore = cache.NewMemoryExpiryStore()
	}
	return &Service{repo: repo, expiry: expiryStore}
}

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) domain.Actor {
	if actor, ok := ctx.Value(actorContextKey{}).(domain.Actor); ok {
		return actor
	}
	return domain.Actor{Username: "unknown", Role: "unknown"}
}

// --- products ---

func (s *Service) ListProducts(ctx context.Context, page int, perPage int, search string) (*domain.ProductListResponse, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	products = s.overlayExpiry(ctx, products)

	if search = strings.TrimSpace(search); search != "" {
		needle := strings.ToLower(search)
		filtered := make([]domain.Product, 0, len(products))
		for _, p := range products {
			if strings.Contains(strings.ToLower(p.Name), needle) || strings.Contains(strings.ToLower(p.SKU), needle) {
				filtered = append(filtered, p)
			}
		}
		products = filtered
	}

	total := len(products)
	page, perPage, pageSlice := paginateProducts(products, page, perPage)
	return &domain.ProductListResponse{
		Products: pageSlice,
		Total:    total,
		Page:     page,
		PerPage:  perPage,
	}, nil
}

func (s *Service) GetProduct(ctx context.Context, sku string) (*domain.Product, error) {
	product, err := s.repo.GetProductBySKU(ctx, normalizeSKU(sku))
	if err != nil {
		return nil, err
	}
	overlaid := s.overlayExpiry(ctx, []domain.Product{*product})
	return &overlaid[0], nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	sku := normalizeSKU(req.SKU)
	name := strings.TrimSpace(req.Name)
	if sku == "" || name == "" {
		return nil, fmt.Errorf("%w: sku and name are required", store.ErrInvalidInput)
	}

	expiry, err := parseExpiry(req.ExpiryDate)
	if err != nil {
		return nil, err
	}

	product := domain.Product{
		SKU:               sku,
		Name:              name,
		CostPrice:         req.CostPrice,
		Price:             req.Price,
		Quantity:          req.Quantity,
		LowStockThreshold: req.LowStockThreshold,
		PackSize:          req.PackSize,
		PackUnit:          strings.TrimSpace(req.PackUnit),
		CreatedAt:         time.Now().UTC(),
	}
	if s.repo.SupportsExpiry() {
		product.ExpiryDate = expiry
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return nil, err
	}

	if !s.repo.SupportsExpiry() && expiry != nil {
		if err := s.expiry.Set(ctx, sku, *expiry); err != nil {
			log.Printf("[service] WARN: expiry fallback write failed for %s: %v", sku, err)
		} else {
			created.ExpiryDate = expiry
		}
	}
	return created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, sku string, req domain.ProductUpdateRequest) (*domain.Product, error) {
	sku = normalizeSKU(sku)
	existing, err := s.GetProduct(ctx, sku)
	if err != nil {
		return nil, err
	}

	product := *existing
	if req.Name != nil {
		product.Name = strings.TrimSpace(*req.Name)
	}
	if req.CostPrice != nil {
		product.CostPrice = *req.CostPrice
	}
	if req.Price != nil {
		product.Price = *req.Price
	}
	if req.Quantity != nil {
		product.Quantity = *req.Quantity
	}
	if req.LowStockThreshold != nil {
		product.LowStockThreshold = *req.LowStockThreshold
	}
	if req.PackSize != nil {
		product.PackSize = *req.PackSize
	}
	if req.PackUnit != nil {
		product.PackUnit = strings.TrimSpace(*req.PackUnit)
	}

	expiry := product.ExpiryDate
	if req.ExpiryDate != nil {
		expiry, err = parseExpiry(*req.ExpiryDate)
		if err != nil {
			return nil, err
		}
		product.ExpiryDate = expiry
	}

	if !s.repo.SupportsExpiry() {
		product.ExpiryDate = nil
	}
	updated, err := s.repo.UpdateProduct(ctx, product)
	if err != nil {
		return nil, err
	}

	if !s.repo.SupportsExpiry() && req.ExpiryDate != nil {
		if expiry == nil {
			if err := s.expiry.Delete(ctx, sku); err != nil {
				log.Printf("[service] WARN: expiry fallback delete failed for %s: %v", sku, err)
			}
		} else if err := s.expiry.Set(ctx, sku, *expiry); err != nil {
			log.Printf("[service] WARN: expiry fallback write failed for %s: %v", sku, err)
		}
	}

	overlaid := s.overlayExpiry(ctx, []domain.Product{*updated})
	return &overlaid[0], nil
}

func (s *Service) DeleteProduct(ctx context.Context, sku string) error {
	sku = normalizeSKU(sku)
	if err := s.repo.DeleteProduct(ctx, sku); err != nil {
		return err
	}
	if err := s.expiry.Delete(ctx, sku); err != nil {
		log.Printf("[service] WARN: expiry fallback cleanup failed for %s: %v", sku, err)
	}
	return nil
}

// overlayExpiry fills expiry dates from the secondary key-value store when
// the repository has no expiry column. Lookup failures are logged and the
// product is returned without a date.
func (s *Service) overlayExpiry(ctx context.Context, products []domain.Product) []domain.Product {
	if s.repo.SupportsExpiry() {
		return products
	}
	for i := range products {
		if products[i].ExpiryDate != nil {
			continue
		}
		expiry, ok, err := s.expiry.Get(ctx, products[i].SKU)
		if err != nil {
			log.Printf("[service] WARN: expiry fallback read failed for %s: %v", products[i].SKU, err)
			continue
		}
		if ok {
			products[i].ExpiryDate = expiry
		}
	}
	return products
}

// --- checkout ---

// Checkout validates stock for the whole cart up front, then performs the
// writes in a fixed order: header, optional khata entry, line items, stock
// decrements. Only a header failure aborts; everything after it is recorded
// as a warning on the result and never rolled back.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutResult, error) {
	lines, err := normalizeCart(req.CartItems)
	if err != nil {
		return nil, err
	}

	skus := make([]string, 0, len(lines))
	for _, line := range lines {
		skus = append(skus, line.ProductSKU)
	}
	products, err := s.repo.GetProductsBySKUs(ctx, skus)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		product, ok := products[line.ProductSKU]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductSKU)
		}
		if product.Quantity < line.Quantity {
			return nil, fmt.Errorf("%w for %q: have %d, need %d", store.ErrInsufficientStock, product.Name, product.Quantity, line.Quantity)
		}
	}

	subtotal := 0.0
	for _, line := range lines {
		subtotal += line.Price * float64(line.Quantity)
	}
	total := subtotal*(1-req.DiscountPercent/100) - req.DiscountRs
	if total < 0 {
		total = 0
	}

	var contactID *string
	if req.ContactID != nil && strings.TrimSpace(*req.ContactID) != "" {
		id := strings.TrimSpace(*req.ContactID)
		contactID = &id
	}

	header := domain.Transaction{
		ID:              xid.New("tx"),
		Subtotal:        subtotal,
		DiscountPercent: req.DiscountPercent,
		DiscountRs:      req.DiscountRs,
		Total:           total,
		ContactID:       contactID,
		CreatedAt:       time.Now().UTC(),
	}
	created, err := s.repo.CreateTransaction(ctx, header)
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	result := &domain.CheckoutResult{Transaction: *created}
	actor := ActorFromContext(ctx)

	if contactID != nil {
		entry := domain.LedgerEntry{
			ContactID:   *contactID,
			Amount:      total,
			Type:        domain.LedgerCreditGiven,
			Description: fmt.Sprintf("Sale of %d item(s)", len(lines)),
		}
		if _, err := s.repo.CreateLedgerEntry(ctx, entry); err != nil {
			log.Printf("[service] WARN: checkout %s by %s: ledger entry failed: %v", created.ID, actor.Username, err)
			result.Warnings = append(result.Warnings, domain.CheckoutWarning{
				Stage:   domain.WarnStageLedger,
				Message: "transaction saved, but the khata entry failed; the ledger update must be done manually",
			})
		}
	}

	items := make([]domain.TransactionItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.TransactionItem{
			ProductSKU:   line.ProductSKU,
			Name:         line.Name,
			QuantitySold: line.Quantity,
			PricePerItem: line.Price,
		})
	}
	if err := s.repo.CreateTransactionItems(ctx, created.ID, items); err != nil {
		log.Printf("[service] WARN: checkout %s by %s: line items failed: %v", created.ID, actor.Username, err)
		result.Warnings = append(result.Warnings, domain.CheckoutWarning{
			Stage:   domain.WarnStageItems,
			Message: "transaction saved without its line items",
		})
	} else {
		result.Transaction.Items = items
	}

	for _, line := range lines {
		if err := s.repo.DecrementStock(ctx, line.ProductSKU, line.Quantity); err != nil {
			log.Printf("[service] WARN: checkout %s by %s: stock decrement failed for %s: %v", created.ID, actor.Username, line.ProductSKU, err)
			result.Warnings = append(result.Warnings, domain.CheckoutWarning{
				Stage:      domain.WarnStageStock,
				ProductSKU: line.ProductSKU,
				Message:    fmt.Sprintf("stock for %s was not decremented", line.ProductSKU),
			})
		}
	}

	return result, nil
}

// normalizeCart trims and uppercases SKUs and merges duplicate lines. A line
// with a blank SKU or non-positive quantity rejects the whole cart.
func normalizeCart(items []domain.CartItem) ([]domain.CartItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty cart", store.ErrInvalidInput)
	}

	index := make(map[string]int, len(items))
	lines := make([]domain.CartItem, 0, len(items))
	for _, item := range items {
		sku := normalizeSKU(item.ProductSKU)
		if sku == "" {
			return nil, fmt.Errorf("%w: cart line without sku", store.ErrInvalidInput)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", store.ErrInvalidInput, sku)
		}
		if i, seen := index[sku]; seen {
			lines[i].Quantity += item.Quantity
			continue
		}
		index[sku] = len(lines)
		lines = append(lines, domain.CartItem{
			ProductSKU: sku,
			Name:       strings.TrimSpace(item.Name),
			Price:      item.Price,
			Quantity:   item.Quantity,
		})
	}
	return lines, nil
}

// --- transactions ---

func (s *Service) ListTransactions(ctx context.Context, page int, perPage int, filter string, search string) (*domain.TransactionListResponse, error) {
	transactions, err := s.repo.ListTransactions(ctx, 0)
	if err != nil {
		return nil, err
	}

	switch filter {
	case "khata":
		transactions = filterTransactions(transactions, func(tx domain.Transaction) bool { return tx.ContactID != nil })
	case "direct":
		transactions = filterTransactions(transactions, func(tx domain.Transaction) bool { return tx.ContactID == nil })
	case "":
	default:
		return nil, fmt.Errorf("%w: unknown filter %q", store.ErrInvalidInput, filter)
	}

	if search = strings.TrimSpace(search); search != "" {
		needle := strings.ToLower(search)
		transactions = filterTransactions(transactions, func(tx domain.Transaction) bool {
			if strings.Contains(strings.ToLower(tx.ID), needle) {
				return true
			}
			for _, item := range tx.Items {
				if strings.Contains(strings.ToLower(item.Name), needle) {
					return true
				}
			}
			return false
		})
	}

	total := len(transactions)
	page, perPage, pageSlice := paginateTransactions(transactions, page, perPage)
	return &domain.TransactionListResponse{
		Transactions: pageSlice,
		Total:        total,
		Page:         page,
		PerPage:      perPage,
	}, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.repo.GetTransactionByID(ctx, strings.TrimSpace(id))
}

// DeleteTransaction removes line items before the header. If the item delete
// fails the header is left in place, so a retry can finish the job.
func (s *Service) DeleteTransaction(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if _, err := s.repo.GetTransactionByID(ctx, id); err != nil {
		return err
	}
	if err := s.repo.DeleteTransactionItems(ctx, id); err != nil {
		return fmt.Errorf("delete transaction items: %w", err)
	}
	if err := s.repo.DeleteTransaction(ctx, id); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}

	actor := ActorFromContext(ctx)
	log.Printf("[service] transaction %s deleted by %s", id, actor.Username)
	return nil
}

// --- contacts and khata ---

func (s *Service) ListContacts(ctx context.Context) ([]domain.Contact, error) {
	contacts, err := s.repo.ListContacts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range contacts {
		balance, err := s.contactBalance(ctx, contacts[i].ID)
		if err != nil {
			return nil, err
		}
		contacts[i].Balance = balance
	}
	return contacts, nil
}

func (s *Service) GetContact(ctx context.Context, id string) (*domain.Contact, error) {
	contact, err := s.repo.GetContactByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	contact.Balance, err = s.contactBalance(ctx, contact.ID)
	if err != nil {
		return nil, err
	}
	return contact, nil
}

func (s *Service) CreateContact(ctx context.Context, req domain.ContactCreateRequest) (*domain.Contact, error) {
	contact := domain.Contact{
		Name:  strings.TrimSpace(req.Name),
		Phone: strings.TrimSpace(req.Phone),
		Type:  strings.ToLower(strings.TrimSpace(req.Type)),
	}
	if contact.Type == "" {
		contact.Type = domain.ContactTypeCustomer
	}
	return s.repo.CreateContact(ctx, contact)
}

func (s *Service) UpdateContact(ctx context.Context, id string, req domain.ContactUpdateRequest) (*domain.Contact, error) {
	existing, err := s.repo.GetContactByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}

	contact := *existing
	if req.Name != nil {
		contact.Name = strings.TrimSpace(*req.Name)
	}
	if req.Phone != nil {
		contact.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Type != nil {
		contact.Type = strings.ToLower(strings.TrimSpace(*req.Type))
	}

	updated, err := s.repo.UpdateContact(ctx, contact)
	if err != nil {
		return nil, err
	}
	updated.Balance, err = s.contactBalance(ctx, updated.ID)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) DeleteContact(ctx context.Context, id string) error {
	return s.repo.DeleteContact(ctx, strings.TrimSpace(id))
}

func (s *Service) CreateLedgerEntry(ctx context.Context, req domain.LedgerEntryCreateRequest) (*domain.LedgerEntry, error) {
	entry := domain.LedgerEntry{
		ContactID:   strings.TrimSpace(req.ContactID),
		Amount:      req.Amount,
		Type:        strings.ToLower(strings.TrimSpace(req.Type)),
		Description: strings.TrimSpace(req.Description),
	}
	return s.repo.CreateLedgerEntry(ctx, entry)
}

func (s *Service) LedgerHistory(ctx context.Context, contactID string) ([]domain.LedgerEntry, error) {
	return s.repo.ListLedgerEntries(ctx, strings.TrimSpace(contactID))
}

// ContactBalance recomputes the running balance from the ledger on every
// call; nothing is cached or stored. Positive means the contact owes (Due),
// negative means they paid ahead (Advance).
func (s *Service) ContactBalance(ctx context.Context, contactID string) (*domain.ContactBalanceResponse, error) {
	contactID = strings.TrimSpace(contactID)
	balance, err := s.contactBalance(ctx, contactID)
	if err != nil {
		return nil, err
	}

	status := domain.BalanceStatusSettled
	switch {
	case balance > 0:
		status = domain.BalanceStatusDue
	case balance < 0:
		status = domain.BalanceStatusAdvance
	}
	return &domain.ContactBalanceResponse{ContactID: contactID, Balance: balance, Status: status}, nil
}

func (s *Service) contactBalance(ctx context.Context, contactID string) (float64, error) {
	entries, err := s.repo.ListLedgerEntries(ctx, contactID)
	if err != nil {
		return 0, err
	}

	balance := 0.0
	for _, entry := range entries {
		switch entry.Type {
		case domain.LedgerCreditGiven:
			balance += entry.Amount
		case domain.LedgerPaymentReceived:
			balance -= entry.Amount
		}
	}
	return balance, nil
}

// --- analytics and dashboard ---

func (s *Service) SalesTotals(ctx context.Context) (*domain.SalesTotals, error) {
	transactions, products, err := s.salesSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	totals := analytics.Totals(transactions, products)
	return &totals, nil
}

func (s *Service) TopProducts(ctx context.Context, by string, limit int) ([]domain.ProductSales, error) {
	transactions, err := s.repo.ListTransactions(ctx, 0)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 5
	}

	sales := analytics.ProductSales(transactions)
	switch by {
	case "", "quantity":
		return analytics.TopByQuantity(sales, limit), nil
	case "revenue":
		return analytics.TopByRevenue(sales, limit), nil
	default:
		return nil, fmt.Errorf("%w: unknown ranking %q", store.ErrInvalidInput, by)
	}
}

func (s *Service) WeeklySales(ctx context.Context) ([]domain.DailySales, error) {
	transactions, err := s.repo.ListTransactions(ctx, 0)
	if err != nil {
		return nil, err
	}
	return analytics.WeeklySales(transactions, time.Now().UTC()), nil
}

func (s *Service) DashboardMetrics(ctx context.Context) (*domain.DashboardMetrics, error) {
	transactions, products, err := s.salesSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	totals := analytics.Totals(transactions, products)

	lowStock, err := s.repo.CountLowStock(ctx)
	if err != nil {
		return nil, err
	}
	nearExpiry, err := s.countNearExpiry(ctx)
	if err != nil {
		return nil, err
	}

	return &domain.DashboardMetrics{
		TotalRevenue:     totals.Revenue,
		TotalCOGS:        totals.COGS,
		TotalProfit:      totals.Profit,
		TransactionCount: totals.TransactionCount,
		LowStockCount:    lowStock,
		NearExpiryCount:  nearExpiry,
	}, nil
}

// countNearExpiry uses the repository aggregate when the expiry column
// exists; otherwise it counts over the key-value overlay.
func (s *Service) countNearExpiry(ctx context.Context) (int, error) {
	if s.repo.SupportsExpiry() {
		return s.repo.CountNearExpiry(ctx, nearExpiryWindow)
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return 0, err
	}
	products = s.overlayExpiry(ctx, products)

	now := time.Now().UTC()
	cutoff := now.Add(nearExpiryWindow)
	count := 0
	for _, p := range products {
		if p.ExpiryDate == nil || p.ExpiryDate.Before(now) || p.ExpiryDate.After(cutoff) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *Service) salesSnapshot(ctx context.Context) ([]domain.Transaction, map[string]domain.Product, error) {
	transactions, err := s.repo.ListTransactions(ctx, 0)
	if err != nil {
		return nil, nil, err
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, nil, err
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.SKU] = p
	}
	return transactions, productMap, nil
}

// Snapshot bundles the data the assistant embeds in its prompt. Contact
// balances are derived the same way as everywhere else.
func (s *Service) Snapshot(ctx context.Context) ([]domain.Product, []domain.Transaction, []domain.Contact, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	products = s.overlayExpiry(ctx, products)

	transactions, err := s.repo.ListTransactions(ctx, 0)
	if err != nil {
		return nil, nil, nil, err
	}
	contacts, err := s.ListContacts(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return products, transactions, contacts, nil
}

// --- helpers ---

func normalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

func parseExpiry(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: bad expiry date %q", store.ErrInvalidInput, raw)
}

func filterTransactions(transactions []domain.Transaction, keep func(domain.Transaction) bool) []domain.Transaction {
	filtered := make([]domain.Transaction, 0, len(transactions))
	for _, tx := range transactions {
		if keep(tx) {
			filtered = append(filtered, tx)
		}
	}
	return filtered
}

func paginateProducts(products []domain.Product, page int, perPage int) (int, int, []domain.Product) {
	if perPage < 1 {
		perPage = defaultProductsPerPage
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(products) {
		return page, perPage, []domain.Product{}
	}
	end := start + perPage
	if end > len(products) {
		end = len(products)
	}
	return page, perPage, products[start:end]
}

func paginateTransactions(transactions []domain.Transaction, page int, perPage int) (int, int, []domain.Transaction) {
	if perPage < 1 {
		perPage = defaultTransactionsPerPage
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(transactions) {
		return page, perPage, []domain.Transaction{}
	}
	end := start + perPage
	if end > len(transactions) {
		end = len(transactions)
	}
	return page, perPage, transactions[start:end]
}
