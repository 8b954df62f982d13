package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"stockdesk/internal/domain"
	"stockdesk/internal/store"
	"stockdesk/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	transactionsByID map[string]*domain.Transaction
	itemsByTx        map[string][]domain.TransactionItem
	contactsByID     map[string]domain.Contact
	ledgerByContact  map[string][]domain.LedgerEntry
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"staff", staffPwd, "staff"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		products:         make(map[string]domain.Product),
		transactionsByID: make(map[string]*domain.Transaction),
		itemsByTx:        make(map[string][]domain.TransactionItem),
		contactsByID:     make(map[string]domain.Contact),
		ledgerByContact:  make(map[string][]domain.LedgerEntry),
		usersByUsername:  seedUsers(),
	}
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	nearExpiry := now.AddDate(0, 0, 5)
	farExpiry := now.AddDate(1, 0, 0)

	products := []domain.Product{
		{SKU: "PCM-500", Name: "Paracetamol 500mg", CostPrice: 18, Price: 25, Quantity: 140, LowStockThreshold: 20, ExpiryDate: &farExpiry, PackSize: 10, PackUnit: "tablets", CreatedAt: now},
		{SKU: "ORS-SCH", Name: "ORS Sachet", CostPrice: 22, Price: 35, Quantity: 80, LowStockThreshold: 15, ExpiryDate: &nearExpiry, PackSize: 1, PackUnit: "sachet", CreatedAt: now},
		{SKU: "CGH-SYP", Name: "Cough Syrup 120ml", CostPrice: 130, Price: 180, Quantity: 24, LowStockThreshold: 10, ExpiryDate: &farExpiry, CreatedAt: now},
		{SKU: "BND-STD", Name: "Bandage Roll", CostPrice: 40, Price: 60, Quantity: 55, LowStockThreshold: 10, CreatedAt: now},
		{SKU: "VIT-C", Name: "Vitamin C Chewables", CostPrice: 210, Price: 300, Quantity: 8, LowStockThreshold: 12, ExpiryDate: &farExpiry, PackSize: 30, PackUnit: "tablets", CreatedAt: now},
		{SKU: "SAN-250", Name: "Hand Sanitizer 250ml", CostPrice: 95, Price: 150, Quantity: 36, LowStockThreshold: 8, CreatedAt: now},
		{SKU: "THM-DIG", Name: "Digital Thermometer", CostPrice: 450, Price: 650, Quantity: 12, LowStockThreshold: 5, CreatedAt: now},
		{SKU: "GLV-LTX", Name: "Latex Gloves Pair", CostPrice: 15, Price: 30, Quantity: 200, LowStockThreshold: 40, CreatedAt: now},
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.SKU] = p
	}

	contacts := []domain.Contact{
		{ID: "ct-seed-karim", Name: "Karim General Store", Phone: "0300-1112233", Type: domain.ContactTypeCustomer, CreatedAt: now},
		{ID: "ct-seed-medex", Name: "Medex Distributors", Phone: "0321-9988776", Type: domain.ContactTypeSupplier, CreatedAt: now},
	}
	contactMap := make(map[string]domain.Contact, len(contacts))
	for _, c := range contacts {
		contactMap[c.ID] = c
	}

	return &Store{
		products:         productMap,
		transactionsByID: make(map[string]*domain.Transaction),
		itemsByTx:        make(map[string][]domain.TransactionItem),
		contactsByID:     contactMap,
		ledgerByContact:  make(map[string][]domain.LedgerEntry),
		usersByUsername:  seedUsers(),
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if product.Price < 0 || product.CostPrice < 0 || product.Quantity < 0 || product.LowStockThreshold < 0 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.products[product.SKU]; exists {
		return nil, store.ErrDuplicateSKU
	}

	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.products[product.SKU] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[sku]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductsBySKUs(_ context.Context, skus []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(skus))
	for _, sku := range skus {
		if product, exists := s.products[sku]; exists {
			result[sku] = product
		}
	}
	return result, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if product.Price < 0 || product.CostPrice < 0 || product.Quantity < 0 || product.LowStockThreshold < 0 {
		return nil, store.ErrInvalidInput
	}
	existing, exists := s.products[product.SKU]
	if !exists {
		return nil, store.ErrNotFound
	}

	product.CreatedAt = existing.CreatedAt
	s.products[product.SKU] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, sku string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[sku]; !exists {
		return store.ErrNotFound
	}
	delete(s.products, sku)
	return nil
}

func (s *Store) DecrementStock(_ context.Context, sku string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qty < 1 {
		return store.ErrInvalidInput
	}
	product, exists := s.products[sku]
	if !exists {
		return store.ErrNotFound
	}
	if product.Quantity < qty {
		return store.ErrInsufficientStock
	}

	product.Quantity -= qty
	s.products[sku] = product
	return nil
}

func (s *Store) CountLowStock(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, p := range s.products {
		if p.Quantity <= p.LowStockThreshold {
			count++
		}
	}
	return count, nil
}

func (s *Store) CountNearExpiry(_ context.Context, within time.Duration) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	cutoff := now.Add(within)
	count := 0
	for _, p := range s.products {
		if p.ExpiryDate == nil {
			continue
		}
		if p.ExpiryDate.Before(now) || p.ExpiryDate.After(cutoff) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *Store) SupportsExpiry() bool {
	return true
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.transactionsByID[tx.ID]; exists {
		return nil, store.ErrInvalidInput
	}

	// Header only. Line items arrive through CreateTransactionItems so the
	// two writes stay independently fallible.
	header := tx
	header.Items = nil
	s.transactionsByID[header.ID] = &header

	created := header
	return &created, nil
}

func (s *Store) CreateTransactionItems(_ context.Context, transactionID string, items []domain.TransactionItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactionsByID[transactionID]; !exists {
		return store.ErrNotFound
	}
	if len(items) == 0 {
		return store.ErrInvalidInput
	}

	s.itemsByTx[transactionID] = append(s.itemsByTx[transactionID], items...)
	return nil
}

func (s *Store) GetTransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.transactionsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return s.cloneTransaction(tx), nil
}

func (s *Store) ListTransactions(_ context.Context, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transactions := make([]domain.Transaction, 0, len(s.transactionsByID))
	for _, tx := range s.transactionsByID {
		transactions = append(transactions, *s.cloneTransaction(tx))
	}

	slices.SortFunc(transactions, func(a, b domain.Transaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})

	if limit > 0 && len(transactions) > limit {
		transactions = transactions[:limit]
	}
	return transactions, nil
}

func (s *Store) DeleteTransactionItems(_ context.Context, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactionsByID[transactionID]; !exists {
		return store.ErrNotFound
	}
	delete(s.itemsByTx, transactionID)
	return nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactionsByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.transactionsByID, id)
	return nil
}

func (s *Store) CreateContact(_ context.Context, contact domain.Contact) (*domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if contact.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if contact.Type != domain.ContactTypeCustomer && contact.Type != domain.ContactTypeSupplier {
		return nil, store.ErrInvalidInput
	}
	if contact.ID == "" {
		contact.ID = xid.New("ct")
	}
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now().UTC()
	}

	s.contactsByID[contact.ID] = contact
	created := contact
	return &created, nil
}

func (s *Store) GetContactByID(_ context.Context, id string) (*domain.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contact, exists := s.contactsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyContact := contact
	return &copyContact, nil
}

func (s *Store) ListContacts(_ context.Context) ([]domain.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	contacts := make([]domain.Contact, 0, len(s.contactsByID))
	for _, c := range s.contactsByID {
		contacts = append(contacts, c)
	}

	slices.SortFunc(contacts, func(a, b domain.Contact) int {
		return cmpString(a.Name, b.Name)
	})

	return contacts, nil
}

func (s *Store) UpdateContact(_ context.Context, contact domain.Contact) (*domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if contact.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if contact.Type != domain.ContactTypeCustomer && contact.Type != domain.ContactTypeSupplier {
		return nil, store.ErrInvalidInput
	}
	existing, exists := s.contactsByID[contact.ID]
	if !exists {
		return nil, store.ErrNotFound
	}

	contact.CreatedAt = existing.CreatedAt
	s.contactsByID[contact.ID] = contact
	updated := contact
	return &updated, nil
}

func (s *Store) DeleteContact(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.contactsByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.contactsByID, id)
	delete(s.ledgerByContact, id)
	return nil
}

func (s *Store) CreateLedgerEntry(_ context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ContactID == "" || entry.Amount <= 0 {
		return nil, store.ErrInvalidInput
	}
	if entry.Type != domain.LedgerCreditGiven && entry.Type != domain.LedgerPaymentReceived {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.contactsByID[entry.ContactID]; !exists {
		return nil, store.ErrNotFound
	}
	if entry.ID == "" {
		entry.ID = xid.New("le")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.ledgerByContact[entry.ContactID] = append(s.ledgerByContact[entry.ContactID], entry)
	created := entry
	return &created, nil
}

func (s *Store) ListLedgerEntries(_ context.Context, contactID string) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.contactsByID[contactID]; !exists {
		return nil, store.ErrNotFound
	}

	entries := slices.Clone(s.ledgerByContact[contactID])
	slices.SortFunc(entries, func(a, b domain.LedgerEntry) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return entries, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// cloneTransaction copies the header and attaches a copy of its items; callers
// must hold at least a read lock.
func (s *Store) cloneTransaction(tx *domain.Transaction) *domain.Transaction {
	clone := *tx
	clone.Items = slices.Clone(s.itemsByTx[tx.ID])
	return &clone
}

func cmpString(a string, b string) int {
	return strings.Compare(a, b)
}
