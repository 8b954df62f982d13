package domain

import "time"

type Product struct {
	SKU               string     `json:"sku"`
	Name              string     `json:"name"`
	CostPrice         float64    `json:"costPrice"`
	Price             float64    `json:"price"`
	Quantity          int        `json:"quantity"`
	LowStockThreshold int        `json:"lowStockThreshold"`
	ExpiryDate        *time.Time `json:"expiryDate,omitempty"`
	PackSize          int        `json:"packSize,omitempty"`
	PackUnit          string     `json:"packUnit,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

type ProductCreateRequest struct {
	SKU               string  `json:"sku"`
	Name              string  `json:"name"`
	CostPrice         float64 `json:"costPrice"`
	Price             float64 `json:"price"`
	Quantity          int     `json:"quantity"`
	LowStockThreshold int     `json:"lowStockThreshold"`
	ExpiryDate        string  `json:"expiryDate,omitempty"`
	PackSize          int     `json:"packSize,omitempty"`
	PackUnit          string  `json:"packUnit,omitempty"`
}

type ProductUpdateRequest struct {
	Name              *string  `json:"name,omitempty"`
	CostPrice         *float64 `json:"costPrice,omitempty"`
	Price             *float64 `json:"price,omitempty"`
	Quantity          *int     `json:"quantity,omitempty"`
	LowStockThreshold *int     `json:"lowStockThreshold,omitempty"`
	ExpiryDate        *string  `json:"expiryDate,omitempty"`
	PackSize          *int     `json:"packSize,omitempty"`
	PackUnit          *string  `json:"packUnit,omitempty"`
}

type ProductListResponse struct {
	Products []Product `json:"products"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PerPage  int       `json:"perPage"`
}

type CartItem struct {
	ProductSKU string  `json:"productSku"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	Quantity   int     `json:"quantity"`
}

type TransactionItem struct {
	ProductSKU   string  `json:"productSku"`
	Name         string  `json:"name"`
	QuantitySold int     `json:"quantitySold"`
	PricePerItem float64 `json:"pricePerItem"`
}

type Transaction struct {
	ID              string            `json:"id"`
	Subtotal        float64           `json:"subtotal"`
	DiscountPercent float64           `json:"discountPercent"`
	DiscountRs      float64           `json:"discountRs"`
	Total           float64           `json:"total"`
	ContactID       *string           `json:"contactId,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	Items           []TransactionItem `json:"items"`
}

type CheckoutRequest struct {
	CartItems       []CartItem `json:"cartItems"`
	DiscountPercent float64    `json:"discountPercent"`
	DiscountRs      float64    `json:"discountRs"`
	ContactID       *string    `json:"contactId,omitempty"`
}

// CheckoutWarning reports a post-commit side effect that failed. The
// transaction header is already persisted at that point; nothing is rolled
// back, so callers must surface these to the operator.
type CheckoutWarning struct {
	Stage      string `json:"stage"`
	ProductSKU string `json:"productSku,omitempty"`
	Message    string `json:"message"`
}

type CheckoutResult struct {
	Transaction Transaction       `json:"transaction"`
	Warnings    []CheckoutWarning `json:"warnings,omitempty"`
}

type TransactionListResponse struct {
	Transactions []Transaction `json:"transactions"`
	Total        int           `json:"total"`
	Page         int           `json:"page"`
	PerPage      int           `json:"perPage"`
}

type Contact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Type      string    `json:"type"`
	Balance   float64   `json:"balance"`
	CreatedAt time.Time `json:"createdAt"`
}

type ContactCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Type  string `json:"type"`
}

type ContactUpdateRequest struct {
	Name  *string `json:"name,omitempty"`
	Phone *string `json:"phone,omitempty"`
	Type  *string `json:"type,omitempty"`
}

type LedgerEntry struct {
	ID          string    `json:"id"`
	ContactID   string    `json:"contactId"`
	Amount      float64   `json:"amount"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type LedgerEntryCreateRequest struct {
	ContactID   string  `json:"contactId"`
	Amount      float64 `json:"amount"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
}

type ContactBalanceResponse struct {
	ContactID string  `json:"contactId"`
	Balance   float64 `json:"balance"`
	Status    string  `json:"status"`
}

type DashboardMetrics struct {
	TotalRevenue     float64 `json:"totalRevenue"`
	TotalCOGS        float64 `json:"totalCogs"`
	TotalProfit      float64 `json:"totalProfit"`
	TransactionCount int     `json:"transactionCount"`
	LowStockCount    int     `json:"lowStockCount"`
	NearExpiryCount  int     `json:"nearExpiryCount"`
}

type ProductSales struct {
	ProductSKU string  `json:"productSku"`
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	Revenue    float64 `json:"revenue"`
}

type SalesTotals struct {
	Revenue          float64 `json:"revenue"`
	COGS             float64 `json:"cogs"`
	Profit           float64 `json:"profit"`
	TransactionCount int     `json:"transactionCount"`
}

type DailySales struct {
	Day     string  `json:"day"`
	Revenue float64 `json:"revenue"`
}

type AssistantRequest struct {
	UserInput string `json:"userInput"`
}

type AssistantResponse struct {
	Text string `json:"text"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	ContactTypeCustomer = "customer"
	ContactTypeSupplier = "supplier"
)

const (
	LedgerCreditGiven     = "credit_given"
	LedgerPaymentReceived = "payment_received"
)

const (
	WarnStageLedger = "ledger_entry"
	WarnStageItems  = "transaction_items"
	WarnStageStock  = "stock_decrement"
)

const (
	BalanceStatusDue     = "due"
	BalanceStatusAdvance = "advance"
	BalanceStatusSettled = "settled"
)
