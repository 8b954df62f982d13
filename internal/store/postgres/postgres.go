package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"stockdesk/internal/domain"
	"stockdesk/internal/store"
	"stockdesk/internal/xid"
)

type Store struct {
	db           *sql.DB
	expiryColumn bool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	s.expiryColumn, err = s.detectExpiryColumn(pingCtx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// detectExpiryColumn checks whether the products table carries expiry_date.
// Legacy deployments predate the column; the service layer falls back to the
// secondary key-value store for those.
func (s *Store) detectExpiryColumn(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM information_schema.columns
		WHERE table_name = 'products' AND column_name = 'expiry_date'
	`).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) SupportsExpiry() bool {
	return s.expiryColumn
}

const productColumns = "sku, name, cost_price, price, quantity, low_stock_threshold, pack_size, pack_unit, created_at"
const productColumnsExpiry = "sku, name, cost_price, price, quantity, low_stock_threshold, pack_size, pack_unit, created_at, expiry_date"

func (s *Store) scanProduct(rows interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	var packUnit sql.NullString
	var packSize sql.NullInt64
	if s.expiryColumn {
		var expiry sql.NullTime
		if err := rows.Scan(&p.SKU, &p.Name, &p.CostPrice, &p.Price, &p.Quantity, &p.LowStockThreshold, &packSize, &packUnit, &p.CreatedAt, &expiry); err != nil {
			return domain.Product{}, err
		}
		if expiry.Valid {
			t := expiry.Time.UTC()
			p.ExpiryDate = &t
		}
	} else {
		if err := rows.Scan(&p.SKU, &p.Name, &p.CostPrice, &p.Price, &p.Quantity, &p.LowStockThreshold, &packSize, &packUnit, &p.CreatedAt); err != nil {
			return domain.Product{}, err
		}
	}
	if packSize.Valid {
		p.PackSize = int(packSize.Int64)
	}
	if packUnit.Valid {
		p.PackUnit = packUnit.String
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func (s *Store) productSelect() string {
	if s.expiryColumn {
		return productColumnsExpiry
	}
	return productColumns
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+s.productSelect()+`
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := s.scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if product.Price < 0 || product.CostPrice < 0 || product.Quantity < 0 || product.LowStockThreshold < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	var err error
	if s.expiryColumn {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO products (sku, name, cost_price, price, quantity, low_stock_threshold, pack_size, pack_unit, created_at, expiry_date)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, product.SKU, product.Name, product.CostPrice, product.Price, product.Quantity, product.LowStockThreshold, product.PackSize, product.PackUnit, product.CreatedAt, nullTime(product.ExpiryDate))
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO products (sku, name, cost_price, price, quantity, low_stock_threshold, pack_size, pack_unit, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, product.SKU, product.Name, product.CostPrice, product.Price, product.Quantity, product.LowStockThreshold, product.PackSize, product.PackUnit, product.CreatedAt)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateSKU
		}
		return nil, err
	}

	created := product
	if !s.expiryColumn {
		created.ExpiryDate = nil
	}
	return &created, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+s.productSelect()+`
		FROM products
		WHERE sku = $1
	`, sku)

	p, err := s.scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(skus))
	if len(skus) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+s.productSelect()+`
		FROM products
		WHERE sku = ANY($1)
	`, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := s.scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.SKU] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if product.Price < 0 || product.CostPrice < 0 || product.Quantity < 0 || product.LowStockThreshold < 0 {
		return nil, store.ErrInvalidInput
	}

	var res sql.Result
	var err error
	if s.expiryColumn {
		res, err = s.db.ExecContext(ctx, `
			UPDATE products
			SET name = $2, cost_price = $3, price = $4, quantity = $5, low_stock_threshold = $6, pack_size = $7, pack_unit = $8, expiry_date = $9
			WHERE sku = $1
		`, product.SKU, product.Name, product.CostPrice, product.Price, product.Quantity, product.LowStockThreshold, product.PackSize, product.PackUnit, nullTime(product.ExpiryDate))
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE products
			SET name = $2, cost_price = $3, price = $4, quantity = $5, low_stock_threshold = $6, pack_size = $7, pack_unit = $8
			WHERE sku = $1
		`, product.SKU, product.Name, product.CostPrice, product.Price, product.Quantity, product.LowStockThreshold, product.PackSize, product.PackUnit)
	}
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	if !s.expiryColumn {
		updated.ExpiryDate = nil
	}
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, sku string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE sku = $1`, sku)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DecrementStock(ctx context.Context, sku string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidInput
	}

	// The quantity guard in the WHERE clause keeps the decrement atomic;
	// a zero-row update means either a missing product or too little stock.
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET quantity = quantity - $2
		WHERE sku = $1 AND quantity >= $2
	`, sku, qty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM products WHERE sku = $1`, sku).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return store.ErrInsufficientStock
	}
	return nil
}

func (s *Store) CountLowStock(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM products WHERE quantity <= low_stock_threshold
	`).Scan(&n)
	return n, err
}

func (s *Store) CountNearExpiry(ctx context.Context, within time.Duration) (int, error) {
	if !s.expiryColumn {
		return 0, nil
	}

	now := time.Now().UTC()
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM products
		WHERE expiry_date IS NOT NULL AND expiry_date >= $1 AND expiry_date < $2
	`, now, now.Add(within)).Scan(&n)
	return n, err
}

func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, subtotal, discount_percent, discount_rs, total, contact_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, tx.ID, tx.Subtotal, tx.DiscountPercent, tx.DiscountRs, tx.Total, nullString(tx.ContactID), tx.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := tx
	created.Items = nil
	return &created, nil
}

func (s *Store) CreateTransactionItems(ctx context.Context, transactionID string, items []domain.TransactionItem) error {
	if len(items) == 0 {
		return store.ErrInvalidInput
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = dbTx.Rollback() }()

	for _, item := range items {
		if _, err := dbTx.ExecContext(ctx, `
			INSERT INTO transaction_items (transaction_id, product_sku, name, quantity_sold, price_per_item)
			VALUES ($1,$2,$3,$4,$5)
		`, transactionID, item.ProductSKU, item.Name, item.QuantitySold, item.PricePerItem); err != nil {
			return err
		}
	}
	return dbTx.Commit()
}

func (s *Store) GetTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	var tx domain.Transaction
	var contactID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, subtotal, discount_percent, discount_rs, total, contact_id, created_at
		FROM transactions
		WHERE id = $1
	`, id).Scan(&tx.ID, &tx.Subtotal, &tx.DiscountPercent, &tx.DiscountRs, &tx.Total, &contactID, &tx.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if contactID.Valid {
		tx.ContactID = &contactID.String
	}
	tx.CreatedAt = tx.CreatedAt.UTC()

	tx.Items, err = s.listTransactionItems(ctx, id)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) listTransactionItems(ctx context.Context, transactionID string) ([]domain.TransactionItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_sku, name, quantity_sold, price_per_item
		FROM transaction_items
		WHERE transaction_id = $1
		ORDER BY product_sku
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.TransactionItem, 0, 8)
	for rows.Next() {
		var item domain.TransactionItem
		if err := rows.Scan(&item.ProductSKU, &item.Name, &item.QuantitySold, &item.PricePerItem); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	query := `
		SELECT id, subtotal, discount_percent, discount_rs, total, contact_id, created_at
		FROM transactions
		ORDER BY created_at DESC, id DESC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, query+` LIMIT $1`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		var tx domain.Transaction
		var contactID sql.NullString
		if err := rows.Scan(&tx.ID, &tx.Subtotal, &tx.DiscountPercent, &tx.DiscountRs, &tx.Total, &contactID, &tx.CreatedAt); err != nil {
			return nil, err
		}
		if contactID.Valid {
			tx.ContactID = &contactID.String
		}
		tx.CreatedAt = tx.CreatedAt.UTC()
		transactions = append(transactions, tx)
		ids = append(ids, tx.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(transactions) == 0 {
		return transactions, nil
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, product_sku, name, quantity_sold, price_per_item
		FROM transaction_items
		WHERE transaction_id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	itemsByTx := make(map[string][]domain.TransactionItem, len(ids))
	for itemRows.Next() {
		var txID string
		var item domain.TransactionItem
		if err := itemRows.Scan(&txID, &item.ProductSKU, &item.Name, &item.QuantitySold, &item.PricePerItem); err != nil {
			return nil, err
		}
		itemsByTx[txID] = append(itemsByTx[txID], item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	for i := range transactions {
		transactions[i].Items = itemsByTx[transactions[i].ID]
	}
	return transactions, nil
}

func (s *Store) DeleteTransactionItems(ctx context.Context, transactionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM transaction_items WHERE transaction_id = $1`, transactionID)
	return err
}

func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateContact(ctx context.Context, contact domain.Contact) (*domain.Contact, error) {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (id, name, phone_number, contact_type, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, contact.ID, contact.Name, contact.Phone, contact.Type, contact.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := contact
	return &created, nil
}

func (s *Store) GetContactByID(ctx context.Context, id string) (*domain.Contact, error) {
	var contact domain.Contact
	var phone sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone_number, contact_type, created_at
		FROM contacts
		WHERE id = $1
	`, id).Scan(&contact.ID, &contact.Name, &phone, &contact.Type, &contact.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if phone.Valid {
		contact.Phone = phone.String
	}
	contact.CreatedAt = contact.CreatedAt.UTC()
	return &contact, nil
}

func (s *Store) ListContacts(ctx context.Context) ([]domain.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone_number, contact_type, created_at
		FROM contacts
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := make([]domain.Contact, 0, 32)
	for rows.Next() {
		var contact domain.Contact
		var phone sql.NullString
		if err := rows.Scan(&contact.ID, &contact.Name, &phone, &contact.Type, &contact.CreatedAt); err != nil {
			return nil, err
		}
		if phone.Valid {
			contact.Phone = phone.String
		}
		contact.CreatedAt = contact.CreatedAt.UTC()
		contacts = append(contacts, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (s *Store) UpdateContact(ctx context.Context, contact domain.Contact) (*domain.Contact, error) {
	if contact.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if contact.Type != domain.ContactTypeCustomer && contact.Type != domain.ContactTypeSupplier {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE contacts
		SET name = $2, phone_number = $3, contact_type = $4
		WHERE id = $1
	`, contact.ID, contact.Name, contact.Phone, contact.Type)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := contact
	return &updated, nil
}

func (s *Store) DeleteContact(ctx context.Context, id string) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = dbTx.Rollback() }()

	if _, err := dbTx.ExecContext(ctx, `DELETE FROM ledger_entries WHERE contact_id = $1`, id); err != nil {
		return err
	}
	res, err := dbTx.ExecContext(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return dbTx.Commit()
}

func (s *Store) CreateLedgerEntry(ctx context.Context, entry domain.LedgerEntry) (*domain.LedgerEntry, error) {
	if entry.ContactID == "" || entry.Amount <= 0 {
		return nil, store.ErrInvalidInput
	}
	if entry.Type != domain.LedgerCreditGiven && entry.Type != domain.LedgerPaymentReceived {
		return nil, store.ErrInvalidInput
	}
	if entry.ID == "" {
		entry.ID = xid.New("le")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, contact_id, amount, entry_type, description, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.ContactID, entry.Amount, entry.Type, entry.Description, entry.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	created := entry
	return &created, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, contactID string) ([]domain.LedgerEntry, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM contacts WHERE id = $1`, contactID).Scan(&n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, store.ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, contact_id, amount, entry_type, description, created_at
		FROM ledger_entries
		WHERE contact_id = $1
		ORDER BY created_at DESC, id DESC
	`, contactID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, 32)
	for rows.Next() {
		var entry domain.LedgerEntry
		var description sql.NullString
		if err := rows.Scan(&entry.ID, &entry.ContactID, &entry.Amount, &entry.Type, &description, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if description.Valid {
			entry.Description = description.String
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrInvalidInput
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
