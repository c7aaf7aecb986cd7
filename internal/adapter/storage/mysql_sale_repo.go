package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/rl1809/dealership/internal/core/domain"
)

type saleRow struct {
	ID              string          `db:"id"`
	BuyerID         string          `db:"buyer_id"`
	BuyerEmail      string          `db:"buyer_email"`
	BuyerName       string          `db:"buyer_name"`
	Price           decimal.Decimal `db:"price"`
	PaymentType     string          `db:"payment_type"`
	DeliveryAddress string          `db:"delivery_address"`
	DeliveryDate    sql.NullTime    `db:"delivery_date"`
	PaymentIntentID sql.NullString  `db:"payment_intent_id"`
	Status          string          `db:"status"`
	PaymentStatus   string          `db:"payment_status"`
	FailureReason   sql.NullString  `db:"failure_reason"`
	EmailSent       bool            `db:"email_sent"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

const saleColumns = `id, buyer_id, buyer_email, buyer_name, price, payment_type, delivery_address,
	delivery_date, payment_intent_id, status, payment_status, failure_reason, email_sent,
	created_at, updated_at`

func newSaleRow(s *domain.Sale) saleRow {
	return saleRow{
		ID:              s.ID,
		BuyerID:         s.BuyerID,
		BuyerEmail:      s.BuyerEmail,
		BuyerName:       s.BuyerName,
		Price:           s.Price,
		PaymentType:     string(s.PaymentType),
		DeliveryAddress: s.DeliveryAddress,
		DeliveryDate:    nullTime(s.DeliveryDate),
		PaymentIntentID: nullString(s.PaymentIntentID),
		Status:          string(s.Status),
		PaymentStatus:   string(s.PaymentStatus),
		FailureReason:   nullString(s.FailureReason),
		EmailSent:       s.EmailSent,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func (r saleRow) toDomain() domain.Sale {
	return domain.Sale{
		ID:              r.ID,
		BuyerID:         r.BuyerID,
		BuyerEmail:      r.BuyerEmail,
		BuyerName:       r.BuyerName,
		Price:           r.Price,
		PaymentType:     domain.PaymentType(r.PaymentType),
		DeliveryAddress: r.DeliveryAddress,
		DeliveryDate:    timePtr(r.DeliveryDate),
		PaymentIntentID: r.PaymentIntentID.String,
		Status:          domain.SaleStatus(r.Status),
		PaymentStatus:   domain.PaymentStatus(r.PaymentStatus),
		FailureReason:   r.FailureReason.String,
		EmailSent:       r.EmailSent,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type saleItemRow struct {
	ID       string          `db:"id"`
	SaleID   string          `db:"sale_id"`
	CarID    string          `db:"car_id"`
	Position int             `db:"position"`
	Price    decimal.Decimal `db:"price"`
	Make     string          `db:"make"`
	Model    string          `db:"model"`
	Year     int             `db:"year"`
}

type paymentMethodRow struct {
	ID             string    `db:"id"`
	UserID         string    `db:"user_id"`
	Type           string    `db:"type"`
	Brand          string    `db:"brand"`
	MaskedNumber   string    `db:"masked_number"`
	ExpiryMonth    int       `db:"expiry_month"`
	ExpiryYear     int       `db:"expiry_year"`
	CardholderName string    `db:"cardholder_name"`
	IsDefault      bool      `db:"is_default"`
	CreatedAt      time.Time `db:"created_at"`
}

type privacyRow struct {
	UserID              string    `db:"user_id"`
	MarketingEmails     bool      `db:"marketing_emails"`
	ShareWithPartners   bool      `db:"share_with_partners"`
	ShowPurchaseHistory bool      `db:"show_purchase_history"`
	UpdatedAt           time.Time `db:"updated_at"`
}

const insertSale = `
	INSERT INTO sales (` + saleColumns + `)
	VALUES (:id, :buyer_id, :buyer_email, :buyer_name, :price, :payment_type, :delivery_address,
		:delivery_date, :payment_intent_id, :status, :payment_status, :failure_reason, :email_sent,
		:created_at, :updated_at)`

func (m *MySQLAdapter) CreateSale(ctx context.Context, sale *domain.Sale) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, insertSale, newSaleRow(sale)); err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == errDupEntry {
			return &domain.ConflictError{Reason: "a sale already exists for this payment"}
		}
		return fmt.Errorf("insert sale: %w", err)
	}
	if err := insertItems(ctx, tx, sale); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *MySQLAdapter) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return m.getSale(ctx, m.db, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, id)
}

func (m *MySQLAdapter) GetSaleByIntentID(ctx context.Context, intentID string) (*domain.Sale, error) {
	return m.getSale(ctx, m.db, `SELECT `+saleColumns+` FROM sales WHERE payment_intent_id = ?`, intentID)
}

func (m *MySQLAdapter) getSale(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (*domain.Sale, error) {
	var row saleRow
	err := sqlx.GetContext(ctx, q, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sale: %w", err)
	}
	sale := row.toDomain()
	items, err := m.loadItems(ctx, q, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Items = items[sale.ID]
	return &sale, nil
}

func (m *MySQLAdapter) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.BuyerID != "" {
		conds = append(conds, "buyer_id = ?")
		args = append(args, filter.BuyerID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.PaymentStatus != "" {
		conds = append(conds, "payment_status = ?")
		args = append(args, string(filter.PaymentStatus))
	}
	if filter.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, *filter.To)
	}
	where := whereClause(conds)

	var total int
	if err := m.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM sales`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count sales: %w", err)
	}

	page, size := domain.NormalizePage(filter.Page, filter.PageSize)
	var rows []saleRow
	err := m.db.SelectContext(ctx, &rows,
		`SELECT `+saleColumns+` FROM sales`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, size, (page-1)*size)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list sales: %w", err)
	}
	if len(rows) == 0 {
		return nil, total, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	items, err := m.loadItems(ctx, m.db, ids...)
	if err != nil {
		return nil, 0, err
	}
	sales := make([]domain.Sale, len(rows))
	for i, r := range rows {
		sales[i] = r.toDomain()
		sales[i].Items = items[r.ID]
	}
	return sales, total, nil
}

// FinalizePurchase locks the sale row before the car rows, the same order
// ApplyPaymentOutcome and UpdateStatus use.
func (m *MySQLAdapter) FinalizePurchase(ctx context.Context, sale *domain.Sale) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current saleRow
	err = tx.GetContext(ctx, &current, `SELECT `+saleColumns+` FROM sales WHERE id = ? FOR UPDATE`, sale.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("lock sale: %w", err)
	case domain.SaleStatus(current.Status) == domain.SaleStatusCompleted &&
		domain.PaymentStatus(current.PaymentStatus) == domain.PaymentStatusSucceeded:
		// the payment webhook got here first
		return nil
	case domain.SaleStatus(current.Status) != domain.SaleStatusPending:
		return &domain.ConflictError{Reason: fmt.Sprintf("sale is %s", current.Status)}
	}

	ids := sale.CarIDs()
	flipped, err := markSold(ctx, tx, ids, sale.UpdatedAt)
	if err != nil {
		return err
	}
	if flipped < len(ids) {
		return &domain.NotFoundError{Resource: "car", Count: len(ids) - flipped}
	}

	_, err = tx.NamedExecContext(ctx, insertSale+`
		ON DUPLICATE KEY UPDATE
			buyer_email = VALUES(buyer_email), buyer_name = VALUES(buyer_name), price = VALUES(price),
			payment_type = VALUES(payment_type), delivery_address = VALUES(delivery_address),
			delivery_date = VALUES(delivery_date), status = VALUES(status),
			payment_status = VALUES(payment_status), failure_reason = VALUES(failure_reason),
			updated_at = VALUES(updated_at)`,
		newSaleRow(sale),
	)
	if err != nil {
		return fmt.Errorf("upsert sale: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = ?`, sale.ID); err != nil {
		return fmt.Errorf("clear sale items: %w", err)
	}
	if err := insertItems(ctx, tx, sale); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *MySQLAdapter) ApplyPaymentOutcome(ctx context.Context, intentID string, outcome domain.PaymentOutcome) (*domain.AppliedOutcome, error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	sale, err := m.getSale(ctx, tx, `SELECT `+saleColumns+` FROM sales WHERE payment_intent_id = ? FOR UPDATE`, intentID)
	if err != nil {
		return nil, err
	}
	if sale == nil {
		return nil, &domain.NotFoundError{Resource: "sale"}
	}

	if sale.PaymentStatus == domain.PaymentStatusSucceeded {
		// a late failure never downgrades a captured payment
		return &domain.AppliedOutcome{Sale: sale}, tx.Commit()
	}

	now := time.Now().UTC()
	applied := &domain.AppliedOutcome{Sale: sale, Changed: true}
	if outcome.Succeeded {
		sale.PaymentStatus = domain.PaymentStatusSucceeded
		sale.FailureReason = ""
		if sale.Status == domain.SaleStatusPending {
			sale.Status = domain.SaleStatusCompleted
			ids := sale.CarIDs()
			flipped, err := markSold(ctx, tx, ids, now)
			if err != nil {
				return nil, err
			}
			applied.Oversold = len(ids) - flipped
		}
	} else {
		sale.PaymentStatus = domain.PaymentStatusFailed
		sale.FailureReason = outcome.FailureReason
	}
	sale.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		UPDATE sales SET status = ?, payment_status = ?, failure_reason = ?, updated_at = ?
		WHERE id = ?`,
		string(sale.Status), string(sale.PaymentStatus), nullString(sale.FailureReason), now, sale.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update sale: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return applied, nil
}

func (m *MySQLAdapter) UpdateStatus(ctx context.Context, id string, status domain.SaleStatus) (*domain.Sale, error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	sale, err := m.getSale(ctx, tx, `SELECT `+saleColumns+` FROM sales WHERE id = ? FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	if sale == nil {
		return nil, &domain.NotFoundError{Resource: "sale"}
	}
	if !sale.Status.CanTransitionTo(status) {
		return nil, &domain.ConflictError{Reason: fmt.Sprintf("cannot move sale from %s to %s", sale.Status, status)}
	}

	now := time.Now().UTC()
	if sale.Status == domain.SaleStatusCompleted && status == domain.SaleStatusCancelled {
		if _, err := restock(ctx, tx, sale.CarIDs(), sale.ID, now); err != nil {
			return nil, err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sales SET status = ?, updated_at = ? WHERE id = ?`, string(status), now, id); err != nil {
		return nil, fmt.Errorf("update sale status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	sale.Status = status
	sale.UpdatedAt = now
	return sale, nil
}

func (m *MySQLAdapter) MarkEmailSent(ctx context.Context, id string) error {
	result, err := m.db.ExecContext(ctx, `UPDATE sales SET email_sent = TRUE WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark email sent: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		exists, err := m.exists(ctx, `SELECT COUNT(*) FROM sales WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if !exists {
			return &domain.NotFoundError{Resource: "sale"}
		}
	}
	return nil
}

func (m *MySQLAdapter) SavePaymentMethod(ctx context.Context, method *domain.PaymentMethod) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if method.IsDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE payment_methods SET is_default = FALSE WHERE user_id = ?`, method.UserID); err != nil {
			return fmt.Errorf("clear default: %w", err)
		}
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO payment_methods (id, user_id, type, brand, masked_number, expiry_month, expiry_year,
			cardholder_name, is_default, created_at)
		VALUES (:id, :user_id, :type, :brand, :masked_number, :expiry_month, :expiry_year,
			:cardholder_name, :is_default, :created_at)`,
		paymentMethodRow{
			ID:             method.ID,
			UserID:         method.UserID,
			Type:           method.Type,
			Brand:          method.Brand,
			MaskedNumber:   method.MaskedNumber,
			ExpiryMonth:    method.ExpiryMonth,
			ExpiryYear:     method.ExpiryYear,
			CardholderName: method.CardholderName,
			IsDefault:      method.IsDefault,
			CreatedAt:      method.CreatedAt,
		},
	)
	if err != nil {
		return fmt.Errorf("insert payment method: %w", err)
	}
	return tx.Commit()
}

func (m *MySQLAdapter) ListPaymentMethods(ctx context.Context, userID string) ([]domain.PaymentMethod, error) {
	var rows []paymentMethodRow
	err := m.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, type, brand, masked_number, expiry_month, expiry_year,
			cardholder_name, is_default, created_at
		FROM payment_methods WHERE user_id = ?
		ORDER BY is_default DESC, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	methods := make([]domain.PaymentMethod, len(rows))
	for i, r := range rows {
		methods[i] = domain.PaymentMethod{
			ID:             r.ID,
			UserID:         r.UserID,
			Type:           r.Type,
			Brand:          r.Brand,
			MaskedNumber:   r.MaskedNumber,
			ExpiryMonth:    r.ExpiryMonth,
			ExpiryYear:     r.ExpiryYear,
			CardholderName: r.CardholderName,
			IsDefault:      r.IsDefault,
			CreatedAt:      r.CreatedAt,
		}
	}
	return methods, nil
}

func (m *MySQLAdapter) GetPrivacySettings(ctx context.Context, userID string) (*domain.PrivacySettings, error) {
	var row privacyRow
	err := m.db.GetContext(ctx, &row, `
		SELECT user_id, marketing_emails, share_with_partners, show_purchase_history, updated_at
		FROM privacy_settings WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query privacy settings: %w", err)
	}
	return &domain.PrivacySettings{
		UserID:              row.UserID,
		MarketingEmails:     row.MarketingEmails,
		ShareWithPartners:   row.ShareWithPartners,
		ShowPurchaseHistory: row.ShowPurchaseHistory,
		UpdatedAt:           row.UpdatedAt,
	}, nil
}

func (m *MySQLAdapter) SavePrivacySettings(ctx context.Context, s domain.PrivacySettings) error {
	_, err := m.db.NamedExecContext(ctx, `
		INSERT INTO privacy_settings (user_id, marketing_emails, share_with_partners, show_purchase_history, updated_at)
		VALUES (:user_id, :marketing_emails, :share_with_partners, :show_purchase_history, :updated_at)
		ON DUPLICATE KEY UPDATE
			marketing_emails = VALUES(marketing_emails),
			share_with_partners = VALUES(share_with_partners),
			show_purchase_history = VALUES(show_purchase_history),
			updated_at = VALUES(updated_at)`,
		privacyRow{
			UserID:              s.UserID,
			MarketingEmails:     s.MarketingEmails,
			ShareWithPartners:   s.ShareWithPartners,
			ShowPurchaseHistory: s.ShowPurchaseHistory,
			UpdatedAt:           s.UpdatedAt,
		},
	)
	if err != nil {
		return fmt.Errorf("save privacy settings: %w", err)
	}
	return nil
}

func insertItems(ctx context.Context, tx *sqlx.Tx, sale *domain.Sale) error {
	for i, item := range sale.Items {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, car_id, position, price, make, model, year)
			VALUES (:id, :sale_id, :car_id, :position, :price, :make, :model, :year)`,
			saleItemRow{
				ID:       item.ID,
				SaleID:   sale.ID,
				CarID:    item.CarID,
				Position: i,
				Price:    item.Price,
				Make:     item.Make,
				Model:    item.Model,
				Year:     item.Year,
			},
		)
		if err != nil {
			return fmt.Errorf("insert sale item: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) loadItems(ctx context.Context, q sqlx.QueryerContext, saleIDs ...string) (map[string][]domain.SaleItem, error) {
	query, args, err := sqlx.In(`
		SELECT id, sale_id, car_id, position, price, make, model, year
		FROM sale_items WHERE sale_id IN (?)
		ORDER BY sale_id, position`, saleIDs)
	if err != nil {
		return nil, err
	}
	var rows []saleItemRow
	if err := sqlx.SelectContext(ctx, q, &rows, m.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query sale items: %w", err)
	}
	items := make(map[string][]domain.SaleItem, len(saleIDs))
	for _, r := range rows {
		items[r.SaleID] = append(items[r.SaleID], domain.SaleItem{
			ID:     r.ID,
			SaleID: r.SaleID,
			CarID:  r.CarID,
			Price:  r.Price,
			Make:   r.Make,
			Model:  r.Model,
			Year:   r.Year,
		})
	}
	return items, nil
}
