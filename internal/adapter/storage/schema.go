package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cars (
		id CHAR(36) PRIMARY KEY,
		make VARCHAR(64) NOT NULL,
		model VARCHAR(64) NOT NULL,
		year INT NOT NULL,
		price DECIMAL(12,2) NOT NULL,
		mileage INT NOT NULL DEFAULT 0,
		color VARCHAR(32) NOT NULL DEFAULT '',
		in_stock BOOLEAN NOT NULL DEFAULT TRUE,
		images JSON NULL,
		features JSON NULL,
		transmission VARCHAR(16) NOT NULL,
		fuel_type VARCHAR(16) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_cars_listing (in_stock, make, model),
		INDEX idx_cars_price (price)
	)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id CHAR(36) PRIMARY KEY,
		buyer_id VARCHAR(64) NOT NULL,
		buyer_email VARCHAR(255) NOT NULL DEFAULT '',
		buyer_name VARCHAR(255) NOT NULL DEFAULT '',
		price DECIMAL(12,2) NOT NULL,
		payment_type VARCHAR(32) NOT NULL,
		delivery_address TEXT NOT NULL,
		delivery_date DATETIME NULL,
		payment_intent_id VARCHAR(255) NULL,
		status VARCHAR(16) NOT NULL,
		payment_status VARCHAR(16) NOT NULL,
		failure_reason TEXT NULL,
		email_sent BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_sales_intent (payment_intent_id),
		INDEX idx_sales_buyer (buyer_id, created_at),
		INDEX idx_sales_status (status, created_at)
	)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		id CHAR(36) PRIMARY KEY,
		sale_id CHAR(36) NOT NULL,
		car_id CHAR(36) NOT NULL,
		position INT NOT NULL,
		price DECIMAL(12,2) NOT NULL,
		make VARCHAR(64) NOT NULL,
		model VARCHAR(64) NOT NULL,
		year INT NOT NULL,
		UNIQUE KEY uq_sale_items_car (sale_id, car_id),
		FOREIGN KEY (sale_id) REFERENCES sales(id) ON DELETE CASCADE,
		FOREIGN KEY (car_id) REFERENCES cars(id) ON DELETE RESTRICT
	)`,
	`CREATE TABLE IF NOT EXISTS payment_methods (
		id CHAR(36) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		type VARCHAR(32) NOT NULL,
		brand VARCHAR(32) NOT NULL DEFAULT '',
		masked_number VARCHAR(32) NOT NULL DEFAULT '',
		expiry_month INT NOT NULL DEFAULT 0,
		expiry_year INT NOT NULL DEFAULT 0,
		cardholder_name VARCHAR(255) NOT NULL DEFAULT '',
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME(6) NOT NULL,
		INDEX idx_payment_methods_user (user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS privacy_settings (
		user_id VARCHAR(64) PRIMARY KEY,
		marketing_emails BOOLEAN NOT NULL DEFAULT FALSE,
		share_with_partners BOOLEAN NOT NULL DEFAULT FALSE,
		show_purchase_history BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS verification_requests (
		id CHAR(36) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		phone VARCHAR(32) NOT NULL,
		address TEXT NOT NULL,
		id_images JSON NOT NULL,
		status VARCHAR(16) NOT NULL,
		reviewer_comments TEXT NULL,
		reviewed_by VARCHAR(64) NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		reviewed_at DATETIME(6) NULL,
		INDEX idx_verification_user (user_id, created_at),
		INDEX idx_verification_status (status, created_at)
	)`,
}

// Migrate creates any missing tables. Statements are idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
