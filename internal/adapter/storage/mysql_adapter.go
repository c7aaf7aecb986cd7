package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/rl1809/dealership/internal/core/domain"
)

// MySQL error numbers the adapter maps to domain errors.
const (
	errDupEntry        = 1062
	errRowIsReferenced = 1451
)

type MySQLAdapter struct {
	db *sqlx.DB
}

func NewMySQLAdapter(db *sqlx.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// stringList stores a []string in a JSON column.
type stringList []string

func (l stringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *stringList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported json source %T", src)
	}
	return json.Unmarshal(raw, (*[]string)(l))
}

type carRow struct {
	ID           string          `db:"id"`
	Make         string          `db:"make"`
	Model        string          `db:"model"`
	Year         int             `db:"year"`
	Price        decimal.Decimal `db:"price"`
	Mileage      int             `db:"mileage"`
	Color        string          `db:"color"`
	InStock      bool            `db:"in_stock"`
	Images       stringList      `db:"images"`
	Features     stringList      `db:"features"`
	Transmission string          `db:"transmission"`
	FuelType     string          `db:"fuel_type"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

const carColumns = `id, make, model, year, price, mileage, color, in_stock, images, features,
	transmission, fuel_type, created_at, updated_at`

func newCarRow(car domain.Car) carRow {
	return carRow{
		ID:           car.ID,
		Make:         car.Make,
		Model:        car.Model,
		Year:         car.Year,
		Price:        car.Price,
		Mileage:      car.Mileage,
		Color:        car.Color,
		InStock:      car.InStock,
		Images:       car.Images,
		Features:     car.Features,
		Transmission: string(car.Transmission),
		FuelType:     string(car.FuelType),
		CreatedAt:    car.CreatedAt,
		UpdatedAt:    car.UpdatedAt,
	}
}

func (r carRow) toDomain() domain.Car {
	return domain.Car{
		ID:           r.ID,
		Make:         r.Make,
		Model:        r.Model,
		Year:         r.Year,
		Price:        r.Price,
		Mileage:      r.Mileage,
		Color:        r.Color,
		InStock:      r.InStock,
		Images:       r.Images,
		Features:     r.Features,
		Transmission: domain.Transmission(r.Transmission),
		FuelType:     domain.FuelType(r.FuelType),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (m *MySQLAdapter) CreateCar(ctx context.Context, car domain.Car) error {
	_, err := m.db.NamedExecContext(ctx, `
		INSERT INTO cars (`+carColumns+`)
		VALUES (:id, :make, :model, :year, :price, :mileage, :color, :in_stock, :images, :features,
			:transmission, :fuel_type, :created_at, :updated_at)`,
		newCarRow(car),
	)
	if err != nil {
		return fmt.Errorf("insert car: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) UpdateCar(ctx context.Context, car domain.Car) error {
	result, err := m.db.NamedExecContext(ctx, `
		UPDATE cars
		SET make = :make, model = :model, year = :year, price = :price, mileage = :mileage,
			color = :color, images = :images, features = :features,
			transmission = :transmission, fuel_type = :fuel_type, updated_at = :updated_at
		WHERE id = :id`,
		newCarRow(car),
	)
	if err != nil {
		return fmt.Errorf("update car: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		exists, err := m.exists(ctx, `SELECT COUNT(*) FROM cars WHERE id = ?`, car.ID)
		if err != nil {
			return err
		}
		if !exists {
			return &domain.NotFoundError{Resource: "car"}
		}
	}
	return nil
}

// SetCarStock locks the car row so the flag cannot be written back over a
// purchase that committed in the meantime.
func (m *MySQLAdapter) SetCarStock(ctx context.Context, id string, inStock bool) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current bool
	err = tx.GetContext(ctx, &current, `SELECT in_stock FROM cars WHERE id = ? FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.NotFoundError{Resource: "car"}
	}
	if err != nil {
		return fmt.Errorf("lock car: %w", err)
	}
	if current == inStock {
		return tx.Commit()
	}

	now := time.Now().UTC()
	if !inStock {
		if _, err := markSold(ctx, tx, []string{id}, now); err != nil {
			return err
		}
		return tx.Commit()
	}
	n, err := restock(ctx, tx, []string{id}, "", now)
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.ConflictError{Reason: "car belongs to a completed sale"}
	}
	return tx.Commit()
}

func (m *MySQLAdapter) DeleteCar(ctx context.Context, id string) error {
	result, err := m.db.ExecContext(ctx, `DELETE FROM cars WHERE id = ?`, id)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == errRowIsReferenced {
			return &domain.ConflictError{Reason: "car is referenced by a sale"}
		}
		return fmt.Errorf("delete car: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return &domain.NotFoundError{Resource: "car"}
	}
	return nil
}

func (m *MySQLAdapter) GetCar(ctx context.Context, id string) (*domain.Car, error) {
	var row carRow
	err := m.db.GetContext(ctx, &row, `SELECT `+carColumns+` FROM cars WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query car: %w", err)
	}
	car := row.toDomain()
	return &car, nil
}

func (m *MySQLAdapter) GetCarsByIDs(ctx context.Context, ids []string) ([]domain.Car, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+carColumns+` FROM cars WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var rows []carRow
	if err := m.db.SelectContext(ctx, &rows, m.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query cars: %w", err)
	}
	cars := make([]domain.Car, len(rows))
	for i, r := range rows {
		cars[i] = r.toDomain()
	}
	return cars, nil
}

func (m *MySQLAdapter) ListCars(ctx context.Context, filter domain.CarFilter) ([]domain.Car, int, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.Make != "" {
		conds = append(conds, "make = ?")
		args = append(args, filter.Make)
	}
	if filter.Model != "" {
		conds = append(conds, "model = ?")
		args = append(args, filter.Model)
	}
	if filter.InStock != nil {
		conds = append(conds, "in_stock = ?")
		args = append(args, *filter.InStock)
	}
	if filter.MinPrice != nil {
		conds = append(conds, "price >= ?")
		args = append(args, *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		conds = append(conds, "price <= ?")
		args = append(args, *filter.MaxPrice)
	}
	if filter.MinYear > 0 {
		conds = append(conds, "year >= ?")
		args = append(args, filter.MinYear)
	}
	if filter.MaxYear > 0 {
		conds = append(conds, "year <= ?")
		args = append(args, filter.MaxYear)
	}
	where := whereClause(conds)

	var total int
	if err := m.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM cars`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count cars: %w", err)
	}

	page, size := domain.NormalizePage(filter.Page, filter.PageSize)
	var rows []carRow
	err := m.db.SelectContext(ctx, &rows,
		`SELECT `+carColumns+` FROM cars`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, size, (page-1)*size)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list cars: %w", err)
	}
	cars := make([]domain.Car, len(rows))
	for i, r := range rows {
		cars[i] = r.toDomain()
	}
	return cars, total, nil
}

func (m *MySQLAdapter) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var n int
	if err := m.db.GetContext(ctx, &n, query, args...); err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	return n > 0, nil
}

// markSold flips the given cars out of stock, touching only rows that are
// still in stock. It returns how many rows changed.
func markSold(ctx context.Context, tx *sqlx.Tx, ids []string, now time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`
		UPDATE cars SET in_stock = FALSE, updated_at = ?
		WHERE id IN (?) AND in_stock = TRUE`,
		now, ids,
	)
	if err != nil {
		return 0, err
	}
	return execRows(ctx, tx, tx.Rebind(query), args...)
}

// restock puts cars back in stock unless a completed or delivered sale other
// than exceptSaleID still holds them. It returns how many rows changed.
func restock(ctx context.Context, tx *sqlx.Tx, ids []string, exceptSaleID string, now time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`
		UPDATE cars SET in_stock = TRUE, updated_at = ?
		WHERE id IN (?) AND in_stock = FALSE
			AND NOT EXISTS (
				SELECT 1 FROM sale_items si JOIN sales s ON s.id = si.sale_id
				WHERE si.car_id = cars.id AND s.id <> ? AND s.status IN (?, ?)
			)`,
		now, ids, exceptSaleID, string(domain.SaleStatusCompleted), string(domain.SaleStatusDelivered),
	)
	if err != nil {
		return 0, err
	}
	return execRows(ctx, tx, tx.Rebind(query), args...)
}

func execRows(ctx context.Context, tx *sqlx.Tx, query string, args ...interface{}) (int, error) {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update stock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(rows), nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
