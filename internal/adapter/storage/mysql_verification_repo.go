package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/dealership/internal/core/domain"
)

type verificationRow struct {
	ID               string         `db:"id"`
	UserID           string         `db:"user_id"`
	Phone            string         `db:"phone"`
	Address          string         `db:"address"`
	IDImages         stringList     `db:"id_images"`
	Status           string         `db:"status"`
	ReviewerComments sql.NullString `db:"reviewer_comments"`
	ReviewedBy       sql.NullString `db:"reviewed_by"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	ReviewedAt       sql.NullTime   `db:"reviewed_at"`
}

const verificationColumns = `id, user_id, phone, address, id_images, status, reviewer_comments,
	reviewed_by, created_at, updated_at, reviewed_at`

func (r verificationRow) toDomain() domain.VerificationRequest {
	return domain.VerificationRequest{
		ID:               r.ID,
		UserID:           r.UserID,
		Phone:            r.Phone,
		Address:          r.Address,
		IDImages:         r.IDImages,
		Status:           domain.VerificationStatus(r.Status),
		ReviewerComments: r.ReviewerComments.String,
		ReviewedBy:       r.ReviewedBy.String,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		ReviewedAt:       timePtr(r.ReviewedAt),
	}
}

func (m *MySQLAdapter) CreateVerification(ctx context.Context, req domain.VerificationRequest) error {
	_, err := m.db.NamedExecContext(ctx, `
		INSERT INTO verification_requests (`+verificationColumns+`)
		VALUES (:id, :user_id, :phone, :address, :id_images, :status, :reviewer_comments,
			:reviewed_by, :created_at, :updated_at, :reviewed_at)`,
		verificationRow{
			ID:        req.ID,
			UserID:    req.UserID,
			Phone:     req.Phone,
			Address:   req.Address,
			IDImages:  req.IDImages,
			Status:    string(req.Status),
			CreatedAt: req.CreatedAt,
			UpdatedAt: req.UpdatedAt,
		},
	)
	if err != nil {
		return fmt.Errorf("insert verification: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetVerification(ctx context.Context, id string) (*domain.VerificationRequest, error) {
	return m.getVerification(ctx, `SELECT `+verificationColumns+` FROM verification_requests WHERE id = ?`, id)
}

func (m *MySQLAdapter) LatestVerification(ctx context.Context, userID string) (*domain.VerificationRequest, error) {
	return m.getVerification(ctx, `
		SELECT `+verificationColumns+` FROM verification_requests
		WHERE user_id = ? ORDER BY created_at DESC LIMIT 1`, userID)
}

func (m *MySQLAdapter) getVerification(ctx context.Context, query string, args ...interface{}) (*domain.VerificationRequest, error) {
	var row verificationRow
	err := m.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query verification: %w", err)
	}
	req := row.toDomain()
	return &req, nil
}

func (m *MySQLAdapter) ListVerifications(ctx context.Context, filter domain.VerificationFilter) ([]domain.VerificationRequest, int, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	where := whereClause(conds)

	var total int
	if err := m.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM verification_requests`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count verifications: %w", err)
	}

	page, size := domain.NormalizePage(filter.Page, filter.PageSize)
	var rows []verificationRow
	err := m.db.SelectContext(ctx, &rows,
		`SELECT `+verificationColumns+` FROM verification_requests`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, size, (page-1)*size)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list verifications: %w", err)
	}
	reqs := make([]domain.VerificationRequest, len(rows))
	for i, r := range rows {
		reqs[i] = r.toDomain()
	}
	return reqs, total, nil
}

func (m *MySQLAdapter) DecideVerification(ctx context.Context, req domain.VerificationRequest) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE verification_requests
		SET status = ?, reviewer_comments = ?, reviewed_by = ?, reviewed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(req.Status), nullString(req.ReviewerComments), nullString(req.ReviewedBy),
		nullTime(req.ReviewedAt), req.UpdatedAt, req.ID, string(domain.VerificationPending),
	)
	if err != nil {
		return fmt.Errorf("decide verification: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		exists, err := m.exists(ctx, `SELECT COUNT(*) FROM verification_requests WHERE id = ?`, req.ID)
		if err != nil {
			return err
		}
		if !exists {
			return &domain.NotFoundError{Resource: "verification request"}
		}
		return &domain.ConflictError{Reason: "verification request was already decided"}
	}
	return nil
}
