package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/dealership/internal/core/domain"
	"github.com/rl1809/dealership/internal/port"
)

const maxIDImages = 4

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()-]{6,19}$`)

type VerificationService struct {
	repo   port.VerificationRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewVerificationService(repo port.VerificationRepository, logger *zap.Logger) *VerificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerificationService{repo: repo, logger: logger, now: time.Now}
}

type SubmitVerificationInput struct {
	Phone    string
	Address  string
	IDImages []string
}

func (s *VerificationService) Submit(ctx context.Context, user domain.User, in SubmitVerificationInput) (*domain.VerificationRequest, error) {
	if user.ID == "" {
		return nil, domain.ErrUnauthorized
	}
	in.Phone = strings.TrimSpace(in.Phone)
	in.Address = strings.TrimSpace(in.Address)
	switch {
	case !phonePattern.MatchString(in.Phone):
		return nil, &domain.ValidationError{Field: "phone", Reason: "is not a valid phone number"}
	case in.Address == "":
		return nil, &domain.ValidationError{Field: "address", Reason: "is required"}
	case len(in.IDImages) == 0:
		return nil, &domain.ValidationError{Field: "idImages", Reason: "must contain at least one image"}
	case len(in.IDImages) > maxIDImages:
		return nil, &domain.ValidationError{Field: "idImages", Reason: fmt.Sprintf("must contain at most %d images", maxIDImages)}
	}
	for _, ref := range in.IDImages {
		if strings.TrimSpace(ref) == "" {
			return nil, &domain.ValidationError{Field: "idImages", Reason: "must not contain empty references"}
		}
	}

	latest, err := s.repo.LatestVerification(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("latest verification: %w", err)
	}
	if latest != nil {
		switch latest.Status {
		case domain.VerificationPending:
			return nil, &domain.ConflictError{Reason: "a verification request is already pending"}
		case domain.VerificationApproved:
			return nil, &domain.ConflictError{Reason: "user is already verified"}
		}
	}

	now := s.now().UTC()
	req := domain.VerificationRequest{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Phone:     in.Phone,
		Address:   in.Address,
		IDImages:  in.IDImages,
		Status:    domain.VerificationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateVerification(ctx, req); err != nil {
		return nil, fmt.Errorf("create verification: %w", err)
	}
	s.logger.Info("verification submitted", zap.String("verification_id", req.ID), zap.String("user_id", user.ID))
	return &req, nil
}

func (s *VerificationService) GetLatest(ctx context.Context, user domain.User) (*domain.VerificationRequest, error) {
	if user.ID == "" {
		return nil, domain.ErrUnauthorized
	}
	req, err := s.repo.LatestVerification(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("latest verification: %w", err)
	}
	if req == nil {
		return nil, &domain.NotFoundError{Resource: "verification request"}
	}
	return req, nil
}

func (s *VerificationService) List(ctx context.Context, filter domain.VerificationFilter) ([]domain.VerificationRequest, int, error) {
	switch filter.Status {
	case "", domain.VerificationPending, domain.VerificationApproved, domain.VerificationRejected:
	default:
		return nil, 0, &domain.ValidationError{Field: "status", Reason: "is not supported"}
	}
	filter.Page, filter.PageSize = domain.NormalizePage(filter.Page, filter.PageSize)
	return s.repo.ListVerifications(ctx, filter)
}

// Decide records an admin decision. A request can be decided only once.
func (s *VerificationService) Decide(ctx context.Context, reviewer domain.User, id string, decision domain.VerificationStatus, comments string) (*domain.VerificationRequest, error) {
	if !reviewer.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	if decision != domain.VerificationApproved && decision != domain.VerificationRejected {
		return nil, &domain.ValidationError{Field: "status", Reason: "must be approved or rejected"}
	}
	comments = strings.TrimSpace(comments)
	if decision == domain.VerificationRejected && comments == "" {
		return nil, &domain.ValidationError{Field: "comments", Reason: "are required when rejecting"}
	}

	req, err := s.repo.GetVerification(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get verification: %w", err)
	}
	if req == nil {
		return nil, &domain.NotFoundError{Resource: "verification request"}
	}
	if req.Status != domain.VerificationPending {
		return nil, &domain.ConflictError{Reason: "verification request was already decided"}
	}

	now := s.now().UTC()
	req.Status = decision
	req.ReviewerComments = comments
	req.ReviewedBy = reviewer.ID
	req.ReviewedAt = &now
	req.UpdatedAt = now
	if err := s.repo.DecideVerification(ctx, *req); err != nil {
		return nil, err
	}
	s.logger.Info("verification decided",
		zap.String("verification_id", id),
		zap.String("status", string(decision)),
		zap.String("reviewer_id", reviewer.ID),
	)
	return req, nil
}
