package domain

import "time"

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationApproved VerificationStatus = "approved"
	VerificationRejected VerificationStatus = "rejected"
)

type VerificationRequest struct {
	ID               string
	UserID           string
	Phone            string
	Address          string
	IDImages         []string
	Status           VerificationStatus
	ReviewerComments string
	ReviewedBy       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ReviewedAt       *time.Time
}

type VerificationFilter struct {
	UserID   string
	Status   VerificationStatus
	Page     int
	PageSize int
}
