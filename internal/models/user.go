package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	RoleBuyer     = "buyer"
	RoleOrganizer = "organizer"
	RoleValidator = "validator"
	RoleAdmin     = "admin"
)

const (
	PlatformPending  = "pending"
	PlatformApproved = "approved"
	PlatformRejected = "rejected"
)

type User struct {
	bun.BaseModel `bun:"table:users"`

	ID               string           `bun:"id,pk" json:"id"`
	Email            string           `bun:"email,unique,notnull" json:"email"`
	PasswordHash     string           `bun:"password_hash,notnull" json:"-"`
	FullName         string           `bun:"full_name" json:"fullName"`
	Phone            string           `bun:"phone" json:"phone,omitempty"`
	Role             string           `bun:"role,notnull" json:"role"`
	Active           bool             `bun:"active,notnull" json:"isActive"`
	OrganizerProfile OrganizerProfile `bun:"embed:org_" json:"organizerProfile"`
	CreatedAt        time.Time        `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt        time.Time        `bun:"updated_at,notnull" json:"updatedAt"`
}

// OrganizerProfile is only meaningful for organizers; the columns stay empty
// for other roles.
type OrganizerProfile struct {
	BusinessName    string `bun:"business_name" json:"businessName,omitempty"`
	PlatformStatus  string `bun:"platform_status" json:"platformStatus,omitempty"`
	RejectionReason string `bun:"rejection_reason" json:"rejectionReason,omitempty"`
	SubaccountID    string `bun:"subaccount_id" json:"subaccountId,omitempty"`
	PayoutActive    bool   `bun:"payout_active" json:"payoutActive"`
	BankCode        string `bun:"bank_code" json:"bankCode,omitempty"`
	AccountNumber   string `bun:"account_number" json:"accountNumber,omitempty"`
}

func (u *User) IsApprovedOrganizer() bool {
	return u.Role == RoleOrganizer && u.OrganizerProfile.PlatformStatus == PlatformApproved
}
