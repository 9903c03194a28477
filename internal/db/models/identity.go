package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// Role IDs are fixed by the seed migration; superadmin outranks admin.
// "user" is the default for identities created without an invitation and is
// not part of the privileged set.
const (
	RoleSuperAdminID = 1
	RoleAdminID      = 2
	RoleUserID       = 3

	RoleSuperAdminName = "superadmin"
	RoleAdminName      = "admin"
	RoleUserName       = "user"
)

// Role defines an application role. Rows are seeded, never user-created.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:r"`

	ID          int       `bun:"id,pk"`
	Name        string    `bun:"name,notnull,unique"`
	Description string    `bun:"description"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// Gender is reference seed data used by profile forms.
type Gender struct {
	bun.BaseModel `bun:"table:genders,alias:g"`

	ID        int       `bun:"id,pk"`
	Name      string    `bun:"name,notnull,unique"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// Metadata is an opaque provider metadata blob stored as JSON.
type Metadata map[string]any

// Scan implements sql.Scanner for reading from database
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = make(Metadata)
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to scan Metadata: expected []byte, got %T", value)
	}
	return json.Unmarshal(bytes, m)
}

// Value implements driver.Valuer for writing to database
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	bytes, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Identity mirrors one provider-side user into the local store. The external
// ID is unique and immutable once set; exactly one row exists per external ID.
type Identity struct {
	bun.BaseModel `bun:"table:identities,alias:i"`

	ID                   string     `bun:"id,pk,type:uuid"`
	ExternalID           string     `bun:"external_id,notnull,unique"`
	Email                string     `bun:"email,notnull,unique"`
	FirstName            string     `bun:"first_name"`
	LastName             string     `bun:"last_name"`
	ImageURL             string     `bun:"image_url"`
	RoleID               int        `bun:"role_id,notnull"`
	IsActive             bool       `bun:"is_active,notnull,default:true"`
	EmailVerified        bool       `bun:"email_verified,notnull,default:false"`
	ProviderMetadata     Metadata   `bun:"provider_metadata,type:jsonb,notnull,default:'{}'"`
	InvitedBy            *string    `bun:"invited_by,type:uuid"` // FK to invitations(id)
	InvitationAcceptedAt *time.Time `bun:"invitation_accepted_at"`
	CreatedAt            time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt            time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

// HasPrivilegedRole reports whether the identity holds any role that may
// enter protected routes.
func (i *Identity) HasPrivilegedRole() bool {
	if i == nil {
		return false
	}
	return i.RoleID == RoleSuperAdminID || i.RoleID == RoleAdminID
}
