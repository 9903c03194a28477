package reconciler

import (
	"context"
	"errors"

	"github.com/ArielSulton/tunarasa-sub001/internal/identity"
)

// ServiceCaller runs sync attempts against the in-process identity service.
// Used when reconciler and sync endpoint live in the same binary; HTTPCaller
// covers the split deployment.
type ServiceCaller struct {
	service identity.Service
}

// NewServiceCaller creates a caller backed by the identity service.
func NewServiceCaller(service identity.Service) *ServiceCaller {
	return &ServiceCaller{service: service}
}

// Sync applies the upsert directly. Validation errors are terminal; store
// errors are assumed transient and retried.
func (c *ServiceCaller) Sync(ctx context.Context, in Input) (int, bool, error) {
	result, err := c.service.SyncUser(ctx, identity.SyncInput{
		ExternalID: in.SubjectID,
		Email:      in.Email,
		FirstName:  in.FirstName,
		LastName:   in.LastName,
		ImageURL:   in.ImageURL,
		IsNewUser:  in.IsNewUser,
	})
	if errors.Is(err, identity.ErrInvalidInput) {
		return 0, false, err
	}
	if err != nil {
		return 0, true, err
	}
	return result.RoleID, false, nil
}
