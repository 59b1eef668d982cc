package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/PratikDhanave/ticket-gateway/internal/apierr"
	"github.com/PratikDhanave/ticket-gateway/internal/models"
)

// StaffStore returns a staff member and their bcrypt password hash by
// username. A nil staff with a nil error means no such user.
type StaffStore interface {
	StaffByUsername(ctx context.Context, username string) (*models.Staff, []byte, error)
}

// Caller is the identity an operation runs under. Staff is nil for
// key-only calls and for piped email.
type Caller struct {
	Key   *APIKey
	Staff *models.Staff
}

// Gate applies the two independent checks of the ticket API: API key
// capability, then (for staff operations) username/password exchange.
type Gate struct {
	Keys  KeyStore
	Staff StaffStore
}

// RequireKey resolves raw and checks it carries capability.
func (g *Gate) RequireKey(ctx context.Context, raw string, capability Capability) (*APIKey, error) {
	raw = normalizeKey(raw)
	if raw == "" || g.Keys == nil {
		return nil, errKeyNotAuthorized()
	}
	key, ok := g.Keys.LookupKey(ctx, raw)
	if !ok || !key.Can(capability) {
		return nil, errKeyNotAuthorized()
	}
	return key, nil
}

// RequireStaff exchanges credentials for a staff identity.
func (g *Gate) RequireStaff(ctx context.Context, username, password string) (*models.Staff, error) {
	if username == "" || password == "" || g.Staff == nil {
		return nil, apierr.Unauthorized("API user not found")
	}
	staff, hash, err := g.Staff.StaffByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("staff lookup: %w", err)
	}
	if staff == nil || staff.ID == 0 {
		return nil, apierr.Unauthorized("API user not found")
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, apierr.Unauthorized("API user not found")
		}
		return nil, fmt.Errorf("staff password check: %w", err)
	}
	return staff, nil
}

// HashPassword returns the bcrypt hash stored for staff passwords.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}
