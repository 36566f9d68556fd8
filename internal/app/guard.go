package app

import (
	"context"
	"errors"
	"fmt"

	"studyrag/internal/model"
	"studyrag/internal/pkg/jwtutil"
	"studyrag/internal/repository"
)

// Identity is the resolved caller: subject id plus role, both taken from the
// live user record. Pipelines receive it as a parameter and never infer
// identity themselves.
type Identity struct {
	SubjectID string
	Role      model.Role
}

func (id Identity) IsAdmin() bool {
	return id.Role == model.RoleAdmin
}

// Guard resolves bearer tokens to identities and enforces ownership rules.
type Guard struct {
	users     repository.UserStore
	jwtSecret string
}

func NewGuard(users repository.UserStore, jwtSecret string) *Guard {
	return &Guard{users: users, jwtSecret: jwtSecret}
}

// Resolve verifies the access token and re-checks the user record on every
// request: a valid token whose subject has been deactivated is rejected with
// ErrForbidden rather than honored until expiry.
func (g *Guard) Resolve(ctx context.Context, accessToken string) (*Identity, error) {
	claims, err := jwtutil.ParseToken(g.jwtSecret, accessToken)
	if err != nil {
		if errors.Is(err, jwtutil.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	user, err := g.users.GetByID(ctx, claims.UserID)
	if err != nil {
		// Store failure, not an auth verdict; callers must not report
		// it as an invalid credential.
		return nil, fmt.Errorf("resolve identity failed: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidToken
	}
	if !user.Active {
		return nil, ErrForbidden
	}

	role := user.Role
	if !role.Valid() {
		role = model.RoleUser
	}
	return &Identity{SubjectID: user.ID, Role: role}, nil
}

// AuthorizeOwnership is the single rule behind every pipeline operation:
// admins may target anyone, everyone else only themselves.
func (g *Guard) AuthorizeOwnership(identity *Identity, targetSubjectID string) error {
	if identity == nil || targetSubjectID == "" {
		return ErrInvalidInput
	}
	if identity.IsAdmin() {
		return nil
	}
	if identity.SubjectID != targetSubjectID {
		return ErrForbidden
	}
	return nil
}

func (g *Guard) RequireAdmin(identity *Identity) error {
	if identity == nil {
		return ErrInvalidInput
	}
	if !identity.IsAdmin() {
		return ErrForbidden
	}
	return nil
}
