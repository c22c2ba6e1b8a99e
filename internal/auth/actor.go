// Package auth turns identity-provider bearer tokens into an explicit Actor
// that is passed into every core operation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

type Role string

const (
	RolePatient       Role = "PATIENT"
	RoleDoctor        Role = "DOCTOR"
	RoleStaff         Role = "STAFF"
	RoleFacilityAdmin Role = "FACILITY_ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleStaff, RoleFacilityAdmin:
		return true
	}
	return false
}

// Actor is the authenticated caller. FacilityID is set only for staff and
// facility admins.
type Actor struct {
	ID         uuid.UUID
	Role       Role
	FacilityID uuid.UUID
}

// WorksAt reports whether the actor is front-desk staff or an admin of facility.
func (a Actor) WorksAt(facility uuid.UUID) bool {
	return (a.Role == RoleStaff || a.Role == RoleFacilityAdmin) && a.FacilityID == facility
}

// AdminOf reports whether the actor administers facility.
func (a Actor) AdminOf(facility uuid.UUID) bool {
	return a.Role == RoleFacilityAdmin && a.FacilityID == facility
}

// IsDoctor reports whether the actor is the given doctor.
func (a Actor) IsDoctor(doctor uuid.UUID) bool {
	return a.Role == RoleDoctor && a.ID == doctor
}

type Claims struct {
	Role       string `json:"role"`
	FacilityID string `json:"facility_id,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens minted by the identity provider.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Verify(raw string) (Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: subject is not a uuid", ErrInvalidToken)
	}

	actor := Actor{ID: id, Role: Role(claims.Role)}
	if !actor.Role.Valid() {
		return Actor{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	if claims.FacilityID != "" {
		fid, err := uuid.Parse(claims.FacilityID)
		if err != nil {
			return Actor{}, fmt.Errorf("%w: facility_id is not a uuid", ErrInvalidToken)
		}
		actor.FacilityID = fid
	}

	return actor, nil
}

// Sign mints a token for actor. Used by the seed and simulate tools, which
// stand in for the identity provider.
func (v *Verifier) Sign(actor Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if actor.FacilityID != uuid.Nil {
		claims.FacilityID = actor.FacilityID.String()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type contextKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(Actor)
	return a, ok
}
