package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("secret")
	want := Actor{ID: uuid.New(), Role: RoleStaff, FacilityID: uuid.New()}

	token, err := v.Sign(want, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewVerifier("a").Sign(Actor{ID: uuid.New(), Role: RolePatient}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewVerifier("b").Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.Sign(Actor{ID: uuid.New(), Role: RoleDoctor}, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsUnknownRole(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.Sign(Actor{ID: uuid.New(), Role: Role("JANITOR")}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestActorPredicates(t *testing.T) {
	facility := uuid.New()
	staff := Actor{ID: uuid.New(), Role: RoleStaff, FacilityID: facility}
	admin := Actor{ID: uuid.New(), Role: RoleFacilityAdmin, FacilityID: facility}
	doctor := Actor{ID: uuid.New(), Role: RoleDoctor}

	if !staff.WorksAt(facility) || staff.AdminOf(facility) {
		t.Fatal("staff works at but does not administer the facility")
	}
	if !admin.WorksAt(facility) || !admin.AdminOf(facility) {
		t.Fatal("admin works at and administers the facility")
	}
	if staff.WorksAt(uuid.New()) {
		t.Fatal("staff must not work at another facility")
	}
	if !doctor.IsDoctor(doctor.ID) || doctor.WorksAt(facility) {
		t.Fatal("doctor predicates wrong")
	}

	ctx := WithActor(context.Background(), doctor)
	if got, ok := ActorFrom(ctx); !ok || got != doctor {
		t.Fatal("actor not carried by context")
	}
}
