package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"caredesk/backend/internal/domain"
	"caredesk/backend/internal/store"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	accounts := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      "admin",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, accounts)
	_, err := manager.Login(domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := accounts.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "admin123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestCreateStaffStoresPasswordHash(t *testing.T) {
	accounts := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      "admin",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, accounts)
	staff, err := manager.CreateStaff(domain.StaffCreateRequest{
		Username: "newdesk",
		Password: "pass1234",
		Role:     "frontdesk",
	})
	if err != nil {
		t.Fatalf("create staff failed: %v", err)
	}
	if staff.Username != "newdesk" || staff.Role != "frontdesk" {
		t.Fatalf("unexpected staff %+v", staff)
	}

	saved, err := accounts.GetUser(context.Background(), "newdesk")
	if err != nil {
		t.Fatalf("expected staff account to be saved: %v", err)
	}
	if saved.Password == "pass1234" || !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt hash, got %s", saved.Password)
	}

	if _, err := manager.Login(domain.LoginRequest{Username: "newdesk", Password: "pass1234"}); err != nil {
		t.Fatalf("login with new staff account failed: %v", err)
	}

	if _, err := manager.CreateStaff(domain.StaffCreateRequest{
		Username: "newdesk",
		Password: "pass1234",
		Role:     "billing",
	}); err == nil {
		t.Fatalf("expected duplicate username to be rejected")
	}
}

func TestCreateStaffRejectsAdminRole(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, &userStoreStub{users: map[string]domain.UserAccount{}})

	if _, err := manager.CreateStaff(domain.StaffCreateRequest{
		Username: "sneaky",
		Password: "pass1234",
		Role:     "admin",
	}); err == nil {
		t.Fatalf("expected admin role creation via API to be rejected")
	}
}

func TestLoginResponseCarriesPolicy(t *testing.T) {
	accounts := &userStoreStub{
		users: map[string]domain.UserAccount{
			"frontdesk": {
				Username:  "frontdesk",
				Password:  "frontdesk123",
				Role:      "frontdesk",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, accounts)
	resp, err := manager.Login(domain.LoginRequest{
		Username: "frontdesk",
		Password: "frontdesk123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.CanCreate || resp.CanEdit {
		t.Fatalf("expected frontdesk login to be view-only, got %+v", resp)
	}
	if len(resp.BillingOptions) == 0 {
		t.Fatalf("expected frontdesk to see at least one billing option")
	}
	for _, option := range resp.BillingOptions {
		if option == domain.BillingOptionIPD {
			t.Fatalf("frontdesk must not see inpatient billing")
		}
	}
}

func TestParseTokenRestoresActorPolicy(t *testing.T) {
	accounts := &userStoreStub{
		users: map[string]domain.UserAccount{
			"billing": {
				Username:  "billing",
				Password:  "billing123",
				Role:      "billing",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, accounts)
	resp, err := manager.Login(domain.LoginRequest{
		Username: "billing",
		Password: "billing123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "billing" || actor.Role != "billing" {
		t.Fatalf("unexpected actor %+v", actor)
	}
	if !actor.Policy.CanEdit || !actor.Policy.Allows(domain.BillingOptionIPD) {
		t.Fatalf("expected billing policy on parsed actor, got %+v", actor.Policy)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	accounts := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username: "admin", Password: "admin123", Role: "admin", Active: true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	issuer := NewAuthManager("secret-one", time.Hour, accounts)
	verifier := NewAuthManager("secret-two", time.Hour, accounts)

	resp, err := issuer.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestInactiveAccountCannotLogin(t *testing.T) {
	accounts := &userStoreStub{
		users: map[string]domain.UserAccount{
			"billing": {
				Username: "billing", Password: "billing123", Role: "billing", Active: false,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, accounts)
	if _, err := manager.Login(domain.LoginRequest{Username: "billing", Password: "billing123"}); err == nil {
		t.Fatalf("expected inactive account login to fail")
	}
}

func TestPolicyForRoleUnknownIsEmpty(t *testing.T) {
	policy := PolicyForRole("janitor")
	if policy.CanCreate || policy.CanEdit {
		t.Fatalf("unknown role must not mutate anything")
	}
	for option, allowed := range policy.BillingOptions {
		if allowed {
			t.Fatalf("unknown role must not see billing option %s", option)
		}
	}
}
