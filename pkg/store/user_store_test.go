package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ediforecast/pkg/domain"
)

func newTestDirectory(t *testing.T) (*UserDirectory, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.json")
	dir, err := NewUserDirectory(path)
	if err != nil {
		t.Fatalf("new user directory: %v", err)
	}
	return dir, path
}

func TestCreateAndGetUser(t *testing.T) {
	dir, _ := newTestDirectory(t)
	user := domain.User{
		Name:      "Mario",
		Surname:   "Rossi",
		Email:     "Mario.Rossi@iph.it",
		Role:      domain.RoleSales,
		CreatedAt: time.Now().UTC(),
	}
	if err := dir.CreateUser(user); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, ok, err := dir.GetUser("MARIO.ROSSI@iph.it")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Email != "mario.rossi@iph.it" {
		t.Fatalf("email not lower-cased: %q", got.Email)
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	dir, _ := newTestDirectory(t)
	user := domain.User{Email: "a@iph.it", Role: domain.RoleSales}
	if err := dir.CreateUser(user); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := dir.CreateUser(user); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestUpdateUserMissing(t *testing.T) {
	dir, _ := newTestDirectory(t)
	err := dir.UpdateUser("ghost@iph.it", func(u *domain.User) error { u.IsActive = true; return nil })
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUpdateUserPersists(t *testing.T) {
	dir, _ := newTestDirectory(t)
	if err := dir.CreateUser(domain.User{Email: "a@iph.it"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := dir.UpdateUser("a@iph.it", func(u *domain.User) error { u.Company = "IPH"; return nil }); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, ok, err := dir.GetUser("a@iph.it")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Company != "IPH" {
		t.Fatalf("update not persisted: %+v", got)
	}
}

func TestLegacyListMigratesToMap(t *testing.T) {
	dir, path := newTestDirectory(t)
	legacy := `[{"name":"Old","surname":"User","email":"Old.User@iph.it","role":"sales_role"}]`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("seed legacy file: %v", err)
	}
	got, ok, err := dir.GetUser("old.user@iph.it")
	if err != nil || !ok {
		t.Fatalf("get after migration: ok=%v err=%v", ok, err)
	}
	if got.Name != "Old" {
		t.Fatalf("unexpected user: %+v", got)
	}

	// The file must have been rewritten in map shape, keyed by lower email.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read migrated file: %v", err)
	}
	var byEmail map[string]domain.User
	if err := json.Unmarshal(data, &byEmail); err != nil {
		t.Fatalf("migrated file is not a map: %v", err)
	}
	if _, ok := byEmail["old.user@iph.it"]; !ok {
		t.Fatalf("migrated key missing: %v", byEmail)
	}
}

func TestListUsersSorted(t *testing.T) {
	dir, _ := newTestDirectory(t)
	for _, email := range []string{"c@iph.it", "a@iph.it", "b@iph.it"} {
		if err := dir.CreateUser(domain.User{Email: email}); err != nil {
			t.Fatalf("create %s: %v", email, err)
		}
	}
	users, err := dir.ListUsers()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 3 {
		t.Fatalf("expected 3 users, got %d", len(users))
	}
	for i, want := range []string{"a@iph.it", "b@iph.it", "c@iph.it"} {
		if users[i].Email != want {
			t.Fatalf("order: got %q at %d, want %q", users[i].Email, i, want)
		}
	}
}
