// Package store persists application state as plain JSON files on disk.
// The files are the database: every operation reads the whole document,
// mutates it in memory, and rewrites it. A per-store mutex serializes the
// read-modify-write sequences; across processes the semantics remain
// last-write-wins at whole-file granularity.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"ediforecast/pkg/domain"
)

var (
	// ErrUserExists is returned when creating a user whose email key is taken.
	ErrUserExists = errors.New("user already registered")
	// ErrUserNotFound is returned when updating a user that does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// UserDirectory is the whole user collection, stored as a single JSON object
// keyed by lower-cased email. The file stays human-editable on purpose.
type UserDirectory struct {
	path string
	mu   sync.Mutex
}

// NewUserDirectory prepares a directory store at path, creating the parent
// directory when missing. The file itself is created on first write.
func NewUserDirectory(path string) (*UserDirectory, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("user directory path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create user directory dir: %w", err)
	}
	return &UserDirectory{path: path}, nil
}

// GetUser returns the user stored under the lower-cased email key.
func (d *UserDirectory) GetUser(email string) (domain.User, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	users, err := d.load()
	if err != nil {
		return domain.User{}, false, err
	}
	user, ok := users[normalizeKey(email)]
	return user, ok, nil
}

// ListUsers returns every user, ordered by email for stable output.
func (d *UserDirectory) ListUsers() ([]domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	users, err := d.load()
	if err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(users))
	for _, user := range users {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// CreateUser inserts a new user keyed by its lower-cased email.
// Returns ErrUserExists when the key is already taken.
func (d *UserDirectory) CreateUser(user domain.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	users, err := d.load()
	if err != nil {
		return err
	}
	key := normalizeKey(user.Email)
	if _, ok := users[key]; ok {
		return ErrUserExists
	}
	user.Email = key
	users[key] = user
	return d.save(users)
}

// UpdateUser applies mutate to the stored user and rewrites the file, all
// within one serialized read-modify-write sequence. When mutate returns an
// error the file is left untouched and the error is passed through.
func (d *UserDirectory) UpdateUser(email string, mutate func(*domain.User) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	users, err := d.load()
	if err != nil {
		return err
	}
	key := normalizeKey(email)
	user, ok := users[key]
	if !ok {
		return ErrUserNotFound
	}
	if err := mutate(&user); err != nil {
		return err
	}
	user.Email = key
	users[key] = user
	return d.save(users)
}

// load reads the whole directory file. A missing file is an empty directory.
// Legacy files that hold an array of users instead of a map are converted to
// the map shape and rewritten immediately; the migration is idempotent.
func (d *UserDirectory) load() (map[string]domain.User, error) {
	data, err := os.ReadFile(d.path)
	if os.IsNotExist(err) {
		return map[string]domain.User{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read user directory: %w", err)
	}

	var byEmail map[string]domain.User
	if err := json.Unmarshal(data, &byEmail); err == nil {
		users := make(map[string]domain.User, len(byEmail))
		for key, user := range byEmail {
			users[normalizeKey(key)] = user
		}
		return users, nil
	}

	var legacy []domain.User
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("decode user directory: %w", err)
	}
	users := make(map[string]domain.User, len(legacy))
	for _, user := range legacy {
		if user.Email == "" {
			continue
		}
		users[normalizeKey(user.Email)] = user
	}
	if err := d.save(users); err != nil {
		return nil, fmt.Errorf("rewrite legacy user directory: %w", err)
	}
	return users, nil
}

func (d *UserDirectory) save(users map[string]domain.User) error {
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return fmt.Errorf("encode user directory: %w", err)
	}
	if err := os.WriteFile(d.path, data, 0o644); err != nil {
		return fmt.Errorf("write user directory: %w", err)
	}
	return nil
}

func normalizeKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
