package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"stokku/backend/internal/domain"
	"stokku/backend/internal/store"
)

type Store struct {
	mu              sync.RWMutex
	documents       map[string]domain.Document
	usersByUsername map[string]domain.UserAccount
	lastWrite       time.Time
	now             func() time.Time
}

func New() *Store {
	return &Store{
		documents:       make(map[string]domain.Document),
		usersByUsername: make(map[string]domain.UserAccount),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// NewSeeded returns a store with dev/demo accounts. Credentials come from
// SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD, falling back to hardcoded dev
// defaults with a warning. Never used when DATABASE_URL is set.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()
	return s
}

func seedUsers() map[string]domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		zap.L().Warn("memory store using default dev credentials; set SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"owner", ownerPwd, "admin"},
		{"staff", staffPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			zap.L().Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) GetDocument(_ context.Context, userID string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyDoc := doc.Clone()
	return &copyDoc, nil
}

// UpsertDocument stores a copy of doc. updated_at is strictly increasing
// across writes, mirroring a server clock.
func (s *Store) UpsertDocument(_ context.Context, doc domain.Document) (*domain.Document, error) {
	if strings.TrimSpace(doc.UserID) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	if !at.After(s.lastWrite) {
		at = s.lastWrite.Add(time.Microsecond)
	}
	s.lastWrite = at

	stored := doc.Clone()
	stored.UpdatedAt = at
	s.documents[doc.UserID] = stored

	out := stored.Clone()
	return &out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
