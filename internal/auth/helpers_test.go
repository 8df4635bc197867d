package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/accounts-api/internal/logging"
	"github.com/redmonkez12/accounts-api/internal/user"
)

var testSecret = []byte("test-signing-key-0123456789abcdef")

// memoryUsers is an in-memory UserStore with the same uniqueness rules as
// the users table.
type memoryUsers struct {
	mu           sync.Mutex
	users        map[uuid.UUID]*user.User
	lastLoginErr error
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: make(map[uuid.UUID]*user.User)}
}

func (m *memoryUsers) Create(_ context.Context, nu user.NewUser) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == nu.Email {
			return nil, user.ErrDuplicateEmail
		}
		if u.Username == nu.Username {
			return nil, user.ErrDuplicateUsername
		}
	}

	now := time.Now().UTC()
	u := &user.User{
		ID:           nu.ID,
		Email:        nu.Email,
		Username:     nu.Username,
		FirstName:    nu.FirstName,
		LastName:     nu.LastName,
		PasswordHash: nu.PasswordHash,
		Avatar:       nu.Avatar,
		Bio:          nu.Bio,
		IsActive:     nu.IsActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.users[u.ID] = u

	cp := *u
	return &cp, nil
}

func (m *memoryUsers) GetByEmail(_ context.Context, email string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, user.ErrNotFound
}

func (m *memoryUsers) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memoryUsers) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastLoginErr != nil {
		return m.lastLoginErr
	}
	u, ok := m.users[id]
	if !ok {
		return user.ErrNotFound
	}
	u.LastLogin = &at
	return nil
}

func (m *memoryUsers) setActive(id uuid.UUID, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id].IsActive = active
}

func (m *memoryUsers) remove(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
}

func (m *memoryUsers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

type storedObject struct {
	contentType string
	data        []byte
}

// memoryAvatars is an in-memory AvatarStore.
type memoryAvatars struct {
	mu      sync.Mutex
	objects map[string]storedObject
	deleted []string
	putErr  error
}

func newMemoryAvatars() *memoryAvatars {
	return &memoryAvatars{objects: make(map[string]storedObject)}
}

func (m *memoryAvatars) Put(_ context.Context, key, contentType string, body io.Reader, _ int64) error {
	if m.putErr != nil {
		return m.putErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = storedObject{contentType: contentType, data: buf.Bytes()}
	return nil
}

func (m *memoryAvatars) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memoryAvatars) URL(key string) string {
	return "https://cdn.example.com/" + key
}

func (m *memoryAvatars) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}

// recordingMetrics keeps every observed outcome as "<workflow>:<outcome>".
type recordingMetrics struct {
	mu       sync.Mutex
	observed []string
}

func (m *recordingMetrics) record(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observed = append(m.observed, s)
}

func (m *recordingMetrics) ObserveRegistration(outcome string) { m.record("registration:" + outcome) }
func (m *recordingMetrics) ObserveLogin(outcome string)        { m.record("login:" + outcome) }
func (m *recordingMetrics) ObserveRefresh(outcome string)      { m.record("refresh:" + outcome) }

func (m *recordingMetrics) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.observed...)
}

// testEnv wires a Service against miniredis and in-memory fakes.
type testEnv struct {
	service *Service
	issuer  *TokenIssuer
	tokens  *JWTService
	store   *RedisRepository
	users   *memoryUsers
	avatars *memoryAvatars
	metrics *recordingMetrics
	redis   *miniredis.Miniredis
}

type envOption func(*Deps)

func withoutAvatars(d *Deps) { d.Avatars = nil }

func withHasher(h PasswordHasher) envOption {
	return func(d *Deps) { d.Hasher = h }
}

func withMaxAvatarBytes(n int64) envOption {
	return func(d *Deps) { d.MaxAvatarBytes = n }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tokens, err := NewJWTService(testSecret)
	require.NoError(t, err)

	users := newMemoryUsers()
	store := NewRedisRepository(client)
	issuer := NewTokenIssuer(tokens, store, users, 60*time.Minute, 7*24*time.Hour)
	avatars := newMemoryAvatars()
	metrics := &recordingMetrics{}

	deps := Deps{
		Users:   users,
		Hasher:  NewArgon2Hasher(testArgon2Params),
		Issuer:  issuer,
		Avatars: avatars,
		Logger:  logging.NewLoggerWithWriter(io.Discard, false),
		Metrics: metrics,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	service, err := NewService(deps)
	require.NoError(t, err)

	return &testEnv{
		service: service,
		issuer:  issuer,
		tokens:  tokens,
		store:   store,
		users:   users,
		avatars: avatars,
		metrics: metrics,
		redis:   mr,
	}
}

// registerUser creates an active user through the service.
func (e *testEnv) registerUser(t *testing.T) *AuthResult {
	t.Helper()
	result, err := e.service.Register(context.Background(), *validRegisterInput(), nil)
	require.NoError(t, err)
	return result
}

var errStoreDown = errors.New("store down")

// pngBytes is the PNG signature followed by filler, enough for sniffing.
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
