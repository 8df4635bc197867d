package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/redmonkez12/accounts-api/internal/httputil"
	"github.com/redmonkez12/accounts-api/internal/logging"
	"github.com/redmonkez12/accounts-api/internal/user"
)

// Workflow outcomes reported to Metrics.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalid            = "invalid"
	OutcomeDuplicate          = "duplicate"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeInactive           = "inactive"
	OutcomeThrottled          = "throttled"
	OutcomeTokenNotValid      = "token_not_valid"
	OutcomeError              = "error"
)

const (
	messageRegistered = "User registered successfully"
	messageLoggedIn   = "Login successful"
)

// Deps are the collaborators of Service. Avatars and Metrics are optional.
type Deps struct {
	Users          UserStore
	Hasher         PasswordHasher
	Issuer         *TokenIssuer
	Avatars        AvatarStore
	Logger         *logging.Logger
	Metrics        Metrics
	MaxAvatarBytes int64
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User    *user.User
	Tokens  *TokenPair
	Message string
}

// Service handles authentication business logic
type Service struct {
	users          UserStore
	hasher         PasswordHasher
	issuer         *TokenIssuer
	avatars        AvatarStore
	logger         *logging.Logger
	metrics        Metrics
	maxAvatarBytes int64

	// dummyHash is compared against when no user matches a login email so
	// the response time does not reveal whether the account exists.
	dummyHash string
}

func NewService(deps Deps) (*Service, error) {
	if deps.Users == nil || deps.Hasher == nil || deps.Issuer == nil {
		return nil, errors.New("auth: users, hasher and issuer are required")
	}

	s := &Service{
		users:          deps.Users,
		hasher:         deps.Hasher,
		issuer:         deps.Issuer,
		avatars:        deps.Avatars,
		logger:         deps.Logger,
		metrics:        deps.Metrics,
		maxAvatarBytes: deps.MaxAvatarBytes,
	}
	if s.logger == nil {
		s.logger = logging.NewLogger(false)
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.maxAvatarBytes <= 0 {
		s.maxAvatarBytes = DefaultMaxAvatarBytes
	}

	dummy, err := s.hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	s.dummyHash = dummy

	return s, nil
}

// Register validates the input, creates the user and issues a token pair.
func (s *Service) Register(ctx context.Context, in RegisterInput, avatar *AvatarUpload) (*AuthResult, error) {
	u, err := s.createUser(ctx, in, avatar, true)
	if err != nil {
		s.metrics.ObserveRegistration(registrationOutcome(err))
		return nil, err
	}

	tokens, err := s.issuer.Issue(ctx, u.ID)
	if err != nil {
		s.metrics.ObserveRegistration(OutcomeError)
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}

	s.metrics.ObserveRegistration(OutcomeSuccess)
	return &AuthResult{User: u, Tokens: tokens, Message: messageRegistered}, nil
}

// CreateUser runs the registration rules without issuing tokens. The account
// is written with the given active flag in the same insert.
func (s *Service) CreateUser(ctx context.Context, in RegisterInput, active bool) (*user.User, error) {
	return s.createUser(ctx, in, nil, active)
}

func (s *Service) createUser(ctx context.Context, in RegisterInput, avatar *AvatarUpload, active bool) (*user.User, error) {
	if err := ValidateRegistration(&in); err != nil {
		return nil, err
	}

	if in.Avatar != nil && *in.Avatar == "" {
		in.Avatar = nil
	}
	if avatar == nil && in.Avatar != nil && !validAvatarReference(*in.Avatar) {
		return nil, NewValidationError("avatar", httputil.CodeInvalid, "Enter a valid avatar reference.")
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	userID := uuid.New()

	avatarKey := in.Avatar
	uploaded := false
	if avatar != nil {
		key, err := s.storeAvatar(ctx, userID, avatar)
		if err != nil {
			return nil, err
		}
		avatarKey = &key
		uploaded = true
	}

	newUser, err := s.users.Create(ctx, user.NewUser{
		ID:           userID,
		Email:        in.Email,
		Username:     in.Username,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: passwordHash,
		Avatar:       avatarKey,
		Bio:          in.Bio,
		IsActive:     active,
	})
	if err != nil {
		if uploaded {
			s.discardAvatar(*avatarKey)
		}
		switch {
		case errors.Is(err, user.ErrDuplicateEmail):
			return nil, NewValidationError("email", httputil.CodeUnique, "user with this email already exists.")
		case errors.Is(err, user.ErrDuplicateUsername):
			return nil, NewValidationError("username", httputil.CodeUnique, "A user with that username already exists.")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return newUser, nil
}

func (s *Service) storeAvatar(ctx context.Context, userID uuid.UUID, upload *AvatarUpload) (string, error) {
	if s.avatars == nil {
		return "", NewValidationError("avatar", httputil.CodeAvatarUploadsDisabled, "Avatar uploads are disabled.")
	}
	if upload.Size > s.maxAvatarBytes {
		return "", NewValidationError("avatar", httputil.CodeFileTooLarge,
			fmt.Sprintf("Avatar must be at most %d bytes.", s.maxAvatarBytes))
	}

	contentType, ext, body, err := sniffAvatar(upload.Content)
	if err != nil {
		return "", err
	}

	key, err := avatarKey(userID, ext)
	if err != nil {
		return "", err
	}

	if err := s.avatars.Put(ctx, key, contentType, body, upload.Size); err != nil {
		return "", fmt.Errorf("failed to upload avatar: %w", err)
	}
	return key, nil
}

// discardAvatar removes an avatar whose user insert failed. Best effort.
func (s *Service) discardAvatar(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.avatars.Delete(ctx, key); err != nil {
		s.logger.WithError(err).Warn("failed to delete orphaned avatar", "key", key)
	}
}

// Login authenticates a user and returns tokens
func (s *Service) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	if err := ValidateLogin(&in); err != nil {
		s.metrics.ObserveLogin(OutcomeInvalid)
		return nil, err
	}

	existingUser, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			s.hasher.Verify(s.dummyHash, in.Password)
			s.metrics.ObserveLogin(OutcomeInvalidCredentials)
			return nil, invalidCredentials()
		}
		s.metrics.ObserveLogin(OutcomeError)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if !s.hasher.Verify(existingUser.PasswordHash, in.Password) {
		s.metrics.ObserveLogin(OutcomeInvalidCredentials)
		return nil, invalidCredentials()
	}

	if !existingUser.IsActive {
		s.metrics.ObserveLogin(OutcomeInactive)
		return nil, NewValidationError(FieldDetail, httputil.CodeInactiveAccount, "User account is disabled.")
	}

	now := time.Now().UTC()
	if err := s.users.UpdateLastLogin(ctx, existingUser.ID, now); err != nil {
		s.metrics.ObserveLogin(OutcomeError)
		return nil, fmt.Errorf("failed to update last login: %w", err)
	}
	existingUser.LastLogin = &now

	tokens, err := s.issuer.Issue(ctx, existingUser.ID)
	if err != nil {
		s.metrics.ObserveLogin(OutcomeError)
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}

	s.metrics.ObserveLogin(OutcomeSuccess)
	return &AuthResult{User: existingUser, Tokens: tokens, Message: messageLoggedIn}, nil
}

func invalidCredentials() *ValidationError {
	return NewValidationError(FieldUser, httputil.CodeInvalidCredentials, "Invalid credentials.")
}

// Refresh rotates a refresh token into a new pair.
func (s *Service) Refresh(ctx context.Context, refresh string) (*TokenPair, error) {
	pair, userID, err := s.issuer.Rotate(ctx, refresh)
	if err != nil {
		if IsTokenError(err) {
			s.metrics.ObserveRefresh(OutcomeTokenNotValid)
			if errors.Is(err, ErrRefreshTokenRevoked) {
				s.logger.Warn("blacklisted refresh token presented", "user_id", userID)
			}
			return nil, err
		}
		s.metrics.ObserveRefresh(OutcomeError)
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	s.metrics.ObserveRefresh(OutcomeSuccess)
	return pair, nil
}

// Logout blacklists a refresh token.
func (s *Service) Logout(ctx context.Context, refresh string) error {
	return s.issuer.Revoke(ctx, refresh)
}

// VerifyToken checks any token the service issued.
func (s *Service) VerifyToken(ctx context.Context, token string) error {
	_, err := s.issuer.Verify(ctx, token)
	return err
}

// CurrentUser loads the user an access token was issued to. A deactivated
// account fails with ErrInactiveUser even while its access token is unexpired.
func (s *Service) CurrentUser(ctx context.Context, userID uuid.UUID) (*user.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrInactiveUser
	}
	return u, nil
}

// AvatarURL resolves a stored avatar key to a URL. Without a store the key
// itself is returned.
func (s *Service) AvatarURL(key string) string {
	if s.avatars == nil {
		return key
	}
	return s.avatars.URL(key)
}

func registrationOutcome(err error) string {
	if v, ok := AsValidationError(err); ok {
		if v.HasCode(httputil.CodeUnique) {
			return OutcomeDuplicate
		}
		return OutcomeInvalid
	}
	return OutcomeError
}

type noopMetrics struct{}

func (noopMetrics) ObserveRegistration(string) {}
func (noopMetrics) ObserveLogin(string)        {}
func (noopMetrics) ObserveRefresh(string)      {}
