package auth

import (
	"fmt"
	"time"

	"aidanwoods.dev/go-paseto"
)

// PasetoService handles PASETO token creation and validation
// Uses v4.local (symmetric encryption with XChaCha20-Poly1305)
type PasetoService struct {
	symmetricKey paseto.V4SymmetricKey
}

func NewPasetoService(symmetricKey []byte) (*PasetoService, error) {
	if len(symmetricKey) != 32 {
		return nil, fmt.Errorf("symmetric key must be exactly 32 bytes, got %d", len(symmetricKey))
	}

	key, err := paseto.V4SymmetricKeyFromBytes(symmetricKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create symmetric key: %w", err)
	}

	return &PasetoService{
		symmetricKey: key,
	}, nil
}

// CreateToken generates a new PASETO v4.local token carrying claims
func (s *PasetoService) CreateToken(claims TokenClaims) (string, error) {
	token := paseto.NewToken()
	token.SetIssuedAt(claims.IssuedAt)
	token.SetNotBefore(claims.IssuedAt)
	token.SetExpiration(claims.ExpiresAt)
	token.SetJti(claims.JTI)
	token.SetString("user_id", claims.UserID)
	token.SetString("token_type", claims.TokenType)

	return token.V4Encrypt(s.symmetricKey, nil), nil
}

// VerifyToken decrypts a PASETO v4.local token and returns the claims.
// Expiry is checked here rather than by the parser so that an expired token
// is reported as ErrExpiredToken instead of ErrInvalidToken.
func (s *PasetoService) VerifyToken(tokenStr string) (*TokenClaims, error) {
	parser := paseto.NewParserWithoutExpiryCheck()

	token, err := parser.ParseV4Local(s.symmetricKey, tokenStr, nil)
	if err != nil {
		return nil, ErrInvalidToken
	}

	userID, err := token.GetString("user_id")
	if err != nil {
		return nil, ErrInvalidToken
	}

	tokenType, err := token.GetString("token_type")
	if err != nil {
		return nil, ErrInvalidToken
	}

	jti, err := token.GetJti()
	if err != nil {
		return nil, ErrInvalidToken
	}

	issuedAt, err := token.GetIssuedAt()
	if err != nil {
		return nil, ErrInvalidToken
	}

	expiresAt, err := token.GetExpiration()
	if err != nil {
		return nil, ErrInvalidToken
	}

	if !time.Now().Before(expiresAt) {
		return nil, ErrExpiredToken
	}

	return &TokenClaims{
		UserID:    userID,
		TokenType: tokenType,
		JTI:       jti,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}
