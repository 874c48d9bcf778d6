// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jason-s-yu/cluedo/internal/models"
)

// Payload is what a gamer token vouches for.
type Payload struct {
	GameID  uuid.UUID   `json:"gameId"`
	GamerID uuid.UUID   `json:"gamerId"`
	Roles   models.Role `json:"roles"`
}

type claims struct {
	Payload
	jwt.RegisteredClaims
}

// Service issues and verifies per-gamer tokens. Only the most recent token of a gamer is
// valid, so recreating a token revokes the previous one.
type Service struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	expire     time.Duration // 0 => tokens never expire

	mu     sync.RWMutex
	tokens map[uuid.UUID]string
}

// NewService generates a fresh ed25519 key pair at runtime.
func NewService(expire time.Duration) (*Service, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return newService(priv, pub, expire), nil
}

// NewServiceFromPath reads ed25519 private/public keys from file.
func NewServiceFromPath(privatePath, publicPath string, expire time.Duration) (*Service, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("key files are not raw ed25519 keys")
	}
	return newService(ed25519.PrivateKey(privateKeyData), ed25519.PublicKey(publicKeyData), expire), nil
}

func newService(priv ed25519.PrivateKey, pub ed25519.PublicKey, expire time.Duration) *Service {
	return &Service{
		privateKey: priv,
		publicKey:  pub,
		expire:     expire,
		tokens:     make(map[uuid.UUID]string),
	}
}

// ParseExpireTime reads a TOKEN_EXPIRE_TIME value. "never", "0" and "" disable expiry.
func ParseExpireTime(value string) (time.Duration, error) {
	if value == "never" || value == "0" || value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token expire time: %w", err)
	}
	return d, nil
}

// CreateToken returns the gamer's current token, signing a new one when none exists or
// when recreate is set.
func (s *Service) CreateToken(gamerID uuid.UUID, payload Payload, recreate bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tok, ok := s.tokens[gamerID]; ok && !recreate {
		return tok, nil
	}

	payload.GamerID = gamerID
	c := claims{
		Payload: payload,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  gamerID.String(),
			IssuedAt: jwt.NewNumericDate(time.Now()),
			ID:       uuid.NewString(),
		},
	}
	if s.expire > 0 {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(s.expire))
	}

	tok, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, c).SignedString(s.privateKey)
	if err != nil {
		return "", err
	}
	s.tokens[gamerID] = tok
	return tok, nil
}

func (s *Service) parse(token string) (*claims, error) {
	var c claims
	t, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return &c, nil
}

// Checker reports whether token was signed by this service and has not expired.
func (s *Service) Checker(token string) bool {
	_, err := s.parse(token)
	return err == nil
}

// Validity reports whether token is the gamer's current token.
func (s *Service) Validity(gamerID uuid.UUID, token string) bool {
	s.mu.RLock()
	current, ok := s.tokens[gamerID]
	s.mu.RUnlock()
	if !ok || current != token {
		return false
	}
	return s.Checker(token)
}

// Decode returns the payload of the gamer's current token.
func (s *Service) Decode(gamerID uuid.UUID, token string) (*Payload, bool) {
	if !s.Validity(gamerID, token) {
		return nil, false
	}
	c, err := s.parse(token)
	if err != nil || c.GamerID != gamerID {
		return nil, false
	}
	return &c.Payload, true
}

// RemoveToken revokes the gamer's token.
func (s *Service) RemoveToken(gamerID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, gamerID)
}
