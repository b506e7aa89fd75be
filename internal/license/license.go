package license

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Checker is the external license collaborator: it decides whether the
// current license tier covers a feature. A false answer makes the engine deny
// with the license-restriction reason.
type Checker interface {
	IsTierSufficient(ctx context.Context, feature string) (bool, error)
}

// Static is a fixed-plan checker for development and tests.
type Static struct {
	Plan     string
	Features map[string]bool
}

// NewStatic creates a checker that grants exactly the listed features, or
// everything when plan is "enterprise".
func NewStatic(plan string, features ...string) *Static {
	set := make(map[string]bool, len(features))
	for _, f := range features {
		set[f] = true
	}
	return &Static{Plan: plan, Features: set}
}

func (s *Static) IsTierSufficient(_ context.Context, feature string) (bool, error) {
	if s.Plan == "enterprise" {
		return true, nil
	}
	return s.Features[feature], nil
}

// Claims defines the custom claims in a license token.
type Claims struct {
	jwt.RegisteredClaims
	Features []string `json:"features,omitempty"`
	Plan     string   `json:"plan,omitempty"` // e.g., "enterprise", "starter"
}

// License is a parsed and verified license.
type License struct {
	CustomerName string
	ExpiresAt    time.Time
	Features     []string
	Plan         string
}

// Manager verifies RSA-signed license tokens and answers tier checks against
// the verified license.
type Manager struct {
	publicKey *rsa.PublicKey
	license   *License
	features  map[string]bool
}

// NewManager creates a license manager with the given public key (PEM format).
func NewManager(publicKeyPEM []byte) (*Manager, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, errors.New("failed to parse public key PEM")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}

	return &Manager{publicKey: rsaPub}, nil
}

// Load parses and verifies a license key (JWT) and installs it as the active
// license for subsequent tier checks.
func (m *Manager) Load(tokenString string) (*License, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid license: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid license claims")
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(time.Now()) {
		return nil, errors.New("license expired")
	}

	lic := &License{
		CustomerName: claims.Subject,
		Features:     claims.Features,
		Plan:         claims.Plan,
	}
	if claims.ExpiresAt != nil {
		lic.ExpiresAt = claims.ExpiresAt.Time
	}

	features := make(map[string]bool, len(lic.Features))
	for _, f := range lic.Features {
		features[f] = true
	}
	m.license = lic
	m.features = features
	return lic, nil
}

// IsTierSufficient reports whether the loaded license covers the feature.
// An expired or absent license covers nothing.
func (m *Manager) IsTierSufficient(_ context.Context, feature string) (bool, error) {
	if m.license == nil {
		return false, nil
	}
	if !m.license.ExpiresAt.IsZero() && m.license.ExpiresAt.Before(time.Now()) {
		return false, nil
	}
	if m.license.Plan == "enterprise" {
		return true, nil
	}
	return m.features[feature], nil
}
