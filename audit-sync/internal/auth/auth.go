// Package auth verifies bearer tokens and exposes the authenticated actor to
// handlers.
package auth

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
)

var ErrUnauthenticated = errors.New("authentication required")

// Claims is the token body issued to field clients. The subject is the
// numeric user id.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Verifier checks tokens against either a shared secret or a set of public
// keys. Keys are tried in order since PEM files carry no key ids.
type Verifier struct {
	keys    []interface{}
	methods []string
	issuer  string
}

func NewHMACVerifier(secret []byte, issuer string) *Verifier {
	return &Verifier{
		keys:    []interface{}{secret},
		methods: []string{jwt.SigningMethodHS256.Alg()},
		issuer:  issuer,
	}
}

// NewKeyVerifier accepts PEM encoded public keys or certificates.
func NewKeyVerifier(pemData []byte, issuer string) (*Verifier, error) {
	var keys []interface{}
	rest := pemData
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			cert, certErr := x509.ParseCertificate(block.Bytes)
			if certErr != nil {
				continue
			}
			key = cert.PublicKey
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, errors.New("no public keys found in PEM data")
	}
	return &Verifier{
		keys:    keys,
		methods: []string{jwt.SigningMethodRS256.Alg(), jwt.SigningMethodES256.Alg()},
		issuer:  issuer,
	}, nil
}

func LoadKeyVerifier(path, issuer string) (*Verifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public keys: %w", err)
	}
	return NewKeyVerifier(data, issuer)
}

// Verify parses token and returns the actor it was issued to.
func (v *Verifier) Verify(token string) (models.Actor, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods(v.methods), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var lastErr error
	for _, key := range v.keys {
		claims := &Claims{}
		_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		}, opts...)
		if err != nil {
			lastErr = err
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(claims.Subject), 10, 64)
		if err != nil || id <= 0 {
			return models.Actor{}, fmt.Errorf("%w: subject must be a user id", ErrUnauthenticated)
		}
		return models.Actor{ID: id, Roles: claims.Roles}, nil
	}
	return models.Actor{}, fmt.Errorf("%w: %v", ErrUnauthenticated, lastErr)
}
