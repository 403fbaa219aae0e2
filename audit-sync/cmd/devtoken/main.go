// Command devtoken mints bearer tokens for local testing of the audit sync
// API. With --secret it signs HS256; otherwise it generates an RSA key pair,
// writes the public half for AUDIT_SYNC_JWT_PUBLIC_KEY_FILE and signs RS256.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
)

type options struct {
	issuer   string
	subject  int64
	roles    []string
	ttl      time.Duration
	secret   string
	pubOut   string
	tokenOut string
	keyBits  int
}

func main() {
	opts := options{}
	cmd := &cobra.Command{
		Use:          "devtoken",
		Short:        "Mint a development bearer token",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := mint(opts)
			if err != nil {
				return err
			}
			if opts.tokenOut == "" {
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			}
			if err := writeFile(opts.tokenOut, []byte(token+"\n"), 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote token -> %s\n", opts.tokenOut)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.issuer, "issuer", "", "token issuer (iss); must match AUDIT_SYNC_JWT_ISSUER when that is set")
	f.Int64Var(&opts.subject, "sub", 1, "numeric user id")
	f.StringSliceVar(&opts.roles, "role", []string{models.RoleFieldAuditor}, "role to grant (repeatable)")
	f.DurationVar(&opts.ttl, "ttl", time.Hour, "token lifetime")
	f.StringVar(&opts.secret, "secret", "", "sign HS256 with this shared secret instead of a fresh RSA key")
	f.StringVar(&opts.pubOut, "public-key-out", "data/dev/jwt_public.pem", "where to write the RSA public key")
	f.StringVar(&opts.tokenOut, "token-out", "", "write the token to this file instead of stdout")
	f.IntVar(&opts.keyBits, "key-bits", 2048, "RSA key size")

	if err := cmd.Execute(); err != nil {
		os.Exit(2)
	}
}

func mint(opts options) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   strconv.FormatInt(opts.subject, 10),
		"roles": opts.roles,
		"iat":   now.Unix(),
		"exp":   now.Add(opts.ttl).Unix(),
	}
	if opts.issuer != "" {
		claims["iss"] = opts.issuer
	}

	if opts.secret != "" {
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(opts.secret))
	}

	priv, err := rsa.GenerateKey(rand.Reader, opts.keyBits)
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	pubASN1, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	if err := writeFile(opts.pubOut, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubASN1}), 0o644); err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID(pubASN1)
	return token.SignedString(priv)
}

// keyID derives a short stable id from the DER public key.
func keyID(der []byte) string {
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}

func writeFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
