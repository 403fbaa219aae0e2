package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftcheck/fieldaudit/audit-sync/internal/auth"
	"github.com/liftcheck/fieldaudit/audit-sync/internal/models"
)

func TestMintHMAC(t *testing.T) {
	token, err := mint(options{issuer: "liftcheck", subject: 9, roles: []string{models.RoleAdmin}, ttl: time.Minute, secret: "s3cret"})
	require.NoError(t, err)

	actor, err := auth.NewHMACVerifier([]byte("s3cret"), "liftcheck").Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(9), actor.ID)
	assert.True(t, actor.IsAdmin())
}

func TestMintRSAWritesVerifiableKey(t *testing.T) {
	pub := filepath.Join(t.TempDir(), "keys", "pub.pem")
	token, err := mint(options{subject: 4, roles: []string{models.RoleFieldAuditor}, ttl: time.Minute, pubOut: pub, keyBits: 2048})
	require.NoError(t, err)

	v, err := auth.LoadKeyVerifier(pub, "")
	require.NoError(t, err)
	actor, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(4), actor.ID)
	assert.Equal(t, []string{models.RoleFieldAuditor}, actor.Roles)
}
