package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/memdb"
)

func newService() *AuthService {
	return NewAuthService(memdb.New(), "test-secret", time.Hour)
}

func TestRegisterLoginRoundtrip(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	user, err := svc.Register(ctx, "trader1", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "trader1", user.Username)
	assert.NotEqual(t, "hunter22", user.PasswordHash, "password must be hashed")

	token, err := svc.Login(ctx, "trader1", "hunter22")
	require.NoError(t, err)

	userID, err := svc.GetUserFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	_, err := svc.Register(ctx, "", "password")
	assert.Error(t, err)
	_, err = svc.Register(ctx, "trader1", "")
	assert.Error(t, err)
	_, err = svc.Register(ctx, strings.Repeat("a", 51), "password")
	assert.Error(t, err)
	_, err = svc.Register(ctx, "trader1", strings.Repeat("a", 101))
	assert.Error(t, err)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	_, err := svc.Register(ctx, "trader1", "hunter22")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "trader1", "wrong")
	assert.Error(t, err)
	_, err = svc.Login(ctx, "nobody", "hunter22")
	assert.Error(t, err)
}

func TestGetUserFromTokenRejectsForgedToken(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	_, err := svc.Register(ctx, "trader1", "hunter22")
	require.NoError(t, err)
	token, err := svc.Login(ctx, "trader1", "hunter22")
	require.NoError(t, err)

	other := NewAuthService(memdb.New(), "different-secret", time.Hour)
	_, err = other.GetUserFromToken(token)
	assert.Error(t, err, "token signed with another secret")

	_, err = svc.GetUserFromToken("not-a-token")
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	ctx := context.Background()
	svc := NewAuthService(memdb.New(), "test-secret", -time.Minute)
	_, err := svc.Register(ctx, "trader1", "hunter22")
	require.NoError(t, err)

	token, err := svc.Login(ctx, "trader1", "hunter22")
	require.NoError(t, err)
	_, err = svc.GetUserFromToken(token)
	assert.Error(t, err)
}
