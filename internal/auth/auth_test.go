package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestIssueAndParse(t *testing.T) {
	issuer := NewIssuer("secret", 15*time.Minute)
	userID := primitive.NewObjectID()

	raw, issued, err := issuer.Issue(userID, "a@b.c", "customer")
	require.NoError(t, err)
	require.NotEmpty(t, issued.ID)

	claims, err := issuer.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "customer", claims.Role)
	assert.Equal(t, "a@b.c", claims.Email)
	assert.Equal(t, issued.ID, claims.ID)

	got, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, userID, got)
	assert.InDelta(t, (15 * time.Minute).Seconds(), claims.Remaining(time.Now()).Seconds(), 5)
}

func TestParseRejectsExpired(t *testing.T) {
	issuer := NewIssuer("secret", time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	raw, _, err := issuer.Issue(primitive.NewObjectID(), "a@b.c", "customer")
	require.NoError(t, err)

	issuer.now = time.Now
	_, err = issuer.Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	raw, _, err := NewIssuer("one", time.Minute).Issue(primitive.NewObjectID(), "a@b.c", "admin")
	require.NoError(t, err)

	_, err = NewIssuer("two", time.Minute).Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsBadSubject(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "not-an-id",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewIssuer("secret", time.Minute).Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestOpaqueTokenAndHash(t *testing.T) {
	a, err := NewOpaqueToken()
	require.NoError(t, err)
	b, err := NewOpaqueToken()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, HashToken(a), HashToken(a))
	assert.NotEqual(t, a, HashToken(a))
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "wrong"))
}
