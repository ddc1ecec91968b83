package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestSignAndParseJWT(t *testing.T) {
	token, err := SignJWT("user-1", "secret", time.Hour)
	require.NoError(t, err)

	uid, err := ParseJWT(token, "secret")
	require.NoError(t, err)
	require.Equal(t, "user-1", uid)

	_, err = ParseJWT(token, "other-secret")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseJWT("not.a.token", "secret")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseJWT_Expired(t *testing.T) {
	token, err := SignJWT("user-1", "secret", -time.Minute)
	require.NoError(t, err)

	_, err = ParseJWT(token, "secret")
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestParseJWT_RejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", Issuer: issuer},
	})
	s, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ParseJWT(s, "secret")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	require.NotEqual(t, "correct horse", hash)

	require.NoError(t, CheckPassword(hash, "correct horse"))
	require.ErrorIs(t, CheckPassword(hash, "wrong horse"), ErrPasswordMismatch)
}
