package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known test key (hardhat account #0).
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestWalletAddress(t *testing.T) {
	w, err := NewWallet("0x" + testKey)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", w.Address().Hex())

	_, err = NewWallet("zz")
	assert.Error(t, err)
}

func TestEncryptedKeyRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKey, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "payout.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))
	w, err := LoadWallet(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.True(t, strings.EqualFold("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", w.Address().Hex()))

	_, err = LoadWallet(KeyConfig{})
	assert.ErrorIs(t, err, ErrNoKeySource)
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	_, err := EncryptKey(testKey, "")
	assert.Error(t, err)
	_, err = EncryptKey("abcd", "pw")
	assert.Error(t, err)
}

func TestCallerAuth(t *testing.T) {
	auth := &CallerAuth{Secret: []byte("s3cret"), MaxSkew: time.Minute}
	now := time.Unix(1_760_000_000, 0)
	h := auth.Headers("alice", "POST", "/api/bets/1/join", `{"side":"above"}`, now.Unix())

	require.NoError(t, auth.Verify("alice", h[HeaderCallerTimestamp], h[HeaderCallerSignature], "POST", "/api/bets/1/join", `{"side":"above"}`, now))

	t.Run("other caller", func(t *testing.T) {
		err := auth.Verify("mallory", h[HeaderCallerTimestamp], h[HeaderCallerSignature], "POST", "/api/bets/1/join", `{"side":"above"}`, now)
		assert.ErrorIs(t, err, ErrSignatureMismatch)
	})
	t.Run("tampered body", func(t *testing.T) {
		err := auth.Verify("alice", h[HeaderCallerTimestamp], h[HeaderCallerSignature], "POST", "/api/bets/1/join", `{"side":"below"}`, now)
		assert.ErrorIs(t, err, ErrSignatureMismatch)
	})
	t.Run("expired", func(t *testing.T) {
		err := auth.Verify("alice", h[HeaderCallerTimestamp], h[HeaderCallerSignature], "POST", "/api/bets/1/join", `{"side":"above"}`, now.Add(2*time.Minute))
		assert.ErrorIs(t, err, ErrSignatureExpired)
	})
	assert.NotContains(t, auth.String(), "s3cret")
}
