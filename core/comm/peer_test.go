package comm

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func TestKeypair_PeerID(t *testing.T) {
	k, err := GenerateKeypair()
	require.NoError(t, err)
	require.False(t, k.IsZero())

	sum := blake2b.Sum256(k.PublicKey())
	require.Equal(t, PeerID(hex.EncodeToString(sum[:])), k.PeerID())
	require.Len(t, k.PeerID().String(), 64)
	require.Len(t, k.PeerID().Short(), 12)
}

func TestKeypair_FromSeed(t *testing.T) {
	k, err := GenerateKeypair()
	require.NoError(t, err)

	again, err := KeypairFromHexSeed(hex.EncodeToString(k.Seed()))
	require.NoError(t, err)
	require.Equal(t, k.PeerID(), again.PeerID())

	_, err = KeypairFromSeed([]byte("short"))
	require.Error(t, err)

	_, err = KeypairFromHexSeed("zz")
	require.Error(t, err)
}

func TestHandshake_Verify(t *testing.T) {
	k, err := GenerateKeypair()
	require.NoError(t, err)
	other, err := GenerateKeypair()
	require.NoError(t, err)

	nonce, err := newNonce()
	require.NoError(t, err)

	h := handshake{PeerID: k.PeerID(), PublicKey: k.PublicKey(), Signature: signNonce(k, nonce)}
	p, err := h.verify(nonce)
	require.NoError(t, err)
	require.Equal(t, k.PeerID(), p)

	t.Run("wrong nonce", func(t *testing.T) {
		n2, err := newNonce()
		require.NoError(t, err)
		_, err = h.verify(n2)
		require.ErrorIs(t, err, ErrHandshake)
	})

	t.Run("claimed id of another key", func(t *testing.T) {
		forged := h
		forged.PeerID = other.PeerID()
		_, err := forged.verify(nonce)
		require.ErrorIs(t, err, ErrHandshake)
	})

	t.Run("bad key", func(t *testing.T) {
		forged := h
		forged.PublicKey = []byte("nope")
		_, err := forged.verify(nonce)
		require.ErrorIs(t, err, ErrHandshake)
	})
}
