package comm

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// PeerID identifies a node: hex(BLAKE2b-256(public key)).
type PeerID string

func (p PeerID) String() string { return string(p) }

// Short is the first 12 characters, for logs.
func (p PeerID) Short() string {
	if len(p) <= 12 {
		return string(p)
	}
	return string(p[:12])
}

// PeerIDFromPublicKey derives the peer id of pub.
func PeerIDFromPublicKey(pub ed25519.PublicKey) PeerID {
	sum := blake2b.Sum256(pub)
	return PeerID(hex.EncodeToString(sum[:]))
}

// Keypair is the node identity.
type Keypair struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// GenerateKeypair creates a fresh random identity.
func GenerateKeypair() (Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("comm: generate keypair: %w", err)
	}
	return Keypair{pub: pub, priv: priv}, nil
}

// KeypairFromSeed restores an identity from its 32 byte seed.
func KeypairFromSeed(seed []byte) (Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return Keypair{}, fmt.Errorf("comm: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return Keypair{pub: priv.Public().(ed25519.PublicKey), priv: priv}, nil
}

// KeypairFromHexSeed is KeypairFromSeed for hex encoded seeds (config files).
func KeypairFromHexSeed(s string) (Keypair, error) {
	seed, err := hex.DecodeString(s)
	if err != nil {
		return Keypair{}, fmt.Errorf("comm: decode seed: %w", err)
	}
	return KeypairFromSeed(seed)
}

func (k Keypair) IsZero() bool                 { return len(k.priv) == 0 }
func (k Keypair) PublicKey() ed25519.PublicKey { return k.pub }
func (k Keypair) PeerID() PeerID               { return PeerIDFromPublicKey(k.pub) }
func (k Keypair) Seed() []byte                 { return k.priv.Seed() }
func (k Keypair) Sign(msg []byte) []byte       { return ed25519.Sign(k.priv, msg) }
