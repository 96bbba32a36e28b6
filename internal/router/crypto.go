package router

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip44"

	"github.com/sandwichfarm/nobo/internal/identity"
)

// Encryptor encrypts and decrypts direct message payloads for one scheme
type Encryptor interface {
	Encrypt(peerPubkey, plaintext string) (string, error)
	Decrypt(peerPubkey, ciphertext string) (string, error)
}

// Capability is an encryption scheme that is either available or not.
// Availability is decided once at construction; handlers check Supported
// instead of probing at dispatch time.
type Capability struct {
	Supported bool
	Impl      Encryptor
}

// Capabilities holds the resolved per-scheme capabilities
type Capabilities struct {
	NIP04 Capability
	NIP44 Capability
}

// ResolveCapabilities determines which encryption schemes the identity can
// serve. A listen-only identity supports none.
func ResolveCapabilities(id *identity.Identity) Capabilities {
	if !id.CanSign() {
		return Capabilities{}
	}
	return Capabilities{
		NIP04: Capability{Supported: true, Impl: &nip04Encryptor{id: id}},
		NIP44: Capability{Supported: true, Impl: &nip44Encryptor{id: id}},
	}
}

type nip04Encryptor struct {
	id *identity.Identity
}

func (e *nip04Encryptor) Encrypt(peerPubkey, plaintext string) (string, error) {
	shared, err := nip04.ComputeSharedSecret(peerPubkey, e.id.SecretKey())
	if err != nil {
		return "", fmt.Errorf("nip04 shared secret: %w", err)
	}
	out, err := nip04.Encrypt(plaintext, shared)
	if err != nil {
		return "", fmt.Errorf("nip04 encrypt: %w", err)
	}
	return out, nil
}

func (e *nip04Encryptor) Decrypt(peerPubkey, ciphertext string) (string, error) {
	shared, err := nip04.ComputeSharedSecret(peerPubkey, e.id.SecretKey())
	if err != nil {
		return "", fmt.Errorf("nip04 shared secret: %w", err)
	}
	out, err := nip04.Decrypt(ciphertext, shared)
	if err != nil {
		return "", fmt.Errorf("nip04 decrypt: %w", err)
	}
	return out, nil
}

type nip44Encryptor struct {
	id *identity.Identity
}

func (e *nip44Encryptor) Encrypt(peerPubkey, plaintext string) (string, error) {
	key, err := nip44.GenerateConversationKey(peerPubkey, e.id.SecretKey())
	if err != nil {
		return "", fmt.Errorf("nip44 conversation key: %w", err)
	}
	out, err := nip44.Encrypt(plaintext, key)
	if err != nil {
		return "", fmt.Errorf("nip44 encrypt: %w", err)
	}
	return out, nil
}

func (e *nip44Encryptor) Decrypt(peerPubkey, ciphertext string) (string, error) {
	key, err := nip44.GenerateConversationKey(peerPubkey, e.id.SecretKey())
	if err != nil {
		return "", fmt.Errorf("nip44 conversation key: %w", err)
	}
	out, err := nip44.Decrypt(ciphertext, key)
	if err != nil {
		return "", fmt.Errorf("nip44 decrypt: %w", err)
	}
	return out, nil
}
