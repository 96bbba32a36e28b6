package router

import (
	"testing"

	"github.com/sandwichfarm/nobo/internal/identity"
)

func TestResolveCapabilities(t *testing.T) {
	t.Run("signing identity supports both schemes", func(t *testing.T) {
		caps := ResolveCapabilities(testIdentity(t))
		if !caps.NIP04.Supported || caps.NIP04.Impl == nil {
			t.Error("nip04 should be supported")
		}
		if !caps.NIP44.Supported || caps.NIP44.Impl == nil {
			t.Error("nip44 should be supported")
		}
	})

	t.Run("listen-only identity supports none", func(t *testing.T) {
		caps := ResolveCapabilities(&identity.Identity{})
		if caps.NIP04.Supported || caps.NIP44.Supported {
			t.Error("listen-only identity must have no encryption capabilities")
		}
	})
}

func TestEncryptorsRoundTrip(t *testing.T) {
	alice := ResolveCapabilities(testIdentity(t))
	peer := newTestPeer(t)

	tests := []struct {
		name string
		enc  Encryptor
	}{
		{"nip04", alice.NIP04.Impl},
		{"nip44", alice.NIP44.Impl},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cipher, err := tt.enc.Encrypt(peer.pk, "a private message")
			if err != nil {
				t.Fatalf("encrypt: %v", err)
			}
			if cipher == "a private message" {
				t.Fatal("ciphertext should differ from plaintext")
			}
			plain, err := tt.enc.Decrypt(peer.pk, cipher)
			if err != nil {
				t.Fatalf("decrypt: %v", err)
			}
			if plain != "a private message" {
				t.Errorf("round trip = %q", plain)
			}
		})
	}
}
