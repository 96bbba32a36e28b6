package identity

import (
	"fmt"
	"os"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Identity holds the agent's keypair. When no secret key is configured the
// identity is listen-only: signing returns an error and callers degrade
// instead of crashing.
type Identity struct {
	secretKey string
	PublicKey string
	Npub      string
}

// FromEnvironment builds the identity from the NOBO_NSEC environment
// variable. An npub from config, when present, must match the derived key.
func FromEnvironment(configNpub string) (*Identity, error) {
	nsec := os.Getenv("NOBO_NSEC")
	if nsec == "" {
		// Listen-only: resolve the public key from config if given.
		id := &Identity{}
		if configNpub != "" {
			prefix, value, err := nip19.Decode(configNpub)
			if err != nil || prefix != "npub" {
				return nil, fmt.Errorf("invalid npub %q: %w", configNpub, err)
			}
			id.PublicKey = value.(string)
			id.Npub = configNpub
		}
		return id, nil
	}

	prefix, value, err := nip19.Decode(nsec)
	if err != nil || prefix != "nsec" {
		return nil, fmt.Errorf("NOBO_NSEC is not a valid nsec: %w", err)
	}
	secretKey := value.(string)

	publicKey, err := nostr.GetPublicKey(secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	npub, err := nip19.EncodePublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encode npub: %w", err)
	}

	if configNpub != "" && configNpub != npub {
		return nil, fmt.Errorf("identity.npub does not match NOBO_NSEC (config %s, derived %s)", configNpub, npub)
	}

	return &Identity{
		secretKey: secretKey,
		PublicKey: publicKey,
		Npub:      npub,
	}, nil
}

// CanSign reports whether outbound events can be signed
func (id *Identity) CanSign() bool {
	return id.secretKey != ""
}

// Sign finalizes an event template in place: id, pubkey, signature
func (id *Identity) Sign(evt *nostr.Event) error {
	if id.secretKey == "" {
		return fmt.Errorf("cannot sign: no secret key configured (listen-only)")
	}
	if err := evt.Sign(id.secretKey); err != nil {
		return fmt.Errorf("failed to sign event: %w", err)
	}
	return nil
}

// SecretKey exposes the raw key for the encryption capabilities. Keep the
// surface small; nothing else should need it.
func (id *Identity) SecretKey() string {
	return id.secretKey
}
