package identity

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

func generateNsec(t *testing.T) (nsec, npub string) {
	t.Helper()
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		t.Fatalf("pubkey: %v", err)
	}
	nsec, err = nip19.EncodePrivateKey(sk)
	if err != nil {
		t.Fatalf("nsec: %v", err)
	}
	npub, err = nip19.EncodePublicKey(pk)
	if err != nil {
		t.Fatalf("npub: %v", err)
	}
	return nsec, npub
}

func TestFromEnvironmentWithKey(t *testing.T) {
	nsec, npub := generateNsec(t)
	t.Setenv("NOBO_NSEC", nsec)

	id, err := FromEnvironment("")
	if err != nil {
		t.Fatalf("FromEnvironment: %v", err)
	}
	if !id.CanSign() {
		t.Error("identity with a key should sign")
	}
	if id.Npub != npub {
		t.Errorf("derived npub = %s, want %s", id.Npub, npub)
	}

	evt := &nostr.Event{Kind: 1, CreatedAt: nostr.Now(), Tags: nostr.Tags{}, Content: "hello"}
	if err := id.Sign(evt); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if ok, err := evt.CheckSignature(); err != nil || !ok {
		t.Errorf("signature invalid: ok=%v err=%v", ok, err)
	}
	if evt.PubKey != id.PublicKey {
		t.Error("signed event should carry the identity's pubkey")
	}
}

func TestFromEnvironmentListenOnly(t *testing.T) {
	t.Setenv("NOBO_NSEC", "")
	_, npub := generateNsec(t)

	id, err := FromEnvironment(npub)
	if err != nil {
		t.Fatalf("FromEnvironment: %v", err)
	}
	if id.CanSign() {
		t.Error("identity without a key must be listen-only")
	}
	if id.Npub != npub {
		t.Errorf("npub = %s, want config value %s", id.Npub, npub)
	}
	if err := id.Sign(&nostr.Event{}); err == nil {
		t.Error("signing without a key must fail")
	}
}

func TestFromEnvironmentNpubMismatch(t *testing.T) {
	nsec, _ := generateNsec(t)
	_, otherNpub := generateNsec(t)
	t.Setenv("NOBO_NSEC", nsec)

	if _, err := FromEnvironment(otherNpub); err == nil {
		t.Error("mismatched configured npub must be rejected")
	}
}

func TestFromEnvironmentInvalidNsec(t *testing.T) {
	t.Setenv("NOBO_NSEC", "npub1thisisnotansec")
	if _, err := FromEnvironment(""); err == nil {
		t.Error("a non-nsec value must be rejected")
	}
}
