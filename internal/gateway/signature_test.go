package gateway

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strconv"
	"testing"
	"time"
)

func newTestVerifier(t *testing.T) (*Verifier, ed25519.PrivateKey, time.Time) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	v, err := NewVerifier(base64.StdEncoding.EncodeToString(pub), 5*time.Minute)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	now := time.Unix(1714557600, 0)
	v.now = func() time.Time { return now }
	return v, priv, now
}

func sign(priv ed25519.PrivateKey, ts string, body []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, SignedPayload(ts, body)))
}

func TestVerifier_Valid(t *testing.T) {
	v, priv, now := newTestVerifier(t)
	body := []byte(`{"data":{"event_type":"message.sent"}}`)
	ts := strconv.FormatInt(now.Unix(), 10)

	if err := v.Verify(sign(priv, ts, body), ts, body); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifier_TamperedBody(t *testing.T) {
	v, priv, now := newTestVerifier(t)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := sign(priv, ts, []byte(`{"a":1}`))

	if err := v.Verify(sig, ts, []byte(`{"a":2}`)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifier_StaleTimestamp(t *testing.T) {
	v, priv, now := newTestVerifier(t)
	body := []byte(`{}`)
	ts := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)

	if err := v.Verify(sign(priv, ts, body), ts, body); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("expected ErrStaleTimestamp, got %v", err)
	}
}

func TestVerifier_MissingHeaders(t *testing.T) {
	v, _, _ := newTestVerifier(t)
	if err := v.Verify("", "", []byte(`{}`)); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}
	if err := v.Verify("not-base64!", "1", []byte(`{}`)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestNewVerifier_BadKey(t *testing.T) {
	if _, err := NewVerifier("c2hvcnQ=", time.Minute); err == nil {
		t.Fatal("expected error for short key")
	}
	if _, err := NewVerifier("%%%", time.Minute); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

func TestAcceptAll(t *testing.T) {
	if err := (AcceptAll{}).Verify("", "", nil); err != nil {
		t.Fatalf("AcceptAll must accept everything, got %v", err)
	}
}
