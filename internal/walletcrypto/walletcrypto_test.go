package walletcrypto

import (
	"bytes"
	"testing"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := NewBox(testKeyHex)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}

	viewingKey := []byte("a viewing key, thirty-two bytes")
	envelope, err := box.Seal(viewingKey)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	got, err := box.Open(envelope)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, viewingKey) {
		t.Errorf("round trip mismatch: got %q, want %q", got, viewingKey)
	}
}

func TestSealNeverRepeatsCiphertext(t *testing.T) {
	box, err := NewBox(testKeyHex)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}

	viewingKey := []byte("same key sealed twice in a row!")
	first, err := box.Seal(viewingKey)
	if err != nil {
		t.Fatalf("seal first: %v", err)
	}
	second, err := box.Seal(viewingKey)
	if err != nil {
		t.Fatalf("seal second: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Error("expected two seals of the same key to differ by nonce")
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	box, err := NewBox(testKeyHex)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	envelope, err := box.Seal([]byte("a viewing key, thirty-two bytes"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	other, err := NewBox("ffeeddccbbaa00112233445566778899ffeeddccbbaa00112233445566778899"[:64])
	if err != nil {
		t.Fatalf("new other box: %v", err)
	}
	if _, err := other.Open(envelope); err == nil {
		t.Error("expected open with the wrong key to fail")
	}
}

func TestNewBoxRejectsWrongKeySize(t *testing.T) {
	if _, err := NewBox("aabb"); err == nil {
		t.Error("expected a short key to be rejected")
	}
}
