package api

import (
	"testing"

	"github.com/midnight-ntwrk/midnight-indexer/internal/domain"
)

func TestHexEncodeDecode(t *testing.T) {
	raw := []byte{0xde, 0xad, 0xbe, 0xef}
	enc := hexEncode(raw)
	if enc != "deadbeef" {
		t.Fatalf("hexEncode = %q, want deadbeef", enc)
	}

	dec, err := hexDecode(enc)
	if err != nil {
		t.Fatalf("hexDecode: %v", err)
	}
	if string(dec) != string(raw) {
		t.Fatalf("hexDecode round trip = %v, want %v", dec, raw)
	}
}

func TestHexDecodeMalformed(t *testing.T) {
	if _, err := hexDecode("not-hex"); err == nil {
		t.Fatal("expected error for malformed hex input")
	}
}

func TestU64Str(t *testing.T) {
	if got := u64str(12345); got != "12345" {
		t.Fatalf("u64str(12345) = %q, want 12345", got)
	}
	if got := u64str(0); got != "0" {
		t.Fatalf("u64str(0) = %q, want 0", got)
	}
}

func TestAmountStr(t *testing.T) {
	if got := amountStr(nil); got != nil {
		t.Fatalf("amountStr(nil) = %v, want nil", got)
	}

	var a domain.Amount128
	a[len(a)-1] = 0xff
	got := amountStr(&a)
	if got == nil {
		t.Fatal("amountStr returned nil for non-nil amount")
	}
	want := "000000000000000000000000000000ff"
	if *got != want {
		t.Fatalf("amountStr = %q, want %q", *got, want)
	}
}
