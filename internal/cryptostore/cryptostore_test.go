package cryptostore

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	store, err := New([]byte("a root secret with enough entropy"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plaintexts := []string{"", "short", "sk_live_abcdef0123456789", "unicode-✓-value"}
	for _, p := range plaintexts {
		ciphertext, err := store.Encrypt(p)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", p, err)
		}
		if !IsCiphertext(ciphertext) {
			t.Errorf("IsCiphertext(%q) = false, want true", ciphertext)
		}
		got, err := store.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("Decrypt(%q): %v", ciphertext, err)
		}
		if got != p {
			t.Errorf("round trip got %q, want %q", got, p)
		}
	}
}

func TestIsCiphertextRejectsPlaintext(t *testing.T) {
	cases := []string{"", "plain-stream-key", "not:enough:segments:here", "abc:def:ghi"}
	for _, c := range cases {
		if IsCiphertext(c) {
			t.Errorf("IsCiphertext(%q) = true, want false", c)
		}
	}
}

func TestEncryptProducesDistinctIVs(t *testing.T) {
	store, err := New([]byte("root-secret"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, _ := store.Encrypt("same-plaintext")
	b, _ := store.Encrypt("same-plaintext")
	if a == b {
		t.Error("expected distinct ciphertexts for repeated encryption of the same plaintext")
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	store, err := New([]byte("root-secret"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ciphertext, _ := store.Encrypt("secret-value")
	replacement := "0"
	if ciphertext[len(ciphertext)-1] == '0' {
		replacement = "1"
	}
	tampered := ciphertext[:len(ciphertext)-1] + replacement
	if _, err := store.Decrypt(tampered); err == nil {
		t.Error("expected decrypt of tampered ciphertext to fail")
	}
}
