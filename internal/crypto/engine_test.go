package crypto

import (
	"strings"
	"testing"
)

func testKEK() []byte {
	kek := make([]byte, dekSize)
	for i := range kek {
		kek[i] = byte(i)
	}
	return kek
}

func TestService_EncryptDecryptRoundTrip(t *testing.T) {
	svc := NewService(testKEK())
	defer svc.Zero()

	meta := Metadata{PiiType: "EMAIL", PositionBegin: 10, PositionEnd: 32}
	token, err := svc.Encrypt("jane.doe@example.com", meta)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if !IsEncrypted(token) {
		t.Fatalf("Encrypt() produced token without ENC:v1 prefix: %s", token)
	}

	plaintext, err := svc.Decrypt(token, meta)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plaintext != "jane.doe@example.com" {
		t.Errorf("Decrypt() = %q, want %q", plaintext, "jane.doe@example.com")
	}
}

func TestService_EncryptIsNonDeterministic(t *testing.T) {
	svc := NewService(testKEK())
	defer svc.Zero()

	meta := Metadata{PiiType: "SSN", PositionBegin: 0, PositionEnd: 11}
	first, err := svc.Encrypt("123-45-6789", meta)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	second, err := svc.Encrypt("123-45-6789", meta)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if first == second {
		t.Error("Encrypt() produced identical tokens for the same plaintext on two calls")
	}
}

func TestService_DecryptRejectsTamperedMetadata(t *testing.T) {
	svc := NewService(testKEK())
	defer svc.Zero()

	meta := Metadata{PiiType: "PHONE", PositionBegin: 5, PositionEnd: 17}
	token, err := svc.Encrypt("+1-555-0100", meta)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	tampered := meta
	tampered.PiiType = "EMAIL"
	if _, err := svc.Decrypt(token, tampered); err == nil {
		t.Error("Decrypt() succeeded despite tampered AAD metadata")
	}
}

func TestService_DecryptRejectsTamperedCiphertext(t *testing.T) {
	svc := NewService(testKEK())
	defer svc.Zero()

	meta := Metadata{PiiType: "EMAIL", PositionBegin: 0, PositionEnd: 5}
	token, err := svc.Encrypt("hello", meta)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	parts := strings.Split(strings.TrimPrefix(token, tokenPrefix), ":")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %s", token)
	}
	// Flip the first character of the ciphertext segment.
	ct := []rune(parts[2])
	if ct[0] == 'A' {
		ct[0] = 'B'
	} else {
		ct[0] = 'A'
	}
	tamperedToken := tokenPrefix + parts[0] + ":" + parts[1] + ":" + string(ct)

	if _, err := svc.Decrypt(tamperedToken, meta); err == nil {
		t.Error("Decrypt() succeeded despite tampered ciphertext")
	}
}

func TestService_DecryptRejectsMalformedToken(t *testing.T) {
	svc := NewService(testKEK())
	defer svc.Zero()

	cases := []string{
		"",
		"plaintext value",
		"ENC:v1:",
		"ENC:v1:onlyonesegment",
		"ENC:v1:aa:bb",
	}
	for _, token := range cases {
		if _, err := svc.Decrypt(token, Metadata{}); err == nil {
			t.Errorf("Decrypt(%q) succeeded, want error", token)
		}
	}
}

func TestIsEncrypted(t *testing.T) {
	cases := map[string]bool{
		"":                   false,
		"jane@example.com":   false,
		"ENC:v1:":            false,
		"ENC:v1:a:b:c":       true,
	}
	for token, want := range cases {
		if got := IsEncrypted(token); got != want {
			t.Errorf("IsEncrypted(%q) = %v, want %v", token, got, want)
		}
	}
}

func TestNewService_PanicsOnWrongKeyLength(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewService() with short key did not panic")
		}
	}()
	NewService([]byte("too-short"))
}
