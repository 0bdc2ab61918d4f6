package vault

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func testVault(t *testing.T) *Vault {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	v, err := New(key)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestRoundTrip(t *testing.T) {
	v := testVault(t)

	payloads := []Credentials{
		OAuth2Credentials{
			ClientID:     "client-1",
			ClientSecret: "s3cret",
			TokenURL:     "https://id.federation.example/token",
			Scope:        "members:read",
			AccessToken:  "at-123",
			RefreshToken: "rt-456",
			TokenType:    "Bearer",
			ExpiresAt:    1700000000000,
		},
		APIKeyCredentials{Key: "key-value", Header: "X-Federation-Key"},
		BasicCredentials{Username: "club-admin", Password: "hunter2"},
	}

	for _, payload := range payloads {
		t.Run(string(payload.AuthType()), func(t *testing.T) {
			blob, err := v.Encrypt(payload)
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}

			got, err := v.Decrypt(blob)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if !reflect.DeepEqual(got, payload) {
				t.Fatalf("round trip mismatch: got %#v", got.AuthType())
			}
		})
	}
}

func TestFreshNoncePerEncryption(t *testing.T) {
	v := testVault(t)
	creds := APIKeyCredentials{Key: "same"}

	first, err := v.Encrypt(creds)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	second, err := v.Encrypt(creds)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Fatal("two encryptions of the same payload produced identical blobs")
	}
}

func TestTamperDetection(t *testing.T) {
	v := testVault(t)

	blob, err := v.Encrypt(BasicCredentials{Username: "user", Password: "pass"})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	for i := range blob {
		tampered := make([]byte, len(blob))
		copy(tampered, blob)
		tampered[i] ^= 0x01

		if _, err := v.Decrypt(tampered); !errors.Is(err, ErrDecrypt) {
			t.Fatalf("byte %d: tampered blob decrypted, err = %v", i, err)
		}
	}
}

func TestWrongKeyFailsClosed(t *testing.T) {
	blob, err := testVault(t).Encrypt(APIKeyCredentials{Key: "value"})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := testVault(t).Decrypt(blob); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("wrong key: err = %v, want ErrDecrypt", err)
	}
}

func TestTruncatedBlobFailsClosed(t *testing.T) {
	v := testVault(t)
	if _, err := v.Decrypt([]byte{0x01, 0x02}); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("short blob: err = %v, want ErrDecrypt", err)
	}
}

func TestKeyLengthValidation(t *testing.T) {
	if _, err := New(make([]byte, 16)); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("16-byte key: err = %v, want ErrInvalidKey", err)
	}
	if _, err := NewFromHex("abcd"); err == nil {
		t.Fatal("short hex key accepted")
	}
}

func TestFormattingNeverExposesSecrets(t *testing.T) {
	creds := []Credentials{
		OAuth2Credentials{ClientSecret: "top-secret", AccessToken: "at-999"},
		APIKeyCredentials{Key: "top-secret"},
		BasicCredentials{Username: "u", Password: "top-secret"},
	}

	for _, c := range creds {
		for _, formatted := range []string{
			fmt.Sprintf("%v", c),
			fmt.Sprintf("%+v", c),
			fmt.Sprintf("%#v", c),
			fmt.Sprintf("%s", c),
		} {
			if strings.Contains(formatted, "top-secret") || strings.Contains(formatted, "at-999") {
				t.Fatalf("%s formatting leaked secret: %q", c.AuthType(), formatted)
			}
		}
	}
}
