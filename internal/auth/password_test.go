package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// newTestPasswordService uses bcrypt.MinCost so the suite stays fast.
// The cost only changes speed, not correctness.
func newTestPasswordService() *PasswordService {
	return NewPasswordServiceForTest(bcrypt.MinCost)
}

// =========================================================================
// HASH TESTS
// =========================================================================

func TestHash_OutputLooksBcrypt(t *testing.T) {
	ps := newTestPasswordService()

	hash, err := ps.Hash("hunter22")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$2a$") {
		t.Errorf("Hash() = %q, want a $2a$ bcrypt hash", hash)
	}
	if hash == "hunter22" {
		t.Error("Hash() returned the plaintext")
	}
}

func TestHash_SamePasswordProducesDifferentHashes(t *testing.T) {
	ps := newTestPasswordService()

	h1, _ := ps.Hash("same-password")
	h2, _ := ps.Hash("same-password")

	if h1 == h2 {
		t.Error("Hash() produced identical hashes; salt is not random")
	}
}

func TestHash_Length(t *testing.T) {
	ps := newTestPasswordService()

	tests := []struct {
		name    string
		length  int
		wantErr bool
	}{
		{"exactly 72 bytes", 72, false},
		{"73 bytes", 73, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ps.Hash(strings.Repeat("a", tt.length))
			if tt.wantErr && !errors.Is(err, ErrPasswordTooLong) {
				t.Errorf("Hash() error = %v, want ErrPasswordTooLong", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Hash() unexpected error = %v", err)
			}
		})
	}
}

func TestDefaultCost(t *testing.T) {
	ps := NewPasswordService()
	hash, err := ps.Hash("pw123456")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		t.Fatalf("bcrypt.Cost() error = %v", err)
	}
	if cost != defaultCost {
		t.Errorf("cost = %d, want %d", cost, defaultCost)
	}
}

// =========================================================================
// VERIFY TESTS
// =========================================================================

func TestVerify(t *testing.T) {
	ps := newTestPasswordService()
	hash, err := ps.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	tests := []struct {
		name      string
		hash      string
		password  string
		wantErr   bool
		wantMatch bool // error should be ErrPasswordMismatch
	}{
		{"correct password", hash, "correct-horse", false, false},
		{"wrong password", hash, "wrong-horse", true, true},
		{"empty password", hash, "", true, true},
		{"garbage hash", "not-a-bcrypt-hash", "correct-horse", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ps.Verify(tt.hash, tt.password)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Verify() error = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrPasswordMismatch) != tt.wantMatch {
				t.Errorf("errors.Is(err, ErrPasswordMismatch) = %v, want %v", !tt.wantMatch, tt.wantMatch)
			}
		})
	}
}
