package hash_test

import (
	"testing"

	"cdef-ta-go/pkg/hash"
)

func TestHashAndCheckPassword(t *testing.T) {
	hashed, err := hash.HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hashed == "s3cret-pass" {
		t.Fatal("hash must not equal the plaintext")
	}

	if !hash.CheckPasswordHash("s3cret-pass", hashed) {
		t.Fatal("correct password should verify")
	}
	if hash.CheckPasswordHash("wrong-pass", hashed) {
		t.Fatal("wrong password must not verify")
	}
}
