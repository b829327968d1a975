package handlers

import "testing"

func TestUsernamePattern(t *testing.T) {
	valid := []string{"ana", "frederick-luna", "host42", "a-b"}
	for _, u := range valid {
		if !usernamePattern.MatchString(u) {
			t.Fatalf("username %q should be valid", u)
		}
	}

	invalid := []string{"ab", "-ana", "ana-", "Ana", "an a", "a.b", ""}
	for _, u := range invalid {
		if usernamePattern.MatchString(u) {
			t.Fatalf("username %q should be invalid", u)
		}
	}
}

func TestNewRefreshTokenUnique(t *testing.T) {
	a, err := newRefreshToken()
	if err != nil {
		t.Fatalf("newRefreshToken failed: %v", err)
	}
	b, err := newRefreshToken()
	if err != nil {
		t.Fatalf("newRefreshToken failed: %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("token length = %d, want 64 hex chars", len(a))
	}
	if a == b {
		t.Fatal("refresh tokens must be unique")
	}
}
