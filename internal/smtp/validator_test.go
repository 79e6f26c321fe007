package smtp

import "testing"

func TestValidateEmailAddress(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"user@example.com", false},
		{"User Name <user@example.com>", false},
		{"", true},
		{"no-at-sign", true},
		{"two@@example.com", true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			err := ValidateEmailAddress(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmailAddress(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
			}
		})
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"user@example.com", "example.com"},
		{"user@sub.example.org", "sub.example.org"},
		{"nodomain", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExtractDomain(tt.email); got != tt.want {
			t.Errorf("ExtractDomain(%q) = %q, want %q", tt.email, got, tt.want)
		}
	}
}

func TestIsValidDomain(t *testing.T) {
	tests := []struct {
		domain string
		want   bool
	}{
		{"example.com", true},
		{"mail.example.co.kr", true},
		{"localhost", false},
		{".example.com", false},
		{"example.com.", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsValidDomain(tt.domain); got != tt.want {
			t.Errorf("IsValidDomain(%q) = %v, want %v", tt.domain, got, tt.want)
		}
	}
}
