package msgstore

import (
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_LocalDefault(t *testing.T) {
	dir := t.TempDir()
	logger := zerolog.New(os.Stderr)

	store, err := New(Config{Type: "", Path: dir}, logger)
	if err != nil {
		t.Fatalf("New with empty type: %v", err)
	}
	if _, ok := store.(*LocalFileStore); !ok {
		t.Errorf("New with empty type: got %T, want *LocalFileStore", store)
	}
}

func TestNew_Memory(t *testing.T) {
	store, err := New(Config{Type: "memory"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New with type=memory: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Errorf("New with type=memory: got %T, want *MemoryStore", store)
	}
}

func TestNew_UnsupportedType(t *testing.T) {
	dir := t.TempDir()

	store, err := New(Config{Type: "gcs", Path: dir}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New with type=gcs: %v", err)
	}
	if _, ok := store.(*LocalFileStore); !ok {
		t.Errorf("New with type=gcs: got %T, want *LocalFileStore", store)
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"batch/uid", false},
		{"single", false},
		{"", true},
		{"/abs", true},
		{"batch/../escape", true},
		{"batch//uid", true},
		{"batch\\uid", true},
		{"./uid", true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := validateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateKey(%q) err = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("validateKey(%q) err = %v, want ErrInvalidKey", tt.key, err)
			}
		})
	}
}
