package multipart

import (
	"strings"
	"testing"
)

func TestNewBoundary(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		b, err := NewBoundary()
		if err != nil {
			t.Fatalf("NewBoundary() error = %v", err)
		}
		if len(b) != 2*boundaryBytes {
			t.Errorf("len(boundary) = %d, want %d", len(b), 2*boundaryBytes)
		}
		if strings.Trim(b, "0123456789abcdef") != "" {
			t.Errorf("boundary %q contains non-hex characters", b)
		}
		if seen[b] {
			t.Fatalf("boundary %q repeated", b)
		}
		seen[b] = true
	}
}
