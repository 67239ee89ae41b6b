package security

import (
	"strings"
	"testing"
	"time"
)

func TestSanitize(t *testing.T) {
	s := NewSanitizer()

	tests := []struct {
		name     string
		in       string
		contains []string
		absent   []string
	}{
		{name: "empty", in: ""},
		{
			name:     "script removed",
			in:       `<p>hello</p><script>alert(1)</script>`,
			contains: []string{"<p>hello</p>"},
			absent:   []string{"script", "alert"},
		},
		{
			name:     "event handler removed",
			in:       `<p onclick="x()">hi</p>`,
			contains: []string{"<p>hi</p>"},
			absent:   []string{"onclick"},
		},
		{
			name:     "link gets rel",
			in:       `<a href="https://example.com">x</a>`,
			contains: []string{`href="https://example.com"`, "noreferrer"},
		},
		{
			name:     "https image kept",
			in:       `<img src="https://example.com/a.png" alt="a">`,
			contains: []string{`src="https://example.com/a.png"`},
		},
		{
			name:   "http image source dropped",
			in:     `<img src="http://example.com/a.png" alt="a">`,
			absent: []string{"http://example.com/a.png"},
		},
		{
			name:     "http link kept",
			in:       `<a href="http://example.com">x</a>`,
			contains: []string{`href="http://example.com"`},
		},
		{
			name:   "javascript link dropped",
			in:     `<a href="javascript:alert(1)">x</a>`,
			absent: []string{"javascript"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Sanitize(tt.in)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, want it to contain %q", tt.in, got, want)
				}
			}
			for _, bad := range tt.absent {
				if strings.Contains(got, bad) {
					t.Errorf("Sanitize(%q) = %q, must not contain %q", tt.in, got, bad)
				}
			}
		})
	}
}

func TestNewClient(t *testing.T) {
	if c := NewClient(7*time.Second, true); c.Timeout != 7*time.Second {
		t.Errorf("NewClient(allowPrivate).Timeout = %v, want 7s", c.Timeout)
	}
	if c := NewClient(7*time.Second, false); c == nil {
		t.Fatal("NewClient returned nil")
	}
}
