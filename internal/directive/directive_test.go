package directive

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		line string
		want Directive
		ok   bool
	}{
		{"forward / 1.1.1.1:3129", Directive{Pattern: "/", Target: "1.1.1.1:3129"}, true},
		{"  forward   /   1.1.1.1:3129  ", Directive{Pattern: "/", Target: "1.1.1.1:3129"}, true},
		{"#forward / 10.0.0.5:8080", Directive{Pattern: "/", Target: "10.0.0.5:8080", Disabled: true}, true},
		{"forward .example.com .", Directive{Pattern: ".example.com", Target: "."}, true},
		{"#      forward   /   parent-proxy.example.org:8080", Directive{}, false},
		{"forward-socks5 / 127.0.0.1:9050 .", Directive{}, false},
		{"forward /", Directive{}, false},
		{"listen-address 127.0.0.1:8118", Directive{}, false},
		{"", Directive{}, false},
	}
	for _, tt := range tests {
		got, ok := Parse(tt.line)
		if ok != tt.ok {
			t.Errorf("Parse(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, line := range []string{
		"forward / 1.1.1.1:3129",
		"#forward / 10.0.0.5:8080",
		"forward :443 .",
	} {
		d, ok := Parse(line)
		if !ok {
			t.Fatalf("Parse(%q) failed", line)
		}
		if d.String() != line {
			t.Errorf("String() = %q, want %q", d.String(), line)
		}
	}
}

func TestDisableIsIdempotent(t *testing.T) {
	d := Directive{Pattern: "/", Target: "10.0.0.5:8080"}
	once := d.Disable()
	twice := once.Disable()
	if twice.String() != "#forward / 10.0.0.5:8080" {
		t.Errorf("double disable rendered %q", twice.String())
	}
	if once.Enable() != d {
		t.Errorf("Enable() = %+v, want %+v", once.Enable(), d)
	}
}

func TestFromValue(t *testing.T) {
	tests := []struct {
		value   string
		want    string
		wantErr error
	}{
		{"10.0.0.5:8080", "forward / 10.0.0.5:8080", nil},
		{" parent.example.org:3128 ", "forward / parent.example.org:3128", nil},
		{"[::1]:3128", "forward / [::1]:3128", nil},
		{"forward / 1.1.1.1:3129", "forward / 1.1.1.1:3129", nil},
		{"forward .internal.example .", "forward .internal.example .", nil},
		{"", "", ErrEmpty},
		{"   ", "", ErrEmpty},
		{"10.0.0.5", "", ErrInvalid},
		{"10.0.0.5:0", "", ErrInvalid},
		{"10.0.0.5:99999", "", ErrInvalid},
		{":8080", "", ErrInvalid},
		{"forward to 10.0.0.5:8080 now", "", ErrInvalid},
	}
	for _, tt := range tests {
		got, err := FromValue(tt.value)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("FromValue(%q) error = %v, want %v", tt.value, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("FromValue(%q): %v", tt.value, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("FromValue(%q) = %q, want %q", tt.value, got.String(), tt.want)
		}
	}
}

func TestFromValueFor(t *testing.T) {
	tests := []struct {
		value   string
		pattern string
		want    string
	}{
		{"10.0.0.5:8080", ".example.com", "forward .example.com 10.0.0.5:8080"},
		{"10.0.0.5:8080", "", "forward / 10.0.0.5:8080"},
		{"forward / 1.1.1.1:3129", ".example.com", "forward / 1.1.1.1:3129"},
	}
	for _, tt := range tests {
		got, err := FromValueFor(tt.value, tt.pattern)
		if err != nil {
			t.Errorf("FromValueFor(%q, %q): %v", tt.value, tt.pattern, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("FromValueFor(%q, %q) = %q, want %q", tt.value, tt.pattern, got.String(), tt.want)
		}
	}
	if _, err := FromValueFor("nope", "/"); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestDefault(t *testing.T) {
	if Default.String() != "forward / 1.1.1.1:3129" {
		t.Errorf("Default = %q", Default.String())
	}
	if Default.IsZero() {
		t.Error("Default should not be zero")
	}
	if !(Directive{}).IsZero() {
		t.Error("empty directive should be zero")
	}
}
