package directive

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Keyword is the configuration keyword of a forwarding directive.
const Keyword = "forward"

// CommentMarker deactivates a directive line without removing it.
const CommentMarker = "#"

// DefaultPattern matches every URL.
const DefaultPattern = "/"

var (
	// ErrEmpty is returned when a desired value is blank.
	ErrEmpty = errors.New("directive: empty value")
	// ErrInvalid is returned when a desired value is neither host:port nor a directive line.
	ErrInvalid = errors.New("directive: invalid value")
)

// Directive is the proxy's forward target as written in its config file.
// A disabled directive keeps its pattern and target so it can be re-enabled.
type Directive struct {
	Pattern  string `json:"pattern" yaml:"pattern"`
	Target   string `json:"target" yaml:"target"`
	Disabled bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// Default is used when the config file carries no directive yet.
var Default = Directive{Pattern: DefaultPattern, Target: "1.1.1.1:3129"}

// String renders the directive as a config line, e.g. "forward / 10.0.0.5:8080"
// or "#forward / 10.0.0.5:8080".
func (d Directive) String() string {
	prefix := ""
	if d.Disabled {
		prefix = CommentMarker
	}
	return prefix + Keyword + " " + d.Pattern + " " + d.Target
}

// Disable returns the deactivated form. Disabling twice is a no-op.
func (d Directive) Disable() Directive {
	d.Disabled = true
	return d
}

// Enable returns the active form.
func (d Directive) Enable() Directive {
	d.Disabled = false
	return d
}

// IsZero reports whether d carries no target.
func (d Directive) IsZero() bool {
	return d.Target == ""
}

// Parse reads a config line. Only "forward <pattern> <target>" and its
// "#forward ..." form are directives; documentation comments such as
// "#   forward / parent:8080" are not.
func Parse(line string) (Directive, bool) {
	s := strings.TrimSpace(line)
	disabled := false
	if strings.HasPrefix(s, CommentMarker+Keyword) {
		disabled = true
		s = s[len(CommentMarker):]
	}

	fields := strings.Fields(s)
	if len(fields) != 3 || fields[0] != Keyword {
		return Directive{}, false
	}
	return Directive{Pattern: fields[1], Target: fields[2], Disabled: disabled}, true
}

// FromValue normalizes a desired forwarding value. A bare "host:port" becomes
// a directive for every URL; a full directive line is taken as written.
func FromValue(value string) (Directive, error) {
	return FromValueFor(value, DefaultPattern)
}

// FromValueFor is FromValue with the pattern a bare "host:port" is bound to.
// An empty pattern means DefaultPattern.
func FromValueFor(value, pattern string) (Directive, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return Directive{}, ErrEmpty
	}
	if d, ok := Parse(v); ok {
		return d, nil
	}
	if strings.ContainsAny(v, " \t") {
		return Directive{}, fmt.Errorf("%w: %q", ErrInvalid, value)
	}
	if err := validateHostPort(v); err != nil {
		return Directive{}, fmt.Errorf("%w: %q: %v", ErrInvalid, value, err)
	}
	if pattern == "" {
		pattern = DefaultPattern
	}
	return Directive{Pattern: pattern, Target: v}, nil
}

func validateHostPort(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "" {
		return errors.New("missing host")
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("port %q out of range", port)
	}
	return nil
}
