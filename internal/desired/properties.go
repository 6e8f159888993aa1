package desired

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/proxyvisor/internal/reconciler"
)

// ForwardKey is the desired property holding the forward target.
const ForwardKey = "Forward"

// Properties is one desired-properties document. Keys starting with "$"
// ($version, $metadata) are bookkeeping and ignored.
type Properties map[string]any

// Parse decodes a YAML or JSON document. An empty document is an empty
// mapping.
func Parse(data []byte) (Properties, error) {
	props := Properties{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return props, nil
	}
	if err := yaml.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("parse desired properties: %w", err)
	}
	if props == nil {
		props = Properties{}
	}
	for k := range props {
		if strings.HasPrefix(k, "$") {
			delete(props, k)
		}
	}
	return props, nil
}

// Load reads the document at path. A missing file is an empty mapping.
// The returned hash covers the raw bytes.
func Load(path string) (Properties, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Properties{}, hashBytes(nil), nil
		}
		return nil, "", fmt.Errorf("read desired properties: %w", err)
	}
	props, err := Parse(data)
	if err != nil {
		return nil, hashBytes(data), err
	}
	return props, hashBytes(data), nil
}

// Forward returns the desired forward value. A missing or null key is
// reported as absent.
func (p Properties) Forward() (string, bool) {
	v, ok := p[ForwardKey]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// Notification converts the document into a reconciler notification.
func (p Properties) Notification(origin string) reconciler.Notification {
	if v, ok := p.Forward(); ok {
		return reconciler.Forward(origin, v)
	}
	return reconciler.NoForward(origin)
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}
