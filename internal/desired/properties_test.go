package desired

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		doc         string
		wantForward string
		wantPresent bool
	}{
		{"yaml", "Forward: 10.0.0.5:8080\n", "10.0.0.5:8080", true},
		{"json", `{"Forward": "10.0.0.5:8080", "$version": 4}`, "10.0.0.5:8080", true},
		{"json null", `{"Forward": null, "$version": 5}`, "", false},
		{"absent", "Other: 1\n", "", false},
		{"empty", "", "", false},
		{"whitespace", "  \n", "", false},
		{"full directive", "Forward: \"forward / 10.0.0.5:8080\"\n", "forward / 10.0.0.5:8080", true},
		{"number", "Forward: 8080\n", "8080", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			props, err := Parse([]byte(tt.doc))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			got, present := props.Forward()
			if present != tt.wantPresent || got != tt.wantForward {
				t.Errorf("Forward() = %q, %v; want %q, %v", got, present, tt.wantForward, tt.wantPresent)
			}
		})
	}
}

func TestParseDropsMetadata(t *testing.T) {
	props, err := Parse([]byte(`{"$version": 1, "$metadata": {}, "Forward": "a:1"}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(props) != 1 {
		t.Errorf("props = %v", props)
	}
}

func TestParseInvalid(t *testing.T) {
	for _, doc := range []string{"- a\n- b\n", "Forward: [unclosed", "just a string"} {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("Parse(%q) should fail", doc)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	props, hash, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(props) != 0 || hash == "" {
		t.Errorf("props = %v, hash = %q", props, hash)
	}
}

func TestLoadHashTracksContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "desired.yaml")
	if err := os.WriteFile(path, []byte("Forward: a:1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	_, h1, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("Forward: a:2\n"), 0600); err != nil {
		t.Fatal(err)
	}
	_, h2, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Error("hash should change with content")
	}
}

func TestNotification(t *testing.T) {
	n := Properties{ForwardKey: "10.0.0.5:8080"}.Notification(OriginUpdate)
	if !n.HasForward || n.Forward != "10.0.0.5:8080" || n.Origin != OriginUpdate {
		t.Errorf("notification = %+v", n)
	}
	n = Properties{}.Notification(OriginSnapshot)
	if n.HasForward || n.Origin != OriginSnapshot {
		t.Errorf("notification = %+v", n)
	}
}
