package systemd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// DefaultUnitPath is where UnitTemplate output is normally installed.
const DefaultUnitPath = "/etc/systemd/system/" + UnitName

// CheckUnitFileIntegrity compares the installed unit against the hash taken
// by RecordUnitFileHash. It returns a warning, or "" when the unit matches or
// there is nothing to compare (no unit, no recorded hash).
func CheckUnitFileIntegrity(unitPath, hashPath string) string {
	if _, err := os.Stat(unitPath); err != nil {
		return ""
	}
	recorded, ok := readRecordedHash(hashPath)
	if !ok {
		return ""
	}

	current, err := fileHash(unitPath)
	if err != nil {
		return fmt.Sprintf("unit %s unreadable: %v", unitPath, err)
	}
	if current == recorded {
		return ""
	}
	return fmt.Sprintf("unit %s differs from its recorded hash (recorded %s, now %s); rerun `proxyvisor systemd --record-hash` after intended edits",
		unitPath, recorded[:12], current[:12])
}

// RecordUnitFileHash stores the sha256 of unitPath in hashPath.
func RecordUnitFileHash(unitPath, hashPath string) error {
	sum, err := fileHash(unitPath)
	if err != nil {
		return fmt.Errorf("hash unit %s: %w", unitPath, err)
	}
	return os.WriteFile(hashPath, []byte(sum+"\n"), 0600)
}

func fileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func readRecordedHash(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	sum := strings.TrimSpace(string(data))
	if len(sum) != sha256.Size*2 {
		return "", false
	}
	return sum, true
}
