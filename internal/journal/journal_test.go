package journal

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/proxyvisor/internal/directive"
	"github.com/ppiankov/proxyvisor/internal/reconciler"
)

func newTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	return j, path
}

func testEntry(seq uint64, outcome string) Entry {
	return Entry{
		Seq:       seq,
		Origin:    "update",
		Requested: "10.0.0.5:8080",
		Previous:  "forward / 1.1.1.1:3129",
		Next:      "forward / 10.0.0.5:8080",
		Outcome:   outcome,
		Action:    "restart",
	}
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	j, path := newTestJournal(t)
	for i := 1; i <= 5; i++ {
		if err := j.Record(testEntry(uint64(i), "applied")); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	j.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	j, path := newTestJournal(t)
	for i := 1; i <= 3; i++ {
		if err := j.Record(testEntry(uint64(i), "applied")); err != nil {
			t.Fatal(err)
		}
	}
	j.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	lines[1] = strings.Replace(lines[1], `"applied"`, `"failed"`, 1)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected tampered chain to be invalid")
	}
	if result.ErrorLine != 3 {
		t.Fatalf("expected error at line 3, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsBadGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	if err := os.WriteFile(path, []byte(`{"seq":1,"prev_hash":"sha256:dead"}`+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	result := Verify(path)
	if result.Valid || result.ErrorLine != 1 {
		t.Fatalf("expected genesis failure at line 1, got %+v", result)
	}
}

func TestVerifyMissingFile(t *testing.T) {
	result := Verify(filepath.Join(t.TempDir(), "nope.jsonl"))
	if result.Valid || result.Error == "" {
		t.Fatalf("expected open error, got %+v", result)
	}
}

func TestReopenContinuesChain(t *testing.T) {
	j, path := newTestJournal(t)
	if err := j.Record(testEntry(1, "applied")); err != nil {
		t.Fatal(err)
	}
	j.Close()

	j2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := j2.Record(testEntry(2, "applied")); err != nil {
		t.Fatal(err)
	}
	j2.Close()

	if result := Verify(path); !result.Valid || result.Lines != 2 {
		t.Fatalf("expected 2-line valid chain, got %+v", result)
	}
}

func TestConcurrentRecords(t *testing.T) {
	j, path := newTestJournal(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := j.Record(testEntry(uint64(i), "applied")); err != nil {
				t.Errorf("record: %v", err)
			}
		}(i)
	}
	wg.Wait()
	j.Close()

	if result := Verify(path); !result.Valid || result.Lines != 20 {
		t.Fatalf("expected 20-line valid chain, got %+v", result)
	}
}

func TestReadAll(t *testing.T) {
	j, path := newTestJournal(t)
	for i := 1; i <= 4; i++ {
		if err := j.Record(testEntry(uint64(i), "applied")); err != nil {
			t.Fatal(err)
		}
	}
	j.Close()

	all, err := ReadAll(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 || all[0].PrevHash != GenesisHash {
		t.Fatalf("unexpected entries: %+v", all)
	}

	tail, err := ReadAll(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 || tail[0].Seq != 3 || tail[1].Seq != 4 {
		t.Fatalf("unexpected tail: %+v", tail)
	}
}

func TestReadAllMissingFile(t *testing.T) {
	entries, err := ReadAll(filepath.Join(t.TempDir(), "nope.jsonl"), 0)
	if err != nil || len(entries) != 0 {
		t.Fatalf("entries = %v, err = %v", entries, err)
	}
}

func TestRecordSetsTimestamp(t *testing.T) {
	j, path := newTestJournal(t)
	if err := j.Record(testEntry(1, "applied")); err != nil {
		t.Fatal(err)
	}
	j.Close()

	entries, _ := ReadAll(path, 0)
	ts := entries[0].Time()
	if ts.IsZero() || time.Since(ts) > time.Minute {
		t.Errorf("timestamp = %q", entries[0].Timestamp)
	}
}

func TestFromResult(t *testing.T) {
	res := reconciler.Result{
		Seq:       7,
		Origin:    "update",
		Requested: "10.0.0.5:8080",
		Previous:  directive.Default,
		Next:      directive.Directive{Pattern: "/", Target: "10.0.0.5:8080"},
		Outcome:   reconciler.OutcomeApplied,
		Action:    reconciler.ActionRestart,
		ActionErr: errors.New("terminate failed"),
		Duration:  1500 * time.Millisecond,
	}
	e := FromResult(res)
	if e.Previous != "forward / 1.1.1.1:3129" || e.Next != "forward / 10.0.0.5:8080" {
		t.Errorf("directives = %q -> %q", e.Previous, e.Next)
	}
	if e.Outcome != "applied" || e.Action != "restart" || e.Error != "terminate failed" || e.DurationMS != 1500 {
		t.Errorf("entry = %+v", e)
	}

	invalid := FromResult(reconciler.Result{
		Seq:       8,
		Requested: "nonsense",
		Previous:  directive.Default,
		Outcome:   reconciler.OutcomeInvalid,
		Action:    reconciler.ActionNone,
		Err:       directive.ErrInvalid,
	})
	if invalid.Next != "" || invalid.Error == "" {
		t.Errorf("invalid entry = %+v", invalid)
	}
}
