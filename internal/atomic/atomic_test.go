package atomic

import (
	"os"
	"path/filepath"
	"testing"
)

type doc struct {
	Name  string `json:"name" yaml:"name"`
	Count int    `json:"count" yaml:"count"`
}

func TestWriteJSON_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")

	if err := WriteJSON(path, doc{Name: "a", Count: 3}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var got doc
	if err := ReadJSON(path, &got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Name != "a" || got.Count != 3 {
		t.Errorf("round trip = %+v", got)
	}
}

func TestWriteJSON_KeepsBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")

	if err := WriteJSON(path, doc{Name: "first"}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteJSON(path, doc{Name: "second"}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	var bak doc
	if err := ReadJSON(path+".bak", &bak); err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if bak.Name != "first" {
		t.Errorf("backup holds %q, want the previous version", bak.Name)
	}
}

func TestWriteRaw_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	if err := WriteRaw(path, []byte(`{"ok":true}`), validateJSON); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "doc.json" {
			t.Errorf("unexpected leftover %s", e.Name())
		}
	}
}

func TestWriteRaw_RejectsInvalidContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")

	if err := WriteRaw(path, []byte("{not json"), validateJSON); err == nil {
		t.Fatal("invalid content must fail validation")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("failed write must not leave the target file")
	}
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.yaml")

	if err := WriteYAML(path, doc{Name: "y", Count: 1}); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	var got doc
	if err := ReadYAML(path, &got); err != nil {
		t.Fatalf("ReadYAML: %v", err)
	}
	if got.Name != "y" || got.Count != 1 {
		t.Errorf("round trip = %+v", got)
	}
}

func TestQuarantine(t *testing.T) {
	picDir := t.TempDir()
	path := filepath.Join(picDir, "broken.json")
	if err := os.WriteFile(path, []byte("{broken"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := Quarantine(picDir, path); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("quarantined file still present at original path")
	}

	entries, err := os.ReadDir(filepath.Join(picDir, "quarantine"))
	if err != nil {
		t.Fatalf("read quarantine dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("quarantine holds %d files, want 1", len(entries))
	}
}

func TestRecoverCorruptedJSON(t *testing.T) {
	picDir := t.TempDir()
	path := filepath.Join(picDir, "doc.json")

	if err := WriteJSON(path, doc{Name: "good"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := WriteJSON(path, doc{Name: "newer"}); err != nil {
		t.Fatalf("seed second version: %v", err)
	}
	// Corrupt the live document; the .bak still holds "good".
	if err := os.WriteFile(path, []byte("{torn write"), 0644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	if err := RecoverCorruptedJSON(picDir, path); err != nil {
		t.Fatalf("RecoverCorruptedJSON: %v", err)
	}

	var got doc
	if err := ReadJSON(path, &got); err != nil {
		t.Fatalf("read recovered: %v", err)
	}
	if got.Name != "good" {
		t.Errorf("recovered doc = %+v, want the backup version", got)
	}
}
