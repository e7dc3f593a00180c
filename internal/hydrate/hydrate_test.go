package hydrate

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReplaceRead(t *testing.T) {
	dir := t.TempDir()
	doc := []byte(`{"case_id":"alpha","plaintiff":{"name":"Jane Doe"}}`)
	if err := Replace(dir, doc); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := Read(dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(doc) {
		t.Fatalf("round trip mismatch: %s", got)
	}
	if _, err := os.Stat(Path(dir) + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file left behind")
	}
}

func TestRead_Missing(t *testing.T) {
	if _, err := Read(t.TempDir()); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist, got %v", err)
	}
}

func TestDigest_Stable(t *testing.T) {
	a := Digest([]byte(`{"x":1}`))
	b := Digest([]byte(`{"x":1}`))
	c := Digest([]byte(`{"x":2}`))
	if a != b {
		t.Fatal("digest must be deterministic")
	}
	if a == c {
		t.Fatal("digest must change with content")
	}
	if len(a) != 64 {
		t.Fatalf("expected 32-byte hex digest, got %d chars", len(a))
	}
}

func TestValidator_SyntaxOnly(t *testing.T) {
	v, err := NewValidator("")
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Validate([]byte(`{"ok":true}`)); err != nil {
		t.Fatalf("valid object rejected: %v", err)
	}
	if err := v.Validate([]byte(`not json`)); err == nil {
		t.Fatal("malformed JSON accepted")
	}
	if err := v.Validate([]byte(`[1,2,3]`)); err == nil {
		t.Fatal("top-level array accepted")
	}
}

func TestValidator_WithSchema(t *testing.T) {
	schemaPath := filepath.Join(t.TempDir(), "hydrated.schema.json")
	schema := `{
		"type": "object",
		"required": ["case_id"],
		"properties": {"case_id": {"type": "string"}}
	}`
	if err := os.WriteFile(schemaPath, []byte(schema), 0o644); err != nil {
		t.Fatal(err)
	}
	v, err := NewValidator(schemaPath)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if err := v.Validate([]byte(`{"case_id":"alpha"}`)); err != nil {
		t.Fatalf("conforming document rejected: %v", err)
	}
	if err := v.Validate([]byte(`{"plaintiff":"Jane"}`)); err == nil {
		t.Fatal("document missing case_id accepted")
	}
}

func TestNewValidator_BadSchemaPath(t *testing.T) {
	if _, err := NewValidator(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected compile error for missing schema")
	}
}
