// Package hydrate manages the consolidated case object (hydrated.json):
// atomic replacement, optional schema validation, and a content digest the
// API exposes as a weak concurrency token.
package hydrate

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/zeebo/blake3"

	"github.com/adestefa/satori-tm-legal-system-sub004/internal/casemodel"
	"github.com/adestefa/satori-tm-legal-system-sub004/internal/fsutil"
)

// Path returns the hydrated object path inside a case output directory.
func Path(outputDir string) string {
	return filepath.Join(outputDir, casemodel.HydratedFileName)
}

// Read loads the hydrated object bytes. A missing file is reported via
// os.IsNotExist on the returned error.
func Read(outputDir string) ([]byte, error) {
	return os.ReadFile(Path(outputDir))
}

// Replace atomically writes new hydrated content. The caller validates first.
func Replace(outputDir string, data []byte) error {
	return fsutil.WriteFileAtomic(Path(outputDir), data, 0o644)
}

// Digest is a blake3 hash of the hydrated bytes, hex-encoded. Used for the
// hydrated_digest API field and SSE change hints.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Validator checks candidate hydrated documents. With no schema configured it
// only requires well-formed JSON with an object at the top level.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the schema at schemaPath. An empty path yields a
// syntax-only validator.
func NewValidator(schemaPath string) (*Validator, error) {
	if schemaPath == "" {
		return &Validator{}, nil
	}
	c := jsonschema.NewCompiler()
	schema, err := c.Compile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("compile hydrated schema %s: %w", schemaPath, err)
	}
	return &Validator{schema: schema}, nil
}

// Validate returns a descriptive error when data is not an acceptable
// hydrated document.
func (v *Validator) Validate(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if _, ok := doc.(map[string]any); !ok {
		return fmt.Errorf("hydrated document must be a JSON object")
	}
	if v.schema == nil {
		return nil
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
