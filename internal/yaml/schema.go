package yaml

import (
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"
)

type SchemaHeader struct {
	SchemaVersion int `yaml:"schema_version"`
}

// ReadVersioned decodes path into out after checking its schema_version is
// between 1 and maxVersion.
func ReadVersioned(path string, maxVersion int, out any) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if err := ValidateSchemaVersion(content, maxVersion); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := yamlv3.Unmarshal(content, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func ValidateSchemaVersion(content []byte, maxVersion int) error {
	var header SchemaHeader
	if err := yamlv3.Unmarshal(content, &header); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if header.SchemaVersion < 1 {
		return fmt.Errorf("invalid schema_version %d (must be >= 1)", header.SchemaVersion)
	}
	if header.SchemaVersion > maxVersion {
		return fmt.Errorf("unsupported schema_version %d (max supported: %d)", header.SchemaVersion, maxVersion)
	}
	return nil
}
