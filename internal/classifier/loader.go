package classifier

import (
	_ "embed"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// DefaultTable returns a freshly compiled copy of the built-in rule table.
func DefaultTable() *Table {
	table, err := LoadTableFromBytes(defaultRulesYAML)
	if err != nil {
		panic("built-in rule table is invalid: " + err.Error())
	}
	return table
}

// LoadTableFromFile loads a rule table from a YAML file.
func LoadTableFromFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open rules file", goerr.V("path", path))
	}
	defer f.Close()

	return LoadTable(f)
}

// LoadTable loads a rule table from a reader.
func LoadTable(r io.Reader) (*Table, error) {
	var table Table
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&table); err != nil {
		return nil, goerr.Wrap(err, "failed to parse rules YAML")
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &table, nil
}

// LoadTableFromBytes loads a rule table from YAML bytes.
func LoadTableFromBytes(data []byte) (*Table, error) {
	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, goerr.Wrap(err, "failed to parse rules YAML")
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &table, nil
}
