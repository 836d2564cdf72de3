// Package testutil provides shared fixtures for the engine's tests,
// grounded on the teacher's YAML-driven examples.yml in
// internal/testhelper/examples_test.go, generalized from a SQL
// table/query fixture format to a rows-only row-set fixture usable by
// any package's tests.
package testutil

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/deltaforge/deltalake/internal/schema"
)

// Fixture is a named set of rows loaded from YAML, e.g.:
//
//	rows:
//	  - _id: "1"
//	    name: alice
//	    age: 30
//	  - _id: "2"
//	    name: bob
//	    age: 40
type Fixture struct {
	RawRows []map[string]any `yaml:"rows"`
}

// LoadFixture parses raw YAML into a Fixture.
func LoadFixture(raw []byte) (Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Fixture{}, fmt.Errorf("testutil: parse fixture: %w", err)
	}
	return f, nil
}

// Rows converts the fixture's raw maps into schema.Row values ready
// for Table.Write.
func (f Fixture) Rows() []schema.Row {
	out := make([]schema.Row, len(f.RawRows))
	for i, r := range f.RawRows {
		row := make(schema.Row, len(r))
		for k, v := range r {
			row[k] = v
		}
		out[i] = row
	}
	return out
}

// SeqRows builds n rows of the form {"_id": "<i>", "v": i}, the
// minimal fixture most maintenance and filter tests need when the
// exact field set doesn't matter.
func SeqRows(n int) []schema.Row {
	out := make([]schema.Row, n)
	for i := 0; i < n; i++ {
		out[i] = schema.Row{"_id": fmt.Sprintf("%d", i), "v": i}
	}
	return out
}
