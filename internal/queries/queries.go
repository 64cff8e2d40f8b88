// Package queries loads the benchmark query set.
package queries

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"qstorm/internal/search"
)

// Query is one entry of the query file. ExpectedIDs is the optional ground
// truth used for recall@k.
type Query struct {
	Text        string   `yaml:"text"`
	ExpectedIDs []string `yaml:"expected_ids"`
}

// UnmarshalYAML accepts either a bare string or a {text, expected_ids} mapping.
func (q *Query) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&q.Text)
	}
	type plain Query
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*q = Query(p)
	return nil
}

type File struct {
	Queries []Query `yaml:"queries"`
}

// EmbeddedQuery is a query paired with its vector. Immutable once built.
type EmbeddedQuery struct {
	Text        string
	Vector      []float32
	ExpectedIDs []string
}

// HasGroundTruth reports whether recall can be computed for this query.
func (q EmbeddedQuery) HasGroundTruth() bool {
	return len(q.ExpectedIDs) > 0
}

func Load(path string) ([]Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, search.IO(err, "read query file %s", path)
	}
	return Parse(data)
}

func Parse(data []byte) ([]Query, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, search.Serialization(err, "parse query file")
	}
	out := f.Queries[:0]
	for _, q := range f.Queries {
		if q.Text == "" {
			continue
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, errors.WithStack(search.Config("query file contains no queries"))
	}
	return out, nil
}

// Texts returns the query texts in file order.
func Texts(qs []Query) []string {
	texts := make([]string, len(qs))
	for i, q := range qs {
		texts[i] = q.Text
	}
	return texts
}
