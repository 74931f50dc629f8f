package api

import "testing"

func TestNewSchemaParses(t *testing.T) {
	resolver := NewResolver(nil, nil, nil, nil)
	if _, err := newSchema(resolver); err != nil {
		t.Fatalf("schema failed to parse against resolver: %v", err)
	}
}
