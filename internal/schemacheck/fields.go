// Package schemacheck decides whether a candidate schema structurally
// extends an expected schema. The relation is one-directional: every field
// the expected schema declares must exist unchanged in the candidate, which
// is free to add fields of its own.
package schemacheck

import (
	"encoding/json"
	"fmt"
	"strings"
)

// maxFieldDepth bounds recursion through reference fields, defending
// against cyclic or maliciously deep schema documents.
const maxFieldDepth = 20

// Field is a flat description of one schema field. Reference fields carry
// their referenced type's fields in Fields; that nesting is the only
// recursion axis of the comparison.
type Field struct {
	Name        string
	Title       string
	Description string
	Required    bool
	IsArray     bool
	IsRef       bool
	Type        string
	Format      string
	Pattern     string
	Unit        string
	UnitSystem  string
	CustomType  string
	Fields      []Field
}

// schemaDocument is the JSON-Schema-like document shape stored in the
// content store and published on policy topics.
type schemaDocument struct {
	ID          string                    `json:"$id"`
	Title       string                    `json:"title"`
	Description string                    `json:"description"`
	Properties  map[string]schemaProperty `json:"properties"`
	Required    []string                  `json:"required"`
	Defs        map[string]schemaDocument `json:"$defs"`
}

type schemaProperty struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Type        string          `json:"type"`
	Format      string          `json:"format"`
	Pattern     string          `json:"pattern"`
	Unit        string          `json:"unit"`
	UnitSystem  string          `json:"unitSystem"`
	CustomType  string          `json:"customType"`
	Ref         string          `json:"$ref"`
	Items       *schemaProperty `json:"items"`
}

// ParseFields parses a schema document into its flat field-description list
func ParseFields(doc []byte) ([]Field, error) {
	var parsed schemaDocument
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse schema document: %w", err)
	}
	return documentFields(&parsed, parsed.Defs, 0)
}

// documentFields derives field descriptors from one document level
func documentFields(doc *schemaDocument, defs map[string]schemaDocument, depth int) ([]Field, error) {
	if depth > maxFieldDepth {
		return nil, fmt.Errorf("schema nesting exceeds %d levels", maxFieldDepth)
	}

	required := make(map[string]bool, len(doc.Required))
	for _, name := range doc.Required {
		required[name] = true
	}

	fields := make([]Field, 0, len(doc.Properties))
	for name, prop := range doc.Properties {
		field, err := propertyField(name, prop, required[name], defs, depth)
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
	}
	return fields, nil
}

// propertyField converts a single property into a field descriptor
func propertyField(name string, prop schemaProperty, required bool, defs map[string]schemaDocument, depth int) (Field, error) {
	field := Field{
		Name:        name,
		Title:       prop.Title,
		Description: prop.Description,
		Required:    required,
	}

	descriptor := prop
	if prop.Type == "array" {
		if prop.Items == nil {
			return Field{}, fmt.Errorf("array field %q has no items descriptor", name)
		}
		field.IsArray = true
		descriptor = *prop.Items
		// Array-level annotations win over the item descriptor's
		if field.Title == "" {
			field.Title = descriptor.Title
		}
		if field.Description == "" {
			field.Description = descriptor.Description
		}
	}

	if descriptor.Ref != "" {
		field.IsRef = true
		nested, err := refFields(descriptor.Ref, defs, depth)
		if err != nil {
			return Field{}, fmt.Errorf("field %q: %w", name, err)
		}
		field.Fields = nested
		return field, nil
	}

	field.Type = descriptor.Type
	field.Format = descriptor.Format
	field.Pattern = descriptor.Pattern
	field.Unit = descriptor.Unit
	field.UnitSystem = descriptor.UnitSystem
	field.CustomType = descriptor.CustomType
	return field, nil
}

// refFields resolves a $ref against the document's $defs
func refFields(ref string, defs map[string]schemaDocument, depth int) ([]Field, error) {
	key := strings.TrimPrefix(ref, "#/$defs/")
	def, ok := defs[key]
	if !ok {
		return nil, fmt.Errorf("unresolved schema reference %q", ref)
	}
	return documentFields(&def, defs, depth+1)
}
