package schemacheck

// Status is the outcome of a compatibility check
type Status int

const (
	StatusNotVerified Status = iota
	StatusIncompatible
	StatusCompatible
)

// String returns the operator-facing name of the status
func (s Status) String() string {
	switch s {
	case StatusIncompatible:
		return "INCOMPATIBLE"
	case StatusCompatible:
		return "COMPATIBLE"
	default:
		return "NOT_VERIFIED"
	}
}

// IsCompatible reports whether the candidate schema document is a safe
// superset of the expected one. Any parse failure yields Incompatible.
func IsCompatible(expectedDoc, candidateDoc []byte) Status {
	expected, err := ParseFields(expectedDoc)
	if err != nil {
		return StatusIncompatible
	}
	candidate, err := ParseFields(candidateDoc)
	if err != nil {
		return StatusIncompatible
	}
	return Compare(expected, candidate)
}

// Compare checks that every expected field exists unchanged in the
// candidate. Reference fields are compared by recursive application of the
// same rule to their nested fields; referenced-type identity is deliberately
// not part of the relation, only structural extension by field name.
func Compare(expected, candidate []Field) Status {
	byName := make(map[string]Field, len(candidate))
	for _, field := range candidate {
		byName[field.Name] = field
	}

	for _, want := range expected {
		got, ok := byName[want.Name]
		if !ok {
			return StatusIncompatible
		}
		if got.Title != want.Title ||
			got.Description != want.Description ||
			got.Required != want.Required ||
			got.IsArray != want.IsArray ||
			got.IsRef != want.IsRef {
			return StatusIncompatible
		}

		if want.IsRef {
			if Compare(want.Fields, got.Fields) != StatusCompatible {
				return StatusIncompatible
			}
			continue
		}

		if got.Type != want.Type ||
			got.Format != want.Format ||
			got.Pattern != want.Pattern ||
			got.Unit != want.Unit ||
			got.UnitSystem != want.UnitSystem ||
			got.CustomType != want.CustomType {
			return StatusIncompatible
		}
	}

	return StatusCompatible
}
