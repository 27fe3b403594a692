// Package vc parses signed JSON-LD verifiable-credential envelopes.
//
// Payloads come from untrusted topics, so parsing is strict: a document is
// either fully populated or rejected, never partially validated.
package vc

import (
	"encoding/json"
	"fmt"
)

// Document is a parsed signed document envelope.
// Either CredentialSubject (credential) or Credentials (presentation
// wrapping embedded credentials) is populated.
type Document struct {
	Context           []string
	ID                string
	Types             []string
	Issuer            string
	IssuanceDate      string
	CredentialSubject []json.RawMessage
	Credentials       []json.RawMessage
	Proof             json.RawMessage

	raw []byte
}

// rawDocument tolerates the shape variance JSON-LD allows before validation
type rawDocument struct {
	Context              json.RawMessage `json:"@context"`
	ID                   string          `json:"id"`
	Type                 json.RawMessage `json:"type"`
	Issuer               json.RawMessage `json:"issuer"`
	IssuanceDate         string          `json:"issuanceDate"`
	CredentialSubject    json.RawMessage `json:"credentialSubject"`
	VerifiableCredential json.RawMessage `json:"verifiableCredential"`
	Proof                json.RawMessage `json:"proof"`
}

// ParseDocument parses and validates a signed document envelope.
// The envelope must carry an @context, a proof, and at least one of
// credentialSubject or verifiableCredential.
func ParseDocument(data []byte) (*Document, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse document envelope: %w", err)
	}

	context, err := stringOrList(raw.Context)
	if err != nil {
		return nil, fmt.Errorf("invalid @context: %w", err)
	}
	if len(context) == 0 {
		return nil, fmt.Errorf("document has no @context")
	}

	if len(raw.Proof) == 0 || string(raw.Proof) == "null" {
		return nil, fmt.Errorf("document has no proof")
	}

	types, err := stringOrList(raw.Type)
	if err != nil {
		return nil, fmt.Errorf("invalid type: %w", err)
	}

	issuer, err := issuerID(raw.Issuer)
	if err != nil {
		return nil, fmt.Errorf("invalid issuer: %w", err)
	}

	subjects, err := objectOrList(raw.CredentialSubject)
	if err != nil {
		return nil, fmt.Errorf("invalid credentialSubject: %w", err)
	}
	credentials, err := objectOrList(raw.VerifiableCredential)
	if err != nil {
		return nil, fmt.Errorf("invalid verifiableCredential: %w", err)
	}
	if len(subjects) == 0 && len(credentials) == 0 {
		return nil, fmt.Errorf("document carries neither credentialSubject nor verifiableCredential")
	}

	return &Document{
		Context:           context,
		ID:                raw.ID,
		Types:             types,
		Issuer:            issuer,
		IssuanceDate:      raw.IssuanceDate,
		CredentialSubject: subjects,
		Credentials:       credentials,
		Proof:             raw.Proof,
		raw:               data,
	}, nil
}

// HasContext reports whether the document's context list contains ref
func (d *Document) HasContext(ref string) bool {
	for _, c := range d.Context {
		if c == ref {
			return true
		}
	}
	return false
}

// Raw returns the original envelope bytes
func (d *Document) Raw() []byte {
	return d.raw
}

// stringOrList decodes a value that may be a single string or a string array
func stringOrList(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("expected string or string array")
	}
	return list, nil
}

// objectOrList decodes a value that may be a single object or an object array
func objectOrList(raw json.RawMessage) ([]json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var single map[string]json.RawMessage
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("expected object or object array")
	}
	return []json.RawMessage{raw}, nil
}

// issuerID decodes an issuer that may be a bare string or an {id} object
func issuerID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("expected string or object with id")
	}
	return obj.ID, nil
}
