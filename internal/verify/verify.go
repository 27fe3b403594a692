// Package verify checks signed documents against their schema and their
// cryptographic proof through the platform's verification service.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashgraph/guardian-sub018/internal/vc"
)

// Verifier abstracts document verification to enable testing with mocks.
// CheckConformance is the cheap structural check and is always run before
// the more expensive VerifyProof.
type Verifier interface {
	CheckConformance(ctx context.Context, doc *vc.Document, schemaDoc []byte) (bool, error)
	VerifyProof(ctx context.Context, doc *vc.Document) (bool, error)
}

// Client implements Verifier against the verification service's REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a verification service client
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type verifyResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// CheckConformance asks the service whether the document conforms to the
// schema. A false result is a verdict, not an error.
func (c *Client) CheckConformance(ctx context.Context, doc *vc.Document, schemaDoc []byte) (bool, error) {
	payload := map[string]json.RawMessage{
		"document": doc.Raw(),
		"schema":   schemaDoc,
	}
	return c.post(ctx, "/verify/schema", payload)
}

// VerifyProof asks the service to verify the document's signature proof
func (c *Client) VerifyProof(ctx context.Context, doc *vc.Document) (bool, error) {
	payload := map[string]json.RawMessage{
		"document": doc.Raw(),
	}
	return c.post(ctx, "/verify/proof", payload)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to encode verification request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("verification service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("verification service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var verdict verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return false, fmt.Errorf("failed to decode verification response: %w", err)
	}
	return verdict.Valid, nil
}
