// Package contentstore provides content-addressed access to schema and
// policy documents referenced from ledger messages.
package contentstore

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// Store abstracts content-addressed document fetching to enable testing
// with mocks
type Store interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// AzureStore implements Store on an Azure blob container holding one blob
// per content ref
type AzureStore struct {
	client    *azblob.Client
	container string
}

// NewAzureStore creates an Azure-backed content store
func NewAzureStore(accountName, accessKey, container string) (*AzureStore, error) {
	cred, err := azblob.NewSharedKeyCredential(accountName, accessKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create content store credentials: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create content store client: %w", err)
	}

	return &AzureStore{client: client, container: container}, nil
}

// Fetch downloads the document stored under the given content ref
func (s *AzureStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty content ref")
	}

	resp, err := s.client.DownloadStream(ctx, s.container, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download content %s: %w", ref, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read content %s: %w", ref, err)
	}
	return data, nil
}
