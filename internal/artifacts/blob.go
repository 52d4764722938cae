package artifacts

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/klauspost/compress/zstd"
)

// BlobConfig points the mirror at an Azure Storage container.
type BlobConfig struct {
	AccountURL string `yaml:"account_url"`
	Container  string `yaml:"container"`
	Prefix     string `yaml:"prefix,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// Enabled reports whether enough is configured to mirror anything.
func (c BlobConfig) Enabled() bool {
	return c.AccountURL != "" && c.Container != ""
}

// blobUploader is the subset of [azblob.Client] the store needs.
type blobUploader interface {
	UploadBuffer(ctx context.Context, containerName string, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

// BlobStore mirrors artifacts to Azure Blob Storage, optionally zstd compressed.
type BlobStore struct {
	client    blobUploader
	container string
	prefix    string
	encoder   *zstd.Encoder
}

// NewBlobStore connects with the default Azure credential chain.
func NewBlobStore(cfg BlobConfig) (*BlobStore, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating azure credential: %w", err)
	}
	return NewBlobStoreWithCredential(cfg, cred)
}

// NewBlobStoreWithCredential connects with an explicit credential.
func NewBlobStoreWithCredential(cfg BlobConfig, cred azcore.TokenCredential) (*BlobStore, error) {
	client, err := azblob.NewClient(cfg.AccountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating blob client for %s: %w", cfg.AccountURL, err)
	}
	return newBlobStore(cfg, client)
}

func newBlobStore(cfg BlobConfig, client blobUploader) (*BlobStore, error) {
	if cfg.Container == "" {
		return nil, fmt.Errorf("blob container is required")
	}

	s := &BlobStore{
		client:    client,
		container: cfg.Container,
		prefix:    strings.Trim(cfg.Prefix, "/"),
	}
	if cfg.Compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		s.encoder = enc
	}
	return s, nil
}

// WithPrefix returns a store writing below an extra path segment. The client and
// encoder are shared.
func (s *BlobStore) WithPrefix(segment string) *BlobStore {
	cp := *s
	cp.prefix = path.Join(s.prefix, segment)
	return &cp
}

// BlobName returns the blob an artifact name is uploaded to.
func (s *BlobStore) BlobName(name string) string {
	if s.encoder != nil {
		name += ".zst"
	}
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *BlobStore) Put(ctx context.Context, name string, data []byte) error {
	opts := &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType(name))},
	}
	if s.encoder != nil {
		data = s.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
		opts.HTTPHeaders.BlobContentEncoding = to.Ptr("zstd")
	}

	blobName := s.BlobName(name)
	if _, err := s.client.UploadBuffer(ctx, s.container, blobName, data, opts); err != nil {
		return fmt.Errorf("uploading %s: %w", blobName, err)
	}
	return nil
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".json":
		return "application/json"
	case ".jsonl":
		return "application/x-ndjson"
	}
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
