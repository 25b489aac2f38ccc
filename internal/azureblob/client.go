package azureblob

import (
	"context"
	"fmt"
	"io"

	"rag-chat-service/internal/blobstore"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"
)

// Credential sources
const (
	CredentialDefault          = "default"
	CredentialManagedIdentity  = "managed_identity"
	CredentialConnectionString = "connection_string"
)

// Config for the Azure Blob Storage container
type Config struct {
	AccountURL              string
	Container               string
	Credential              string
	ManagedIdentityClientID string
	ConnectionString        string
}

// Container implements blobstore.Backend on one Azure Blob Storage container.
type Container struct {
	client    *azblob.Client
	container string
	logger    *zap.Logger
}

// NewContainer creates a client for the configured container
func NewContainer(cfg Config, logger *zap.Logger) (*Container, error) {
	if cfg.Container == "" {
		return nil, fmt.Errorf("azure blob container name is required")
	}

	var (
		client *azblob.Client
		err    error
	)

	switch cfg.Credential {
	case CredentialConnectionString:
		if cfg.ConnectionString == "" {
			return nil, fmt.Errorf("azure blob connection string is required")
		}
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case CredentialManagedIdentity, CredentialDefault, "":
		if cfg.AccountURL == "" {
			return nil, fmt.Errorf("azure blob account url is required")
		}
		var cred azcore.TokenCredential
		cred, err = newCredential(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create azure credential: %w", err)
		}
		client, err = azblob.NewClient(cfg.AccountURL, cred, nil)
	default:
		return nil, fmt.Errorf("unknown azure credential source %q", cfg.Credential)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create azure blob client: %w", err)
	}

	logger.Info("Azure blob client initialized",
		zap.String("account_url", cfg.AccountURL),
		zap.String("container", cfg.Container),
		zap.String("credential", cfg.Credential))

	return &Container{
		client:    client,
		container: cfg.Container,
		logger:    logger,
	}, nil
}

func newCredential(cfg Config) (azcore.TokenCredential, error) {
	if cfg.Credential == CredentialManagedIdentity {
		opts := &azidentity.ManagedIdentityCredentialOptions{}
		if cfg.ManagedIdentityClientID != "" {
			opts.ID = azidentity.ClientID(cfg.ManagedIdentityClientID)
		}
		return azidentity.NewManagedIdentityCredential(opts)
	}
	return azidentity.NewDefaultAzureCredential(nil)
}

// CreateContainer creates the container
func (c *Container) CreateContainer(ctx context.Context) error {
	_, err := c.client.CreateContainer(ctx, c.container, nil)
	if bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return blobstore.ErrContainerExists
	}
	return err
}

// Download reads the whole blob and its ETag
func (c *Container) Download(ctx context.Context, name string) ([]byte, blobstore.Version, error) {
	resp, err := c.client.DownloadStream(ctx, c.container, name, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return nil, "", blobstore.ErrBlobNotFound
	}
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read blob %s: %w", name, err)
	}

	var version blobstore.Version
	if resp.ETag != nil {
		version = blobstore.Version(*resp.ETag)
	}
	return data, version, nil
}

// Upload overwrites the blob, honoring the precondition as If-Match / If-None-Match.
func (c *Container) Upload(ctx context.Context, name string, data []byte, cond *blobstore.Precondition) (blobstore.Version, error) {
	opts := &azblob.UploadBufferOptions{}
	if cond != nil {
		mac := &blob.ModifiedAccessConditions{}
		if cond.IfAbsent {
			mac.IfNoneMatch = to.Ptr(azcore.ETagAny)
		}
		if cond.IfMatch != "" {
			mac.IfMatch = to.Ptr(azcore.ETag(cond.IfMatch))
		}
		opts.AccessConditions = &blob.AccessConditions{ModifiedAccessConditions: mac}
	}

	resp, err := c.client.UploadBuffer(ctx, c.container, name, data, opts)
	if bloberror.HasCode(err, bloberror.ConditionNotMet, bloberror.BlobAlreadyExists) {
		return "", blobstore.ErrConditionNotMet
	}
	if err != nil {
		return "", err
	}

	c.logger.Debug("Blob uploaded",
		zap.String("blob", name),
		zap.Int("bytes", len(data)))

	if resp.ETag == nil {
		return "", nil
	}
	return blobstore.Version(*resp.ETag), nil
}

// Close implements blobstore.Backend
func (c *Container) Close() error {
	return nil
}
