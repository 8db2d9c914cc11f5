// Package pinning coordinates remote content pinning: per-credential backend
// services, per-image datasets and the detached pipeline that pins pushed
// content after the registry has already answered the client.
package pinning

import (
	"context"

	"github.com/wuxler/pincer/pkg/errdefs"
)

//go:generate mockgen -destination=./mocks/mock_pinning.go -package=mocks github.com/wuxler/pincer/pkg/pinning Backend,Service

const (
	// DatasetTypeOCIImage marks datasets that hold the content of one image.
	DatasetTypeOCIImage = "oci-image"

	// DatasetSource tags provisioned datasets with the system that created
	// them.
	DatasetSource = "pincer-registry"
)

var (
	// ErrInsufficientFunds is returned when the backend refuses a pin
	// because the credential's wallet cannot cover it.
	ErrInsufficientFunds = errdefs.Newf(errdefs.ErrUnavailable, "insufficient funds to pin content")
)

// DatasetMetadata describes a dataset at provisioning time.
type DatasetMetadata struct {
	Type      string `json:"type"`
	ImageName string `json:"imageName"`
	Source    string `json:"source"`
}

// Dataset is the backend handle payloads are pinned into.
type Dataset struct {
	ID       string `json:"id"`
	Provider string `json:"provider,omitempty"`
}

// PinMetadata labels a single pin.
type PinMetadata struct {
	// Name is a human readable label like "app:latest" or "app@sha256:...".
	Name string `json:"name"`
}

// PinReceipt is the backend's acknowledgment of a pin.
type PinReceipt struct {
	ContentID string `json:"content_id"`
	Status    string `json:"status,omitempty"`
}

// Backend provisions per-credential pinning services. Initializing a service
// is expensive (wallet and RPC bootstrap), which is why the Manager caches
// the result per credential.
type Backend interface {
	// Initialize returns a Service bound to the given private key.
	Initialize(ctx context.Context, key string) (Service, error)
	// Teardown releases backend resources on shutdown.
	Teardown(ctx context.Context) error
}

// Service is a per-credential handle to the pinning backend.
type Service interface {
	// CreateDataset provisions a dataset that groups pinned payloads under
	// one billable unit.
	CreateDataset(ctx context.Context, meta DatasetMetadata) (Dataset, error)
	// Pin stores one payload under contentID in the dataset.
	Pin(ctx context.Context, dataset Dataset, payload []byte, contentID string, meta PinMetadata) (PinReceipt, error)
}
