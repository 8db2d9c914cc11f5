package pinning

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/wuxler/pincer/pkg/authn"
	"github.com/wuxler/pincer/pkg/xlog"
)

// NewManager returns a Manager provisioning services from backend.
func NewManager(backend Backend) *Manager {
	return &Manager{
		backend: backend,
		base:    map[authn.Credential]Service{},
		images:  map[imageKey]*ImageService{},
	}
}

// Manager hands out ImageServices, caching the expensive parts: one backend
// Service per credential and one provisioned dataset per (credential, image).
// Pinning a layer and its manifest into the same dataset keeps an image
// atomic from the backend's perspective. Entries are immutable once created
// and only dropped on Shutdown.
type Manager struct {
	backend Backend

	mu     sync.Mutex
	base   map[authn.Credential]Service
	images map[imageKey]*ImageService

	group singleflight.Group
}

type imageKey struct {
	cred  authn.Credential
	image string
}

// For returns the ImageService for (cred, image), provisioning the backend
// service and dataset on first use. Concurrent callers for the same pair are
// deduplicated so exactly one dataset is created per image.
func (m *Manager) For(ctx context.Context, cred authn.Credential, image string) (*ImageService, error) {
	key := imageKey{cred: cred, image: image}
	m.mu.Lock()
	svc, ok := m.images[key]
	m.mu.Unlock()
	if ok {
		return svc, nil
	}

	v, err, _ := m.group.Do("image\x00"+cred.Key()+"\x00"+image, func() (any, error) {
		m.mu.Lock()
		svc, ok := m.images[key]
		m.mu.Unlock()
		if ok {
			return svc, nil
		}

		base, err := m.baseFor(ctx, cred)
		if err != nil {
			return nil, err
		}
		dataset, err := base.CreateDataset(ctx, DatasetMetadata{
			Type:      DatasetTypeOCIImage,
			ImageName: image,
			Source:    DatasetSource,
		})
		if err != nil {
			return nil, err
		}
		xlog.C(ctx).Infof("provisioned dataset %s for image %s (credential %s)", dataset.ID, image, cred)

		svc = &ImageService{service: base, dataset: dataset, image: image}
		m.mu.Lock()
		m.images[key] = svc
		m.mu.Unlock()
		return svc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ImageService), nil
}

func (m *Manager) baseFor(ctx context.Context, cred authn.Credential) (Service, error) {
	m.mu.Lock()
	base, ok := m.base[cred]
	m.mu.Unlock()
	if ok {
		return base, nil
	}

	v, err, _ := m.group.Do("base\x00"+cred.Key(), func() (any, error) {
		m.mu.Lock()
		base, ok := m.base[cred]
		m.mu.Unlock()
		if ok {
			return base, nil
		}

		base, err := m.backend.Initialize(ctx, cred.Key())
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.base[cred] = base
		m.mu.Unlock()
		return base, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Service), nil
}

// Shutdown drops both caches and tears the backend down. In-flight pins
// racing a shutdown may fail; that loss is accepted.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.base = map[authn.Credential]Service{}
	m.images = map[imageKey]*ImageService{}
	m.mu.Unlock()
	return m.backend.Teardown(ctx)
}

// ImageService pins payloads into the dataset provisioned for one
// (credential, image) pair.
type ImageService struct {
	service Service
	dataset Dataset
	image   string
}

// Dataset returns the provisioned dataset handle.
func (s *ImageService) Dataset() Dataset {
	return s.dataset
}

// Pin stores one payload in the image's dataset.
func (s *ImageService) Pin(ctx context.Context, payload []byte, contentID string, meta PinMetadata) (PinReceipt, error) {
	return s.service.Pin(ctx, s.dataset, payload, contentID, meta)
}
