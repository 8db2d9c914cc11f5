// Package synapse is the HTTP client for the warm-storage pinning service.
// It adapts the service's REST surface to the pinning.Backend contract: one
// Backend per process, one Service per credential, datasets and pins scoped
// by bearer authentication.
package synapse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/wuxler/pincer/pkg/appinfo"
	"github.com/wuxler/pincer/pkg/errdefs"
	"github.com/wuxler/pincer/pkg/pinning"
	"github.com/wuxler/pincer/pkg/util/xhttp"
	"github.com/wuxler/pincer/pkg/util/xio"
	"github.com/wuxler/pincer/pkg/xlog"
)

const (
	// DefaultRPCURL is the calibration-network service endpoint used when no
	// override is configured.
	DefaultRPCURL = "https://api.calibration.node.glif.io/rpc/v1"

	// MediaTypeCAR is the content type of pinned payloads.
	MediaTypeCAR = "application/vnd.ipld.car"

	headerContentID   = "X-Content-Id"
	headerPinName     = "X-Pin-Name"
	headerWarmStorage = "X-Warm-Storage-Address"
)

// privateKeyPattern matches a 32-byte hex private key with the canonical
// "0x" prefix, the shape credentials are normalized to.
var privateKeyPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

var _ pinning.Backend = (*Backend)(nil)

// New returns a Backend talking to the warm-storage service.
func New(options ...Option) *Backend {
	o := MakeOptions(options...)
	return &Backend{
		baseURL:            strings.TrimSuffix(o.RPCURL, "/"),
		warmStorageAddress: o.WarmStorageAddress,
		client:             o.HTTPClient,
		userAgent:          fmt.Sprintf("pincer/%s", appinfo.ShortVersion()),
	}
}

// Backend implements pinning.Backend over the warm-storage HTTP API.
type Backend struct {
	baseURL            string
	warmStorageAddress string
	client             xhttp.Client
	userAgent          string
}

// Option is the optional parameter setting method.
type Option func(*Options)

// Options is the structure of the optional parameters.
type Options struct {
	// RPCURL is the base URL of the warm-storage service.
	RPCURL string
	// WarmStorageAddress overrides the warm-storage contract the service
	// pins against. Empty means the service default.
	WarmStorageAddress string
	// HTTPClient is the underlying http client.
	HTTPClient xhttp.Client
}

// DefaultOptions returns the default options.
func DefaultOptions() *Options {
	return &Options{
		RPCURL:     DefaultRPCURL,
		HTTPClient: http.DefaultClient,
	}
}

// MakeOptions returns the options with all optional parameters applied.
func MakeOptions(options ...Option) *Options {
	o := DefaultOptions()
	for _, apply := range options {
		apply(o)
	}
	return o
}

// WithRPCURL sets the service base URL.
func WithRPCURL(url string) Option {
	return func(o *Options) {
		if url != "" {
			o.RPCURL = url
		}
	}
}

// WithWarmStorageAddress sets the warm-storage contract address override.
func WithWarmStorageAddress(address string) Option {
	return func(o *Options) {
		o.WarmStorageAddress = address
	}
}

// WithHTTPClient sets the underlying http client.
func WithHTTPClient(client xhttp.Client) Option {
	return func(o *Options) {
		if client != nil {
			o.HTTPClient = client
		}
	}
}

// Initialize validates the key shape and returns a Service bound to it. No
// network round trip happens here; the key is checked locally and rides on
// every later request as the bearer token.
func (b *Backend) Initialize(_ context.Context, key string) (pinning.Service, error) {
	if !privateKeyPattern.MatchString(key) {
		return nil, errdefs.Newf(errdefs.ErrInvalidParameter, "private key must be a 0x-prefixed 32-byte hex string")
	}
	return &service{backend: b, key: key}, nil
}

// Teardown releases idle connections held against the service.
func (b *Backend) Teardown(ctx context.Context) error {
	if closer, ok := b.client.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
	xlog.C(ctx).Debugf("synapse backend torn down")
	return nil
}

func (b *Backend) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	request, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	request.Header.Set("User-Agent", b.userAgent)
	if b.warmStorageAddress != "" {
		request.Header.Set(headerWarmStorage, b.warmStorageAddress)
	}
	return request, nil
}

// service is the per-credential handle. It shares the backend's transport
// and adds bearer authentication with the credential key.
type service struct {
	backend *Backend
	key     string
}

// CreateDataset provisions a dataset for one image under the credential's
// account.
func (s *service) CreateDataset(ctx context.Context, meta pinning.DatasetMetadata) (pinning.Dataset, error) {
	payload, err := json.Marshal(meta)
	if err != nil {
		return pinning.Dataset{}, err
	}
	request, err := s.backend.newRequest(ctx, http.MethodPost, "/v1/datasets", bytes.NewReader(payload))
	if err != nil {
		return pinning.Dataset{}, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+s.key)

	resp, err := s.backend.client.Do(request) //nolint:bodyclose // closed by xio.CloseAndSkipError
	if err != nil {
		return pinning.Dataset{}, xhttp.MakeRequestError(request, err)
	}
	defer xio.CloseAndSkipError(resp.Body)
	if err := xhttp.Success(resp, http.StatusCreated); err != nil {
		return pinning.Dataset{}, err
	}

	dataset := pinning.Dataset{}
	if err := json.NewDecoder(resp.Body).Decode(&dataset); err != nil {
		return pinning.Dataset{}, xhttp.MakeResponseError(resp, fmt.Errorf("decode dataset: %w", err))
	}
	if dataset.ID == "" {
		return pinning.Dataset{}, xhttp.MakeResponseError(resp, errors.New("dataset response carries no id"))
	}
	return dataset, nil
}

// Pin stores one CAR payload in the dataset. The service answers 402 when
// the credential's wallet cannot cover the pin, surfaced as
// pinning.ErrInsufficientFunds so callers can hint at funding.
func (s *service) Pin(ctx context.Context, dataset pinning.Dataset, payload []byte, contentID string, meta pinning.PinMetadata) (pinning.PinReceipt, error) {
	request, err := s.backend.newRequest(ctx, http.MethodPost, "/v1/datasets/"+dataset.ID+"/pins", bytes.NewReader(payload))
	if err != nil {
		return pinning.PinReceipt{}, err
	}
	request.Header.Set("Content-Type", MediaTypeCAR)
	request.Header.Set("Authorization", "Bearer "+s.key)
	request.Header.Set(headerContentID, contentID)
	if meta.Name != "" {
		request.Header.Set(headerPinName, meta.Name)
	}

	resp, err := s.backend.client.Do(request) //nolint:bodyclose // closed by xio.CloseAndSkipError
	if err != nil {
		return pinning.PinReceipt{}, xhttp.MakeRequestError(request, err)
	}
	defer xio.CloseAndSkipError(resp.Body)
	if resp.StatusCode == http.StatusPaymentRequired {
		return pinning.PinReceipt{}, xhttp.MakeResponseError(resp, pinning.ErrInsufficientFunds)
	}
	if err := xhttp.Success(resp, http.StatusCreated, http.StatusAccepted); err != nil {
		return pinning.PinReceipt{}, err
	}

	receipt := pinning.PinReceipt{}
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return pinning.PinReceipt{}, xhttp.MakeResponseError(resp, fmt.Errorf("decode pin receipt: %w", err))
	}
	if receipt.ContentID == "" {
		receipt.ContentID = contentID
	}
	return receipt, nil
}
