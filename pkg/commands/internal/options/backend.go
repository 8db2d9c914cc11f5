package options

import (
	"crypto/tls"
	"errors"
	"net/http"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/wuxler/pincer/pkg/cmdhelper"
	"github.com/wuxler/pincer/pkg/errdefs"
	"github.com/wuxler/pincer/pkg/pinning/synapse"
	"github.com/wuxler/pincer/pkg/util/xhttp"
)

const (
	// BackendFlagCategory is the category of the pinning backend flags.
	BackendFlagCategory = "[Backend]"
)

// NewBackendOptions returns a *BackendOptions with default values.
func NewBackendOptions() *BackendOptions {
	return &BackendOptions{
		RPCURL:     synapse.DefaultRPCURL,
		GatewayURL: synapse.DefaultGatewayURL,
	}
}

// BackendOptions defines the options for the remote pinning backend and the
// IPFS gateway content is read back through.
type BackendOptions struct {
	// RPCURL is the base URL of the warm-storage service.
	RPCURL string

	// WarmStorageAddress overrides the warm-storage contract address. Empty
	// means the service default.
	WarmStorageAddress string

	// GatewayURL is the base URL of the IPFS gateway used for remote reads.
	GatewayURL string

	// DisablePinning turns the async pin pipeline off; pushed content stays
	// local only.
	DisablePinning bool

	// Insecure skips TLS certificate verification against the backend.
	Insecure bool

	// CAFiles are extra CA certificates to trust when talking to the
	// backend.
	CAFiles []string
}

// Flags returns the []cli.Flag related to current options.
func (o *BackendOptions) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "rpc-url",
			Usage:       "base URL of the warm-storage pinning service",
			Sources:     cli.EnvVars("PINCER_RPC_URL", "RPC_URL"),
			Value:       o.RPCURL,
			Destination: &o.RPCURL,
			Category:    BackendFlagCategory,
		},
		&cli.StringFlag{
			Name:        "warm-storage-address",
			Usage:       "warm-storage contract address override",
			Sources:     cli.EnvVars("PINCER_WARM_STORAGE_ADDRESS", "WARM_STORAGE_ADDRESS"),
			Value:       o.WarmStorageAddress,
			Destination: &o.WarmStorageAddress,
			Category:    BackendFlagCategory,
		},
		&cli.StringFlag{
			Name:        "gateway-url",
			Usage:       "base URL of the IPFS gateway used to read pinned content",
			Sources:     cli.EnvVars("PINCER_GATEWAY_URL"),
			Value:       o.GatewayURL,
			Destination: &o.GatewayURL,
			Category:    BackendFlagCategory,
		},
		&cli.BoolFlag{
			Name:        "disable-pinning",
			Usage:       "disable remote pinning, pushed content stays local only",
			Sources:     cli.EnvVars("PINCER_DISABLE_PINNING"),
			Value:       o.DisablePinning,
			Destination: &o.DisablePinning,
			Category:    BackendFlagCategory,
		},
		&cli.BoolFlag{
			Name:        "backend-insecure",
			Usage:       "enable to skip verify backend SSL certificate",
			Sources:     cli.EnvVars("PINCER_BACKEND_INSECURE"),
			Value:       o.Insecure,
			Destination: &o.Insecure,
			Category:    BackendFlagCategory,
		},
		&cli.StringSliceFlag{
			Name:        "backend-ca-files",
			Usage:       "specify CA files to verify backend SSL certificate",
			Destination: &o.CAFiles,
			Value:       o.CAFiles,
			Validator: func(paths []string) error {
				var errs []error
				for _, path := range paths {
					if _, err := os.ReadFile(path); err != nil {
						errs = append(errs, err)
					}
				}
				return errors.Join(errs...)
			},
			Category: BackendFlagCategory,
		},
	}
}

// NewHTTPClient returns an http client with the TLS options applied, shared
// by the pinning backend and the gateway fetcher.
func (o *BackendOptions) NewHTTPClient() (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tlsConfig := &tls.Config{
		InsecureSkipVerify: o.Insecure, //nolint:gosec // explicit skip verify
	}
	if len(o.CAFiles) > 0 {
		pool, err := cmdhelper.LoadTLSCertFiles(o.CAFiles...)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}
	tr.TLSClientConfig = tlsConfig
	return &http.Client{Transport: tr}, nil
}

// NewBackend returns the synapse backend configured from the options.
func (o *BackendOptions) NewBackend() (*synapse.Backend, error) {
	rpcURL, err := normalizeEndpoint(o.RPCURL)
	if err != nil {
		return nil, err
	}
	client, err := o.NewHTTPClient()
	if err != nil {
		return nil, err
	}
	backend := synapse.New(
		synapse.WithRPCURL(rpcURL),
		synapse.WithWarmStorageAddress(o.WarmStorageAddress),
		synapse.WithHTTPClient(client),
	)
	return backend, nil
}

// NewGateway returns the gateway fetcher configured from the options.
func (o *BackendOptions) NewGateway() (*synapse.Gateway, error) {
	gatewayURL, err := normalizeEndpoint(o.GatewayURL)
	if err != nil {
		return nil, err
	}
	client, err := o.NewHTTPClient()
	if err != nil {
		return nil, err
	}
	return synapse.NewGateway(gatewayURL, client), nil
}

// normalizeEndpoint defaults addresses without a scheme to https.
func normalizeEndpoint(addr string) (string, error) {
	if addr == "" {
		return "", nil
	}
	_, scheme, err := xhttp.ParseHostScheme(addr)
	if err != nil {
		return "", errdefs.Newf(errdefs.ErrInvalidParameter, "invalid endpoint %q: %v", addr, err)
	}
	if scheme == "" {
		return "https://" + addr, nil
	}
	return addr, nil
}
