package synapse

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/wuxler/pincer/pkg/storage"
	"github.com/wuxler/pincer/pkg/util/xhttp"
	"github.com/wuxler/pincer/pkg/util/xio"
)

// DefaultGatewayURL is the public IPFS gateway used when no override is
// configured.
const DefaultGatewayURL = "https://ipfs.io"

var _ storage.RemoteFetcher = (*Gateway)(nil)

// NewGateway returns a Gateway fetching pinned content over the IPFS HTTP
// gateway at baseURL. An empty baseURL falls back to DefaultGatewayURL, a
// nil client to http.DefaultClient.
func NewGateway(baseURL string, client xhttp.Client) *Gateway {
	if baseURL == "" {
		baseURL = DefaultGatewayURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Gateway{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
}

// Gateway reads pinned content back through an IPFS HTTP gateway. It
// implements storage.RemoteFetcher; the resolver owns deadlines and local
// fallback.
type Gateway struct {
	baseURL string
	client  xhttp.Client
}

// Fetch streams the content behind contentID. The returned size is the
// response content length and may be -1 when the gateway answers chunked.
// Content that is not (yet) retrievable maps to errdefs.ErrNotFound so the
// resolver can fall back to a local copy.
func (g *Gateway) Fetch(ctx context.Context, contentID string) (io.ReadCloser, int64, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/ipfs/"+contentID, http.NoBody)
	if err != nil {
		return nil, 0, err
	}
	resp, err := g.client.Do(request) //nolint:bodyclose // ownership passes to the caller on success
	if err != nil {
		return nil, 0, xhttp.MakeRequestError(request, err)
	}
	if err := xhttp.Success(resp); err != nil {
		xio.CloseAndSkipError(resp.Body)
		return nil, 0, err
	}
	return resp.Body, resp.ContentLength, nil
}
