package synapse_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/pincer/pkg/errdefs"
	"github.com/wuxler/pincer/pkg/pinning"
	"github.com/wuxler/pincer/pkg/pinning/synapse"
)

var testKey = "0x" + strings.Repeat("ab", 32)

func newTestService(t *testing.T, handler http.Handler, options ...synapse.Option) pinning.Service {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	backend := synapse.New(append([]synapse.Option{synapse.WithRPCURL(server.URL)}, options...)...)
	t.Cleanup(func() {
		assert.NoError(t, backend.Teardown(context.Background()))
	})

	service, err := backend.Initialize(context.Background(), testKey)
	require.NoError(t, err)
	return service
}

func TestBackend_Initialize(t *testing.T) {
	backend := synapse.New()

	testcases := []struct {
		name      string
		key       string
		expectErr bool
	}{
		{name: "valid key", key: testKey},
		{name: "uppercase hex", key: "0x" + strings.Repeat("AB", 32)},
		{name: "empty", key: "", expectErr: true},
		{name: "missing prefix", key: strings.Repeat("ab", 32), expectErr: true},
		{name: "too short", key: "0xabcd", expectErr: true},
		{name: "not hex", key: "0x" + strings.Repeat("zz", 32), expectErr: true},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			service, err := backend.Initialize(context.Background(), tc.key)
			if tc.expectErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errdefs.ErrInvalidParameter))
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, service)
		})
	}
}

func TestService_CreateDataset(t *testing.T) {
	meta := pinning.DatasetMetadata{
		Type:      pinning.DatasetTypeOCIImage,
		ImageName: "test/pincer-self-test",
		Source:    pinning.DatasetSource,
	}

	service := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/datasets", r.URL.Path)
		assert.Equal(t, "Bearer "+testKey, r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "0xwarm", r.Header.Get("X-Warm-Storage-Address"))

		got := pinning.DatasetMetadata{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, meta, got)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": "ds-1", "provider": "provider-7"}`))
	}), synapse.WithWarmStorageAddress("0xwarm"))

	dataset, err := service.CreateDataset(context.Background(), meta)
	require.NoError(t, err)
	assert.Equal(t, pinning.Dataset{ID: "ds-1", Provider: "provider-7"}, dataset)
}

func TestService_CreateDataset_ServerError(t *testing.T) {
	service := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := service.CreateDataset(context.Background(), pinning.DatasetMetadata{Type: pinning.DatasetTypeOCIImage})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestService_CreateDataset_MissingID(t *testing.T) {
	service := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	}))

	_, err := service.CreateDataset(context.Background(), pinning.DatasetMetadata{Type: pinning.DatasetTypeOCIImage})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no id")
}

func TestService_Pin(t *testing.T) {
	dataset := pinning.Dataset{ID: "ds-1"}
	payload := []byte("car payload")

	service := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/datasets/ds-1/pins", r.URL.Path)
		assert.Equal(t, "Bearer "+testKey, r.Header.Get("Authorization"))
		assert.Equal(t, synapse.MediaTypeCAR, r.Header.Get("Content-Type"))
		assert.Equal(t, "bafytestcid", r.Header.Get("X-Content-Id"))
		assert.Equal(t, "app:latest", r.Header.Get("X-Pin-Name"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, payload, body)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"content_id": "bafytestcid", "status": "pinned"}`))
	}))

	receipt, err := service.Pin(context.Background(), dataset, payload, "bafytestcid", pinning.PinMetadata{Name: "app:latest"})
	require.NoError(t, err)
	assert.Equal(t, pinning.PinReceipt{ContentID: "bafytestcid", Status: "pinned"}, receipt)
}

func TestService_Pin_InsufficientFunds(t *testing.T) {
	service := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "wallet balance too low", http.StatusPaymentRequired)
	}))

	_, err := service.Pin(context.Background(), pinning.Dataset{ID: "ds-1"}, []byte("x"), "bafytestcid", pinning.PinMetadata{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, pinning.ErrInsufficientFunds))
}

func TestService_Pin_ReceiptDefaultsContentID(t *testing.T) {
	service := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status": "queued"}`))
	}))

	receipt, err := service.Pin(context.Background(), pinning.Dataset{ID: "ds-1"}, []byte("x"), "bafytestcid", pinning.PinMetadata{})
	require.NoError(t, err)
	assert.Equal(t, pinning.PinReceipt{ContentID: "bafytestcid", Status: "queued"}, receipt)
}

func TestGateway_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ipfs/bafytestcid":
			_, _ = w.Write([]byte("pinned bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	gateway := synapse.NewGateway(server.URL, nil)

	t.Run("found", func(t *testing.T) {
		rc, size, err := gateway.Fetch(context.Background(), "bafytestcid")
		require.NoError(t, err)
		defer func() {
			assert.NoError(t, rc.Close())
		}()
		assert.Equal(t, int64(len("pinned bytes")), size)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "pinned bytes", string(content))
	})

	t.Run("missing maps to not found", func(t *testing.T) {
		_, _, err := gateway.Fetch(context.Background(), "bafymissing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errdefs.ErrNotFound))
	})
}
