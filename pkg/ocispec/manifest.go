package ocispec

import (
	"encoding/json"

	"github.com/opencontainers/go-digest"

	"github.com/wuxler/pincer/pkg/errdefs"
)

// LayerDigests extracts the digests of all layers referenced by a raw
// manifest payload. Modern manifests (OCI and Docker v2 schema 2) list them
// under "layers", legacy schema 1 manifests under "fsLayers". Manifests
// without either, such as image indexes, yield an empty slice. No validation
// beyond well-formed JSON is performed.
func LayerDigests(content []byte) ([]digest.Digest, error) {
	// A subset of manifest fields; the rest is silently ignored by json.Unmarshal.
	layers := struct {
		Layers []struct {
			Digest digest.Digest `json:"digest"`
		} `json:"layers"`
		FSLayers []struct {
			Digest digest.Digest `json:"digest"`
			// Schema 1 names the field "blobSum".
			BlobSum digest.Digest `json:"blobSum"`
		} `json:"fsLayers"`
	}{}
	if err := json.Unmarshal(content, &layers); err != nil {
		return nil, errdefs.Newf(errdefs.ErrInvalidParameter, "invalid manifest: %v", err)
	}

	if len(layers.Layers) > 0 {
		dgsts := make([]digest.Digest, 0, len(layers.Layers))
		for _, layer := range layers.Layers {
			if layer.Digest != "" {
				dgsts = append(dgsts, layer.Digest)
			}
		}
		return dgsts, nil
	}

	dgsts := make([]digest.Digest, 0, len(layers.FSLayers))
	for _, layer := range layers.FSLayers {
		dgst := layer.Digest
		if dgst == "" {
			dgst = layer.BlobSum
		}
		if dgst != "" {
			dgsts = append(dgsts, dgst)
		}
	}
	return dgsts, nil
}
