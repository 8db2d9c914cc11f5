// Package mapping maintains the durable index that ties image references to
// content, either a local digest or a remote content id.
package mapping

import (
	"encoding/json"
	"strings"

	"github.com/wuxler/pincer/pkg/errdefs"
)

const (
	// blobsKey names both the per-image blob table and the top-level global
	// blob pool.
	blobsKey = "blobs"

	// localRefPrefix marks contentRefs that address the local store.
	localRefPrefix = "sha256:"
)

// Tree is the decoded mapping document. Keys come in several shapes that all
// have to be readable:
//
//	"<image>:<reference>": "<contentRef>"
//	"<image>:<reference>": {"manifest_cid": "<contentRef>", "blobs": {"<digest>": "<contentRef>"}}
//	"<image>":             {"<reference>": ..., "blobs": {"<digest>": "<contentRef>"}}
//	"blobs":               {"<digest>": "<contentRef>"}
//
// Values are kept as raw JSON so that shapes and keys written by other tools
// survive a load/mutate/save cycle untouched.
type Tree map[string]json.RawMessage

// manifestEntry is the object form of a manifest mapping value.
type manifestEntry struct {
	ManifestCID string            `json:"manifest_cid"`
	Blobs       map[string]string `json:"blobs,omitempty"`
}

// LookupManifest resolves (image, reference) to a contentRef. The flat
// "<image>:<reference>" key wins over the nested form. A digest reference
// that matches neither falls back to scanning the image's entries for a
// matching contentRef, which serves pull-by-digest for tags pushed earlier.
func (t Tree) LookupManifest(image, reference string) (string, bool) {
	if ref, ok := contentRefOf(t[image+":"+reference]); ok {
		return ref, true
	}
	if obj, ok := t.object(image); ok {
		if ref, ok := contentRefOf(obj[reference]); ok {
			return ref, true
		}
	}
	if strings.HasPrefix(reference, localRefPrefix) {
		prefix := image + ":"
		for key, raw := range t {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			if ref, ok := contentRefOf(raw); ok && ref == reference {
				return ref, true
			}
		}
	}
	return "", false
}

// LookupBlob resolves (image, digest) to a contentRef, preferring the
// image's own blob table over the global pool.
func (t Tree) LookupBlob(image, dgst string) (string, bool) {
	if obj, ok := t.object(image); ok {
		if ref, ok := blobRefOf(obj[blobsKey], dgst); ok {
			return ref, true
		}
	}
	return blobRefOf(t[blobsKey], dgst)
}

// AddManifest records (image, reference) as a flat key. With a non-empty
// blob map the value is the object form carrying per-layer contentRefs, else
// a bare contentRef string.
func (t Tree) AddManifest(image, reference, contentRef string, blobs map[string]string) error {
	var value any = contentRef
	if len(blobs) > 0 {
		value = manifestEntry{ManifestCID: contentRef, Blobs: blobs}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	t[image+":"+reference] = raw
	return nil
}

// SetBlob records digest -> contentRef in the image's blob table, creating
// the nested image object when missing.
func (t Tree) SetBlob(image, dgst, contentRef string) error {
	obj := map[string]json.RawMessage{}
	if raw, exists := t[image]; exists {
		if err := json.Unmarshal(raw, &obj); err != nil {
			return errdefs.Newf(errdefs.ErrInvalidParameter, "mapping entry %q is not an object: %v", image, err)
		}
	}
	blobs := map[string]string{}
	if raw, exists := obj[blobsKey]; exists {
		if err := json.Unmarshal(raw, &blobs); err != nil {
			return errdefs.Newf(errdefs.ErrInvalidParameter, "blob table of %q is malformed: %v", image, err)
		}
	}
	blobs[dgst] = contentRef

	rawBlobs, err := json.Marshal(blobs)
	if err != nil {
		return err
	}
	obj[blobsKey] = rawBlobs
	rawObj, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	t[image] = rawObj
	return nil
}

// SetManifestRef swaps the contentRef of an existing flat manifest entry,
// preserving the entry shape and any recorded blob table. Returns false when
// no such entry exists.
func (t Tree) SetManifestRef(image, reference, contentRef string) (bool, error) {
	key := image + ":" + reference
	raw, exists := t[key]
	if !exists {
		return false, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		out, err := json.Marshal(contentRef)
		if err != nil {
			return false, err
		}
		t[key] = out
		return true, nil
	}

	obj := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false, errdefs.Newf(errdefs.ErrInvalidParameter, "mapping entry %q is malformed: %v", key, err)
	}
	cidRaw, err := json.Marshal(contentRef)
	if err != nil {
		return false, err
	}
	obj["manifest_cid"] = cidRaw
	out, err := json.Marshal(obj)
	if err != nil {
		return false, err
	}
	t[key] = out
	return true, nil
}

// RemoveImage drops every entry recorded for image, both the flat
// "<image>:*" keys and the nested object, and returns how many keys were
// removed.
func (t Tree) RemoveImage(image string) int {
	removed := 0
	prefix := image + ":"
	for key := range t {
		if key == image || strings.HasPrefix(key, prefix) {
			delete(t, key)
			removed++
		}
	}
	return removed
}

// RemoveManifest drops the entry recorded for (image, reference), covering
// both the flat and the nested form, and returns how many keys were removed.
// The image's blob table is left alone because other references may still
// point at the same layers.
func (t Tree) RemoveManifest(image, reference string) (int, error) {
	removed := 0
	flat := image + ":" + reference
	if _, exists := t[flat]; exists {
		delete(t, flat)
		removed++
	}
	if obj, ok := t.object(image); ok {
		if _, exists := obj[reference]; exists {
			delete(obj, reference)
			raw, err := json.Marshal(obj)
			if err != nil {
				return removed, err
			}
			t[image] = raw
			removed++
		}
	}
	return removed, nil
}

// Manifests returns reference -> contentRef for every manifest entry
// recorded for image. Nested entries are read first so that flat keys win,
// matching lookup precedence.
func (t Tree) Manifests(image string) map[string]string {
	out := map[string]string{}
	if obj, ok := t.object(image); ok {
		for ref, raw := range obj {
			if ref == blobsKey {
				continue
			}
			if contentRef, ok := contentRefOf(raw); ok {
				out[ref] = contentRef
			}
		}
	}
	prefix := image + ":"
	for key, raw := range t {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if contentRef, ok := contentRefOf(raw); ok {
			out[strings.TrimPrefix(key, prefix)] = contentRef
		}
	}
	return out
}

// Blobs returns digest -> contentRef from the image's own blob table.
func (t Tree) Blobs(image string) map[string]string {
	out := map[string]string{}
	obj, ok := t.object(image)
	if !ok {
		return out
	}
	raw, exists := obj[blobsKey]
	if !exists {
		return out
	}
	blobs := map[string]string{}
	if err := json.Unmarshal(raw, &blobs); err != nil {
		return out
	}
	return blobs
}

// Images returns the distinct image names that have at least one entry.
func (t Tree) Images() []string {
	seen := map[string]bool{}
	for key := range t {
		if key == blobsKey {
			continue
		}
		if image, _, ok := strings.Cut(key, ":"); ok {
			seen[image] = true
			continue
		}
		if _, ok := t.object(key); ok {
			seen[key] = true
		}
	}
	images := make([]string, 0, len(seen))
	for image := range seen {
		images = append(images, image)
	}
	return images
}

// contentRefOf extracts the contentRef from a manifest mapping value of
// either shape.
func contentRefOf(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}
	var entry manifestEntry
	if err := json.Unmarshal(raw, &entry); err == nil && entry.ManifestCID != "" {
		return entry.ManifestCID, true
	}
	return "", false
}

// blobRefOf looks up a digest in a raw blob table value.
func blobRefOf(raw json.RawMessage, dgst string) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var blobs map[string]string
	if err := json.Unmarshal(raw, &blobs); err != nil {
		return "", false
	}
	ref, ok := blobs[dgst]
	return ref, ok && ref != ""
}

// object decodes the value at key as a JSON object when it is one.
func (t Tree) object(key string) (map[string]json.RawMessage, bool) {
	raw, exists := t[key]
	if !exists || len(raw) == 0 {
		return nil, false
	}
	obj := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}
