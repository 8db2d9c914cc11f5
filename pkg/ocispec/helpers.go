package ocispec

import (
	imgspecv1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// NewDescriptorFromBytes returns a descriptor, given the content and media type.
// If no media type is specified, "application/octet-stream" will be used.
func NewDescriptorFromBytes(mediaType string, content []byte) imgspecv1.Descriptor {
	if mediaType == "" {
		mediaType = DefaultMediaType
	}
	return imgspecv1.Descriptor{
		MediaType: mediaType,
		Digest:    DigestBytes(content),
		Size:      int64(len(content)),
	}
}

// NewManifestDescriptor builds the descriptor for a raw manifest payload with
// the media type recovered from the payload itself.
func NewManifestDescriptor(content []byte) imgspecv1.Descriptor {
	return NewDescriptorFromBytes(ResolveContentType(content), content)
}
