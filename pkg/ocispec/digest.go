package ocispec

import (
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/wuxler/pincer/pkg/errdefs"
)

// DigestBytes returns the canonical sha256 digest of the given content.
func DigestBytes(content []byte) digest.Digest {
	return digest.FromBytes(content)
}

// ParseDigest parses s as an "algorithm:hex" digest string. The hex portion
// is normalized to lowercase before validation so that digests received over
// the wire compare equal to locally computed ones.
func ParseDigest(s string) (digest.Digest, error) {
	dgst, err := digest.Parse(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return "", errdefs.Newf(errdefs.ErrInvalidParameter, "invalid digest %q: %v", s, err)
	}
	return dgst, nil
}

// IsDigest returns true when s is a well-formed digest string. Used to tell
// digest references apart from tags.
func IsDigest(s string) bool {
	_, err := digest.Parse(s)
	return err == nil
}
