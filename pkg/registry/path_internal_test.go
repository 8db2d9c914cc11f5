package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_parsePath(t *testing.T) {
	testcases := []struct {
		name      string
		rest      string
		want      target
		expectErr bool
	}{
		{
			name: "api base",
			rest: "/",
			want: target{kind: kindAPIBase},
		},
		{
			name: "manifest by tag",
			rest: "/app/manifests/latest",
			want: target{kind: kindManifest, name: "app", reference: "latest"},
		},
		{
			name: "manifest by digest with nested name",
			rest: "/test/pincer-self-test/manifests/sha256:abc",
			want: target{kind: kindManifest, name: "test/pincer-self-test", reference: "sha256:abc"},
		},
		{
			name: "blob",
			rest: "/library/alpine/blobs/sha256:def",
			want: target{kind: kindBlob, name: "library/alpine", reference: "sha256:def"},
		},
		{
			name: "upload start",
			rest: "/app/blobs/uploads",
			want: target{kind: kindUploadStart, name: "app"},
		},
		{
			name: "upload start with trailing slash",
			rest: "/a/b/c/blobs/uploads/",
			want: target{kind: kindUploadStart, name: "a/b/c"},
		},
		{
			name: "upload session",
			rest: "/app/blobs/uploads/8f14e45f-ブ",
			want: target{kind: kindUpload, name: "app", reference: "8f14e45f-ブ"},
		},
		{
			name: "name containing fixed words keeps the maximal prefix",
			rest: "/mirror/blobs/app/manifests/v1",
			want: target{kind: kindManifest, name: "mirror/blobs/app", reference: "v1"},
		},
		{
			name:      "missing name",
			rest:      "/manifests/latest",
			expectErr: true,
		},
		{
			name:      "no fixed segment",
			rest:      "/just/a/name",
			expectErr: true,
		},
		{
			name:      "blobs without digest",
			rest:      "/app/blobs",
			expectErr: true,
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parsePath(tc.rest)
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
