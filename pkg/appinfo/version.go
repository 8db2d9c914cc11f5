// Package appinfo exposes the build metadata stamped into the binary.
package appinfo

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"strings"

	"gopkg.in/yaml.v3"
)

// Stamped at build time with LDFLAGS like below:
//
//	go build -ldflags '-X github.com/wuxler/pincer/pkg/appinfo.version=v1.0.0'
var (
	// version value from the release tag, "dev" when built from a checkout
	version = "dev"
	// gitCommit output from `git rev-parse HEAD`
	gitCommit = ""
	// gitTreeState either "clean" or "dirty", from `git status --porcelain`
	gitTreeState = ""
	// buildDate output from `date -u +'%Y-%m-%dT%H:%M:%SZ'`
	buildDate = "1970-01-01T00:00:00Z"
)

// Version records the application version together with the git and
// toolchain state captured at build time.
type Version struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit,omitempty" yaml:"commit,omitempty"`
	TreeState string `json:"tree_state,omitempty" yaml:"tree_state,omitempty"`
	BuildDate string `json:"build_date,omitempty" yaml:"build_date,omitempty"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

// GetVersion returns the Version of the running binary. Binaries installed
// with `go install`, which skips the LDFLAGS stamp, fall back to the module
// build info embedded by the toolchain.
func GetVersion() Version {
	commit, state := gitCommit, gitTreeState
	if commit == "" {
		commit, state = readBuildInfo()
	}
	return Version{
		Version:   version,
		Commit:    commit,
		TreeState: state,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// readBuildInfo recovers the vcs revision from the embedded module metadata.
func readBuildInfo() (commit string, state string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			commit = setting.Value
		case "vcs.modified":
			state = "clean"
			if setting.Value == "true" {
				state = "dirty"
			}
		}
	}
	return commit, state
}

// ShortVersion returns the version with an abbreviated commit suffix,
// suitable for User-Agent strings.
func ShortVersion() string {
	v := GetVersion()
	if len(v.Commit) >= 8 {
		return v.Version + "-" + v.Commit[:8]
	}
	return v.Version
}

// NewVersionWriter returns *VersionWriter which wrapped with Version.
func NewVersionWriter(v Version) *VersionWriter {
	return &VersionWriter{
		version: v,
	}
}

// VersionWriter wraps Version to provides helpful methods.
type VersionWriter struct {
	version Version

	short   bool
	format  string
	appName string
}

// SetShort is a chain methods to set short options.
func (vw *VersionWriter) SetShort(short bool) *VersionWriter {
	vw.short = short
	return vw
}

// SetFormat is a chian methods to set format options.
func (vw *VersionWriter) SetFormat(format string) *VersionWriter {
	vw.format = format
	return vw
}

// SetAppName is a chian methods to set application name options.
func (vw *VersionWriter) SetAppName(name string) *VersionWriter {
	vw.appName = name
	return vw
}

// Version returns wrapped Version object.
func (vw VersionWriter) Version() Version {
	return vw.version
}

// Write will write version information with options into io.Writer
// and return error when failed.
func (vw VersionWriter) Write(w io.Writer) error {
	switch strings.ToLower(vw.format) {
	case "yaml", "yml":
		return yaml.NewEncoder(w).Encode(vw.version)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(vw.version)
	}
	if vw.short {
		_, err := fmt.Fprintln(w, vw.ShortLine())
		return err
	}
	_, err := fmt.Fprintf(w, "%s", vw.Extended())
	return err
}

// Line returns a one-line version string prefixed with the application
// name if set.
func (vw VersionWriter) Line() string {
	s := vw.ShortLine()
	if vw.appName != "" {
		s = vw.appName + " " + s
	}
	return s
}

// ShortLine returns a one-line version string.
func (vw VersionWriter) ShortLine() string {
	v := vw.Version()
	s := v.Version
	if v.Commit != "" {
		s += " (" + v.Commit + ")"
	}
	return s
}

// Extended returns the full multi-line version report.
func (vw VersionWriter) Extended() string {
	v := vw.version
	var sb strings.Builder
	if vw.appName != "" {
		fmt.Fprintf(&sb, "Application : %s\n", vw.appName)
	}
	fmt.Fprintf(&sb, "Version     : %s\n", v.Version)
	if v.Commit != "" {
		commit := v.Commit
		if v.TreeState != "" {
			commit += " (" + v.TreeState + ")"
		}
		fmt.Fprintf(&sb, "Commit      : %s\n", commit)
	}
	fmt.Fprintf(&sb, "BuildDate   : %s\n", v.BuildDate)
	fmt.Fprintf(&sb, "GoVersion   : %s\n", v.GoVersion)
	fmt.Fprintf(&sb, "Platform    : %s\n", v.Platform)
	return sb.String()
}
