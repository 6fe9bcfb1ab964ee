// Package buildinfo derives version metadata from the release tag and the
// VCS stamps the Go toolchain embeds.
package buildinfo

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/mod/semver"
)

const repoURL = "https://github.com/retracehq/retrace"

// tag is injected with ldflags at release build time.
var tag string

// Version returns the semantic version of the build. Development builds
// report v0.0.0-devel plus the commit; release builds report the injected
// tag. Compare with golang.org/x/mod/semver.
var Version = sync.OnceValue(func() string {
	revision, ok := vcsSetting("vcs.revision")
	var suffix string
	if ok {
		suffix = "+" + revision[:7]
	}
	if tag == "" {
		return "v0.0.0-devel" + suffix
	}
	v := tag
	// Leave tags that already carry build metadata alone.
	if semver.Build(v) == "" {
		v += suffix
	}
	return "v" + v
})

// ExternalURL returns a URL referencing the current build: the exact commit
// when the VCS stamp is present, the repository otherwise.
var ExternalURL = sync.OnceValue(func() string {
	revision, ok := vcsSetting("vcs.revision")
	if !ok {
		return repoURL
	}
	return fmt.Sprintf("%s/commit/%s", repoURL, revision)
})

// Time returns when the Git revision was committed.
func Time() (time.Time, bool) {
	value, ok := vcsSetting("vcs.time")
	if !ok {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic("couldn't parse vcs.time: " + err.Error())
	}
	return parsed, true
}

var readBuildInfo = sync.OnceValues(func() (*debug.BuildInfo, bool) {
	return debug.ReadBuildInfo()
})

func vcsSetting(key string) (string, bool) {
	info, ok := readBuildInfo()
	if !ok {
		panic("couldn't read build info")
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value, true
		}
	}
	return "", false
}
