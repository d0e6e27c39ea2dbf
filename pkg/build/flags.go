// SPDX-License-Identifier: MIT
//
// Package build carries the metadata stamped into the binary at link time:
//
//	go build -ldflags "-X binaural/pkg/build.buildName=binaural \
//	    -X binaural/pkg/build.buildVersion=0.3.0 \
//	    -X binaural/pkg/build.buildCommit=$(git rev-parse --short HEAD) \
//	    -X binaural/pkg/build.buildTime=$(date -u +%FT%TZ)"
//
// Development builds run without the flags; Initialize reports what is
// missing and the placeholders stay in place.
package build

import (
	"errors"
	"fmt"
)

// Description is the one-line summary shown by the CLI.
const Description = "Real-time 7.1 to binaural stereo virtualizer"

type ldFlags struct {
	Name    string
	Time    string
	Commit  string
	Version string
}

// String renders the flags for --version output and startup logs.
func (f *ldFlags) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", f.Name, f.Version, f.Commit, f.Time)
}

// Populated by -ldflags during compilation.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &ldFlags{
		Name:    "binaural",
		Time:    "unknown",
		Commit:  "unknown",
		Version: "dev",
	}
)

// Initialize copies the link-time values into the build flags. Every missing
// value is reported in the returned error; the values that are present are
// still applied so a partially stamped binary shows what it knows.
func Initialize() error {
	var errs []error
	apply := func(dst *string, src, name string) {
		if src == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
			return
		}
		*dst = src
	}

	apply(&buildFlags.Name, buildName, "BuildName")
	apply(&buildFlags.Time, buildTime, "BuildTime")
	apply(&buildFlags.Commit, buildCommit, "BuildCommit")
	apply(&buildFlags.Version, buildVersion, "BuildVersion")

	return errors.Join(errs...)
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}
