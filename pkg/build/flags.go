// SPDX-License-Identifier: MIT
//
// Package build provides the build information embedded into the binary at
// compile time with linker flags: application name, build timestamp, Git
// commit hash and semantic version. It is shown by --version and logged at
// startup.
//
//	go build -ldflags "-X micscope/pkg/build.buildName=micscope -X micscope/pkg/build.buildVersion=0.1.0 ..."
package build

import (
	"errors"
	"fmt"
)

// Description is the one-line summary shown in --help.
const Description = "Live microphone spectrum analyzer"

type ldFlags struct {
	Name    string
	Time    string
	Commit  string
	Version string
}

// String formats the flags for --version and the startup log.
func (f *ldFlags) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", f.Name, f.Version, f.Commit, f.Time)
}

// Package-level variables for build information. These are populated by -ldflags
// during compilation. Development builds keep the defaults below.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &ldFlags{
		Name:    "micscope",
		Time:    "unknown",
		Commit:  "unknown",
		Version: "dev",
	}
)

// Initialize copies every ldflags variable that was set into the build
// information and reports the ones that were not. A missing flag is not
// fatal: the default stays in place, so development builds still run.
func Initialize() error {
	var errs []error
	set := func(dst *string, src, name string) {
		if src == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
			return
		}
		*dst = src
	}

	set(&buildFlags.Name, buildName, "BuildName")
	set(&buildFlags.Time, buildTime, "BuildTime")
	set(&buildFlags.Commit, buildCommit, "BuildCommit")
	set(&buildFlags.Version, buildVersion, "BuildVersion")

	return errors.Join(errs...)
}

// GetBuildFlags returns the current build information. Initialize()
// should be called first so ldflags values are applied.
func GetBuildFlags() *ldFlags {
	return buildFlags
}
