package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const devVersion = "0.1.0-dev"

// Overridden at release time with -ldflags "-X".
var (
	AppName   = "TwinSync"
	Version   = devVersion
	Revision  = "HEAD"
	BuildDate = ""
)

// Info is a snapshot of the build metadata.
type Info struct {
	App       string `json:"app"`
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func Current() Info {
	return Info{
		App:       AppName,
		Version:   Version,
		Revision:  Revision,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Short renders `0.1.0 (5e23a4)`
func (i Info) Short() string {
	return fmt.Sprintf("%s (%s)", i.Version, i.Revision)
}

// Detailed renders `0.1.0 (5e23a4; go1.23.6; linux/amd64; 2026-01-01T00:00:00Z)`
func (i Info) Detailed() string {
	return fmt.Sprintf("%s (%s; %s; %s; %s)", i.Version, i.Revision, i.GoVersion, i.Platform, i.BuildDate)
}

func Short() string {
	return Current().Short()
}

func ShortWithApp() string {
	return AppName + " " + Short()
}

func Detailed() string {
	return Current().Detailed()
}

func DetailedWithApp() string {
	return AppName + " " + Detailed()
}

// mergeBuildSettings fills in whatever ldflags left at their defaults from the
// module version and VCS stamps embedded by the go toolchain.
func mergeBuildSettings(mainVersion string, settings map[string]string) {
	if Version == devVersion || Version == "" {
		if mainVersion != "" && mainVersion != "(devel)" {
			Version = strings.TrimPrefix(mainVersion, "v")
		}
	}

	if Revision == "HEAD" || Revision == "" {
		if r := settings["vcs.revision"]; r != "" {
			if settings["vcs.modified"] == "true" {
				r += "-dirty"
			}
			Revision = r
		}
	}

	if BuildDate == "" {
		BuildDate = settings["vcs.time"]
	}
}

func init() {
	if info, ok := debug.ReadBuildInfo(); ok && info != nil {
		settings := make(map[string]string, len(info.Settings))
		for _, s := range info.Settings {
			settings[s.Key] = s.Value
		}
		mergeBuildSettings(info.Main.Version, settings)
	}
	if BuildDate == "" {
		BuildDate = time.Now().UTC().Format(time.RFC3339)
	}
}
