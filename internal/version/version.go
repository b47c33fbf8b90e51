package version

import (
	"fmt"
	"runtime"
)

// Set by -ldflags "-X github.com/Brownie44l1/tumor-api/internal/version.version=..."
var (
	version   = "1.0.0"
	gitCommit = ""
	buildDate = ""
)

type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit,omitempty"`
	BuildDate string `json:"buildDate,omitempty"`
	GoVersion string `json:"goVersion"`
}

func (i Info) String() string {
	if i.GitCommit == "" {
		return i.Version
	}
	return fmt.Sprintf("%s (%s, %s)", i.Version, i.GitCommit, i.BuildDate)
}

func Get() Info {
	return Info{
		Version:   version,
		GitCommit: gitCommit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
	}
}
