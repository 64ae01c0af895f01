// Package version reports build information of pcidma programs.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

const develVersion = "(devel)"

// Info describes a pcidma build.
type Info struct {
	Module   string    `json:"module"`
	Version  string    `json:"version"`
	Commit   string    `json:"commit,omitempty"`
	Built    time.Time `json:"built"`
	Modified bool      `json:"modified"`
	Go       string    `json:"go"`
	Platform string    `json:"platform"`
}

// ShortCommit returns the abbreviated commit hash.
func (info Info) ShortCommit() string {
	if len(info.Commit) > 12 {
		return info.Commit[:12]
	}
	return info.Commit
}

func (info Info) String() string {
	return info.Version
}

var (
	getOnce sync.Once
	current Info
)

// Get returns build information of the running program.
func Get() Info {
	getOnce.Do(func() {
		bi, ok := debug.ReadBuildInfo()
		current = fromBuildInfo(bi, ok)
	})
	return current
}

func fromBuildInfo(bi *debug.BuildInfo, ok bool) (info Info) {
	info = Info{
		Version:  develVersion,
		Built:    time.Now().UTC(),
		Modified: true,
		Go:       runtime.Version(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
	if !ok {
		return info
	}

	info.Module = bi.Main.Path
	if bi.GoVersion != "" {
		info.Go = bi.GoVersion
	}
	if v := bi.Main.Version; v != "" && v != develVersion {
		// installed with 'go install module@version'
		info.Version, info.Modified = v, false
		return info
	}

	settings := map[string]string{}
	for _, kv := range bi.Settings {
		settings[kv.Key] = kv.Value
	}
	built, e := time.Parse(time.RFC3339, settings["vcs.time"])
	if settings["vcs"] != "git" || len(settings["vcs.revision"]) < 12 || e != nil {
		return info
	}

	info.Commit = settings["vcs.revision"]
	info.Built = built.UTC()
	info.Modified = settings["vcs.modified"] == "true"
	info.Version = fmt.Sprintf("v0.0.0-%s-%s", info.Built.Format("20060102150405"), info.ShortCommit())
	if info.Modified {
		info.Version += "+dirty"
	}
	return info
}
