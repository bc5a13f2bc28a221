package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestFillFromSettings(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.time", Value: "2024-05-01T10:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
	}

	var info Info
	fillFromSettings(&info, settings)
	if info.GitCommit != "0123456789ab" || info.BuildTime != "2024-05-01T10:00:00Z" || !info.Modified {
		t.Errorf("info = %+v", info)
	}

	stamped := Info{GitCommit: "release", BuildTime: "today"}
	fillFromSettings(&stamped, settings)
	if stamped.GitCommit != "release" || stamped.BuildTime != "today" {
		t.Errorf("ldflags values were overwritten: %+v", stamped)
	}
}

func TestGet(t *testing.T) {
	info := Get()
	if info.Version != Version || info.GitCommit == "" || info.BuildTime == "" {
		t.Errorf("Get() = %+v", info)
	}
	if !strings.Contains(info.Platform, "/") {
		t.Errorf("Platform = %q", info.Platform)
	}
	if UserAgent() != "cloudmirror/"+Version {
		t.Errorf("UserAgent() = %q", UserAgent())
	}
}
