package types //nolint:revive // types is a valid package name

import (
	"regexp"
	"testing"
)

func TestVersion_Format(t *testing.T) {
	semverRegex := regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	if !semverRegex.MatchString(Version) {
		t.Errorf("Version %q is not a valid semver", Version)
	}
}

func TestLocalFormatVersion_Positive(t *testing.T) {
	if LocalFormatVersion < 1 {
		t.Errorf("LocalFormatVersion = %d, want >= 1", LocalFormatVersion)
	}
}
