package pipeline

import (
	"github.com/Masterminds/semver/v3"

	"github.com/teranos/plumb/errors"
)

// InitialVersion is assigned to every newly created pipeline
const InitialVersion = "1.0.0"

// NextVersion returns the patch increment of the highest version in history.
// Basing the bump on the maximum rather than the current version keeps the
// sequence strictly increasing after a rollback.
func NextVersion(history []string) (string, error) {
	var highest *semver.Version
	for _, raw := range history {
		v, err := semver.NewVersion(raw)
		if err != nil {
			return "", errors.Wrapf(err, "invalid version %q in history", raw)
		}
		if highest == nil || v.GreaterThan(highest) {
			highest = v
		}
	}
	if highest == nil {
		return InitialVersion, nil
	}
	next := highest.IncPatch()
	return next.String(), nil
}

// HasVersion reports whether target names a version present in history.
// Comparison is semantic, so "1.0" matches "1.0.0".
func HasVersion(history []string, target string) (string, bool) {
	want, err := semver.NewVersion(target)
	if err != nil {
		return "", false
	}
	for _, raw := range history {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		if v.Equal(want) {
			return raw, true
		}
	}
	return "", false
}
