package config

import "fmt"

// CurrentVersion is the configuration format this build reads. A missing
// version is treated as current.
const CurrentVersion = 1

// VersionError reports a config file written for another format version.
type VersionError struct {
	Version int
}

func (e *VersionError) Error() string {
	if e.Version > CurrentVersion {
		return fmt.Sprintf("config version %d is newer than this build (current: %d); upgrade servicedesk", e.Version, CurrentVersion)
	}
	return fmt.Sprintf("config version %d is not supported (current: %d)", e.Version, CurrentVersion)
}

// ValidateVersion accepts only CurrentVersion.
func ValidateVersion(version int) error {
	if version == CurrentVersion {
		return nil
	}
	return &VersionError{Version: version}
}
