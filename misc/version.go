// Package misc keeps build time information.
package misc

// Set by linker: -X ketav/misc.version=... -X ketav/misc.gitHash=...
var (
	version = "dev"
	gitHash = "unknown"
)

const appName = "ketav"

// GetVersion returns program version.
func GetVersion() string {
	return version
}

// GetGitHash returns git hash of the sources program was built from.
func GetGitHash() string {
	return gitHash
}

// GetAppName returns program name used for log and report files.
func GetAppName() string {
	return appName
}
