package build

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime/debug"
)

var (
	// version is the built version.
	// Set with ldflags via -ldflags="-X github.com/blue-mimo/image-labelling/pkg/build.version=v{{.Version}}".
	version string
	// Version returns the current version of the application
	Version string
	// UserAgent is the user agent used for HTTP requests
	UserAgent string
)

const (
	defaultVersion string = "v0.0.0"       // Default version if not set by ldflags
	versionFile    string = "version.json" // Version file path
)

func init() {
	if version == "" {
		// running in development, try the version.json file
		var err error
		version, err = readVersionFromFile()
		if err != nil {
			version = defaultVersion
		}
	}

	Version = version
	if rev := revision(); rev != "" {
		Version = fmt.Sprintf("%s-%s", version, rev)
	}
	UserAgent = fmt.Sprintf("image-labelling/%s", Version)
}

// revision returns the short VCS revision the binary was built from.
func revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 7 {
				return s.Value[:7]
			}
			return s.Value
		}
	}
	return ""
}

// versionJSON is used to read the local version.json file
type versionJSON struct {
	Version string `json:"version"`
}

func readVersionFromFile() (string, error) {
	file, err := os.Open(versionFile)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var vJSON versionJSON
	if err := json.NewDecoder(file).Decode(&vJSON); err != nil {
		return "", err
	}
	return vJSON.Version, nil
}
