package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	projectVersionFile   = "PROJECT_VERSION"
	projectBuildDateFile = "PROJECT_BUILD_DATE"
	projectCommitFile    = "PROJECT_COMMIT_HASH"
)

// BuildConfig is the build metadata written next to the binary by the
// release pipeline.
type BuildConfig struct {
	GitTag    string
	GitHash   string
	BuildDate uint64
}

func ReadBuildVersion() (*BuildConfig, error) {
	return readBuildVersion(".")
}

func readBuildVersion(dir string) (*BuildConfig, error) {
	read := func(name string) (string, error) {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", errors.Wrapf(err, "reading %s", name)
		}

		return strings.TrimSpace(string(b)), nil
	}

	gitTag, err := read(projectVersionFile)
	if err != nil {
		return nil, err
	}
	gitHash, err := read(projectCommitFile)
	if err != nil {
		return nil, err
	}
	buildDateText, err := read(projectBuildDateFile)
	if err != nil {
		return nil, err
	}

	buildDate, err := time.Parse(time.RFC3339, buildDateText)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", projectBuildDateFile)
	}

	return &BuildConfig{
		GitTag:    gitTag,
		GitHash:   gitHash,
		BuildDate: uint64(buildDate.Unix()),
	}, nil
}
