package catalog

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Output describes the file a run writes its result to. Every run gets a
// unique file named <Prefix>_<id><Ext> in Dir.
type Output struct {
	Dir    string
	Prefix string
	Ext    string
}

func (o Output) NewPath() string {
	u := uuid.New()
	return filepath.Join(o.Dir, fmt.Sprintf("%s_%s%s", o.Prefix, hex.EncodeToString(u[:]), o.Ext))
}

// VersionedDir describes a directory a run writes its results to, named after
// a param. If a directory with that name already exists, the next free name
// of the form <name>_V<n> is used instead.
type VersionedDir struct {
	Root  string
	Param string
}

// maxVersions bounds the search for a free directory name.
const maxVersions = 10000

// Reserve creates the next free versioned directory for name and returns its
// path. Creating the directory reserves the name, so concurrent callers never
// receive the same path.
func (v VersionedDir) Reserve(name string) (string, error) {
	if !filepath.IsLocal(name) || filepath.Base(name) != name {
		return "", invalidParam(v.Param, "must be a plain directory name")
	}
	if err := os.MkdirAll(v.Root, 0o755); err != nil {
		return "", err
	}
	candidate := name
	for version := 1; version <= maxVersions; version++ {
		path := filepath.Join(v.Root, candidate)
		err := os.Mkdir(path, 0o755)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
		candidate = fmt.Sprintf("%s_V%d", name, version)
	}
	return "", fmt.Errorf("no free directory name for %q in %s", name, v.Root)
}
