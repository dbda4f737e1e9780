package mod

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	pulseerrors "github.com/alexisbeaulieu97/pulse/pkg/errors"
)

// Manifest is a mod descriptor read from disk.
type Manifest struct {
	Path     string
	Metadata Metadata
}

// ErrUnknownEntrypoint is returned when a manifest names an entrypoint with
// no registered factory.
type ErrUnknownEntrypoint struct {
	Mod        string
	Entrypoint string
}

func (e ErrUnknownEntrypoint) Error() string {
	return fmt.Sprintf("mod '%s' names unknown entrypoint '%s'\nHint: register a factory for the entrypoint", e.Mod, e.Entrypoint)
}

// ParseManifest decodes one YAML manifest. Unknown keys are rejected.
func ParseManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, pulseerrors.NewParseError(path, 0, err)
	}

	var meta Metadata
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&meta); err != nil {
		return Manifest{}, pulseerrors.NewParseError(path, pulseerrors.YAMLLine(err), err)
	}
	if meta.Entrypoint == "" {
		meta.Entrypoint = meta.ID
	}
	return Manifest{Path: path, Metadata: meta}, nil
}

// DiscoverManifests parses every *.yaml and *.yml file directly inside dir,
// in lexical file order. Parse failures are returned alongside the manifests
// that did parse.
func DiscoverManifests(dir string) ([]Manifest, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{pulseerrors.NewParseError(dir, 0, err)}
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	manifests := make([]Manifest, 0, len(paths))
	var errs []error
	for _, path := range paths {
		manifest, err := ParseManifest(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		manifests = append(manifests, manifest)
	}
	return manifests, errs
}
