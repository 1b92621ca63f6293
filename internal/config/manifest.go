package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

// LoadGearManifests reads every *.yaml/*.yml file directly under dir and
// decodes it as a axismsg.GearManifest, mirroring the teacher's
// loadTarsyYAML single-directory scan. A manifest missing a required field
// (id, entryPoint, checksum) is rejected rather than silently launched with
// zero values, since the Plugin Sandbox Host trusts these fields for
// integrity verification.
func LoadGearManifests(dir string) ([]axismsg.GearManifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, newLoadError(dir, err)
	}

	var manifests []axismsg.GearManifest
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(dir, name)
		manifest, err := loadOneManifest(path)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, manifest)
	}
	return manifests, nil
}

func loadOneManifest(path string) (axismsg.GearManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return axismsg.GearManifest{}, newLoadError(path, err)
	}

	var manifest axismsg.GearManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return axismsg.GearManifest{}, newLoadError(path, err)
	}

	if manifest.ID == "" {
		return axismsg.GearManifest{}, newLoadError(path, fmt.Errorf("manifest missing required field \"id\""))
	}
	if manifest.EntryPoint == "" {
		return axismsg.GearManifest{}, newLoadError(path, fmt.Errorf("manifest missing required field \"entryPoint\""))
	}
	if manifest.Checksum == "" {
		return axismsg.GearManifest{}, newLoadError(path, fmt.Errorf("manifest missing required field \"checksum\""))
	}
	return manifest, nil
}
