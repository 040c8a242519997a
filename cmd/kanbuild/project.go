package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/KonstantinTomashevich/Kan-sub009/resourcebuild"
)

// projectManifest is the YAML shape of a project definition file: the
// workspace root, the platform configuration directory, and the named
// targets within it.
type projectManifest struct {
	WorkspaceRoot     string            `yaml:"workspace_root"`
	PlatformConfigDir string            `yaml:"platform_config_dir"`
	Targets           []targetManifest  `yaml:"targets"`
}

type targetManifest struct {
	Name       string   `yaml:"name"`
	Roots      []string `yaml:"roots"`
	Visibility []string `yaml:"visibility"`
}

func loadProject(path string) (resourcebuild.Project, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return resourcebuild.Project{}, fmt.Errorf("kanbuild: reading project %q: %w", path, err)
	}
	var manifest projectManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return resourcebuild.Project{}, fmt.Errorf("kanbuild: parsing project %q: %w", path, err)
	}

	targets := make([]resourcebuild.Target, 0, len(manifest.Targets))
	for _, t := range manifest.Targets {
		targets = append(targets, resourcebuild.Target{
			Name:       t.Name,
			Roots:      t.Roots,
			Visibility: t.Visibility,
		})
	}
	return resourcebuild.Project{
		WorkspaceRoot:     manifest.WorkspaceRoot,
		PlatformConfigDir: manifest.PlatformConfigDir,
		Targets:           targets,
	}, nil
}
