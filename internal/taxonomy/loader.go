package taxonomy

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// versionFile is the on-disk shape of a custom taxonomy version.
type versionFile struct {
	Version struct {
		Name   string `yaml:"name"`
		Source string `yaml:"source"`
	} `yaml:"version"`
	Nodes []fileNode `yaml:"nodes"`
}

type fileNode struct {
	Kind     string     `yaml:"kind"`
	Code     string     `yaml:"code"`
	Name     string     `yaml:"name"`
	Children []fileNode `yaml:"children,omitempty"`
}

// LoadFile reads a taxonomy version from a YAML file. Node ids are derived
// from the version source and node code, so reloading the same file always
// produces the same tree.
func LoadFile(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "taxonomy: read %s", path)
	}

	var f versionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "taxonomy: parse %s", path)
	}
	if f.Version.Name == "" {
		return nil, eris.Errorf("taxonomy: %s: version.name is required", path)
	}
	if f.Version.Source == "" {
		f.Version.Source = f.Version.Name
	}

	version := Version{
		ID:     DeterministicID("version", f.Version.Name),
		Name:   f.Version.Name,
		Source: f.Version.Source,
	}

	var nodes []Node
	seen := make(map[string]bool)
	var walk func(fn fileNode, parentID, parentPath string, level int) error
	walk = func(fn fileNode, parentID, parentPath string, level int) error {
		switch fn.Kind {
		case TypeSector, TypeGeography:
		default:
			return eris.Errorf("taxonomy: %s: node %q has unknown kind %q", path, fn.Name, fn.Kind)
		}
		if fn.Code == "" || fn.Name == "" {
			return eris.Errorf("taxonomy: %s: node at level %d missing code or name", path, level)
		}
		key := fn.Kind + "/" + fn.Code
		if seen[key] {
			return eris.Errorf("taxonomy: %s: duplicate node code %s", path, key)
		}
		seen[key] = true

		n := Node{
			ID:        DeterministicID(f.Version.Source, fmt.Sprintf("%s_%s", fn.Kind, fn.Code)),
			VersionID: version.ID,
			Kind:      fn.Kind,
			Code:      fn.Code,
			Name:      fn.Name,
			ParentID:  parentID,
			Path:      parentPath + "/" + fn.Name,
			Level:     level,
		}
		nodes = append(nodes, n)
		for _, child := range fn.Children {
			if child.Kind == "" {
				child.Kind = fn.Kind
			}
			if err := walk(child, n.ID, n.Path, level+1); err != nil {
				return err
			}
		}
		return nil
	}
	for _, fn := range f.Nodes {
		if err := walk(fn, "", "", 1); err != nil {
			return nil, err
		}
	}
	if len(nodes) == 0 {
		return nil, eris.Errorf("taxonomy: %s: no nodes defined", path)
	}

	return NewTree(version, nodes), nil
}

// Load returns the built-in GICS tree when name matches the default version,
// otherwise it loads the named version from a YAML file at path.
func Load(name, path string) (*Tree, error) {
	if name == "" || name == GICSVersionName {
		return BuildGICS(), nil
	}
	if path == "" {
		return nil, eris.Errorf("taxonomy: version %q requires a taxonomy file path", name)
	}
	return LoadFile(path)
}
