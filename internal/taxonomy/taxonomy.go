// Package taxonomy provides the versioned classification hierarchy
// (sector/industry and geography trees) used by classification and rollups.
// Nodes are immutable per version; loading a new version creates a parallel
// node set with deterministic ids so a run is reproducible from its
// taxonomy version id alone.
package taxonomy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Classification types accepted by the validation gate and the aggregator.
const (
	TypeSector    = "sector"
	TypeIndustry  = "industry"
	TypeGeography = "geography"
)

// namespace anchors deterministic node ids. Same code, same id, across loads.
var namespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// DeterministicID derives a stable node id from a source-scoped code.
func DeterministicID(scope, code string) string {
	return uuid.NewSHA1(namespace, []byte(scope+"_"+code)).String()
}

// Node is one versioned hierarchy entry.
type Node struct {
	ID        string `json:"taxonomy_node_id" yaml:"id,omitempty"`
	VersionID string `json:"taxonomy_version_id" yaml:"-"`
	// Kind is the tree the node belongs to: sector or geography.
	Kind     string `json:"taxonomy_type" yaml:"kind,omitempty"`
	Code     string `json:"code" yaml:"code"`
	Name     string `json:"node_name" yaml:"name"`
	ParentID string `json:"parent_node_id,omitempty" yaml:"-"`
	Path     string `json:"path" yaml:"-"`
	Level    int    `json:"level" yaml:"level,omitempty"`
}

// Version identifies one immutable taxonomy release.
type Version struct {
	ID     string `json:"taxonomy_version_id"`
	Name   string `json:"version_name"`
	Source string `json:"source,omitempty"`
}

// Tree is an in-memory index over one taxonomy version's node set.
type Tree struct {
	Version Version
	nodes   []Node
	byID    map[string]Node
	byName  map[string]Node // key: kind + level + lowercased name
	byCode  map[string]Node // key: kind + "\x00" + uppercased code
}

// NewTree indexes a node set for one version.
func NewTree(version Version, nodes []Node) *Tree {
	t := &Tree{
		Version: version,
		nodes:   nodes,
		byID:    make(map[string]Node, len(nodes)),
		byName:  make(map[string]Node, len(nodes)),
		byCode:  make(map[string]Node, len(nodes)),
	}
	for _, n := range nodes {
		t.byID[n.ID] = n
		t.byName[nameKey(n.Kind, n.Level, n.Name)] = n
		t.byCode[n.Kind+"\x00"+strings.ToUpper(n.Code)] = n
	}
	return t
}

// Names repeat across levels within a tree (GICS has "Banks" as both an
// industry group and an industry), so lookup keys carry the level.
func nameKey(kind string, level int, name string) string {
	return fmt.Sprintf("%s\x00%d\x00%s", kind, level, strings.ToLower(strings.TrimSpace(name)))
}

// Nodes returns all nodes in the version, ordered by kind, level, code.
func (t *Tree) Nodes() []Node {
	out := make([]Node, len(t.nodes))
	copy(out, t.nodes)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// NodeByCode looks a node up by tree kind and source code, e.g. the GICS
// code "4510" or the ISO country code "DE".
func (t *Tree) NodeByCode(kind, code string) (Node, bool) {
	n, ok := t.byCode[kind+"\x00"+strings.ToUpper(strings.TrimSpace(code))]
	return n, ok
}

// NodeByID looks a node up by id.
func (t *Tree) NodeByID(id string) (Node, bool) {
	n, ok := t.byID[id]
	return n, ok
}

// Resolve maps a classification type and node name to the node, using exact
// (case-insensitive) name matching only. This is the anti-hallucination
// lookup: a name that does not match any node of the expected kind and level
// fails, regardless of how plausible it looks.
func (t *Tree) Resolve(classType, name string) (Node, bool) {
	kind, level, err := kindLevel(classType)
	if err != nil {
		return Node{}, false
	}
	n, ok := t.byName[nameKey(kind, level, name)]
	if !ok {
		return Node{}, false
	}
	return n, true
}

// AllowedNodeNames returns the sorted node names valid for a classification
// type, for inclusion in oracle prompts.
func (t *Tree) AllowedNodeNames(classType string) ([]string, error) {
	kind, level, err := kindLevel(classType)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, n := range t.nodes {
		if n.Kind == kind && n.Level == level {
			names = append(names, n.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// SectorOf ascends from any sector-tree node to its level-1 sector.
func (t *Tree) SectorOf(nodeID string) (Node, bool) {
	n, ok := t.byID[nodeID]
	if !ok || n.Kind != TypeSector {
		return Node{}, false
	}
	for n.Level > 1 {
		parent, ok := t.byID[n.ParentID]
		if !ok {
			return Node{}, false
		}
		n = parent
	}
	return n, true
}

// kindLevel maps a classification type to the (tree kind, node level) pair
// it selects from.
func kindLevel(classType string) (string, int, error) {
	switch classType {
	case TypeSector:
		return TypeSector, 1, nil
	case TypeIndustry:
		return TypeSector, 2, nil
	case TypeGeography:
		return TypeGeography, 2, nil
	default:
		return "", 0, eris.Errorf("taxonomy: unknown classification type %q", classType)
	}
}
