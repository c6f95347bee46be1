package novel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrEmptyStructure is returned when no section survives parsing.
	ErrEmptyStructure = errors.New("structure has no sections")

	// ErrNotObject is returned when the structure payload is not a JSON object.
	ErrNotObject = errors.New("structure must be a JSON object")
)

// PathSeparator joins node titles into a section key.
const PathSeparator = " > "

// Node is one chapter or scene. A node with children is a branch; its
// prose is written through its leaves.
type Node struct {
	Title       string
	Description string
	Children    []*Node
	Path        []string
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// Key is the unique section key derived from the node's path.
func (n *Node) Key() string { return strings.Join(n.Path, PathSeparator) }

// Structure is an ordered chapter/scene tree.
type Structure struct {
	Sections []*Node

	// Quarantined holds values that are neither a description nor a
	// nested section, keyed by their path in the source document.
	Quarantined map[string]json.RawMessage
}

// Annotation keys are identifier-shaped: lowercase with an underscore, or
// one of a few single-word field names. They describe a section rather
// than name one.
var annotationPattern = regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)+$`)

var annotationWords = map[string]bool{
	"description": true,
	"summary":     true,
	"characters":  true,
	"tone":        true,
	"purpose":     true,
	"setting":     true,
	"themes":      true,
	"title":       true,
	"notes":       true,
}

// descriptionKeys become the owning node's Description when string valued.
var descriptionKeys = map[string]bool{
	"description":  true,
	"summary":      true,
	"plot":         true,
	"plot_summary": true,
}

// wrapperTitles are single top-level keys that wrap the real tree.
var wrapperTitles = map[string]bool{
	"structure":       true,
	"novel_structure": true,
	"plot_structure":  true,
	"outline":         true,
	"chapters":        true,
	"novel":           true,
	"book":            true,
}

func isAnnotation(key string) bool {
	return annotationWords[key] || descriptionKeys[key] || annotationPattern.MatchString(key)
}

// ParseStructure decodes a structure payload preserving document key order.
// String values are leaves, objects are branches. Annotation keys supply a
// branch description or are quarantined, as are arrays, numbers, booleans
// and nulls. Objects with no surviving section collapse into a leaf when
// they carry a description and are quarantined otherwise.
func ParseStructure(data []byte) (*Structure, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, ErrNotObject
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("invalid structure JSON: %w", err)
	}
	var prefix []string
	if len(top) == 1 {
		for k, v := range top {
			v = bytes.TrimSpace(v)
			if wrapperTitles[normalizeKey(k)] && len(v) > 0 && v[0] == '{' {
				data = v
				prefix = []string{k}
			}
		}
	}

	s := &Structure{Quarantined: make(map[string]json.RawMessage)}
	sections, _, err := s.object(data, prefix)
	if err != nil {
		return nil, err
	}
	assignPaths(sections, nil)
	s.Sections = sections
	if len(sections) == 0 {
		return nil, ErrEmptyStructure
	}
	return s, nil
}

func (s *Structure) object(raw []byte, path []string) ([]*Node, string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, "", fmt.Errorf("invalid structure JSON: %w", err)
	}

	var (
		children []*Node
		desc     string
		seen     = make(map[string]int)
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, "", fmt.Errorf("invalid structure JSON: %w", err)
		}
		key, _ := tok.(string)
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, "", fmt.Errorf("invalid structure JSON: %w", err)
		}
		at := appendPath(path, key)

		if strings.TrimSpace(key) == "" {
			s.quarantine(at, val)
			continue
		}
		if isAnnotation(key) {
			if text, ok := stringValue(val); ok && desc == "" && descriptionKeys[key] {
				desc = text
				continue
			}
			s.quarantine(at, val)
			continue
		}

		switch kindOf(val) {
		case '"':
			text, _ := stringValue(val)
			children = append(children, &Node{Title: uniqueTitle(seen, key), Description: text})
		case '{':
			sub, d, err := s.object(val, at)
			if err != nil {
				return nil, "", err
			}
			if len(sub) == 0 && d == "" {
				s.quarantine(at, val)
				continue
			}
			children = append(children, &Node{Title: uniqueTitle(seen, key), Description: d, Children: sub})
		default:
			s.quarantine(at, val)
		}
	}
	return children, desc, nil
}

func (s *Structure) quarantine(path []string, val json.RawMessage) {
	s.Quarantined[strings.Join(path, PathSeparator)] = append(json.RawMessage(nil), val...)
}

func appendPath(path []string, key string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, key)
}

func kindOf(raw json.RawMessage) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}

func stringValue(raw json.RawMessage) (string, bool) {
	var s string
	if kindOf(raw) != '"' || json.Unmarshal(raw, &s) != nil {
		return "", false
	}
	return strings.TrimSpace(s), true
}

// uniqueTitle disambiguates repeated sibling titles.
func uniqueTitle(seen map[string]int, title string) string {
	seen[title]++
	if n := seen[title]; n > 1 {
		return title + " (" + strconv.Itoa(n) + ")"
	}
	return title
}

func assignPaths(nodes []*Node, parent []string) {
	for _, n := range nodes {
		n.Path = appendPath(parent, n.Title)
		assignPaths(n.Children, n.Path)
	}
}

// Walk visits nodes depth-first in document order. Returning an error stops
// the walk.
func (s *Structure) Walk(fn func(n *Node, depth int) error) error {
	var visit func(nodes []*Node, depth int) error
	visit = func(nodes []*Node, depth int) error {
		for _, n := range nodes {
			if err := fn(n, depth); err != nil {
				return err
			}
			if err := visit(n.Children, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(s.Sections, 0)
}

// Titles returns every node title flattened in document order.
func (s *Structure) Titles() []string {
	var titles []string
	_ = s.Walk(func(n *Node, _ int) error {
		titles = append(titles, n.Title)
		return nil
	})
	return titles
}

// Leaves returns the nodes that receive prose, in document order.
func (s *Structure) Leaves() []*Node {
	var leaves []*Node
	_ = s.Walk(func(n *Node, _ int) error {
		if n.IsLeaf() {
			leaves = append(leaves, n)
		}
		return nil
	})
	return leaves
}

// Find returns the node with the given key.
func (s *Structure) Find(key string) (*Node, bool) {
	var found *Node
	_ = s.Walk(func(n *Node, _ int) error {
		if n.Key() == key {
			found = n
			return errStop
		}
		return nil
	})
	return found, found != nil
}

var errStop = errors.New("stop")

// Outline renders the tree as indented text for prompts.
func (s *Structure) Outline() string {
	var sb strings.Builder
	_ = s.Walk(func(n *Node, depth int) error {
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString("- ")
		sb.WriteString(n.Title)
		if n.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(n.Description)
		}
		sb.WriteString("\n")
		return nil
	})
	return strings.TrimRight(sb.String(), "\n")
}
