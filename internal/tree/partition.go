// Package tree classifies the managed tree into system-owned and protected
// entries and swaps the system-owned ones for a new release.
//
// Classification is by top-level path segment only and is fixed when the
// Partition is built. File content is never consulted.
package tree

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// TempPrefix marks scratch entries created next to the live tree while
// applying or restoring. They are ignored by CheckComplete.
const TempPrefix = ".skillctl-"

// Class is the classification of a managed path.
type Class string

const (
	ClassSystem    Class = "system"
	ClassProtected Class = "protected"
	ClassUnknown   Class = "unknown"
)

// Partition splits the top-level entries of the managed tree into system
// entries (replaced by updates) and protected entries (never read or
// written by an update).
type Partition struct {
	system       []string
	protected    []string
	bySegment    map[string]Class
	manifestFile string
}

// NewPartition validates and builds a Partition. Every entry must be a single
// clean path segment; the sets must be disjoint; the system set must be
// non-empty and contain manifestFile.
func NewPartition(system, protected []string, manifestFile string) (*Partition, error) {
	if len(system) == 0 {
		return nil, fmt.Errorf("partition: system set is empty")
	}
	p := &Partition{bySegment: make(map[string]Class), manifestFile: manifestFile}
	add := func(entry string, c Class) error {
		if err := checkSegment(entry); err != nil {
			return fmt.Errorf("partition: %s entry %q: %w", c, entry, err)
		}
		if prev, ok := p.bySegment[entry]; ok {
			if prev == c {
				return fmt.Errorf("partition: duplicate %s entry %q", c, entry)
			}
			return fmt.Errorf("partition: %q is both system and protected", entry)
		}
		p.bySegment[entry] = c
		return nil
	}
	for _, e := range system {
		if err := add(e, ClassSystem); err != nil {
			return nil, err
		}
		p.system = append(p.system, e)
	}
	for _, e := range protected {
		if err := add(e, ClassProtected); err != nil {
			return nil, err
		}
		p.protected = append(p.protected, e)
	}
	if p.bySegment[manifestFile] != ClassSystem {
		return nil, fmt.Errorf("partition: manifest file %q must be a system entry", manifestFile)
	}
	sort.Strings(p.system)
	sort.Strings(p.protected)
	return p, nil
}

func checkSegment(entry string) error {
	switch {
	case entry == "":
		return fmt.Errorf("empty")
	case entry == "." || entry == "..":
		return fmt.Errorf("not a file name")
	case strings.ContainsAny(entry, `/\`):
		return fmt.Errorf("must be a top-level name, not a path")
	case strings.HasPrefix(entry, TempPrefix):
		return fmt.Errorf("reserved prefix %q", TempPrefix)
	case strings.TrimSpace(entry) != entry:
		return fmt.Errorf("leading or trailing whitespace")
	}
	return nil
}

// System returns the system entries, sorted.
func (p *Partition) System() []string {
	return append([]string(nil), p.system...)
}

// Protected returns the protected entries, sorted.
func (p *Partition) Protected() []string {
	return append([]string(nil), p.protected...)
}

// ManifestFile returns the manifest entry name.
func (p *Partition) ManifestFile() string {
	return p.manifestFile
}

// ApplyOrder returns the system entries with the manifest file last, so an
// interrupted apply never advertises the new version.
func (p *Partition) ApplyOrder() []string {
	out := make([]string, 0, len(p.system))
	for _, e := range p.system {
		if e != p.manifestFile {
			out = append(out, e)
		}
	}
	return append(out, p.manifestFile)
}

// Classify returns the class of a slash-separated path relative to the
// managed root, decided by its first segment.
func (p *Partition) Classify(rel string) Class {
	clean := path.Clean(strings.TrimPrefix(rel, "./"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
		return ClassUnknown
	}
	first, _, _ := strings.Cut(clean, "/")
	if c, ok := p.bySegment[first]; ok {
		return c
	}
	return ClassUnknown
}

// CheckComplete verifies every top-level entry under root is classified.
// Missing entries are fine; unclassified ones are a configuration error.
func (p *Partition) CheckComplete(fsys FS, root string) error {
	entries, err := fsys.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read managed tree %s: %w", root, err)
	}
	var unknown []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, TempPrefix) {
			continue
		}
		if _, ok := p.bySegment[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("managed tree %s has unclassified entries: %s", root, strings.Join(unknown, ", "))
	}
	return nil
}
