package dv

import (
	"context"
	"fmt"
)

// EntityFactory turns flat paths into parent-linked entities, reusing the
// part of the chain that is already stored.
type EntityFactory struct {
	store            EntityStore
	clock            Clock
	expandStateCodes bool
}

// StateCodeDepth is the directory depth at which state codes are expanded,
// as in /TypeA/CA.
const StateCodeDepth = 2

// NewEntityFactory creates a factory persisting through store. When
// expandStateCodes is set, directories at StateCodeDepth named after a
// two-letter US state code get the state's full name as display name.
func NewEntityFactory(store EntityStore, clock Clock, expandStateCodes bool) *EntityFactory {
	return &EntityFactory{store: store, clock: clock, expandStateCodes: expandStateCodes}
}

// DirectoryName returns the display name for a directory segment found
// depth segments below the root.
func (f *EntityFactory) DirectoryName(depth int, segment string) string {
	if f.expandStateCodes && depth == StateCodeDepth {
		if name, ok := StateName(segment); ok {
			return name
		}
	}
	return segment
}

// CreateDirectoryByPath returns the directory at the path formed by
// segments, creating and storing only the missing directories. It returns
// nil for an empty segment list (the root).
func (f *EntityFactory) CreateDirectoryByPath(ctx context.Context, segments []string) (*File, error) {
	if len(segments) == 0 {
		return nil, nil
	}

	var closest *File
	idx := 0
	for ; idx < len(segments); idx++ {
		p := JoinPath(segments[:idx+1]...)
		existing, err := f.store.FindByPath(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("looking up %s: %w", p, err)
		}
		if existing == nil {
			break
		}
		if !existing.IsDir() {
			return nil, &DomainError{
				Code:    CodeNotADirectory,
				Message: "files and directories may only be added inside a directory",
				Err:     fmt.Errorf("%s is a %s", p, existing.Kind),
			}
		}
		closest = existing
	}

	parent := closest
	for ; idx < len(segments); idx++ {
		seg := segments[idx]
		if seg == "" || len(seg) > MaxNameLength {
			return nil, newDomainError(CodeInvalidName, "invalid directory name %q", seg)
		}
		dir := NewDirectory(f.DirectoryName(idx+1, seg), JoinPath(segments[:idx+1]...), parent, f.clock.Now())
		if err := f.store.Insert(ctx, dir); err != nil {
			return nil, fmt.Errorf("storing directory %s: %w", dir.PublicPath, err)
		}
		parent = dir
	}
	return parent, nil
}

// CreateDocument builds an unsaved document called name below parent. The
// name is split on its last dot into base name and extension.
func (f *EntityFactory) CreateDocument(name string, size int64, parent *File) (*File, error) {
	if name == "" || len(name) > MaxNameLength {
		return nil, newDomainError(CodeInvalidName, "invalid document name %q", name)
	}
	if parent != nil && !parent.IsDir() {
		return nil, newDomainError(CodeNotADirectory, "files and directories may only be added inside a directory")
	}
	base, ext := SplitExt(name)
	parentPath := ""
	if parent != nil {
		parentPath = parent.PublicPath
	}
	return NewDocument(base, ext, parentPath+"/"+name, size, parent, f.clock.Now()), nil
}
