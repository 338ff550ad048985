package dv

import "time"

// Kind discriminates the two variants of a File.
type Kind string

const (
	KindDirectory Kind = "directory"
	KindDocument  Kind = "document"
)

// MaxNameLength is the longest display name or path segment accepted.
const MaxNameLength = 255

// File is a node of the logical tree: either a directory or a document.
// Both variants share one record; Ext and FileSize only carry meaning for
// documents. ParentID is a back-reference by id and is nil for entries at
// the root.
type File struct {
	ID         int64
	Kind       Kind
	Name       string
	Ext        string
	PublicPath string
	Slug       string
	FileSize   int64
	CreatedAt  time.Time
	ParentID   *int64
	Hidden     bool
}

// NewDirectory builds an unsaved directory entity below parent.
// A nil parent places the directory at the root.
func NewDirectory(name, publicPath string, parent *File, createdAt time.Time) *File {
	return &File{
		Kind:       KindDirectory,
		Name:       name,
		PublicPath: publicPath,
		Slug:       Slugify(publicPath),
		CreatedAt:  createdAt,
		ParentID:   parentID(parent),
	}
}

// NewDocument builds an unsaved document entity below parent.
func NewDocument(name, ext, publicPath string, size int64, parent *File, createdAt time.Time) *File {
	return &File{
		Kind:       KindDocument,
		Name:       name,
		Ext:        ext,
		PublicPath: publicPath,
		Slug:       Slugify(publicPath),
		FileSize:   size,
		CreatedAt:  createdAt,
		ParentID:   parentID(parent),
	}
}

func parentID(parent *File) *int64 {
	if parent == nil {
		return nil
	}
	id := parent.ID
	return &id
}

// IsDir reports whether the entity is a directory.
func (f *File) IsDir() bool {
	return f.Kind == KindDirectory
}

// DisplayName returns the name shown to users: name.ext for documents with
// an extension, the bare name otherwise.
func (f *File) DisplayName() string {
	if f.Kind == KindDocument && f.Ext != "" {
		return f.Name + "." + f.Ext
	}
	return f.Name
}
