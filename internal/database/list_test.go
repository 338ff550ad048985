package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"docvault/internal/dv"
)

func collect(t *testing.T, b dv.ListBuilder) []string {
	t.Helper()
	var paths []string
	for f, err := range b.All(context.Background()) {
		if err != nil {
			t.Fatalf("All() error = %v", err)
		}
		paths = append(paths, f.PublicPath)
	}
	return paths
}

func collectErr(b dv.ListBuilder) error {
	for _, err := range b.All(context.Background()) {
		if err != nil {
			return err
		}
	}
	return nil
}

func TestListBuilder_Pagination(t *testing.T) {
	idx := newTestIndex(t)
	for i := range 15 {
		mustIndex(t, idx, fmt.Sprintf("/docs/file%02d.txt", i), false, int64(i))
	}

	first := collect(t, idx.CreateFileListBuilder("/docs").SetLimit(10))
	if len(first) != 10 {
		t.Fatalf("first page has %d entries, want 10", len(first))
	}
	if first[0] != "/docs/file00.txt" || first[9] != "/docs/file09.txt" {
		t.Errorf("first page = %v", first)
	}

	second := collect(t, idx.CreateFileListBuilder("/docs").SetLimit(10).SetOffset(10))
	if len(second) != 5 {
		t.Fatalf("second page has %d entries, want 5", len(second))
	}
	if second[0] != "/docs/file10.txt" {
		t.Errorf("second page starts at %s, want /docs/file10.txt", second[0])
	}

	n, err := idx.CreateFileListBuilder("/docs").SetLimit(10).Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 15 {
		t.Errorf("Count() = %d, want 15 regardless of limit", n)
	}
}

func TestListBuilder_PagesInternally(t *testing.T) {
	idx := newTestIndex(t)
	for i := range 7 {
		mustIndex(t, idx, fmt.Sprintf("/p/%d", i), false, 1)
	}

	b := idx.CreateFileListBuilder("/p").(*listBuilder)
	b.pageSize = 3
	if got := collect(t, b); len(got) != 7 {
		t.Errorf("got %d entries across pages, want 7", len(got))
	}

	b = idx.CreateFileListBuilder("/p").SetLimit(5).(*listBuilder)
	b.pageSize = 2
	if got := collect(t, b); len(got) != 5 {
		t.Errorf("got %d entries with limit 5, want 5", len(got))
	}
}

func TestListBuilder_EarlyStop(t *testing.T) {
	idx := newTestIndex(t)
	for i := range 5 {
		mustIndex(t, idx, fmt.Sprintf("/e/%d", i), false, 1)
	}

	seen := 0
	for _, err := range idx.CreateFileListBuilder("/e").All(context.Background()) {
		if err != nil {
			t.Fatal(err)
		}
		seen++
		if seen == 2 {
			break
		}
	}
	if seen != 2 {
		t.Errorf("seen = %d, want 2", seen)
	}

	// The connection is free again after an early stop.
	mustIndex(t, idx, "/e/after", false, 1)
}

func TestListBuilder_DefaultOrderAndOrderBy(t *testing.T) {
	idx := newTestIndex(t)
	mustIndex(t, idx, "/o/b.txt", false, 30)
	mustIndex(t, idx, "/o/a.txt", false, 10)
	mustIndex(t, idx, "/o/zdir", true, 0)
	mustIndex(t, idx, "/o/c.txt", false, 20)

	got := collect(t, idx.CreateFileListBuilder("/o"))
	want := []string{"/o/zdir", "/o/a.txt", "/o/b.txt", "/o/c.txt"}
	if !slices.Equal(got, want) {
		t.Errorf("default order = %v, want %v", got, want)
	}

	orders, err := dv.ParseOrders("fileSize:desc")
	if err != nil {
		t.Fatal(err)
	}
	got = collect(t, idx.CreateFileListBuilder("/o").OrderBy(orders...))
	want = []string{"/o/b.txt", "/o/c.txt", "/o/a.txt", "/o/zdir"}
	if !slices.Equal(got, want) {
		t.Errorf("fileSize desc = %v, want %v", got, want)
	}
}

func TestListBuilder_InvalidOrder(t *testing.T) {
	idx := newTestIndex(t)
	mustIndex(t, idx, "/x", true, 0)

	b := idx.CreateFileListBuilder("/").OrderBy(dv.Order{Field: "created", Direction: dv.Asc})
	if err := collectErr(b); !errors.Is(err, dv.ErrInvalidOrder) {
		t.Errorf("All() error = %v, want ErrInvalidOrder", err)
	}
	if _, err := b.Count(context.Background()); !errors.Is(err, dv.ErrInvalidOrder) {
		t.Errorf("Count() error = %v, want ErrInvalidOrder", err)
	}
}

func TestListBuilder_Filters(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	mustIndex(t, idx, "/TypeA/CA/2016/report.pdf", false, 2048)
	mustIndex(t, idx, "/TypeA/CA/2016/summary.pdf", false, 10)
	mustIndex(t, idx, "/TypeA/notes.txt", false, 1)
	mustIndex(t, idx, "/TypeB", true, 0)
	if err := idx.SetHidden(ctx, "/TypeA/CA/2016/summary.pdf", true); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		b    dv.ListBuilder
		want []string
	}{
		{
			name: "root lists top level only",
			b:    idx.CreateFileListBuilder("/"),
			want: []string{"/TypeA", "/TypeB"},
		},
		{
			name: "directory lists direct children",
			b:    idx.CreateFileListBuilder("/TypeA"),
			want: []string{"/TypeA/CA", "/TypeA/notes.txt"},
		},
		{
			name: "hidden entries are excluded",
			b:    idx.CreateFileListBuilder("/TypeA/CA/2016"),
			want: []string{"/TypeA/CA/2016/report.pdf"},
		},
		{
			name: "hidden entries on request",
			b:    idx.CreateFileListBuilder("/TypeA/CA/2016").ShowHidden(true),
			want: []string{"/TypeA/CA/2016/report.pdf", "/TypeA/CA/2016/summary.pdf"},
		},
		{
			name: "recursive listing orders by kind then display name",
			b:    idx.CreateFileListBuilder("/TypeA").Recursive(true),
			want: []string{"/TypeA/CA/2016", "/TypeA/CA", "/TypeA/notes.txt", "/TypeA/CA/2016/report.pdf"},
		},
		{
			name: "search matches names",
			b:    idx.CreateFileListBuilder("/").Recursive(true).Search("repo"),
			want: []string{"/TypeA/CA/2016/report.pdf"},
		},
		{
			name: "search treats wildcards literally",
			b:    idx.CreateFileListBuilder("/").Recursive(true).Search("%"),
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := collect(t, tt.b); !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestListBuilder_Errors(t *testing.T) {
	idx := newTestIndex(t)
	mustIndex(t, idx, "/doc.txt", false, 1)

	if err := collectErr(idx.CreateFileListBuilder("/missing")); !errors.Is(err, dv.ErrNotFound) {
		t.Errorf("listing missing dir error = %v, want ErrNotFound", err)
	}

	err := collectErr(idx.CreateFileListBuilder("/doc.txt"))
	var domainErr *dv.DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != dv.CodeNotADirectory {
		t.Errorf("listing a document error = %v, want not_a_directory", err)
	}
}

func TestEscapeLike(t *testing.T) {
	tests := map[string]string{
		"plain":  "plain",
		"50%":    `50\%`,
		"a_b":    `a\_b`,
		`c:\dir`: `c:\\dir`,
	}
	for in, want := range tests {
		if got := escapeLike(in); got != want {
			t.Errorf("escapeLike(%q) = %q, want %q", in, got, want)
		}
	}
}
