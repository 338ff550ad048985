package dv_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"docvault/internal/database"
	"docvault/internal/dv"
	"docvault/internal/testutil"
)

type fixture struct {
	svc     *dv.StorageService
	adapter *testutil.FaultyAdapter
	index   *database.SQLiteIndex
}

func newFixture(t *testing.T, files map[string]string) fixture {
	t.Helper()
	a := testutil.NewFaultyAdapter(testutil.NewSeededAdapter(t, files))
	idx := testutil.NewTestIndex(t)
	return fixture{svc: dv.NewStorageService(a, idx, dv.NewNopLogger()), adapter: a, index: idx}
}

func (f fixture) content(t *testing.T, path string) string {
	t.Helper()
	rc, err := f.adapter.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("Read(%s) error = %v", path, err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	return string(data)
}

func (f fixture) indexed(t *testing.T, path string) *dv.File {
	t.Helper()
	got, err := f.index.FindByPath(context.Background(), path)
	if err != nil {
		t.Fatalf("FindByPath(%s) error = %v", path, err)
	}
	return got
}

func domainCode(err error) string {
	var d *dv.DomainError
	if errors.As(err, &d) {
		return d.Code
	}
	return ""
}

func TestStorageService_CreateFile(t *testing.T) {
	ctx := context.Background()

	t.Run("stores bytes then indexes the document", func(t *testing.T) {
		f := newFixture(t, nil)

		got, err := f.svc.CreateFile(ctx, "/TypeA/CA/2016/report.pdf", strings.NewReader("pdf-bytes"))
		if err != nil {
			t.Fatalf("CreateFile() error = %v", err)
		}
		if got.FileSize != 9 || got.Slug != "typea/ca/2016/report-pdf" {
			t.Errorf("CreateFile() = %+v", got)
		}
		if c := f.content(t, "/TypeA/CA/2016/report.pdf"); c != "pdf-bytes" {
			t.Errorf("stored content = %q", c)
		}
		if ca := f.indexed(t, "/TypeA/CA"); ca == nil || ca.Name != "California" {
			t.Errorf("ancestor /TypeA/CA = %+v", ca)
		}
	})

	t.Run("overwrite refreshes the size", func(t *testing.T) {
		f := newFixture(t, nil)
		first, _ := f.svc.CreateFile(ctx, "/a.txt", strings.NewReader("one"))
		second, err := f.svc.CreateFile(ctx, "/a.txt", strings.NewReader("three"))
		if err != nil {
			t.Fatalf("CreateFile() error = %v", err)
		}
		if second.ID != first.ID || second.FileSize != 5 {
			t.Errorf("rewrite = %+v, want id %d size 5", second, first.ID)
		}
	})

	t.Run("physical failure leaves the index alone", func(t *testing.T) {
		f := newFixture(t, nil)
		f.adapter.FailWrite["/bad.txt"] = true

		_, err := f.svc.CreateFile(ctx, "/bad.txt", strings.NewReader("x"))
		var storageErr *dv.StorageAdapterError
		if !errors.As(err, &storageErr) {
			t.Fatalf("CreateFile() error = %v, want StorageAdapterError", err)
		}
		if f.indexed(t, "/bad.txt") != nil {
			t.Error("failed write was indexed")
		}
	})

	t.Run("index failure after store is a consistency error", func(t *testing.T) {
		f := newFixture(t, nil)
		if _, err := f.svc.CreateFile(ctx, "/Report", strings.NewReader("one")); err != nil {
			t.Fatal(err)
		}

		_, err := f.svc.CreateFile(ctx, "/report", strings.NewReader("two"))
		var consistency *dv.IndexConsistencyError
		if !errors.As(err, &consistency) || !errors.Is(err, dv.ErrSlugCollision) {
			t.Fatalf("CreateFile() error = %v, want IndexConsistencyError wrapping ErrSlugCollision", err)
		}
		// The bytes were stored; the index did not follow.
		if c := f.content(t, "/report"); c != "two" {
			t.Errorf("stored content = %q", c)
		}
		if dv.ProblemFor(err).Code != "slug_collision" {
			t.Errorf("ProblemFor() = %+v", dv.ProblemFor(err))
		}
	})

	t.Run("root is rejected", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.CreateFile(ctx, "/", strings.NewReader("x"))
		if domainCode(err) != dv.CodeRootOperation {
			t.Errorf("CreateFile(/) error = %v, want root_operation", err)
		}
	})
}

func TestStorageService_CreateDirectory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	dir, err := f.svc.CreateDirectory(ctx, "/Archive/TX")
	if err != nil {
		t.Fatalf("CreateDirectory() error = %v", err)
	}
	if dir.Name != "Texas" || !dir.IsDir() {
		t.Errorf("CreateDirectory() = %+v", dir)
	}
	exists, err := f.adapter.IsFileExists(ctx, "/Archive/TX")
	if err != nil || !exists {
		t.Errorf("directory not created physically: %v, %v", exists, err)
	}

	again, err := f.svc.CreateDirectory(ctx, "/Archive/TX")
	if err != nil || again.ID != dir.ID {
		t.Errorf("second CreateDirectory() = %+v, %v; want same entry", again, err)
	}
}

func TestStorageService_Lookup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	doc, _ := f.svc.CreateFile(ctx, "/Legal Docs/Contract Final.pdf", strings.NewReader("signed"))

	bySlug, err := f.svc.GetFile(ctx, "legal-docs/contract-final-pdf")
	if err != nil || bySlug.ID != doc.ID {
		t.Errorf("GetFile() = %+v, %v", bySlug, err)
	}
	byPath, err := f.svc.GetFileByPath(ctx, "Legal Docs/Contract Final.pdf")
	if err != nil || byPath.ID != doc.ID {
		t.Errorf("GetFileByPath() = %+v, %v", byPath, err)
	}

	if _, err := f.svc.GetFile(ctx, "nope"); !errors.Is(err, dv.ErrNotFound) {
		t.Errorf("GetFile(nope) error = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.GetFileByPath(ctx, "/nope"); !errors.Is(err, dv.ErrNotFound) {
		t.Errorf("GetFileByPath(/nope) error = %v, want ErrNotFound", err)
	}

	rc, err := f.svc.Open(ctx, doc)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "signed" {
		t.Errorf("Open() content = %q", data)
	}

	dir, _ := f.svc.GetFileByPath(ctx, "/Legal Docs")
	if _, err := f.svc.Open(ctx, dir); domainCode(err) != dv.CodeNotADirectory {
		t.Errorf("Open(directory) error = %v", err)
	}
}

func TestStorageService_Move(t *testing.T) {
	ctx := context.Background()
	seed := func(t *testing.T) fixture {
		t.Helper()
		f := newFixture(t, nil)
		for _, p := range []string{"/TypeA/CA/2016/report.pdf", "/TypeA/notes.txt"} {
			if _, err := f.svc.CreateFile(ctx, p, strings.NewReader(p)); err != nil {
				t.Fatal(err)
			}
		}
		return f
	}

	t.Run("moves bytes and index entries", func(t *testing.T) {
		f := seed(t)
		before := f.indexed(t, "/TypeA/CA/2016/report.pdf")

		if err := f.svc.Move(ctx, "/TypeA/CA", "/Archive/TX"); err != nil {
			t.Fatalf("Move() error = %v", err)
		}

		after := f.indexed(t, "/Archive/TX/2016/report.pdf")
		if after == nil || after.ID != before.ID {
			t.Fatalf("moved document = %+v, want id %d", after, before.ID)
		}
		if c := f.content(t, "/Archive/TX/2016/report.pdf"); c != "/TypeA/CA/2016/report.pdf" {
			t.Errorf("moved content = %q", c)
		}
		if f.indexed(t, "/TypeA/CA") != nil {
			t.Error("source still indexed")
		}
		if ok, _ := f.adapter.IsFileExists(ctx, "/TypeA/CA"); ok {
			t.Error("source still stored")
		}
	})

	t.Run("same path is a no-op", func(t *testing.T) {
		f := seed(t)
		if err := f.svc.Move(ctx, "/TypeA", "/TypeA/"); err != nil {
			t.Errorf("Move() to itself error = %v", err)
		}
	})

	tests := []struct {
		name     string
		src      string
		dest     string
		prepare  func(f fixture)
		wantCode string
	}{
		{name: "missing source", src: "/nope", dest: "/x", wantCode: dv.CodeSourceMissing},
		{name: "indexed destination", src: "/TypeA/notes.txt", dest: "/TypeA/CA", wantCode: dv.CodeDestinationExists},
		{
			name: "destination only in storage",
			src:  "/TypeA/notes.txt",
			dest: "/stray.txt",
			prepare: func(f fixture) {
				f.adapter.Adapter.CreateFile(ctx, "/stray.txt", strings.NewReader("unindexed"))
			},
			wantCode: dv.CodeDestinationExists,
		},
		{name: "into own subtree", src: "/TypeA", dest: "/TypeA/CA/inner", wantCode: dv.CodeMoveIntoSelf},
		{name: "root", src: "/", dest: "/x", wantCode: dv.CodeRootOperation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := seed(t)
			if tt.prepare != nil {
				tt.prepare(f)
			}
			err := f.svc.Move(ctx, tt.src, tt.dest)
			if got := domainCode(err); got != tt.wantCode {
				t.Errorf("Move(%s, %s) error = %v, want code %s", tt.src, tt.dest, err, tt.wantCode)
			}
			if dv.ProblemFor(err).Code != tt.wantCode {
				t.Errorf("ProblemFor() = %+v", dv.ProblemFor(err))
			}
		})
	}

	t.Run("physical failure leaves the index alone", func(t *testing.T) {
		f := seed(t)
		f.adapter.FailWrite["/TypeA/notes.txt"] = true

		err := f.svc.Move(ctx, "/TypeA/notes.txt", "/notes.txt")
		if !errors.Is(err, testutil.ErrInjected) {
			t.Fatalf("Move() error = %v, want injected failure", err)
		}
		if f.indexed(t, "/TypeA/notes.txt") == nil || f.indexed(t, "/notes.txt") != nil {
			t.Error("index changed after a failed physical move")
		}
	})
}

func TestStorageService_Remove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.svc.CreateFile(ctx, "/TypeA/CA/2016/report.pdf", strings.NewReader("x"))
	f.svc.CreateFile(ctx, "/TypeA/notes.txt", strings.NewReader("y"))

	if err := f.svc.Remove(ctx, "/TypeA/CA"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	for _, p := range []string{"/TypeA/CA", "/TypeA/CA/2016", "/TypeA/CA/2016/report.pdf"} {
		if f.indexed(t, p) != nil {
			t.Errorf("%s still indexed", p)
		}
	}
	if ok, _ := f.adapter.IsFileExists(ctx, "/TypeA/CA"); ok {
		t.Error("/TypeA/CA still stored")
	}
	if f.indexed(t, "/TypeA/notes.txt") == nil {
		t.Error("sibling removed")
	}

	if err := f.svc.Remove(ctx, "/"); domainCode(err) != dv.CodeRootOperation {
		t.Errorf("Remove(/) error = %v", err)
	}
}

func TestStorageService_HiddenAndList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	for _, p := range []string{"/a.txt", "/b.txt", "/c.txt"} {
		f.svc.CreateFile(ctx, p, strings.NewReader(p))
	}

	if err := f.svc.SetHidden(ctx, "/b.txt", true); err != nil {
		t.Fatalf("SetHidden() error = %v", err)
	}

	count := func(show bool) int64 {
		n, err := f.svc.List("/").ShowHidden(show).Count(ctx)
		if err != nil {
			t.Fatal(err)
		}
		return n
	}
	if got := count(false); got != 2 {
		t.Errorf("visible entries = %d, want 2", got)
	}
	if got := count(true); got != 3 {
		t.Errorf("all entries = %d, want 3", got)
	}

	if err := f.svc.SetHidden(ctx, "/b.txt", false); err != nil {
		t.Fatal(err)
	}
	if got := count(false); got != 3 {
		t.Errorf("visible entries after unhide = %d, want 3", got)
	}

	if err := f.svc.SetHidden(ctx, "/missing", true); !errors.Is(err, dv.ErrNotFound) {
		t.Errorf("SetHidden(/missing) error = %v, want ErrNotFound", err)
	}
}
