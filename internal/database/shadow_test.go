package database

import (
	"context"
	"strings"
	"testing"
)

func TestStripForeignKeys(t *testing.T) {
	ddl := "CREATE TABLE files (\n    id INTEGER PRIMARY KEY,\n    parent_id INTEGER REFERENCES files(id) ON DELETE CASCADE,\n    hidden BOOLEAN\n)"

	got := stripForeignKeys(renameTable(ddl, shadowTable))

	if !strings.HasPrefix(got, "CREATE TABLE "+shadowTable+" (") {
		t.Errorf("renamed DDL = %q", got)
	}
	if strings.Contains(got, "REFERENCES") || strings.Contains(got, "CASCADE") {
		t.Errorf("foreign key survived: %q", got)
	}
	if !strings.Contains(got, "parent_id INTEGER,") {
		t.Errorf("column definition damaged: %q", got)
	}
}

func TestShadowIndex_SwapReplacesLiveTable(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	mustIndex(t, idx, "/stale/old.txt", false, 1)

	shadow, err := idx.BeginShadow(ctx)
	if err != nil {
		t.Fatalf("BeginShadow() error = %v", err)
	}

	if err := shadow.DeferIndex(ctx, "/TypeA/CA/2016/report.pdf", false, 2048); err != nil {
		t.Fatalf("DeferIndex() error = %v", err)
	}
	if _, err := shadow.Index(ctx, "/TypeB", true, 0); err != nil {
		t.Fatalf("Index() error = %v", err)
	}

	// Live reads are unaffected until the swap.
	mustFind(t, idx, "/stale/old.txt")
	if got, _ := idx.FindByPath(ctx, "/TypeB"); got != nil {
		t.Error("shadow write visible in live table before Swap")
	}

	if err := shadow.Swap(ctx); err != nil {
		t.Fatalf("Swap() error = %v", err)
	}

	if got, _ := idx.FindByPath(ctx, "/stale/old.txt"); got != nil {
		t.Error("stale entry survived the swap")
	}
	doc := mustFind(t, idx, "/TypeA/CA/2016/report.pdf")
	if doc.FileSize != 2048 {
		t.Errorf("FileSize = %d, want 2048", doc.FileSize)
	}
	if n := countAll(t, idx); n != 5 {
		t.Errorf("index holds %d entries, want 5", n)
	}

	var shadows int
	if err := idx.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE name IN (?, ?)", shadowTable, nextTable).Scan(&shadows); err != nil {
		t.Fatal(err)
	}
	if shadows != 0 {
		t.Errorf("%d rebuild tables left behind", shadows)
	}

	// The swapped table keeps the cascade and the parent index.
	if err := idx.Remove(ctx, "/TypeA"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if n := countAll(t, idx); n != 1 {
		t.Errorf("index holds %d entries after cascade, want 1", n)
	}
	var indexes int
	if err := idx.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_files_parent_id'").Scan(&indexes); err != nil {
		t.Fatal(err)
	}
	if indexes != 1 {
		t.Error("parent_id index missing after swap")
	}
}

func TestShadowIndex_RemoveWithoutForeignKey(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	shadow, err := idx.BeginShadow(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer shadow.Discard(ctx)

	if _, err := shadow.Index(ctx, "/a/b/c.txt", false, 1); err != nil {
		t.Fatal(err)
	}
	if err := shadow.Remove(ctx, "/a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if got, _ := shadow.FindByPath(ctx, "/a/b/c.txt"); got != nil {
		t.Error("descendant survived removal in shadow table")
	}
}

func TestShadowIndex_Discard(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	mustIndex(t, idx, "/keep.txt", false, 3)

	shadow, err := idx.BeginShadow(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := shadow.Index(ctx, "/other.txt", false, 1); err != nil {
		t.Fatal(err)
	}
	if err := shadow.DeferIndex(ctx, "/pending.txt", false, 1); err != nil {
		t.Fatal(err)
	}

	if err := shadow.Discard(ctx); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}

	mustFind(t, idx, "/keep.txt")
	if got, _ := idx.FindByPath(ctx, "/other.txt"); got != nil {
		t.Error("discarded shadow entry reached the live table")
	}
	if n := countAll(t, idx); n != 1 {
		t.Errorf("index holds %d entries, want 1", n)
	}

	// A new rebuild can start after a discard.
	again, err := idx.BeginShadow(ctx)
	if err != nil {
		t.Fatalf("BeginShadow() after Discard error = %v", err)
	}
	again.Discard(ctx)
}

func TestShadowIndex_NestedRebuildRejected(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	shadow, err := idx.BeginShadow(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer shadow.Discard(ctx)

	if _, err := shadow.(*shadowIndex).BeginShadow(ctx); err == nil {
		t.Error("BeginShadow() on a shadow index expected error")
	}
}
