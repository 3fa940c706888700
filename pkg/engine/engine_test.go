package engine

import (
	"testing"

	"github.com/Voskan/spineldb/internal/storage"
)

func TestNewDefaultsToOneDatabase(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	if e.DatabaseCount() != 1 {
		t.Fatalf("expected 1 database by default, got %d", e.DatabaseCount())
	}
	if e.Database(0) == nil {
		t.Fatalf("expected database 0 to exist")
	}
	if e.Database(1) != nil {
		t.Fatalf("expected out-of-range database to be nil")
	}
}

func TestWithDatabaseCountCreatesIndependentDatabases(t *testing.T) {
	e, err := New(WithDatabaseCount(3))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	if e.DatabaseCount() != 3 {
		t.Fatalf("expected 3 databases, got %d", e.DatabaseCount())
	}

	db0, db1 := e.Database(0), e.Database(1)
	db0.InsertValueFromLoad([]byte("k"), storage.New(storage.DataValue{Kind: storage.KindString, Str: []byte("v")}))
	if db1.KeyCount() != 0 {
		t.Fatalf("expected databases to be independent keyspaces")
	}
	if db0.KeyCount() != 1 {
		t.Fatalf("expected the insert to land in database 0")
	}
}

func TestDeleteKeyReturnsFalseWhenAbsentAndRemovesPresentKey(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	db := e.Database(0)
	if e.DeleteKey(db, []byte("missing")) {
		t.Fatalf("expected deleting a missing key to report false")
	}

	db.InsertValueFromLoad([]byte("k"), storage.New(storage.DataValue{Kind: storage.KindString, Str: []byte("v")}))
	if !e.DeleteKey(db, []byte("k")) {
		t.Fatalf("expected deleting a present key to report true")
	}
	if db.KeyCount() != 0 {
		t.Fatalf("expected the key to be gone after delete")
	}
}

func TestEnsureCapacityNoopWhenUnbounded(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	if err := e.EnsureCapacity(e.Database(0), 1<<40); err != nil {
		t.Fatalf("expected unbounded maxmemory to never error, got %v", err)
	}
}

func TestRewriteAOFFailsWhenNotEnabled(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	if err := e.RewriteAOF(nil); err == nil {
		t.Fatalf("expected RewriteAOF to fail when AOF was never enabled")
	}
}

func TestWithAOFEnablesRewriteAndPersistsToFile(t *testing.T) {
	dir := t.TempDir()
	aofPath := dir + "/spineldb.aof"

	e, err := New(WithAOF(aofPath))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	e.Database(0).InsertValueFromLoad([]byte("k"), storage.New(storage.DataValue{Kind: storage.KindString, Str: []byte("v")}))
	if err := e.RewriteAOF(nil); err != nil {
		t.Fatalf("RewriteAOF: %v", err)
	}
}

func TestSetReadOnlyReflectsInIsReadOnly(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	if e.IsReadOnly() {
		t.Fatalf("expected a fresh engine to not be read-only")
	}
	e.setReadOnly(true, "test")
	if !e.IsReadOnly() {
		t.Fatalf("expected setReadOnly(true) to flip IsReadOnly")
	}
}

func TestWithAutoUnlinkThresholdOverridesDefault(t *testing.T) {
	e, err := New(WithAutoUnlinkThreshold(42))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	if e.AutoUnlinkThreshold() != 42 {
		t.Fatalf("expected overridden threshold, got %d", e.AutoUnlinkThreshold())
	}
}

func TestZeroDatabaseCountIsIgnored(t *testing.T) {
	if _, err := applyOptions([]Option{WithDatabaseCount(0)}); err != nil {
		// WithDatabaseCount(0) is ignored (guarded positive check), so this
		// should still succeed with the default of 1.
		t.Fatalf("expected WithDatabaseCount(0) to be a no-op, got error: %v", err)
	}
}

