package rules

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetworks/klaxon/internal/alerts"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "rules.db"), time.Minute)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func overspeedRule(id string, priority int) Rule {
	return Rule{
		RuleID:     id,
		SourceType: alerts.SourceOverspeeding,
		Name:       "Escalate repeated overspeeding",
		Conditions: Conditions{EscalateIfCount: 3, WindowMins: 60},
		IsActive:   true,
		Priority:   priority,
	}
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, overspeedRule("overspeed_3_in_60", 5))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}

	got, err := store.Get(ctx, "overspeed_3_in_60")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Conditions.EscalateIfCount != 3 || got.Conditions.WindowMins != 60 {
		t.Errorf("conditions round-trip: %+v", got.Conditions)
	}
	if got.Priority != 5 || !got.IsActive {
		t.Errorf("fields: priority=%d active=%v", got.Priority, got.IsActive)
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, overspeedRule("dup", 1)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := store.Create(ctx, overspeedRule("dup", 2))
	if !errors.Is(err, ErrRuleExists) {
		t.Fatalf("expected ErrRuleExists, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bad := []Rule{
		{SourceType: alerts.SourceSafety, Name: "x", Conditions: Conditions{AutoCloseIf: "document_valid"}},
		{RuleID: "r", SourceType: "BOGUS", Name: "x", Conditions: Conditions{EscalateIfCount: 1}},
		{RuleID: "r", SourceType: alerts.SourceSafety, Conditions: Conditions{EscalateIfCount: 1}},
		{RuleID: "r", SourceType: alerts.SourceSafety, Name: "x"},
	}
	for i, rule := range bad {
		if _, err := store.Create(ctx, rule); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestUpdatePartial(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, overspeedRule("r1", 1)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	inactive := false
	priority := 9
	updated, err := store.Update(ctx, "r1", Patch{IsActive: &inactive, Priority: &priority})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.IsActive || updated.Priority != 9 {
		t.Errorf("patch applied wrong: active=%v priority=%d", updated.IsActive, updated.Priority)
	}
	if updated.Name != "Escalate repeated overspeeding" {
		t.Errorf("unpatched field changed: %q", updated.Name)
	}
	if updated.UpdatedAt == nil {
		t.Error("updated_at not set")
	}

	if _, err := store.Update(ctx, "missing", Patch{Priority: &priority}); !IsNotFound(err) {
		t.Errorf("missing rule: got %v", err)
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, overspeedRule("gone", 1)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "gone"); !IsNotFound(err) {
		t.Errorf("after delete: got %v", err)
	}
	if err := store.Delete(ctx, "gone"); !IsNotFound(err) {
		t.Errorf("double delete: got %v", err)
	}
}

func TestListOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, r := range []Rule{overspeedRule("low", 1), overspeedRule("high", 10), overspeedRule("mid", 5)} {
		if _, err := store.Create(ctx, r); err != nil {
			t.Fatalf("Create %s: %v", r.RuleID, err)
		}
	}

	list, err := store.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("got %d rules", len(list))
	}
	if list[0].RuleID != "high" || list[1].RuleID != "mid" || list[2].RuleID != "low" {
		t.Errorf("order: %s, %s, %s", list[0].RuleID, list[1].RuleID, list[2].RuleID)
	}
}

func TestAllActiveServedFromCacheUntilInvalidated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Create(ctx, overspeedRule("cached", 1)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, err := store.AllActive(ctx)
	if err != nil {
		t.Fatalf("AllActive: %v", err)
	}
	if len(first[alerts.SourceOverspeeding]) != 1 {
		t.Fatalf("grouping: %+v", first)
	}

	// Snapshot is served until a mutation drops it.
	if _, ok := store.cache.get(); !ok {
		t.Fatal("snapshot not cached after miss")
	}

	docRule := Rule{
		RuleID:     "doc_renewed",
		SourceType: alerts.SourceDocumentExpiry,
		Name:       "Close renewed documents",
		Conditions: Conditions{AutoCloseIf: AutoCloseDocumentValid},
		IsActive:   true,
		Priority:   1,
	}
	if _, err := store.Create(ctx, docRule); err != nil {
		t.Fatalf("Create doc rule: %v", err)
	}
	if _, ok := store.cache.get(); ok {
		t.Fatal("mutation must invalidate the snapshot")
	}

	second, err := store.AllActive(ctx)
	if err != nil {
		t.Fatalf("AllActive after mutation: %v", err)
	}
	if len(second[alerts.SourceDocumentExpiry]) != 1 {
		t.Errorf("new rule missing from refreshed snapshot: %+v", second)
	}
}

func TestActiveForSourceExcludesInactive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	active := overspeedRule("on", 1)
	if _, err := store.Create(ctx, active); err != nil {
		t.Fatalf("Create: %v", err)
	}
	off := overspeedRule("off", 2)
	off.IsActive = false
	if _, err := store.Create(ctx, off); err != nil {
		t.Fatalf("Create inactive: %v", err)
	}

	got, err := store.ActiveForSource(ctx, alerts.SourceOverspeeding)
	if err != nil {
		t.Fatalf("ActiveForSource: %v", err)
	}
	if len(got) != 1 || got[0].RuleID != "on" {
		t.Errorf("active rules: %+v", got)
	}
}

func TestSnapshotCacheTTL(t *testing.T) {
	c := newSnapshotCache(10 * time.Millisecond)
	c.set(map[alerts.SourceType][]Rule{alerts.SourceSafety: {}})

	if _, ok := c.get(); !ok {
		t.Fatal("fresh snapshot must be served")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.get(); ok {
		t.Fatal("expired snapshot must not be served")
	}
}

func TestLoadDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "defaults.yaml")
	yaml := `rules:
  - rule_id: overspeed_3_in_60
    source_type: OVERSPEEDING
    name: Escalate repeated overspeeding
    priority: 5
    conditions:
      escalate_if_count: 3
      window_mins: 60
  - rule_id: doc_renewed
    source_type: DOCUMENT_EXPIRY
    name: Close renewed documents
    conditions:
      auto_close_if: document_valid
  - rule_id: malformed
    source_type: NOT_A_SOURCE
    name: Skipped silently
    conditions:
      escalate_if_count: 1
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write defaults: %v", err)
	}

	inserted, err := store.LoadDefaults(ctx, path)
	if err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}
	if inserted != 2 {
		t.Errorf("inserted: got %d, want 2 (malformed entry skipped)", inserted)
	}

	// Existing rules are preserved, not overwritten.
	p := 99
	if _, err := store.Update(ctx, "overspeed_3_in_60", Patch{Priority: &p}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	inserted, err = store.LoadDefaults(ctx, path)
	if err != nil {
		t.Fatalf("LoadDefaults again: %v", err)
	}
	if inserted != 0 {
		t.Errorf("second load inserted %d", inserted)
	}
	got, err := store.Get(ctx, "overspeed_3_in_60")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Priority != 99 {
		t.Errorf("reload clobbered the rule: priority=%d", got.Priority)
	}
}

func TestLoadDefaultsMissingFile(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.LoadDefaults(context.Background(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
