package plans

import "testing"

func TestCatalogResolveIsCaseInsensitive(t *testing.T) {
	c := Default()
	name, allotment, err := c.Resolve(" pro ")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if name != Pro || allotment != 1000 {
		t.Fatalf("unexpected plan %s/%d", name, allotment)
	}
}

func TestCatalogOverridesAndAdditions(t *testing.T) {
	c := NewCatalog(map[string]int64{"pro": 250, "Team": 5000, "Broken": 0})

	if _, allotment, _ := c.Resolve(Pro); allotment != 250 {
		t.Fatalf("expected override 250, got %d", allotment)
	}
	if _, allotment, err := c.Resolve("team"); err != nil || allotment != 5000 {
		t.Fatalf("expected Team plan, got %d err=%v", allotment, err)
	}
	if _, _, err := c.Resolve("Broken"); err != ErrUnknownPlan {
		t.Fatalf("expected unknown plan for non-positive override, got %v", err)
	}
	names := c.Names()
	if names[0] != Free {
		t.Fatalf("expected Free first, got %v", names)
	}
}
