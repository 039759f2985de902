package depgraph

import "testing"

func TestTopologicalSortOrdersDependenciesFirst(t *testing.T) {
	g := New()
	g.AddNode("web", []string{"db", "cache"})
	g.AddNode("db", nil)
	g.AddNode("cache", nil)

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort: %v", err)
	}

	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n] = i
	}
	if pos["web"] < pos["db"] || pos["web"] < pos["cache"] {
		t.Fatalf("web must start after its dependencies, got order %v", order)
	}
	if order[0] != "cache" {
		t.Fatalf("ties must break alphabetically, got order %v", order)
	}
}

func TestTopologicalSortDetectsCycle(t *testing.T) {
	g := New()
	g.AddNode("a", []string{"b"})
	g.AddNode("b", []string{"a"})

	if _, err := g.TopologicalSort(); err == nil {
		t.Fatal("expected cycle error, got nil")
	}
}

func TestValidateRejectsDanglingDependency(t *testing.T) {
	g := New()
	g.AddNode("web", []string{"db"})

	if err := g.Validate(); err == nil {
		t.Fatal("expected error for undeclared dependency")
	}
}

func TestValidateRejectsSelfDependency(t *testing.T) {
	g := New()
	g.AddNode("web", []string{"web"})

	if err := g.Validate(); err == nil {
		t.Fatal("expected error for self-dependency")
	}
}

func TestDependents(t *testing.T) {
	g := New()
	g.AddNode("db", nil)
	g.AddNode("web", []string{"db"})
	g.AddNode("worker", []string{"db"})

	got := g.Dependents("db")
	if len(got) != 2 || got[0] != "web" || got[1] != "worker" {
		t.Fatalf("Dependents(db) = %v, want [web worker]", got)
	}
}
