package workflow

import (
	"testing"
)

func TestGraph_AddNodeAndEdge(t *testing.T) {
	g := NewGraph()
	g.AddNode("a")
	g.AddNode("b")
	g.AddNode("c")
	g.AddNode("a")

	if g.NodeCount() != 3 {
		t.Errorf("expected 3 nodes, got %d", g.NodeCount())
	}

	if err := g.AddEdge("a", "b"); err != nil {
		t.Errorf("failed to add edge: %v", err)
	}
	if err := g.AddEdge("b", "c"); err != nil {
		t.Errorf("failed to add edge: %v", err)
	}
	if err := g.AddEdge("b", "c"); err != nil {
		t.Errorf("duplicate edge should be ignored: %v", err)
	}

	if g.EdgeCount() != 2 {
		t.Errorf("expected 2 edges, got %d", g.EdgeCount())
	}
}

func TestGraph_AddEdge_Invalid(t *testing.T) {
	g := NewGraph()
	g.AddNode("a")

	if err := g.AddEdge("a", "nonexistent"); err == nil {
		t.Error("expected error for nonexistent child node")
	}
	if err := g.AddEdge("nonexistent", "a"); err == nil {
		t.Error("expected error for nonexistent parent node")
	}
	if err := g.AddEdge("a", "a"); err == nil {
		t.Error("expected error for self-loop")
	}
}

func TestGraph_HasCycle(t *testing.T) {
	g := NewGraph()
	for _, id := range []string{"a", "b", "c"} {
		g.AddNode(id)
	}
	_ = g.AddEdge("a", "b")
	_ = g.AddEdge("b", "c")

	if hasCycle, _ := g.HasCycle(); hasCycle {
		t.Fatal("expected no cycle")
	}

	_ = g.AddEdge("c", "a")
	hasCycle, path := g.HasCycle()
	if !hasCycle {
		t.Fatal("expected cycle")
	}
	if len(path) < 3 {
		t.Errorf("expected cycle path with at least 3 nodes, got %v", path)
	}
	if _, err := g.Levels(); err == nil {
		t.Error("expected Levels to fail on cycle")
	}
}

func TestGraph_LevelsFollowEdgesNotInsertionOrder(t *testing.T) {
	g := NewGraph()
	for _, id := range []string{"merge", "load", "create"} {
		g.AddNode(id)
	}
	_ = g.AddEdge("create", "load")
	_ = g.AddEdge("load", "merge")

	levels, err := g.Levels()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"create", "load", "merge"}
	if len(levels) != len(want) {
		t.Fatalf("expected %d levels, got %v", len(want), levels)
	}
	for i := range want {
		if len(levels[i]) != 1 || levels[i][0] != want[i] {
			t.Fatalf("expected %v, got %v", want, levels)
		}
	}
}

func TestGraph_Levels(t *testing.T) {
	g := NewGraph()
	for _, id := range []string{"ds", "t1", "t2", "l1", "l2", "m"} {
		g.AddNode(id)
	}
	for _, e := range [][2]string{
		{"ds", "t1"}, {"ds", "t2"},
		{"t1", "l1"}, {"t2", "l1"}, {"t1", "l2"}, {"t2", "l2"},
		{"l1", "m"}, {"l2", "m"},
	} {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			t.Fatal(err)
		}
	}

	levels, err := g.Levels()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := [][]string{{"ds"}, {"t1", "t2"}, {"l1", "l2"}, {"m"}}
	if len(levels) != len(want) {
		t.Fatalf("expected %d levels, got %v", len(want), levels)
	}
	for i := range want {
		if len(levels[i]) != len(want[i]) {
			t.Fatalf("level %d: expected %v, got %v", i, want[i], levels[i])
		}
		for j := range want[i] {
			if levels[i][j] != want[i][j] {
				t.Errorf("level %d: expected %v, got %v", i, want[i], levels[i])
			}
		}
	}

	down := g.Downstream("t1")
	if len(down) != 3 || down[0] != "l1" || down[1] != "l2" || down[2] != "m" {
		t.Errorf("unexpected downstream of t1: %v", down)
	}
	if g.NodeCount() != 6 || g.EdgeCount() != 8 {
		t.Errorf("expected 6 nodes and 8 edges, got %d and %d", g.NodeCount(), g.EdgeCount())
	}
}
