package graph

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ShayCichocki/swarm/pkg/swarmerr"
)

func TestNew(t *testing.T) {
	g := New()
	if g == nil {
		t.Fatal("expected non-nil graph")
	}
	if g.Size() != 0 {
		t.Errorf("expected empty graph, got size %d", g.Size())
	}
}

func TestBuildWithDependencies(t *testing.T) {
	g := New()
	err := g.Build([]Node{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"a", "b", "a"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if deps := g.GetDependencies("c"); len(deps) != 2 {
		t.Errorf("expected 2 dependencies for c, got %v", deps)
	}
	if dependents := g.GetDependents("a"); !reflect.DeepEqual(dependents, []string{"b", "c"}) {
		t.Errorf("GetDependents(a) = %v, want [b c]", dependents)
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name    string
		nodes   []Node
		isCycle bool
	}{
		{
			name:  "unknown dependency",
			nodes: []Node{{ID: "a", DependsOn: []string{"missing"}}},
		},
		{
			name:  "duplicate id",
			nodes: []Node{{ID: "a"}, {ID: "a"}},
		},
		{
			name:    "direct cycle",
			nodes:   []Node{{ID: "a", DependsOn: []string{"b"}}, {ID: "b", DependsOn: []string{"a"}}},
			isCycle: true,
		},
		{
			name: "indirect cycle",
			nodes: []Node{
				{ID: "a", DependsOn: []string{"c"}},
				{ID: "b", DependsOn: []string{"a"}},
				{ID: "c", DependsOn: []string{"b"}},
			},
			isCycle: true,
		},
		{
			name:    "self cycle",
			nodes:   []Node{{ID: "a", DependsOn: []string{"a"}}},
			isCycle: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New().Build(tt.nodes)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, swarmerr.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
			if got := errors.Is(err, swarmerr.ErrCycleDetected); got != tt.isCycle {
				t.Errorf("errors.Is(err, ErrCycleDetected) = %v, want %v", got, tt.isCycle)
			}
		})
	}
}

func TestTopologicalSortStable(t *testing.T) {
	tests := []struct {
		name  string
		nodes []Node
		want  []string
	}{
		{
			name:  "independent nodes keep declaration order",
			nodes: []Node{{ID: "c"}, {ID: "a"}, {ID: "b"}},
			want:  []string{"c", "a", "b"},
		},
		{
			name: "dependency declared later moves first",
			nodes: []Node{
				{ID: "exec", DependsOn: []string{"prep"}},
				{ID: "prep"},
			},
			want: []string{"prep", "exec"},
		},
		{
			name: "diamond",
			nodes: []Node{
				{ID: "root"},
				{ID: "left", DependsOn: []string{"root"}},
				{ID: "right", DependsOn: []string{"root"}},
				{ID: "join", DependsOn: []string{"right", "left"}},
			},
			want: []string{"root", "left", "right", "join"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			if err := g.Build(tt.nodes); err != nil {
				t.Fatalf("Build() error: %v", err)
			}
			got, err := g.TopologicalSort()
			if err != nil {
				t.Fatalf("TopologicalSort() error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("TopologicalSort() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetReadyAndMarkComplete(t *testing.T) {
	g := New()
	if err := g.Build([]Node{
		{ID: "a"},
		{ID: "b"},
		{ID: "c", DependsOn: []string{"a", "b"}},
	}); err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if got := g.GetReady(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("GetReady() = %v, want [a b]", got)
	}

	g.MarkComplete("a")
	if got := g.GetReady(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("GetReady() after a = %v, want [b]", got)
	}

	g.MarkComplete("b")
	if got := g.GetReady(); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("GetReady() after b = %v, want [c]", got)
	}

	if got := g.GetCompletedIDs(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("GetCompletedIDs() = %v, want [a b]", got)
	}
}

func TestTransitiveDependents(t *testing.T) {
	g := New()
	if err := g.Build([]Node{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
		{ID: "d"},
	}); err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if got := g.TransitiveDependents("a"); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Errorf("TransitiveDependents(a) = %v, want [b c]", got)
	}
	if got := g.TransitiveDependents("d"); len(got) != 0 {
		t.Errorf("TransitiveDependents(d) = %v, want empty", got)
	}
	if !g.Contains("d") || g.Contains("z") {
		t.Error("Contains() mismatch")
	}
}
