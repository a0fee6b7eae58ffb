package bvh

import (
	"testing"

	"github.com/achilleasa/rayforge/types"
)

type testVolume struct {
	bbox [2]types.Vec3
}

func (v *testVolume) BBox() [2]types.Vec3 { return v.bbox }
func (v *testVolume) Center() types.Vec3  { return v.bbox[0].Add(v.bbox[1]).Mul(0.5) }

func TestLeafCallback(t *testing.T) {
	type primSpec struct {
		min types.Vec3
		max types.Vec3
	}

	primSpecs := []primSpec{
		{types.Vec3{-2, 0, -2}, types.Vec3{-1, 1, -1}},
		{types.Vec3{1, 0, -2}, types.Vec3{2, 1, -1}},
		{types.Vec3{-2, 0, 1}, types.Vec3{-1, 1, 2}},
		{types.Vec3{1, 0, 1}, types.Vec3{2, 1, 2}},
	}

	itemList := make([]BoundedVolume, len(primSpecs))
	for idx, ps := range primSpecs {
		itemList[idx] = &testVolume{bbox: [2]types.Vec3{ps.min, ps.max}}
	}

	var cbCount = 0
	var expItemListCount = 0
	cb := func(leaf *Node, itemList []BoundedVolume) {
		cbCount++
		if len(itemList) != expItemListCount {
			t.Fatalf("expected leaf callback to be called with %d items; got %d", expItemListCount, len(itemList))
		}
		leaf.SetPrimitives(0, int32(len(itemList)))
	}

	var expCount = 0

	// Partition each item in a single leaf
	cbCount = 0
	expItemListCount = 1
	treeNodes := Build(itemList, 1, false, cb, SurfaceAreaHeuristic)

	expCount = 4
	if cbCount != expCount {
		t.Fatalf("expected leaf callback to be called %d times; called %d", expCount, cbCount)
	}
	expCount = 7
	if len(treeNodes) != expCount {
		t.Fatalf("expected bvh tree to have %d nodes; got %d", expCount, len(treeNodes))
	}

	// Partition two items in a single leaf
	cbCount = 0
	expItemListCount = 2
	treeNodes = Build(itemList, 2, true, cb, SurfaceAreaHeuristic)

	expCount = 2
	if cbCount != expCount {
		t.Fatalf("expected leaf callback to be called %d times; called %d", expCount, cbCount)
	}
	expCount = 3
	if len(treeNodes) != expCount {
		t.Fatalf("expected bvh tree to have %d nodes; got %d", expCount, len(treeNodes))
	}

	// Children are always stored after their parent
	for index, node := range treeNodes {
		if node.IsLeaf() {
			continue
		}
		left, right := node.Children()
		if int(left) <= index || int(right) <= index {
			t.Fatalf("expected children of node %d to follow it; got %d and %d", index, left, right)
		}
	}
}

func TestBuildEmptyWorkList(t *testing.T) {
	nodes := Build(nil, 1, false, func(*Node, []BoundedVolume) {
		t.Fatal("unexpected leaf callback")
	}, SurfaceAreaHeuristic)
	if nodes != nil {
		t.Fatalf("expected no nodes; got %d", len(nodes))
	}
}

func TestBuildRespectsMaxDepth(t *testing.T) {
	// Items that share the same centroid cannot be split; the builder
	// must still terminate with a single leaf.
	itemList := make([]BoundedVolume, 16)
	for i := range itemList {
		itemList[i] = &testVolume{bbox: [2]types.Vec3{{-1, -1, -1}, {1, 1, 1}}}
	}

	var leafs int
	nodes := Build(itemList, 1, false, func(leaf *Node, items []BoundedVolume) {
		leafs++
		leaf.SetPrimitives(0, int32(len(items)))
	}, SurfaceAreaHeuristic)

	if leafs != 1 || len(nodes) != 1 {
		t.Fatalf("expected a single leaf; got %d leafs and %d nodes", leafs, len(nodes))
	}
	if _, count := nodes[0].Primitives(); count != 16 {
		t.Fatalf("expected leaf to hold 16 items; got %d", count)
	}
}
