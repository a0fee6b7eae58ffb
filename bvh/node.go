package bvh

import (
	"github.com/achilleasa/rayforge/log"
	"github.com/achilleasa/rayforge/types"
)

var logger = log.New("bvh")

// Node is the 32 byte BVH node shared by the geometry and scene trees.
//
// For interior nodes A and B hold the left and right child indices. For
// leafs B is negative: A is the index of the first primitive and -B the
// primitive count.
type Node struct {
	Min types.Vec3
	A   int32
	Max types.Vec3
	B   int32
}

const NodeSize = 32

// Set the left and right child node indices.
func (n *Node) SetChildNodes(left, right int32) {
	n.A = left
	n.B = right
}

// Set the primitive range of a leaf.
func (n *Node) SetPrimitives(first, count int32) {
	n.A = first
	n.B = -count
}

// Check if this is a leaf node.
func (n *Node) IsLeaf() bool {
	return n.B < 0
}

// Get the primitive range of a leaf node.
func (n *Node) Primitives() (first, count int32) {
	return n.A, -n.B
}

// Get the left and right child indices of an interior node.
func (n *Node) Children() (left, right int32) {
	return n.A, n.B
}
