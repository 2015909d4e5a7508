// Package merkle builds binary hash trees over ordered data and produces
// inclusion proofs.
//
// Leaves are the SHA256 of a 0x00 byte followed by the item. Interior nodes
// are the SHA256 of a 0x01 byte followed by their two children, so no interior
// node can be passed off as a leaf. When a level has an odd number of
// nodes, the trailing node is promoted to the next level unchanged rather than
// paired with a copy of itself. An empty tree has no root.
//
// The tree is kept as a flat list of levels, level 0 being the leaves and the
// last level holding the root, so proofs are produced by index arithmetic.
package merkle
