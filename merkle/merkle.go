// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package merkle implements the Merkle Index: a derived tree mirroring the
// folder hierarchy, recomputed incrementally as leaves (file entries)
// change, and diffed against a peer's tree one round of node-hash
// comparisons at a time.
package merkle

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/store"
)

// RootPath is the node path of the tree root.
const RootPath = ""

// Index is the Merkle Index for one pair, persisted over a KV collection.
type Index struct {
	kv     store.KV
	pairID bdp.PairID
}

// New wires a Merkle Index for pairID over kv.
func New(kv store.KV, pairID bdp.PairID) *Index {
	return &Index{kv: kv, pairID: pairID}
}

func (idx *Index) key(nodePath string) []byte {
	return []byte(idx.pairID.String() + ":" + nodePath)
}

func (idx *Index) getNode(nodePath string) (bdp.MerkleNode, bool, error) {
	raw, err := idx.kv.Get(store.CollMerkleNodes, idx.key(nodePath))
	if errors.Is(err, store.ErrNotFound) {
		return bdp.MerkleNode{}, false, nil
	}
	if err != nil {
		return bdp.MerkleNode{}, false, errors.Wrap(err, "merkle: reading node")
	}
	var node bdp.MerkleNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return bdp.MerkleNode{}, false, errors.Wrap(err, "merkle: decoding node")
	}
	return node, true, nil
}

func (idx *Index) putNode(node bdp.MerkleNode) error {
	raw, err := json.Marshal(node)
	if err != nil {
		return errors.Wrap(err, "merkle: encoding node")
	}
	if err := idx.kv.Put(store.CollMerkleNodes, idx.key(node.NodePath), raw); err != nil {
		return errors.Wrap(err, "merkle: writing node")
	}
	return nil
}

func (idx *Index) deleteNode(nodePath string) error {
	if err := idx.kv.Delete(store.CollMerkleNodes, idx.key(nodePath)); err != nil {
		return errors.Wrap(err, "merkle: deleting node")
	}
	return nil
}

// canonicalEncode renders an internal node's children per invariant M1:
// sorted by name, each as "name:hex\n".
func canonicalEncode(children map[string]bdp.Hash) []byte {
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(children[name].String())
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func hashChildren(children map[string]bdp.Hash) bdp.Hash {
	return bdp.SumHash(canonicalEncode(children))
}

// RootHash returns the current root hash (invariant M1/M2). An index with no
// entries yet has the root hash of an empty children set.
func (idx *Index) RootHash() (bdp.Hash, error) {
	node, exists, err := idx.getNode(RootPath)
	if err != nil {
		return bdp.Hash{}, err
	}
	if !exists {
		return hashChildren(nil), nil
	}
	return node.Hash, nil
}

// NodeAt returns the persisted internal node at nodePath (RootPath for the
// root). Leaf hashes are not stored here — callers read FileEntry.hash from
// the file index directly.
func (idx *Index) NodeAt(nodePath string) (bdp.MerkleNode, bool, error) {
	return idx.getNode(nodePath)
}

func splitPath(path string) (parent, name string) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return RootPath, path
	}
	return path[:i], path[i+1:]
}

func joinPath(parent, name string) string {
	if parent == RootPath {
		return name
	}
	return parent + "/" + name
}

// OnLeafChanged walks from path's parent up to the root, recomputing each
// ancestor's hash to reflect the leaf's new content hash (invariant M1, M2).
// Cost is O(depth · fan-out).
func (idx *Index) OnLeafChanged(path string, leafHash bdp.Hash) error {
	parent, name := splitPath(path)
	return idx.bubbleUp(parent, name, &leafHash)
}

// OnLeafRemoved removes path's entry from its parent's children and walks the
// removal up to the root, pruning any ancestor directory left with no
// children (other than the root itself, which always exists).
func (idx *Index) OnLeafRemoved(path string) error {
	parent, name := splitPath(path)
	return idx.bubbleUp(parent, name, nil)
}

// bubbleUp sets (or clears, if newHash is nil) nodePath's child `name`, then
// propagates the resulting hash change up through every ancestor.
func (idx *Index) bubbleUp(nodePath, name string, newHash *bdp.Hash) error {
	node, exists, err := idx.getNode(nodePath)
	if err != nil {
		return err
	}
	if !exists {
		node = bdp.MerkleNode{NodePath: nodePath, Children: map[string]bdp.Hash{}}
	}
	if node.Children == nil {
		node.Children = map[string]bdp.Hash{}
	}

	if newHash != nil {
		node.Children[name] = *newHash
	} else {
		delete(node.Children, name)
	}
	node.Hash = hashChildren(node.Children)
	node.UpdatedAt = time.Now()

	if len(node.Children) == 0 && nodePath != RootPath {
		if err := idx.deleteNode(nodePath); err != nil {
			return err
		}
		grandparent, parentName := splitPath(nodePath)
		return idx.bubbleUp(grandparent, parentName, nil)
	}

	if err := idx.putNode(node); err != nil {
		return err
	}
	if nodePath == RootPath {
		return nil
	}
	grandparent, parentName := splitPath(nodePath)
	childHash := node.Hash
	return idx.bubbleUp(grandparent, parentName, &childHash)
}
