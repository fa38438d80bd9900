// Copyright (C) 2022-2026, Butterfly Sync Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package merkle

import (
	"github.com/butterflysync/bdp"
	"github.com/butterflysync/bdp/set"
)

// RemoteNode is a peer's reported hash and (for internal nodes) child-name ->
// child-hash map for one node path, as carried by a MerkleResponse frame.
type RemoteNode struct {
	Hash     bdp.Hash
	Children map[string]bdp.Hash
}

// RemoteFetchFunc asks the peer for the RemoteNode info at each of paths,
// e.g. by sending a MerkleRequest frame and awaiting the MerkleResponse.
type RemoteFetchFunc func(paths []string) (map[string]RemoteNode, error)

// DiffWalk compares the local tree against the peer's round by round,
// starting at the root, and returns every leaf path whose local and remote
// content diverge (including paths that exist on only one side). The walk
// itself never reads FileEntry content — callers use the returned paths to
// drive an index exchange over the divergent subtrees only.
func (idx *Index) DiffWalk(fetch RemoteFetchFunc) ([]string, error) {
	var divergent []string
	frontier := []string{RootPath}

	for len(frontier) > 0 {
		remoteNodes, err := fetch(frontier)
		if err != nil {
			return nil, err
		}

		var next []string
		for _, path := range frontier {
			localNode, hasLocal, err := idx.getNode(path)
			if err != nil {
				return nil, err
			}
			remote, hasRemote := remoteNodes[path]

			// A node with a persisted row (or a remote report naming
			// children) is a directory; anything else at a non-root path is
			// a leaf and the recursion bottoms out here. An empty local
			// directory that the peer reports as a leaf (or vice versa) is
			// indistinguishable from this information alone; the subsequent
			// index exchange resolves it either way. Leaves have no node row,
			// so a leaf path is only on the frontier because its parent saw
			// unequal child hashes for it.
			isDir := path == RootPath || hasLocal || len(remote.Children) > 0
			if !isDir {
				divergent = append(divergent, path)
				continue
			}

			localHash := bdp.EmptyHash
			if hasLocal {
				localHash = localNode.Hash
			}
			remoteHash := bdp.EmptyHash
			if hasRemote {
				remoteHash = remote.Hash
			}
			if localHash == remoteHash {
				continue
			}

			names := set.Of(mapKeys(localNode.Children)...).Union(set.Of(mapKeys(remote.Children)...))
			for name := range names {
				lh := localNode.Children[name] // zero Hash if absent
				rh := remote.Children[name]     // zero Hash if absent
				if lh != rh {
					next = append(next, joinPath(path, name))
				}
			}
		}
		frontier = next
	}

	return divergent, nil
}

func mapKeys(m map[string]bdp.Hash) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
