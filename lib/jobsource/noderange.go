// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jobsource

// NodeRange says how many jobs whose node counts fall in
// [MinNodes, MaxNodes] to keep prefetched.
type NodeRange struct {
	MinNodes      int
	MaxNodes      int
	PrefetchCount int
}

// NodeRanges computes prefetch counts per node-size bracket for a
// resource of numNodes nodes serving a heterogeneous job-size mix.
// Brackets halve from the top: the first covers (numNodes/2,
// numNodes], the next halves the remainder, and so on down to a
// single-node bracket. The prefetch count doubles per halving step,
// since smaller jobs are more numerous, except the single-node
// bracket which uses its own configured factor. Sizing acquisition
// requests this way avoids starving large jobs or over-fetching small
// ones from one shared queue.
func NodeRanges(numNodes, prefetchFactor, singleNodePrefetchFactor int) []NodeRange {
	var ranges []NodeRange
	numAcquire := prefetchFactor
	for numNodes > 0 {
		lower := numNodes/2 + 1
		if lower > numNodes {
			lower = numNodes
		}
		if numNodes > 1 {
			ranges = append(ranges, NodeRange{MinNodes: lower, MaxNodes: numNodes, PrefetchCount: numAcquire})
		} else {
			ranges = append(ranges, NodeRange{MinNodes: lower, MaxNodes: numNodes, PrefetchCount: singleNodePrefetchFactor})
		}
		numAcquire *= 2
		numNodes = lower - 1
	}
	return ranges
}
