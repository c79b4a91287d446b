// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jobsource

import (
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&NodeRangeSuite{})

type NodeRangeSuite struct{}

func (s *NodeRangeSuite) TestEightNodes(c *check.C) {
	c.Check(NodeRanges(8, 2, 1), check.DeepEquals, []NodeRange{
		{MinNodes: 5, MaxNodes: 8, PrefetchCount: 2},
		{MinNodes: 3, MaxNodes: 4, PrefetchCount: 4},
		{MinNodes: 2, MaxNodes: 2, PrefetchCount: 8},
		{MinNodes: 1, MaxNodes: 1, PrefetchCount: 1},
	})
}

func (s *NodeRangeSuite) TestSingleNode(c *check.C) {
	c.Check(NodeRanges(1, 4, 7), check.DeepEquals, []NodeRange{
		{MinNodes: 1, MaxNodes: 1, PrefetchCount: 7},
	})
}

func (s *NodeRangeSuite) TestZeroNodes(c *check.C) {
	c.Check(NodeRanges(0, 2, 1), check.HasLen, 0)
}

// The brackets must cover every node count in [1, numNodes] exactly
// once, with prefetch counts doubling from the top down and the
// single-node bracket fixed at its own factor.
func (s *NodeRangeSuite) TestPartition(c *check.C) {
	for numNodes := 1; numNodes <= 64; numNodes++ {
		ranges := NodeRanges(numNodes, 3, 5)
		covered := map[int]int{}
		expect := 3
		for i, r := range ranges {
			c.Check(r.MinNodes <= r.MaxNodes, check.Equals, true)
			for n := r.MinNodes; n <= r.MaxNodes; n++ {
				covered[n]++
			}
			if r.MinNodes == 1 && r.MaxNodes == 1 {
				c.Check(r.PrefetchCount, check.Equals, 5)
			} else {
				c.Check(r.PrefetchCount, check.Equals, expect, check.Commentf("numNodes=%d bracket %d", numNodes, i))
			}
			expect *= 2
		}
		for n := 1; n <= numNodes; n++ {
			c.Check(covered[n], check.Equals, 1, check.Commentf("numNodes=%d node %d", numNodes, n))
		}
		c.Check(len(covered), check.Equals, numNodes)
	}
}
