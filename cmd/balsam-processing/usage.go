// Copyright (C) The Balsam Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"os"
)

func usage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `
balsam-processing leases jobs from the Balsam coordination service
and advances them through their lifecycle transitions on this node.

Options:
`)
	fs.PrintDefaults()
}
