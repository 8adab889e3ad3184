// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

// Command savoractl is the operator CLI for the identity migration.
//
// It wires the same services as the API server and drives them directly
// against the database, so batch migration, cleanup, and phase transitions
// can be run from a shell without going through the admin HTTP surface.
package main

import "github.com/savorahq/savora/cmd/savoractl/cmd"

func main() {
	cmd.Execute()
}
