// Package testutil provides test helpers and fixtures for migration-engine
// testing.
//
// This file imports test infrastructure dependencies to ensure they are
// tracked in go.mod.
package testutil

import (
	// Goldie for golden file testing with -update flag support
	_ "github.com/sebdah/goldie/v2"
)
