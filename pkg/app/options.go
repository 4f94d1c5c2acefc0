package app

import (
	cliflag "k8s.io/component-base/cli/flag"
)

// CliOptions is the minimum an options struct offers.
type CliOptions interface {
	// Validate returns the aggregated validation error.
	Validate() error
}

// NamedFlagSetOptions groups flags into named sections for help output.
type NamedFlagSetOptions interface {
	CliOptions

	// Flags returns the flag sets, one per option group.
	Flags() cliflag.NamedFlagSets

	// Complete fills in fields derived from other fields.
	Complete() error
}
