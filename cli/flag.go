package cli

import "time"

// The flags below share the same fields: Name is the flag as typed on the
// command line, EnvVar is an optional environment variable read when the flag
// is absent, and Value is the default.

// StringFlag is a command flag parsed as a string.
//
// - implements cli.Flag
type StringFlag struct {
	Name     string
	Usage    string
	EnvVar   string
	Required bool
	Value    string
}

// Flag implements cli.Flag.
func (StringFlag) Flag() {}

// StringSliceFlag is a command flag that can be repeated, and that is parsed as
// a slice of strings.
//
// - implements cli.Flag
type StringSliceFlag struct {
	Name     string
	Usage    string
	EnvVar   string
	Required bool
	Value    []string
}

// Flag implements cli.Flag.
func (StringSliceFlag) Flag() {}

// DurationFlag is a command flag parsed as a duration, like "4s".
//
// - implements cli.Flag
type DurationFlag struct {
	Name     string
	Usage    string
	EnvVar   string
	Required bool
	Value    time.Duration
}

// Flag implements cli.Flag.
func (DurationFlag) Flag() {}

// IntFlag is a command flag parsed as an integer.
//
// - implements cli.Flag
type IntFlag struct {
	Name     string
	Usage    string
	EnvVar   string
	Required bool
	Value    int
}

// Flag implements cli.Flag.
func (IntFlag) Flag() {}

// BoolFlag is a command flag parsed as a boolean.
//
// - implements cli.Flag
type BoolFlag struct {
	Name     string
	Usage    string
	EnvVar   string
	Required bool
	Value    bool
}

// Flag implements cli.Flag.
func (BoolFlag) Flag() {}
