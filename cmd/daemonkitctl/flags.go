package main

import "time"

const defaultTimeout = 5 * time.Second

// GlobalFlags holds the persistent flags shared by every subcommand,
// mirroring the teacher's own GlobalFlags/APIUrl+APITimeout pairing.
type GlobalFlags struct {
	APIUrl  string
	Timeout time.Duration
}
