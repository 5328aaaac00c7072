package cmd

// Version is set at build time via -ldflags "-X github.com/gamebench/benchctl/cmd.Version=...".
var Version = "dev"
