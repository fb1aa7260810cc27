package data

import "embed"

var (
	//go:embed torauth.yaml
	DefaultConfig embed.FS
)
