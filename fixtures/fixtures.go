package fixtures

import (
	_ "embed"
)

//go:embed config/config.yaml.template
var ConfigTemplate []byte

//go:embed eventlog/sample.jsonl
var SampleEventLog []byte
