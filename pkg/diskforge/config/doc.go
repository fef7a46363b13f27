/*
Package config loads diskforge settings from YAML or JSON files.

# Overview

A settings file is parsed into Values, a lenient map accessor, and then
decoded into Settings. Missing keys take their defaults; keys that are
present but malformed are reported by Parse.

	settings, err := config.Load("diskforge.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	w := writer.New(classifier, writer.WithConfig(settings.Writer.Config()))

# File Format

Keys are grouped by component:

	writer:
	  buffer_size: 1MiB        # human sizes via go-humanize, or plain bytes
	  sync_every: 100
	  progress_interval: 500ms
	  verify: true
	checkpoint:
	  dir: ${HOME}/.cache/diskforge/checkpoints
	  backend: dir             # dir | sqlite
	  max_age: 24h
	  preserve_header: false
	  header_size: 1MiB
	orchestrator:
	  max_attempts: 8
	  max_concurrent: 0        # 0 = no global cap
	  allow_system_drive: false
	logging:
	  level: info              # debug | info | warn | error
	  format: text             # text | json | tint
	observability:
	  metrics: false
	  tracing: false

${VAR} and $VAR references are expanded from the environment before
parsing.

# Values

Values accessors return the default when a key is missing or has the
wrong type. Nested sections are reached with dotted keys:

	v, _ := config.FromYAML(data)
	size := v.Bytes("writer.buffer_size", 1<<20)
	verify := v.Bool("writer.verify", true)
*/
package config
