// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads hcops configuration.
//
// Configuration comes from at most one YAML file, named by the
// --config flag or the HCOPS_CONFIG environment variable. There is no
// search path: without either, hcops runs on [Default]. Fields the file
// omits keep their defaults.
//
// Path fields (tag_store, discovery.proc_root, storage.data_root)
// expand ${VAR} and ${VAR:-default} after loading, so one file can
// serve several operators:
//
//	tag_store: ${XDG_CONFIG_HOME:-${HOME}/.config}/hcops/state.sqlite3
//	discovery:
//	  process_names: [holochain]
//	connection:
//	  origin: hcops
//	  request_timeout: 30s
//	  read_retries: 1
//	storage:
//	  data_root: /var/lib/holochain
//	  busy_timeout: 250ms
//
// Duration fields accept Go duration strings.
//
// This package depends on no other hcops packages.
package config
