// Package config loads and validates sync engine configuration.
//
// Configuration files are YAML (unknown fields rejected) or CUE:
//
//	instance_id: popup-1
//	storage_area: local
//	is_leader: true
//	stored_version: 1
//	persisted_keys: [b, d]
//	initial_state:
//	  a: []
//	  b: {c: 2}
//	  d: 8
package config
