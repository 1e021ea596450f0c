// SPDX-License-Identifier: MIT

// Package config implements the layered settings store.
//
// Load order: built-in defaults, then the encrypted blob (when present and
// the master secret unlocks it), then the plain JSON file, then environment
// variable overrides. Reads use dotted keys ("database.host"). Writes target
// the encrypted blob; a fixed set of sensitive keys is always encrypted at
// rest with AES-256-GCM under a key derived from the master secret.
package config
