// Package storage combines result sinks. Concrete backends live in the local,
// memory, postgres, and gcs subpackages.
package storage
