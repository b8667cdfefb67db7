// Package db bundles the storefront schema and the sample card catalog.
package db

import _ "embed"

// Schema creates every storefront table; statements are idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string

// SampleProducts is the JSON card catalog loaded by seed-db when no file is
// given.
//
//go:embed seed/products.json
var SampleProducts []byte
