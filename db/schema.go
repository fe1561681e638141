// Package db exposes the embedded PostgreSQL schema so test harnesses and
// provisioning tooling apply the same DDL the application expects.
package db

import _ "embed"

//go:embed schema.sql
var Schema string
