// Package migration applies the versioned schema files embedded in this
// package. Files are named {version}_{description}.sql and applied in
// numeric order; applied versions are tracked in schema_migrations together
// with the checksum of the file that was run.
package migration

import "embed"

// Files holds the schema migrations shipped with the binary.
//
//go:embed sql/*.sql
var Files embed.FS

// Dir is the directory of Files that contains the migrations.
const Dir = "sql"
