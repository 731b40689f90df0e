// Package schemas embeds the SQL migrations shared by every supported driver.
package schemas

import "embed"

// MigrationsDir is the directory of Migrations that holds the files.
const MigrationsDir = "migrations"

//go:embed migrations/*.sql
var Migrations embed.FS
