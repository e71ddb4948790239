// Package migrations embeds the MySQL schema. Files are applied by
// storage/mysql.Migrate in the order of their numeric name prefix.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
