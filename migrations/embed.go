// Package migrations embeds the SQL schema: members, the SAATHI ledger,
// circles, vouches, and the loan lifecycle tables.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
