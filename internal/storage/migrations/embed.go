package migrations

import "embed"

// Migration SQL shipped inside the binary so deployments never depend on a
// files-on-disk layout. Files apply in lexical order.
var (
	//go:embed postgres/*.sql
	PostgresFS embed.FS

	//go:embed clickhouse/*.sql
	ClickhouseFS embed.FS
)
