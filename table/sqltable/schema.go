package sqltable

import (
	"fmt"

	"github.com/getpup/pupsourcing-replication/internal/sqldialect"
)

// Column sizes for dialects that need bounded key columns.
const (
	rowColumnSize       = 512
	familyColumnSize    = 64
	qualifierColumnSize = 128
)

// CreateTableSQL returns the DDL creating a table-service table.
// Every table holds cells addressed by (row_id, family, qualifier).
func CreateTableSQL(d sqldialect.Dialect, name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    row_id %s NOT NULL,
    family %s NOT NULL,
    qualifier %s NOT NULL,
    value %s NOT NULL,
    PRIMARY KEY (row_id, family, qualifier)
)%s`,
		name,
		d.KeyColumn(rowColumnSize),
		d.KeyColumn(familyColumnSize),
		d.KeyColumn(qualifierColumnSize),
		d.BlobColumn(),
		d.TableSuffix(),
	)
}

// DropTableSQL returns the DDL dropping a table-service table.
func DropTableSQL(name string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", name)
}
