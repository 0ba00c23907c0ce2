package table

import "strings"

const (
	// DefaultSourceTable is the table ingestion records closed-file markers in.
	DefaultSourceTable = "metadata"

	// DefaultReplicationTable is the table holding replication status and work entries.
	DefaultReplicationTable = "replication"
)

// ClosedFileSection is the part of the source table holding closed-file markers.
// Row: "~repl" + file path, family: "stat", qualifier: source table id, value: encoded status.
var ClosedFileSection = closedFileSection{
	RowPrefix: "~repl",
	Family:    "stat",
}

type closedFileSection struct {
	RowPrefix string
	Family    string
}

// Range returns the row range of the section.
func (s closedFileSection) Range() Range {
	return PrefixRange(s.RowPrefix)
}

// ScanOptions restricts a scan to the section.
func (s closedFileSection) ScanOptions() ScanOptions {
	return ScanOptions{Range: s.Range(), Families: []string{s.Family}}
}

// Row returns the marker row for a file.
func (s closedFileSection) Row(file string) string {
	return s.RowPrefix + file
}

// File extracts the file path from a marker key.
// Returns false if the key does not belong to the section.
func (s closedFileSection) File(k Key) (string, bool) {
	if k.Family != s.Family || !strings.HasPrefix(k.Row, s.RowPrefix) {
		return "", false
	}
	return strings.TrimPrefix(k.Row, s.RowPrefix), true
}

// TableID extracts the source table id from a marker key.
func (s closedFileSection) TableID(k Key) string {
	return k.Qualifier
}

// StatusSection holds one status record per (file, table id).
// Row: file path, family: "repl", qualifier: table id, value: encoded status.
var StatusSection = section{Family: "repl"}

// WorkSection holds one work entry per (file, target).
// Row: file path, family: "work", qualifier: target qualifier, value: encoded status.
var WorkSection = section{Family: "work"}

type section struct {
	Family string
}

// ScanOptions restricts a scan to the section over the full row range.
func (s section) ScanOptions(parallelism int) ScanOptions {
	return ScanOptions{Range: FullRange(), Families: []string{s.Family}, Parallelism: parallelism}
}

// File extracts the file path from an entry key of the section.
func (s section) File(k Key) string {
	return k.Row
}

// Qualifier extracts the column qualifier from an entry key of the section.
func (s section) Qualifier(k Key) string {
	return k.Qualifier
}

// Mutation builds the mutation writing value for (file, qualifier) in the section.
func (s section) Mutation(file, qualifier string, value []byte) *Mutation {
	return NewMutation(file).Put(s.Family, qualifier, value)
}
