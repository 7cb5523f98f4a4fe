package column

// Standard column names shared by every segment.
const (
	VectorColumn  = "vector"
	PayloadColumn = "payload"
	MappingColumn = "mapping"
	VersionColumn = "version"
)

// StandardColumns lists the columns created when a segment is opened.
var StandardColumns = []string{PayloadColumn, MappingColumn, VersionColumn}

// VectorColumnName returns the column holding vectors of a named vector space.
func VectorColumnName(name string) string {
	if name == "" {
		return VectorColumn
	}
	return VectorColumn + "_" + name
}
