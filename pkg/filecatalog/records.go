package filecatalog

// Location names one place a file (or bundle archive) lives. Archive
// locations use "{tape path}:{logical name}" paths so a file inside an
// archive can be found without unpacking it.
type Location struct {
	Site    string `json:"site"`
	Path    string `json:"path"`
	Archive bool   `json:"archive,omitempty"`
	HPSS    bool   `json:"hpss,omitempty"`
	Online  bool   `json:"online,omitempty"`
}

type Checksum struct {
	SHA512  string `json:"sha512,omitempty"`
	Adler32 string `json:"adler32,omitempty"`
}

// Archival accounting attached to a record when a bundle lands on tape.
type ArchivalInfo struct {
	DateArchived string `json:"date_archived,omitempty"`
}

// Record is a File Catalog entry. Bundles archives are themselves registered
// as records whose uuid equals the bundle uuid.
type Record struct {
	UUID           string        `json:"uuid,omitempty"`
	LogicalName    string        `json:"logical_name"`
	Checksum       Checksum      `json:"checksum,omitempty"`
	FileSize       int64         `json:"file_size"`
	MetaModifyDate string        `json:"meta_modify_date,omitempty"`
	Locations      []Location    `json:"locations,omitempty"`
	LTA            *ArchivalInfo `json:"lta,omitempty"`
}

// FileSummary is the projection returned by catalog queries; enough to plan
// bundles (size) and to fetch the full record later (uuid). Locations is
// only populated when the query asks for it.
type FileSummary struct {
	UUID        string     `json:"uuid"`
	LogicalName string     `json:"logical_name"`
	FileSize    int64      `json:"file_size,omitempty"`
	Locations   []Location `json:"locations,omitempty"`
}

// FilesQuery describes a catalog search. Site and PathPrefix are always
// applied; ArchivedAtSite additionally restricts to archive replicas, which
// is how retrieval locates the bundles covering a warehouse path.
// IncludeLocations widens the projection so callers can read the archive
// paths without fetching full records.
type FilesQuery struct {
	Site             string
	PathPrefix       string
	ArchivedAtSite   bool
	IncludeLocations bool
	Limit            int
	Start            int
}
