package ltamodel

import "time"

// Checksum is the digest pair recorded when a bundle is materialised. Once
// set it never changes; verifiers compare against it at every hop.
type Checksum struct {
	SHA512  string `json:"sha512,omitempty" gorm:"column:sha512;size:128"`
	Adler32 string `json:"adler32,omitempty" gorm:"column:adler32;size:8"`
}

func (c Checksum) IsSet() bool {
	return c.SHA512 != "" || c.Adler32 != ""
}

// Bundle is a group of files assembled into one archive artifact. It walks
// the pipeline stages from creation to deletion; per-file records live in the
// metadata side-table keyed by the bundle uuid.
type Bundle struct {
	ID                    int64      `json:"-" gorm:"primaryKey"`
	UUID                  string     `json:"uuid" gorm:"uniqueIndex;size:64"`
	Request               string     `json:"request" gorm:"index;size:64"`
	Source                string     `json:"source" gorm:"size:64"`
	Dest                  string     `json:"dest" gorm:"size:64"`
	Path                  string     `json:"path" gorm:"size:1024"`
	BundlePath            string     `json:"bundle_path,omitempty" gorm:"size:1024"`
	Size                  int64      `json:"size,omitempty"`
	Checksum              Checksum   `json:"checksum" gorm:"embedded;embeddedPrefix:checksum_"`
	FileCount             int        `json:"file_count,omitempty"`
	Status                string     `json:"status" gorm:"index:idx_bundles_pop,priority:1;size:32"`
	Reason                string     `json:"reason,omitempty" gorm:"size:1024"`
	OriginalStatus        string     `json:"original_status,omitempty" gorm:"size:32"`
	Verified              bool       `json:"verified"`
	Claimed               bool       `json:"claimed" gorm:"index:idx_bundles_pop,priority:2"`
	Claimant              string     `json:"claimant,omitempty" gorm:"size:192"`
	ClaimTimestamp        *time.Time `json:"claim_timestamp,omitempty"`
	WorkPriorityTimestamp time.Time  `json:"work_priority_timestamp" gorm:"index:idx_bundles_pop,priority:3"`
	TransferReference     string     `json:"transfer_reference,omitempty" gorm:"size:256"`
	CreateTimestamp       time.Time  `json:"create_timestamp"`
	UpdateTimestamp       time.Time  `json:"update_timestamp"`
}

func (Bundle) TableName() string {
	return "bundles"
}

func (b *Bundle) IsQuarantined() bool {
	return b.Status == BundleStatusQuarantined
}

// Terminal reports whether the bundle has left the pipeline; the finisher
// treats a request as done when every sibling bundle is terminal.
func (b *Bundle) Terminal() bool {
	return b.Status == BundleStatusDeleted || b.Status == BundleStatusFinished
}
