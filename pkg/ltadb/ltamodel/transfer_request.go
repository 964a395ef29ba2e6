package ltamodel

import "time"

// TransferRequest is a user-submitted unit of archival or retrieval work. The
// Picker (archival) or Locator (retrieval) expands it into bundles; the
// finisher marks it terminal when every bundle is.
type TransferRequest struct {
	ID                    int64      `json:"-" gorm:"primaryKey"`
	UUID                  string     `json:"uuid" gorm:"uniqueIndex;size:64"`
	Source                string     `json:"source" gorm:"size:64"`
	Dest                  string     `json:"dest" gorm:"size:64"`
	Path                  string     `json:"path" gorm:"size:1024"`
	Status                string     `json:"status" gorm:"index;size:32"`
	OriginalStatus        string     `json:"original_status,omitempty" gorm:"size:32"`
	Reason                string     `json:"reason,omitempty" gorm:"size:1024"`
	Claimed               bool       `json:"claimed"`
	Claimant              string     `json:"claimant,omitempty" gorm:"size:192"`
	ClaimTimestamp        *time.Time `json:"claim_timestamp,omitempty"`
	WorkPriorityTimestamp time.Time  `json:"work_priority_timestamp"`
	CreateTimestamp       time.Time  `json:"create_timestamp"`
	UpdateTimestamp       time.Time  `json:"update_timestamp"`
}

func (TransferRequest) TableName() string {
	return "transfer_requests"
}

func (tr *TransferRequest) IsQuarantined() bool {
	return tr.Status == RequestStatusQuarantined
}
