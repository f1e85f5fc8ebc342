package models

import "time"

// LinkTarget is one distinct external URL found on a page.
// Occurrences are opaque references to every element that pointed at URL;
// the checker carries them through to the result without looking inside.
type LinkTarget struct {
	URL         string `json:"url"`
	Occurrences []any  `json:"occurrences,omitempty"`
}

// LivenessResult reports whether a host produced any response at all.
// A host serving an error page is still alive.
type LivenessResult struct {
	Alive bool `json:"alive"`
}

// ArchiveResult is either an archived snapshot or NotArchived.
type ArchiveResult struct {
	Archived     bool   `json:"archived"`
	ArchiveURL   string `json:"archive_url,omitempty"`
	SnapshotTime string `json:"snapshot_time,omitempty"` // 14 digits: YYYYMMDDhhmmss
	// Unconfirmed marks a NotArchived result that came from a failed lookup
	// (timeout, transport error, unreadable response) rather than from the
	// archive answering "no snapshot".
	Unconfirmed bool `json:"unconfirmed,omitempty"`
}

// NotArchived is the negative archive result.
var NotArchived = ArchiveResult{}

const snapshotLayout = "20060102150405"

// SnapshotDate formats SnapshotTime as yyyy-mm-dd, or "" when it is not a
// valid 14-digit timestamp.
func (r ArchiveResult) SnapshotDate() string {
	t, err := time.Parse(snapshotLayout, r.SnapshotTime)
	if err != nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// CheckResult is the terminal outcome for one LinkTarget.
// Archive is set only when Alive is false.
type CheckResult struct {
	URL         string         `json:"url"`
	Occurrences []any          `json:"occurrences,omitempty"`
	Alive       bool           `json:"alive"`
	Archive     *ArchiveResult `json:"archive,omitempty"`
}
