package casper

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// PatchRecord describes one patch-reporting software title and which
// computers have the title's latest version applied.
type PatchRecord struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	LatestVersion string `json:"latest_version"`
	// AppliedTo holds the ids of computers running the latest version.
	AppliedTo map[int]bool `json:"applied_to"`
	// Outdated lists computers running an older version of the title.
	Outdated []OutdatedInstall `json:"outdated"`
}

// OutdatedInstall records a computer running a version behind the latest.
type OutdatedInstall struct {
	ComputerID int    `json:"computer_id"`
	Version    string `json:"version"`
}

// Applied reports whether the given computer has this patch applied.
func (p *PatchRecord) Applied(computerID int) bool {
	return p.AppliedTo[computerID]
}

// ParsePatchDetail decodes a /patches/id payload. The software_title
// "versions" field is an alternating stream: a version string followed by an
// object holding the computers on that version, repeated. A typed struct
// cannot express that shape, so the stream is walked with gjson keeping a
// current-version cursor.
func ParsePatchDetail(id int, body []byte) (*PatchRecord, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("patch %d: invalid JSON payload", id)
	}

	title := gjson.GetBytes(body, "software_title")
	if !title.Exists() {
		return nil, fmt.Errorf("patch %d: missing software_title", id)
	}

	record := &PatchRecord{
		ID:            id,
		Name:          title.Get("name").String(),
		LatestVersion: title.Get("latest_version").String(),
		AppliedTo:     make(map[int]bool),
	}
	if record.Name == "" {
		return nil, fmt.Errorf("patch %d: software_title has no name", id)
	}

	versions := title.Get("versions")
	if !versions.IsArray() {
		return nil, fmt.Errorf("patch %d: software_title has no versions list", id)
	}

	currentVersion := ""
	haveVersion := false
	for _, row := range versions.Array() {
		if !haveVersion {
			if row.Type != gjson.String {
				return nil, fmt.Errorf("patch %d: expected version string, got %s", id, row.Type)
			}
			currentVersion = row.String()
			haveVersion = true
			continue
		}
		if record.LatestVersion == "" {
			// Without an explicit latest_version the first listed
			// version counts as current.
			record.LatestVersion = currentVersion
		}
		for _, computer := range row.Get("computers").Array() {
			computerID := int(computer.Get("id").Int())
			if computerID == 0 {
				continue
			}
			if currentVersion == record.LatestVersion {
				record.AppliedTo[computerID] = true
			} else {
				record.Outdated = append(record.Outdated, OutdatedInstall{
					ComputerID: computerID,
					Version:    currentVersion,
				})
			}
		}
		haveVersion = false
	}

	return record, nil
}
