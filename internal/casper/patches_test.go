package casper

import "testing"

const samplePatchJSON = `{
  "software_title": {
    "name": "Google Chrome",
    "latest_version": "56.0.2924.87",
    "versions": [
      "56.0.2924.87",
      {"computers": [{"id": 1, "name": "mac-0001"}, {"id": 2, "name": "mac-0002"}]},
      "55.0.2883.95",
      {"computers": [{"id": 3, "name": "mac-0003"}]}
    ]
  }
}`

func TestParsePatchDetail(t *testing.T) {
	record, err := ParsePatchDetail(101, []byte(samplePatchJSON))
	if err != nil {
		t.Fatalf("ParsePatchDetail failed: %v", err)
	}

	if record.ID != 101 {
		t.Errorf("ID = %d, want 101", record.ID)
	}
	if record.Name != "Google Chrome" {
		t.Errorf("Name = %q, want %q", record.Name, "Google Chrome")
	}
	if record.LatestVersion != "56.0.2924.87" {
		t.Errorf("LatestVersion = %q", record.LatestVersion)
	}

	for _, id := range []int{1, 2} {
		if !record.Applied(id) {
			t.Errorf("Expected computer %d to have the patch applied", id)
		}
	}
	if record.Applied(3) {
		t.Error("Computer 3 runs an old version and must not count as applied")
	}

	if len(record.Outdated) != 1 {
		t.Fatalf("Expected 1 outdated install, got %d", len(record.Outdated))
	}
	if record.Outdated[0].ComputerID != 3 || record.Outdated[0].Version != "55.0.2883.95" {
		t.Errorf("Unexpected outdated install: %+v", record.Outdated[0])
	}
}

func TestParsePatchDetailWithoutLatestVersion(t *testing.T) {
	body := `{
	  "software_title": {
	    "name": "Firefox",
	    "versions": [
	      "51.0.1",
	      {"computers": [{"id": 9}]},
	      "50.0",
	      {"computers": [{"id": 8}]}
	    ]
	  }
	}`
	record, err := ParsePatchDetail(7, []byte(body))
	if err != nil {
		t.Fatalf("ParsePatchDetail failed: %v", err)
	}
	if record.LatestVersion != "51.0.1" {
		t.Errorf("LatestVersion = %q, want first listed version", record.LatestVersion)
	}
	if !record.Applied(9) || record.Applied(8) {
		t.Errorf("Applied set wrong: %v", record.AppliedTo)
	}
}

func TestParsePatchDetailMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing title", `{"something_else": {}}`},
		{"missing name", `{"software_title": {"versions": []}}`},
		{"missing versions", `{"software_title": {"name": "x"}}`},
		{"object where version string expected", `{"software_title": {"name": "x", "versions": [{"computers": []}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePatchDetail(1, []byte(tt.body)); err == nil {
				t.Error("Expected parse error")
			}
		})
	}
}
