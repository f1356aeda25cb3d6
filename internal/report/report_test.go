package report

import (
	"reflect"
	"testing"
	"time"

	"casperreport/internal/casper"
)

var testNow = time.Date(2017, 3, 15, 12, 0, 0, 0, time.UTC)

func freshContact() string {
	return testNow.Add(-24 * time.Hour).Format("2006-01-02 15:04:05")
}

func testComputer(id int, username, ip string) *casper.ComputerRecord {
	return &casper.ComputerRecord{
		General: casper.General{
			ID:              id,
			Name:            "mac-" + username,
			SerialNumber:    "SN" + username,
			LastContactTime: freshContact(),
			LastReportedIP:  ip,
		},
		Location: casper.Location{
			Username:     username,
			RealName:     "Real " + username,
			EmailAddress: username + "@example.com",
		},
	}
}

func withServices(c *casper.ComputerRecord, services ...string) *casper.ComputerRecord {
	if c.Software == nil {
		c.Software = &casper.Software{}
	}
	c.Software.RunningServices = services
	return c
}

func testPatch(id int, name string, appliedTo ...int) *casper.PatchRecord {
	applied := make(map[int]bool, len(appliedTo))
	for _, cid := range appliedTo {
		applied[cid] = true
	}
	return &casper.PatchRecord{ID: id, Name: name, LatestVersion: "1.0", AppliedTo: applied}
}

func normalize(computers map[int]*casper.ComputerRecord, patches map[int]*casper.PatchRecord) *Report {
	return Normalize(computers, patches, Options{SkipStale: true, Now: testNow})
}

func TestPerUserListsAreDeduplicated(t *testing.T) {
	computer := testComputer(1, "ajones", "10.0.0.1")
	withServices(computer, "sshd", "sshd", "cupsd")
	computer.Software.Applications = []casper.Application{
		{Name: "Slack.app", Version: "2.4"},
		{Name: "Slack.app", Version: "2.4"},
	}
	computer.ExtensionAttributes = []casper.ExtensionAttribute{
		{ID: 1, Name: "Chrome Extensions", Type: "String", Value: "uBlock, uBlock, LastPass"},
	}

	rpt := normalize(map[int]*casper.ComputerRecord{1: computer}, nil)

	if want := []string{"sshd", "cupsd"}; !reflect.DeepEqual(rpt.Services[0].Services, want) {
		t.Errorf("Services = %v, want %v", rpt.Services[0].Services, want)
	}
	if len(rpt.Applications[0].Applications) != 1 {
		t.Errorf("Applications not deduplicated: %v", rpt.Applications[0].Applications)
	}
	if want := []string{"uBlock", "LastPass"}; !reflect.DeepEqual(rpt.ChromeExtensions[0].Extensions, want) {
		t.Errorf("Extensions = %v, want %v", rpt.ChromeExtensions[0].Extensions, want)
	}
}

func TestCounterCountsComputerItemOccurrences(t *testing.T) {
	// Two computers both report sshd; one of them reports it twice.
	computers := map[int]*casper.ComputerRecord{
		1: withServices(testComputer(1, "ajones", "10.0.0.1"), "sshd", "sshd"),
		2: withServices(testComputer(2, "bsmith", "10.0.0.2"), "sshd", "cupsd"),
	}

	rpt := normalize(computers, nil)

	if got := rpt.ServiceCounter["sshd"]; got != 2 {
		t.Errorf("services_counter[sshd] = %d, want 2", got)
	}
	if got := rpt.ServiceCounter["cupsd"]; got != 1 {
		t.Errorf("services_counter[cupsd] = %d, want 1", got)
	}
	// Total equals (computer, item) pairs: {1,sshd}, {2,sshd}, {2,cupsd}.
	if got := rpt.ServiceCounter.Total(); got != 3 {
		t.Errorf("counter total = %d, want 3", got)
	}
}

func TestCounterRoundTripFromPerUserTable(t *testing.T) {
	computers := map[int]*casper.ComputerRecord{
		1: withServices(testComputer(1, "ajones", "10.0.0.1"), "sshd", "nginx", "nginx"),
		2: withServices(testComputer(2, "bsmith", "10.0.0.2"), "sshd"),
		3: withServices(testComputer(3, "cdoe", "10.0.0.3"), "cupsd"),
	}

	rpt := normalize(computers, nil)

	rebuilt := make(Counter)
	for _, entry := range rpt.Services {
		for _, svc := range entry.Services {
			rebuilt.Add(svc)
		}
	}
	if !reflect.DeepEqual(rebuilt, rpt.ServiceCounter) {
		t.Errorf("Rebuilt counter %v differs from direct counter %v", rebuilt, rpt.ServiceCounter)
	}
}

func TestPatchPartitionInvariants(t *testing.T) {
	// Fleet patches {101: OS Update, 102: Browser Update}; computer A
	// applied {101}. Patch 103 is applied by nobody.
	computers := map[int]*casper.ComputerRecord{
		1: testComputer(1, "ajones", "10.0.0.1"),
		2: testComputer(2, "bsmith", "10.0.0.2"),
	}
	patches := map[int]*casper.PatchRecord{
		101: testPatch(101, "OS Update", 1),
		102: testPatch(102, "Browser Update", 2),
		103: testPatch(103, "Orphan Update"),
	}

	rpt := normalize(computers, patches)

	if len(rpt.PatchStatus) != 2 {
		t.Fatalf("Expected 2 patch status rows, got %d", len(rpt.PatchStatus))
	}
	fullSet := []int{101, 102, 103}
	for _, status := range rpt.PatchStatus {
		union := make([]int, 0, len(fullSet))
		union = append(union, status.Applied...)
		union = append(union, status.Missing...)
		counts := make(map[int]int)
		for _, id := range union {
			counts[id]++
		}
		for _, id := range fullSet {
			if counts[id] != 1 {
				t.Errorf("Computer %d: patch %d appears %d times across applied+missing, want exactly 1",
					status.ComputerID, id, counts[id])
			}
		}
		if len(union) != len(fullSet) {
			t.Errorf("Computer %d: applied ∪ missing has %d entries, want %d",
				status.ComputerID, len(union), len(fullSet))
		}
	}

	byComputer := make(map[int]UserPatchStatus)
	for _, status := range rpt.PatchStatus {
		byComputer[status.ComputerID] = status
	}
	if want := []int{102, 103}; !reflect.DeepEqual(byComputer[1].Missing, want) {
		t.Errorf("missing_patches(1) = %v, want %v", byComputer[1].Missing, want)
	}
	if want := []int{101, 103}; !reflect.DeepEqual(byComputer[2].Missing, want) {
		t.Errorf("missing_patches(2) = %v, want %v", byComputer[2].Missing, want)
	}

	// The never-applied patch lands in every computer's missing list.
	for id, status := range byComputer {
		found := false
		for _, pid := range status.Missing {
			if pid == 103 {
				found = true
			}
		}
		if !found {
			t.Errorf("Computer %d: orphan patch 103 not in missing list", id)
		}
	}
}

func TestMissingPatchScenario(t *testing.T) {
	computers := map[int]*casper.ComputerRecord{
		1: testComputer(1, "ajones", "10.0.0.1"),
	}
	patches := map[int]*casper.PatchRecord{
		101: testPatch(101, "OS Update", 1),
		102: testPatch(102, "Browser Update"),
	}

	rpt := normalize(computers, patches)

	status := rpt.PatchStatus[0]
	if want := []int{101}; !reflect.DeepEqual(status.Applied, want) {
		t.Errorf("applied = %v, want %v", status.Applied, want)
	}
	if want := []int{102}; !reflect.DeepEqual(status.Missing, want) {
		t.Errorf("missing = %v, want %v", status.Missing, want)
	}

	if len(rpt.MissingPatchRows) != 1 {
		t.Fatalf("Expected 1 missing patch row, got %d", len(rpt.MissingPatchRows))
	}
	row := rpt.MissingPatchRows[0]
	if row.Application != "Browser Update" || row.Person != "Real ajones" {
		t.Errorf("Unexpected missing patch row: %+v", row)
	}
}

func TestMissingPatchRowCarriesOutdatedVersion(t *testing.T) {
	patch := testPatch(101, "Google Chrome", 2)
	patch.Outdated = []casper.OutdatedInstall{{ComputerID: 1, Version: "55.0"}}
	computers := map[int]*casper.ComputerRecord{
		1: testComputer(1, "ajones", "10.0.0.1"),
	}

	rpt := normalize(computers, map[int]*casper.PatchRecord{101: patch})

	if len(rpt.MissingPatchRows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rpt.MissingPatchRows))
	}
	if rpt.MissingPatchRows[0].Version != "55.0" {
		t.Errorf("Version = %q, want 55.0", rpt.MissingPatchRows[0].Version)
	}
}

func TestEmptyUsernameExcludedFromTablesButCounted(t *testing.T) {
	computers := map[int]*casper.ComputerRecord{
		1: withServices(testComputer(1, "ajones", "10.0.0.1"), "sshd"),
		2: withServices(testComputer(2, "", "10.0.0.2"), "sshd"),
	}

	rpt := normalize(computers, nil)

	if len(rpt.Services) != 1 {
		t.Fatalf("Expected 1 per-user services row, got %d", len(rpt.Services))
	}
	if rpt.Services[0].Username != "ajones" {
		t.Errorf("Unexpected per-user row for %q", rpt.Services[0].Username)
	}
	if got := rpt.ServiceCounter["sshd"]; got != 2 {
		t.Errorf("services_counter[sshd] = %d, want 2 (anonymous computer still counts)", got)
	}
}

func TestEmptyIPExcludedFromIPMaps(t *testing.T) {
	computers := map[int]*casper.ComputerRecord{
		1: testComputer(1, "ajones", ""),
		2: testComputer(2, "bsmith", "10.0.0.2"),
	}

	rpt := normalize(computers, nil)

	if len(rpt.IPToName) != 1 {
		t.Fatalf("Expected 1 IP mapping, got %v", rpt.IPToName)
	}
	owner, ok := rpt.IPToOwner["10.0.0.2"]
	if !ok {
		t.Fatal("Expected owner entry for 10.0.0.2")
	}
	if owner.Username != "bsmith" {
		t.Errorf("Owner = %+v", owner)
	}
	if rpt.IPToComputer["10.0.0.2"].ID() != 2 {
		t.Error("IPToComputer must map back to the full record")
	}
}

func TestStaleComputersSkipped(t *testing.T) {
	stale := withServices(testComputer(1, "ajones", "10.0.0.1"), "sshd")
	stale.General.LastContactTime = testNow.Add(-45 * 24 * time.Hour).Format("2006-01-02 15:04:05")
	fresh := withServices(testComputer(2, "bsmith", "10.0.0.2"), "sshd")

	rpt := Normalize(map[int]*casper.ComputerRecord{1: stale, 2: fresh}, nil,
		Options{SkipStale: true, Now: testNow})

	if want := []int{1}; !reflect.DeepEqual(rpt.SkippedStale, want) {
		t.Errorf("SkippedStale = %v, want %v", rpt.SkippedStale, want)
	}
	if got := rpt.ServiceCounter["sshd"]; got != 1 {
		t.Errorf("Stale computer leaked into counter: sshd = %d", got)
	}

	// With the skip disabled the stale computer is included.
	rpt = Normalize(map[int]*casper.ComputerRecord{1: stale, 2: fresh}, nil,
		Options{SkipStale: false, Now: testNow})
	if got := rpt.ServiceCounter["sshd"]; got != 2 {
		t.Errorf("sshd = %d with skip disabled, want 2", got)
	}
}

func TestUnparseableContactTimeCountsAsFresh(t *testing.T) {
	computer := withServices(testComputer(1, "ajones", "10.0.0.1"), "sshd")
	computer.General.LastContactTime = "not a timestamp"

	rpt := normalize(map[int]*casper.ComputerRecord{1: computer}, nil)

	if len(rpt.SkippedStale) != 0 {
		t.Errorf("Unparseable timestamp must not mark a computer stale: %v", rpt.SkippedStale)
	}
}

func TestMissingSoftwareSectionOmitsOnlyAffectedTables(t *testing.T) {
	computer := testComputer(1, "ajones", "10.0.0.1")
	computer.Hardware = &casper.Hardware{Make: "Apple", Model: "MacBook Pro"}
	// No software section at all.

	rpt := normalize(map[int]*casper.ComputerRecord{1: computer}, nil)

	if len(rpt.Services) != 0 || len(rpt.Applications) != 0 {
		t.Error("Computer without software section must not appear in software tables")
	}
	if len(rpt.Assets) != 1 {
		t.Fatalf("Asset table must still include the computer, got %d rows", len(rpt.Assets))
	}
	if rpt.Assets[0].Asset.Model != "MacBook Pro" {
		t.Errorf("Asset = %+v", rpt.Assets[0].Asset)
	}
	if _, ok := rpt.IPToName["10.0.0.1"]; !ok {
		t.Error("IP map must still include the computer")
	}
}

func TestServiceNamesCleaned(t *testing.T) {
	computer := withServices(testComputer(1, "ajones", "10.0.0.1"),
		"com.example.agent.0FA52B6D-9C31-4F2A-8E11-0AB1C2D3E4F5",
		"0x7f9a2c.com.apple.cfprefsd",
		"sshd",
	)

	rpt := normalize(map[int]*casper.ComputerRecord{1: computer}, nil)

	want := []string{"com.example.agent", "com.apple.cfprefsd", "sshd"}
	if !reflect.DeepEqual(rpt.Services[0].Services, want) {
		t.Errorf("Services = %v, want %v", rpt.Services[0].Services, want)
	}
}

func TestChromeVersionTagged(t *testing.T) {
	computer := testComputer(1, "ajones", "10.0.0.1")
	computer.Software = &casper.Software{
		Applications: []casper.Application{{Name: "Google Chrome.app", Version: "56.0.2924.87"}},
	}
	computer.ExtensionAttributes = []casper.ExtensionAttribute{
		{ID: 1, Name: "Chrome Extensions", Type: "String", Value: "uBlock"},
	}

	rpt := normalize(map[int]*casper.ComputerRecord{1: computer}, nil)

	if rpt.ChromeExtensions[0].ChromeVersion != "56.0.2924.87" {
		t.Errorf("ChromeVersion = %q", rpt.ChromeExtensions[0].ChromeVersion)
	}
}

func TestCrashersTable(t *testing.T) {
	crasher := testComputer(1, "ajones", "10.0.0.1")
	crasher.ExtensionAttributes = []casper.ExtensionAttribute{
		{ID: 1, Name: "crashers", Type: "String",
			Value: "/Library/Logs/DiagnosticReports/coreaudiod_2016-11-16-123214_mac-ajones.crash"},
	}
	quiet := testComputer(2, "bsmith", "10.0.0.2")
	quiet.ExtensionAttributes = []casper.ExtensionAttribute{
		{ID: 1, Name: "crashers", Type: "String", Value: "No recent heavy crashers"},
	}

	rpt := normalize(map[int]*casper.ComputerRecord{1: crasher, 2: quiet}, nil)

	if len(rpt.Crashers) != 1 {
		t.Fatalf("Crashers has %d entries, want 1", len(rpt.Crashers))
	}
	if rpt.Crashers[0].Username != "ajones" {
		t.Errorf("Crashers[0].Username = %q", rpt.Crashers[0].Username)
	}
	if rpt.Crashers[0].CrashingApp != "coreaudiod" {
		t.Errorf("CrashingApp = %q, want coreaudiod", rpt.Crashers[0].CrashingApp)
	}
}

func TestNormalizeToleratesPartialResults(t *testing.T) {
	// Simulates a run where one detail fetch failed: id 2 is absent.
	computers := map[int]*casper.ComputerRecord{
		1: withServices(testComputer(1, "ajones", "10.0.0.1"), "sshd"),
		3: withServices(testComputer(3, "cdoe", "10.0.0.3"), "sshd"),
	}
	patches := map[int]*casper.PatchRecord{
		101: testPatch(101, "OS Update", 1, 3),
	}

	rpt := normalize(computers, patches)

	if got := rpt.ServiceCounter["sshd"]; got != 2 {
		t.Errorf("sshd = %d, want 2", got)
	}
	if len(rpt.PatchStatus) != 2 {
		t.Errorf("Expected 2 patch status rows, got %d", len(rpt.PatchStatus))
	}
	for _, status := range rpt.PatchStatus {
		if len(status.Missing) != 0 {
			t.Errorf("Computer %d unexpectedly missing patches: %v", status.ComputerID, status.Missing)
		}
	}
}
