package report

import "casperreport/internal/casper"

// UserTag stamps a derived entry with the owning user's identity and the
// freshness of the underlying record.
type UserTag struct {
	ReportDate string `json:"report_date"`
	PollDate   string `json:"poll_date"`
	Username   string `json:"username"`
	Name       string `json:"name"`
	Email      string `json:"email"`
}

// UserExtensions lists one user's Chrome extensions.
type UserExtensions struct {
	UserTag
	ChromeVersion string   `json:"chrome_version"`
	Extensions    []string `json:"chrome_extensions"`
}

// UserApplications lists one user's installed applications.
type UserApplications struct {
	UserTag
	Applications []casper.Application `json:"applications"`
}

// UserPlugins lists one user's installed plugins.
type UserPlugins struct {
	UserTag
	Plugins []casper.Plugin `json:"plugins"`
}

// UserServices lists one user's running services.
type UserServices struct {
	UserTag
	Services []string `json:"services"`
}

// UserVirtualMachines lists one user's virtual machines.
type UserVirtualMachines struct {
	UserTag
	VMApp           string   `json:"vm_app,omitempty"`
	VirtualMachines []string `json:"virtual_machines"`
}

// UserUpdates lists one user's pending OS updates.
type UserUpdates struct {
	UserTag
	Updates []casper.AvailableUpdate `json:"available_updates"`
}

// UserSoftwareUpdates lists one user's pending software updates.
type UserSoftwareUpdates struct {
	UserTag
	Updates []string `json:"available_software_updates"`
}

// UserCrashes records the most recent heavy crasher on one user's machine.
type UserCrashes struct {
	UserTag
	CrashingApp string `json:"crashing_app"`
}

// Asset is the flattened hardware description of a computer.
type Asset struct {
	Make           string `json:"make"`
	Model          string `json:"model"`
	ModelID        string `json:"model_id"`
	OSName         string `json:"os_name"`
	OSVersion      string `json:"os_version"`
	OSBuild        string `json:"os_build"`
	DiskEncryption string `json:"disk_encryption"`
	Managed        bool   `json:"managed"`
}

// UserAsset ties an asset to its user.
type UserAsset struct {
	UserTag
	Asset Asset `json:"asset"`
}

// UserPatchStatus is the patch-compliance view for one computer: the fleet
// patch set partitioned into applied and missing identifiers.
type UserPatchStatus struct {
	UserTag
	ComputerID   int    `json:"computer_id"`
	SerialNumber string `json:"serial_number"`
	Applied      []int  `json:"applied_patches"`
	Missing      []int  `json:"missing_patches"`
}

// MissingPatchRow is one CSV-friendly row of the missing-patch report: one
// row per (computer, missing patch) pair. Version holds the outdated
// installed version when the computer runs an old release of the title.
type MissingPatchRow struct {
	Person       string `json:"person"`
	Email        string `json:"email"`
	SerialNumber string `json:"serial_number"`
	Application  string `json:"application"`
	Version      string `json:"version,omitempty"`
}

// OwnerInfo is the reverse-lookup value of the IP-to-owner table.
type OwnerInfo struct {
	RealName    string `json:"realname"`
	Username    string `json:"username"`
	LastCheckin string `json:"last_checkin"`
	Freshness   string `json:"freshness"`
}

// Report is the full normalized output of one run.
type Report struct {
	GeneratedAt string `json:"generated_at"`

	// Per-user tables. Computers without a username do not appear here.
	ChromeExtensions         []UserExtensions      `json:"chrome_extensions"`
	Applications             []UserApplications    `json:"applications"`
	Plugins                  []UserPlugins         `json:"plugins"`
	Services                 []UserServices        `json:"services"`
	VirtualMachines          []UserVirtualMachines `json:"virtual_machines"`
	AvailableUpdates         []UserUpdates         `json:"available_updates"`
	AvailableSoftwareUpdates []UserSoftwareUpdates `json:"available_software_updates"`
	Assets                   []UserAsset           `json:"assets"`
	Crashers                 []UserCrashes         `json:"crashers"`
	PatchStatus              []UserPatchStatus     `json:"patch_status"`

	// MissingPatchRows is per computer, not per user: a machine without a
	// user assignment still needs patching.
	MissingPatchRows []MissingPatchRow `json:"missing_patch_rows"`

	// Fleet-wide frequency counters. Every fetched non-stale computer
	// contributes, with or without a username.
	ServiceCounter   Counter `json:"services_counter"`
	ExtensionCounter Counter `json:"chrome_extensions_counter"`
	VMCounter        Counter `json:"virtual_machines_counter"`

	// Reverse lookup tables keyed by last reported IP.
	IPToName     map[string]string                 `json:"ip_to_username"`
	IPToOwner    map[string]OwnerInfo              `json:"ip_to_owner"`
	IPToComputer map[string]*casper.ComputerRecord `json:"-"`

	// PatchNames resolves patch identifiers in PatchStatus.
	PatchNames map[int]string `json:"patch_names"`

	// SkippedStale lists computers excluded for being past the stale
	// threshold.
	SkippedStale []int `json:"skipped_stale"`
}

// MissingPatchHeader is the CSV header for MissingPatchRows.
var MissingPatchHeader = []string{"person", "email", "serial_number", "application", "version"}

// CSV renders the row in MissingPatchHeader order.
func (r MissingPatchRow) CSV() []string {
	return []string{r.Person, r.Email, r.SerialNumber, r.Application, r.Version}
}
