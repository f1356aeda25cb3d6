// Package casper implements a client for the Casper (JSS) REST API and the
// typed schema for the records it returns.
package casper

import "strings"

// ComputerRecord is the full detail payload for one managed computer.
// General and Location are always present in practice; Hardware and Software
// are optional sections and must be reached through their accessors.
type ComputerRecord struct {
	General             General              `json:"general"`
	Location            Location             `json:"location"`
	Hardware            *Hardware            `json:"hardware"`
	Software            *Software            `json:"software"`
	ExtensionAttributes []ExtensionAttribute `json:"extension_attributes"`
}

// computerEnvelope matches the top-level wrapping of /computers/id responses.
type computerEnvelope struct {
	Computer *ComputerRecord `json:"computer"`
}

// General holds the identity and check-in fields of a computer.
type General struct {
	ID               int              `json:"id"`
	Name             string           `json:"name"`
	SerialNumber     string           `json:"serial_number"`
	LastContactTime  string           `json:"last_contact_time"`
	LastReportedIP   string           `json:"last_reported_ip"`
	RemoteManagement RemoteManagement `json:"remote_management"`
}

// RemoteManagement carries the management state. The password hash is
// scrubbed before records leave this package.
type RemoteManagement struct {
	Managed                  bool   `json:"managed"`
	ManagementUsername       string `json:"management_username"`
	ManagementPasswordSHA256 string `json:"management_password_sha256"`
}

// Location holds the user assignment fields of a computer.
type Location struct {
	Username     string `json:"username"`
	RealName     string `json:"real_name"`
	EmailAddress string `json:"email_address"`
	Position     string `json:"position"`
	Department   string `json:"department"`
	Building     string `json:"building"`
}

// Hardware holds the asset fields of a computer.
type Hardware struct {
	Make                        string `json:"make"`
	Model                       string `json:"model"`
	ModelIdentifier             string `json:"model_identifier"`
	OSName                      string `json:"os_name"`
	OSVersion                   string `json:"os_version"`
	OSBuild                     string `json:"os_build"`
	DiskEncryptionConfiguration string `json:"disk_encryption_configuration"`
}

// Software holds the installed-software inventory of a computer.
type Software struct {
	Applications             []Application              `json:"applications"`
	Plugins                  []Plugin                   `json:"plugins"`
	RunningServices          []string                   `json:"running_services"`
	AvailableSoftwareUpdates []string                   `json:"available_software_updates"`
	AvailableUpdates         map[string]AvailableUpdate `json:"available_updates"`
	InstalledByCasper        []string                   `json:"installed_by_casper"`
	InstalledByInstallerSwu  []string                   `json:"installed_by_installer_swu"`
}

// Application is one installed application entry.
type Application struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Version string `json:"version"`
}

// Plugin is one installed plugin entry.
type Plugin struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Version string `json:"version"`
}

// AvailableUpdate is one pending OS update entry.
type AvailableUpdate struct {
	Name        string `json:"name"`
	PackageName string `json:"package_name"`
	Version     string `json:"version"`
}

// ExtensionAttribute is one custom inventory attribute reported by the API.
type ExtensionAttribute struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ID returns the computer's stable integer identifier.
func (c *ComputerRecord) ID() int { return c.General.ID }

// HardwareSection returns the hardware section and whether it was present.
func (c *ComputerRecord) HardwareSection() (*Hardware, bool) {
	if c.Hardware == nil {
		return nil, false
	}
	return c.Hardware, true
}

// SoftwareSection returns the software section and whether it was present.
func (c *ComputerRecord) SoftwareSection() (*Software, bool) {
	if c.Software == nil {
		return nil, false
	}
	return c.Software, true
}

// CanonicalName picks a non-empty display name for the computer's user,
// falling back through real name, computer name, username and email.
func (c *ComputerRecord) CanonicalName() string {
	for _, name := range []string{
		c.Location.RealName,
		c.General.Name,
		c.Location.Username,
		c.Location.EmailAddress,
	} {
		if strings.TrimSpace(name) != "" {
			return name
		}
	}
	return "N/A"
}

// Email returns the user's email address, "N/A" when unset.
func (c *ComputerRecord) Email() string {
	if c.Location.EmailAddress == "" {
		return "N/A"
	}
	return c.Location.EmailAddress
}

// scrub blanks sensitive fields so they never reach report output.
func (c *ComputerRecord) scrub() {
	c.General.RemoteManagement.ManagementPasswordSHA256 = ""
}
