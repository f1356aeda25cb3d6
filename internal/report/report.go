package report

import (
	"log"
	"regexp"
	"sort"
	"strings"
	"time"

	"casperreport/internal/casper"
)

const (
	// Timestamp layout used by the API and in report output.
	casperTimeFormat = "2006-01-02 15:04:05"
	// Computers silent for longer than this are stale.
	defaultStaleAfter = 30 * 24 * time.Hour
	// Application entry that carries the installed Chrome version.
	chromeAppName = "Google Chrome.app"
)

// Service names come with launchd-style decoration; strip the trailing GUID
// and any leading hex handle so instances of the same service count as one.
var (
	serviceGUIDSuffix = regexp.MustCompile(`(?i)^(.*)\.[0-9a-f]{8}(?:-[0-9a-f]{4}){3}-[0-9a-f]{12}$`)
	serviceHexPrefix  = regexp.MustCompile(`^0x[0-9a-f]{1,16}\.(.*)$`)
)

// Options controls the normalization pass.
type Options struct {
	// SkipStale drops computers whose last contact is older than
	// StaleAfter.
	SkipStale bool
	// StaleAfter defaults to 30 days when zero.
	StaleAfter time.Duration
	// Now anchors staleness and report timestamps; zero means time.Now().
	Now time.Time
}

// Normalize reshapes the fetched records into the flat report tables. It is
// a pure function of its inputs: partial result sets are fine, input order
// is irrelevant, and nothing is mutated.
func Normalize(computers map[int]*casper.ComputerRecord, patches map[int]*casper.PatchRecord, opts Options) *Report {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	staleAfter := opts.StaleAfter
	if staleAfter == 0 {
		staleAfter = defaultStaleAfter
	}

	r := &Report{
		GeneratedAt:      now.Format(casperTimeFormat),
		ServiceCounter:   make(Counter),
		ExtensionCounter: make(Counter),
		VMCounter:        make(Counter),
		IPToName:         make(map[string]string),
		IPToOwner:        make(map[string]OwnerInfo),
		IPToComputer:     make(map[string]*casper.ComputerRecord),
		PatchNames:       make(map[int]string),
	}

	patchIDs := make([]int, 0, len(patches))
	for id, patch := range patches {
		patchIDs = append(patchIDs, id)
		r.PatchNames[id] = patch.Name
	}
	sort.Ints(patchIDs)

	// Deterministic output ordering regardless of fetch order.
	computerIDs := make([]int, 0, len(computers))
	for id := range computers {
		computerIDs = append(computerIDs, id)
	}
	sort.Ints(computerIDs)

	for _, id := range computerIDs {
		computer := computers[id]
		if opts.SkipStale && isStale(computer.General.LastContactTime, now, staleAfter) {
			r.SkippedStale = append(r.SkippedStale, id)
			continue
		}
		r.addComputer(id, computer, patches, patchIDs, now)
	}

	if len(r.SkippedStale) > 0 {
		log.Printf("[INFO] Skipped %d stale computers", len(r.SkippedStale))
	}
	return r
}

// addComputer folds one computer record into every derived table it
// qualifies for. A missing section or unparseable attribute set omits the
// computer from the affected tables only.
func (r *Report) addComputer(id int, computer *casper.ComputerRecord, patches map[int]*casper.PatchRecord, patchIDs []int, now time.Time) {
	tag := UserTag{
		ReportDate: now.Format(casperTimeFormat),
		PollDate:   computer.General.LastContactTime,
		Username:   computer.Location.Username,
		Name:       computer.CanonicalName(),
		Email:      computer.Email(),
	}
	hasUser := strings.TrimSpace(tag.Username) != ""

	if ip := computer.General.LastReportedIP; ip != "" {
		r.IPToName[ip] = tag.Name
		r.IPToOwner[ip] = OwnerInfo{
			RealName:    tag.Name,
			Username:    tag.Username,
			LastCheckin: computer.General.LastContactTime,
			Freshness:   now.Format(casperTimeFormat),
		}
		r.IPToComputer[ip] = computer
	}

	if hardware, ok := computer.HardwareSection(); ok && hasUser {
		r.Assets = append(r.Assets, UserAsset{
			UserTag: tag,
			Asset: Asset{
				Make:           hardware.Make,
				Model:          hardware.Model,
				ModelID:        hardware.ModelIdentifier,
				OSName:         hardware.OSName,
				OSVersion:      hardware.OSVersion,
				OSBuild:        hardware.OSBuild,
				DiskEncryption: hardware.DiskEncryptionConfiguration,
				Managed:        computer.General.RemoteManagement.Managed,
			},
		})
	}

	chromeVersion := "N/A"
	if software, ok := computer.SoftwareSection(); ok {
		services := dedupe(cleanServiceNames(software.RunningServices))
		for _, svc := range services {
			r.ServiceCounter.Add(svc)
		}

		applications := dedupeApplications(software.Applications)
		for _, app := range applications {
			if app.Name == chromeAppName {
				chromeVersion = app.Version
			}
		}

		plugins := dedupePlugins(software.Plugins)

		var updates []casper.AvailableUpdate
		seenUpdates := make(map[string]bool)
		for _, update := range software.AvailableUpdates {
			if update.Name == "" || seenUpdates[update.Name] {
				continue
			}
			seenUpdates[update.Name] = true
			updates = append(updates, update)
		}
		sort.Slice(updates, func(i, j int) bool { return updates[i].Name < updates[j].Name })

		softwareUpdates := dedupe(trimAll(software.AvailableSoftwareUpdates))

		if hasUser {
			r.Services = append(r.Services, UserServices{UserTag: tag, Services: services})
			r.Applications = append(r.Applications, UserApplications{UserTag: tag, Applications: applications})
			r.Plugins = append(r.Plugins, UserPlugins{UserTag: tag, Plugins: plugins})
			r.AvailableUpdates = append(r.AvailableUpdates, UserUpdates{UserTag: tag, Updates: updates})
			r.AvailableSoftwareUpdates = append(r.AvailableSoftwareUpdates,
				UserSoftwareUpdates{UserTag: tag, Updates: softwareUpdates})
		}
	}

	attrs, err := casper.ParseAttributes(computer.ExtensionAttributes)
	if err != nil {
		log.Printf("[WARN] Skipping extension attributes for computer %d: %v", id, err)
	} else {
		extensions := dedupe(attrs.ChromeExtensions)
		for _, ext := range extensions {
			r.ExtensionCounter.Add(ext)
		}
		vms := dedupe(attrs.VirtualMachines)
		for _, vm := range vms {
			r.VMCounter.Add(vm)
		}
		if hasUser {
			r.ChromeExtensions = append(r.ChromeExtensions, UserExtensions{
				UserTag:       tag,
				ChromeVersion: chromeVersion,
				Extensions:    extensions,
			})
			r.VirtualMachines = append(r.VirtualMachines, UserVirtualMachines{
				UserTag:         tag,
				VMApp:           attrs.VMApp,
				VirtualMachines: vms,
			})
			if attrs.CrashingApp != "" {
				r.Crashers = append(r.Crashers, UserCrashes{
					UserTag:     tag,
					CrashingApp: attrs.CrashingApp,
				})
			}
		}
	}

	r.addPatchStatus(id, computer, tag, hasUser, patches, patchIDs)
}

// addPatchStatus partitions the fleet patch set into applied and missing for
// one computer and emits the per-missing-patch CSV rows.
func (r *Report) addPatchStatus(id int, computer *casper.ComputerRecord, tag UserTag, hasUser bool, patches map[int]*casper.PatchRecord, patchIDs []int) {
	if len(patchIDs) == 0 {
		return
	}

	applied := make([]int, 0, len(patchIDs))
	missing := make([]int, 0, len(patchIDs))
	for _, pid := range patchIDs {
		if patches[pid].Applied(id) {
			applied = append(applied, pid)
		} else {
			missing = append(missing, pid)
		}
	}

	if hasUser {
		r.PatchStatus = append(r.PatchStatus, UserPatchStatus{
			UserTag:      tag,
			ComputerID:   id,
			SerialNumber: computer.General.SerialNumber,
			Applied:      applied,
			Missing:      missing,
		})
	}

	for _, pid := range missing {
		patch := patches[pid]
		version := ""
		for _, outdated := range patch.Outdated {
			if outdated.ComputerID == id {
				version = outdated.Version
				break
			}
		}
		r.MissingPatchRows = append(r.MissingPatchRows, MissingPatchRow{
			Person:       tag.Name,
			Email:        tag.Email,
			SerialNumber: computer.General.SerialNumber,
			Application:  patch.Name,
			Version:      version,
		})
	}
}

// isStale reports whether a last-contact timestamp is older than the
// threshold. Unparseable timestamps count as fresh.
func isStale(lastContact string, now time.Time, staleAfter time.Duration) bool {
	if lastContact == "" {
		return false
	}
	t, err := time.Parse(casperTimeFormat, lastContact)
	if err != nil {
		return false
	}
	return t.Before(now.Add(-staleAfter))
}

// cleanServiceNames strips GUID suffixes and hex prefixes from service
// names.
func cleanServiceNames(services []string) []string {
	cleaned := make([]string, 0, len(services))
	for _, svc := range services {
		svc = strings.TrimSpace(svc)
		if m := serviceGUIDSuffix.FindStringSubmatch(svc); m != nil {
			svc = m[1]
		}
		if m := serviceHexPrefix.FindStringSubmatch(svc); m != nil {
			svc = m[1]
		}
		if svc != "" {
			cleaned = append(cleaned, svc)
		}
	}
	return cleaned
}

// dedupe removes duplicates preserving first-seen order.
func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

func dedupeApplications(apps []casper.Application) []casper.Application {
	seen := make(map[string]bool, len(apps))
	out := make([]casper.Application, 0, len(apps))
	for _, app := range apps {
		if app.Name == "" || seen[app.Name] {
			continue
		}
		seen[app.Name] = true
		out = append(out, app)
	}
	return out
}

func dedupePlugins(plugins []casper.Plugin) []casper.Plugin {
	seen := make(map[string]bool, len(plugins))
	out := make([]casper.Plugin, 0, len(plugins))
	for _, plugin := range plugins {
		if plugin.Name == "" || seen[plugin.Name] {
			continue
		}
		seen[plugin.Name] = true
		out = append(out, plugin)
	}
	return out
}

func trimAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, strings.TrimSpace(item))
	}
	return out
}
