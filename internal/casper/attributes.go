package casper

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// Extension attribute names the API uses for the inventory data we parse.
const (
	attrVirtualMachines  = "Virtual Machines"
	attrChromeExtensions = "Chrome Extensions"
	attrCrashers         = "crashers"
)

// crashFilePattern reduces a crash report filename like
// "coreaudiod_2016-11-16-123214_Some-Host.crash" to the crashing app name.
var crashFilePattern = regexp.MustCompile(`^(.*)_\d{4}-\d{2}-\d{2}-\d{6}_.*$`)

// Attributes is the parsed form of a computer's extension attributes.
type Attributes struct {
	// VMApp is the virtualization product; VirtualMachines the guest names.
	VMApp           string
	VirtualMachines []string
	// ChromeExtensions as reported by the inventory attribute.
	ChromeExtensions []string
	// CrashingApp is the most recent heavy crasher, empty when none.
	CrashingApp string
	// Numbers holds attribute values the API typed as Number.
	Numbers map[string]int
	// Strings holds the remaining raw attribute values by name.
	Strings map[string]string
}

// ParseAttributes interprets the well-known extension attributes of a
// computer record. Attribute types other than String and Number are
// rejected; Number values that fail to parse are kept as strings.
func ParseAttributes(attrs []ExtensionAttribute) (Attributes, error) {
	parsed := Attributes{
		Numbers: make(map[string]int),
		Strings: make(map[string]string),
	}

	for _, attr := range attrs {
		switch attr.Type {
		case "String":
			parsed.Strings[attr.Name] = attr.Value
		case "Number":
			n, err := strconv.Atoi(strings.TrimSpace(attr.Value))
			if err != nil {
				parsed.Strings[attr.Name] = attr.Value
				continue
			}
			parsed.Numbers[attr.Name] = n
		default:
			return Attributes{}, fmt.Errorf("unknown attribute type %q for %q", attr.Type, attr.Name)
		}
	}

	if value, ok := parsed.Strings[attrVirtualMachines]; ok {
		lines := nonEmptyLines(value)
		if len(lines) > 0 {
			// First line names the VM product, the rest are guests.
			parsed.VMApp = lines[0]
			parsed.VirtualMachines = lines[1:]
		}
	}

	if value, ok := parsed.Strings[attrChromeExtensions]; ok {
		for _, ext := range strings.Split(value, ",") {
			ext = strings.TrimSpace(ext)
			if ext != "" {
				parsed.ChromeExtensions = append(parsed.ChromeExtensions, ext)
			}
		}
	}

	if value, ok := parsed.Strings[attrCrashers]; ok {
		parsed.CrashingApp = parseCrasher(value)
	}

	return parsed, nil
}

// parseCrasher extracts the application name from a crash report path.
// Returns "" for the sentinel values the attribute script emits when the
// machine has no recent crashes.
func parseCrasher(value string) string {
	if value == "" || value == "No recent heavy crashers" {
		return ""
	}
	name := path.Base(value)
	if m := crashFilePattern.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return name
}

func nonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
