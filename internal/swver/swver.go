// Package swver looks up the latest released versions of common software
// from public version-tracking services.
package swver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	chromeVersionURL = "https://omahaproxy.appspot.com/all.json?os=%s&channel=%s"
	vergrabberURL    = "http://vergrabber.kingu.pl/vergrabber.json"

	httpTimeout     = 30 * time.Second
	maxResponseBody = 8 * 1024 * 1024 // 8MB
)

// Source fetches version data over HTTP.
type Source struct {
	httpClient *http.Client
	chromeURL  string
	versionURL string
}

// New returns a Source with default endpoints.
func New() *Source {
	return &Source{
		httpClient: &http.Client{Timeout: httpTimeout},
		chromeURL:  chromeVersionURL,
		versionURL: vergrabberURL,
	}
}

// NewWithURLs returns a Source with overridden endpoints, for tests.
func NewWithURLs(chromeURL, versionURL string) *Source {
	s := New()
	if chromeURL != "" {
		s.chromeURL = chromeURL
	}
	if versionURL != "" {
		s.versionURL = versionURL
	}
	return s
}

// ChromeVersion describes a Chrome release channel snapshot.
type ChromeVersion struct {
	Current         string `json:"current_version"`
	CurrentDate     string `json:"current_reldate"`
	Previous        string `json:"previous_version"`
	PreviousDate    string `json:"previous_reldate"`
	Channel         string `json:"channel"`
	OperatingSystem string `json:"-"`
}

// chromePlatform is one element of the omahaproxy all.json array.
type chromePlatform struct {
	OS       string          `json:"os"`
	Versions []ChromeVersion `json:"versions"`
}

// LatestChrome returns the newest Chrome release for an OS and channel.
func (s *Source) LatestChrome(ctx context.Context, operatingSystem, channel string) (ChromeVersion, error) {
	url := fmt.Sprintf(s.chromeURL, operatingSystem, channel)
	var platforms []chromePlatform
	if err := s.getJSON(ctx, url, &platforms); err != nil {
		return ChromeVersion{}, err
	}
	if len(platforms) == 0 {
		return ChromeVersion{}, fmt.Errorf("no version data for os %q", operatingSystem)
	}
	versions := platforms[len(platforms)-1].Versions
	if len(versions) == 0 {
		return ChromeVersion{}, fmt.Errorf("no versions for os %q channel %q", operatingSystem, channel)
	}
	version := versions[len(versions)-1]
	version.OperatingSystem = operatingSystem
	return version, nil
}

// versionInfo is one branch entry of the vergrabber feed.
type versionInfo struct {
	Version string `json:"version"`
}

// Versions returns the latest known version per requested application,
// "N/A" for applications the feed does not track. With no applications
// given, every tracked product/branch pair is returned.
func (s *Source) Versions(ctx context.Context, applications []string) (map[string]string, error) {
	var feed struct {
		Client map[string]map[string]versionInfo `json:"client"`
		Server map[string]map[string]versionInfo `json:"server"`
	}
	if err := s.getJSON(ctx, s.versionURL, &feed); err != nil {
		return nil, err
	}

	latest := make(map[string]string)
	for _, products := range []map[string]map[string]versionInfo{feed.Server, feed.Client} {
		for product, branches := range products {
			for _, info := range branches {
				// Keep the newest branch version per product.
				if newerVersion(info.Version, latest[product]) {
					latest[product] = info.Version
				}
			}
		}
	}

	if applications == nil {
		return latest, nil
	}
	filtered := make(map[string]string, len(applications))
	for _, app := range applications {
		version, ok := latest[app]
		if !ok {
			version = "N/A"
		}
		filtered[app] = version
	}
	return filtered, nil
}

// newerVersion reports whether a is a later release than b. Dot-separated
// components compare numerically so that 10.2 beats 9.1; components that are
// not plain numbers compare as strings.
func newerVersion(a, b string) bool {
	if b == "" {
		return a != ""
	}
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			if an != bn {
				return an > bn
			}
			continue
		}
		if as[i] != bs[i] {
			return as[i] > bs[i]
		}
	}
	return len(as) > len(bs)
}

func (s *Source) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("reading response from %s: %w", url, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", url, err)
	}
	return nil
}
