package casper

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	// JSSResource endpoints.
	computersEndpoint   = "/JSSResource/computers"
	computersIDEndpoint = "/JSSResource/computers/id"
	patchesEndpoint     = "/JSSResource/patches"
	patchesIDEndpoint   = "/JSSResource/patches/id"

	// The API answers XML unless JSON is asked for explicitly.
	acceptHeader = "application/json, text/javascript, */*; q=0.01"

	// Per-request timeout.
	httpTimeout = 60 * time.Second
	// Response size cap.
	maxResponseBody = 32 * 1024 * 1024 // 32MB
	// Retry backoff for per-identifier detail fetches.
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
	// Progress log interval during bulk fetches.
	progressEvery = 25
)

// Credentials identify the API user. All three values are required.
type Credentials struct {
	User     string
	Password string
	Host     string
}

// CredentialsFromEnv reads CASPER_USER, CASPER_PASS and CASPER_HOST.
func CredentialsFromEnv() (Credentials, error) {
	creds := Credentials{
		User:     os.Getenv("CASPER_USER"),
		Password: os.Getenv("CASPER_PASS"),
		Host:     os.Getenv("CASPER_HOST"),
	}
	for name, value := range map[string]string{
		"CASPER_USER": creds.User,
		"CASPER_PASS": creds.Password,
		"CASPER_HOST": creds.Host,
	} {
		if value == "" {
			return Credentials{}, fmt.Errorf("%s is missing from the environment", name)
		}
	}
	return creds, nil
}

// FetchPolicy controls how bulk detail fetches handle failures.
type FetchPolicy struct {
	// SkipFailed keeps going past a failed identifier, recording it for
	// the caller. When false the first failure aborts the bulk fetch.
	SkipFailed bool
	// Retries is the attempt count per identifier (0 means one attempt).
	Retries uint
	// Workers parallelizes detail fetches when greater than one. Fetches
	// are independent and results are order-insensitive.
	Workers int
}

// DefaultFetchPolicy is skip-and-continue with a few retries, sequential.
func DefaultFetchPolicy() FetchPolicy {
	return FetchPolicy{SkipFailed: true, Retries: 3, Workers: 1}
}

// StatusError reports a non-2xx response from the API.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.StatusCode)
}

// DecodeError reports a response body that could not be decoded.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding response from %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Client talks to one Casper server with basic authentication.
type Client struct {
	httpClient *http.Client
	baseURL    string
	user       string
	password   string
	policy     FetchPolicy
	insecure   bool
	scheme     string
	debug      bool
}

// Option configures a Client.
type Option func(*Client)

// WithInsecureTLS disables certificate verification, matching deployments
// where the server carries a self-signed certificate.
func WithInsecureTLS() Option {
	return func(c *Client) { c.insecure = true }
}

// WithHTTP uses plain HTTP instead of the default HTTPS.
func WithHTTP() Option {
	return func(c *Client) { c.scheme = "http" }
}

// WithPolicy sets the bulk fetch policy.
func WithPolicy(policy FetchPolicy) Option {
	return func(c *Client) { c.policy = policy }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithBaseURL overrides the URL derived from the credential host.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithDebug enables request-level debug logging.
func WithDebug() Option {
	return func(c *Client) { c.debug = true }
}

// New creates a client for the server named in the credentials.
func New(creds Credentials, opts ...Option) *Client {
	c := &Client{
		user:     creds.User,
		password: creds.Password,
		policy:   DefaultFetchPolicy(),
		scheme:   "https",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		c.baseURL = c.scheme + "://" + creds.Host
	}
	if c.httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if c.insecure {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
		}
		c.httpClient = &http.Client{
			Timeout:   httpTimeout,
			Transport: transport,
		}
	}
	return c
}

// getRaw performs one authenticated GET and returns the body.
func (c *Client) getRaw(ctx context.Context, path string) ([]byte, error) {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	req.SetBasicAuth(c.user, c.password)
	req.Header.Set("Accept", acceptHeader)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", url, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("[WARN] Error closing response body: %v", err)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}
	if c.debug {
		log.Printf("[DEBUG] GET %s: %d bytes in %v", path, len(body), time.Since(start))
	}
	return body, nil
}

// getJSON performs one authenticated GET and decodes the JSON body.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.getRaw(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &DecodeError{URL: c.baseURL + path, Err: err}
	}
	return nil
}

// resourceRef is the {id, name} element of the collection endpoints.
type resourceRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ComputerIDs lists the unique computer identifiers known to the server.
func (c *Client) ComputerIDs(ctx context.Context) ([]int, error) {
	return c.listIDs(ctx, computersEndpoint, "computers")
}

// PatchIDs lists the unique patch-title identifiers known to the server.
func (c *Client) PatchIDs(ctx context.Context) ([]int, error) {
	return c.listIDs(ctx, patchesEndpoint, "patch_reporting_software_titles")
}

// listIDs fetches a collection endpoint and extracts the identifier set.
// The wrapping field must be present: an absent field means a malformed
// response and is reported, never treated as an empty fleet.
func (c *Client) listIDs(ctx context.Context, path, field string) ([]int, error) {
	var envelope map[string]json.RawMessage
	if err := c.getJSON(ctx, path, &envelope); err != nil {
		return nil, err
	}
	raw, ok := envelope[field]
	if !ok {
		return nil, &DecodeError{
			URL: c.baseURL + path,
			Err: fmt.Errorf("missing %q field", field),
		}
	}

	var refs []resourceRef
	if err := json.Unmarshal(raw, &refs); err != nil {
		return nil, &DecodeError{URL: c.baseURL + path, Err: err}
	}

	seen := make(map[int]bool, len(refs))
	ids := make([]int, 0, len(refs))
	for _, ref := range refs {
		if seen[ref.ID] {
			continue
		}
		seen[ref.ID] = true
		ids = append(ids, ref.ID)
	}
	return ids, nil
}

// Computer fetches the full detail record for one computer.
func (c *Client) Computer(ctx context.Context, id int) (*ComputerRecord, error) {
	var envelope computerEnvelope
	path := fmt.Sprintf("%s/%d", computersIDEndpoint, id)
	if err := c.getJSON(ctx, path, &envelope); err != nil {
		return nil, err
	}
	if envelope.Computer == nil {
		return nil, &DecodeError{
			URL: c.baseURL + path,
			Err: fmt.Errorf("missing %q field", "computer"),
		}
	}
	envelope.Computer.scrub()
	return envelope.Computer, nil
}

// Patch fetches and parses the detail record for one patch title.
func (c *Client) Patch(ctx context.Context, id int) (*PatchRecord, error) {
	path := fmt.Sprintf("%s/%d", patchesIDEndpoint, id)
	body, err := c.getRaw(ctx, path)
	if err != nil {
		return nil, err
	}
	record, err := ParsePatchDetail(id, body)
	if err != nil {
		return nil, &DecodeError{URL: c.baseURL + path, Err: err}
	}
	return record, nil
}

// FetchComputers fetches detail records for all identifiers under the
// client's policy. The second return value maps identifiers that failed to
// their error; with SkipFailed set the run continues past them.
func (c *Client) FetchComputers(ctx context.Context, ids []int) (map[int]*ComputerRecord, map[int]error, error) {
	return fetchAll(ctx, "computers", ids, c.policy, c.Computer)
}

// FetchPatches fetches and parses detail records for all patch identifiers
// under the client's policy.
func (c *Client) FetchPatches(ctx context.Context, ids []int) (map[int]*PatchRecord, map[int]error, error) {
	return fetchAll(ctx, "patches", ids, c.policy, c.Patch)
}

// fetchAll runs independent per-identifier fetches with retry, optional
// parallelism and the skip-and-continue policy. Results may arrive in any
// order; callers must not depend on completion order.
func fetchAll[T any](
	ctx context.Context,
	what string,
	ids []int,
	policy FetchPolicy,
	fetch func(context.Context, int) (T, error),
) (map[int]T, map[int]error, error) {
	start := time.Now()
	results := make(map[int]T, len(ids))
	failed := make(map[int]error)

	workers := policy.Workers
	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
		done     int
	)
	sem := make(chan struct{}, workers)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(id int) {
			defer wg.Done()
			defer func() { <-sem }()

			record, err := fetchOne(ctx, id, policy, fetch)

			mu.Lock()
			defer mu.Unlock()
			done++
			if err != nil {
				failed[id] = err
				log.Printf("[WARN] Failed to fetch %s record %d: %v", what, id, err)
				if !policy.SkipFailed && firstErr == nil {
					firstErr = fmt.Errorf("fetching %s record %d: %w", what, id, err)
					cancel()
				}
				return
			}
			results[id] = record
			if done%progressEvery == 0 {
				log.Printf("[INFO] %d/%d %s records fetched", done, len(ids), what)
			}
		}(id)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, nil, firstErr
	}
	log.Printf("[INFO] Fetched %d/%d %s records (%d failed) in %v",
		len(results), len(ids), what, len(failed), time.Since(start))
	return results, failed, nil
}

// fetchOne fetches a single identifier, retrying with backoff when the
// policy asks for it.
func fetchOne[T any](
	ctx context.Context,
	id int,
	policy FetchPolicy,
	fetch func(context.Context, int) (T, error),
) (T, error) {
	if policy.Retries <= 1 {
		return fetch(ctx, id)
	}
	var record T
	err := retry.Do(func() error {
		var err error
		record, err = fetch(ctx, id)
		return err
	}, retry.Attempts(policy.Retries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff))
	return record, err
}
