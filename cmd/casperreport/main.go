// Package main implements the casperreport CLI: it pulls computer and patch
// records from a Casper server and writes the flattened report artifacts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/rodaine/table"

	"casperreport/internal/casper"
	"casperreport/internal/config"
	"casperreport/internal/export"
	"casperreport/internal/report"
	"casperreport/internal/swver"
)

var (
	configPath = flag.String("config", "casperreport.yaml", "Run configuration file (YAML)")
	outputDir  = flag.String("output", "", "Output directory (overrides config)")
	envFile    = flag.String("env", "", "Optional .env file with CASPER_USER/CASPER_PASS/CASPER_HOST")
	insecure   = flag.Bool("insecure", false, "Skip TLS certificate verification")
	skipStale  = flag.Bool("skip-stale", true, "Skip computers past the stale threshold")
	staleDays  = flag.Int("stale-days", 0, "Stale threshold in days (overrides config)")
	workers    = flag.Int("workers", 0, "Parallel detail fetches (overrides config)")
	topCounts  = flag.Int("top", 0, "Rows per counter table printed to the terminal (overrides config)")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
	applyFlags(&cfg)

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("[ERROR] Failed to load %s: %v", *envFile, err)
		}
	} else {
		// Best effort: a .env in the working directory is optional.
		_ = godotenv.Load()
	}

	creds, err := casper.CredentialsFromEnv()
	if err != nil {
		log.Fatalf("[ERROR] %v (set CASPER_USER, CASPER_PASS and CASPER_HOST)", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printChromeBanner(ctx)

	opts := []casper.Option{
		casper.WithPolicy(casper.FetchPolicy{
			SkipFailed: cfg.Fetch.SkipFailed,
			Retries:    cfg.Fetch.Retries,
			Workers:    cfg.Fetch.Workers,
		}),
	}
	if cfg.InsecureTLS {
		opts = append(opts, casper.WithInsecureTLS())
	}
	if *debug {
		opts = append(opts, casper.WithDebug())
	}
	client := casper.New(creds, opts...)

	rpt, failures, err := run(ctx, client, cfg)
	if err != nil {
		log.Fatalf("[ERROR] %v", err)
	}

	if err := writeArtifacts(cfg.OutputDir, rpt); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}

	printCounters(rpt, cfg.TopCounts)
	printSummary(rpt, failures)
}

// applyFlags overlays explicitly passed flags onto the loaded config.
// Flags left at their defaults must not stomp config-file values, so the
// boolean override is gated on the flag actually appearing on the command
// line.
func applyFlags(cfg *config.Config) {
	passed := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { passed[f.Name] = true })

	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}
	if *insecure {
		cfg.InsecureTLS = true
	}
	if passed["skip-stale"] {
		cfg.SkipStale = *skipStale
	}
	if *staleDays > 0 {
		cfg.StaleDays = *staleDays
	}
	if *workers > 0 {
		cfg.Fetch.Workers = *workers
	}
	if *topCounts > 0 {
		cfg.TopCounts = *topCounts
	}
}

// fetchFailures records the identifiers lost to per-id fetch errors.
type fetchFailures struct {
	Computers map[int]error
	Patches   map[int]error
}

// run executes the pipeline: list identifiers, fetch details, normalize.
// A failure on either identifier list is fatal; per-identifier detail
// failures are collected and reported.
func run(ctx context.Context, client *casper.Client, cfg config.Config) (*report.Report, fetchFailures, error) {
	start := time.Now()

	computerIDs, err := client.ComputerIDs(ctx)
	if err != nil {
		return nil, fetchFailures{}, fmt.Errorf("listing computers: %w", err)
	}
	log.Printf("[INFO] Found %d computers", len(computerIDs))

	computers, failedComputers, err := client.FetchComputers(ctx, computerIDs)
	if err != nil {
		return nil, fetchFailures{}, err
	}

	patchIDs, err := client.PatchIDs(ctx)
	if err != nil {
		return nil, fetchFailures{}, fmt.Errorf("listing patches: %w", err)
	}
	log.Printf("[INFO] Found %d patch titles", len(patchIDs))

	patches, failedPatches, err := client.FetchPatches(ctx, patchIDs)
	if err != nil {
		return nil, fetchFailures{}, err
	}

	rpt := report.Normalize(computers, patches, report.Options{
		SkipStale:  cfg.SkipStale,
		StaleAfter: time.Duration(cfg.StaleDays) * 24 * time.Hour,
	})
	log.Printf("[INFO] Normalized %d computers and %d patches in %v",
		len(computers), len(patches), time.Since(start))

	return rpt, fetchFailures{Computers: failedComputers, Patches: failedPatches}, nil
}

// writeArtifacts writes the same artifact set the reporting pipeline has
// always produced, one file per derived table.
func writeArtifacts(dir string, rpt *report.Report) error {
	writer, err := export.NewWriter(dir)
	if err != nil {
		return err
	}

	artifacts := []struct {
		name string
		data any
	}{
		{"user_chrome_extensions.json", rpt.ChromeExtensions},
		{"user_applications.json", rpt.Applications},
		{"user_plugins.json", rpt.Plugins},
		{"user_services.json", rpt.Services},
		{"user_virtual_machines.json", rpt.VirtualMachines},
		{"user_available_updates.json", rpt.AvailableUpdates},
		{"user_available_software_updates.json", rpt.AvailableSoftwareUpdates},
		{"user_assets.json", rpt.Assets},
		{"user_crashers.json", rpt.Crashers},
		{"user_patches.json", rpt.PatchStatus},
		{"ip_to_username.json", rpt.IPToName},
		{"ip_to_user_object.json", rpt.IPToOwner},
		{"services_counter.json", rpt.ServiceCounter.Sorted()},
		{"chrome_extensions_counter.json", rpt.ExtensionCounter.Sorted()},
		{"virtual_machines_counter.json", rpt.VMCounter.Sorted()},
	}
	for _, artifact := range artifacts {
		if err := writer.JSON(artifact.name, artifact.data); err != nil {
			return err
		}
	}

	rows := make([][]string, 0, len(rpt.MissingPatchRows))
	for _, row := range rpt.MissingPatchRows {
		rows = append(rows, row.CSV())
	}
	return writer.CSV("user_missing_patches.csv", report.MissingPatchHeader, rows)
}

// printChromeBanner shows the latest upstream Chrome release so stale fleet
// versions stand out in the extension report.
func printChromeBanner(ctx context.Context) {
	version, err := swver.New().LatestChrome(ctx, "mac", "stable")
	if err != nil {
		log.Printf("[WARN] Could not look up the latest Chrome version: %v", err)
		return
	}
	fmt.Printf("The latest version of Google Chrome is %s\n", version.Current)
}

func printCounters(rpt *report.Report, top int) {
	counters := []struct {
		title   string
		counter report.Counter
	}{
		{"Service", rpt.ServiceCounter},
		{"Chrome Extension", rpt.ExtensionCounter},
		{"Virtual Machine", rpt.VMCounter},
	}
	for _, c := range counters {
		if len(c.counter) == 0 {
			continue
		}
		tbl := table.New(c.title, "Count")
		tbl.WithHeaderFormatter(color.New(color.FgGreen, color.Underline).SprintfFunc()).
			WithFirstColumnFormatter(color.New(color.FgYellow).SprintfFunc())
		for _, entry := range c.counter.Top(top) {
			tbl.AddRow(entry.Name, entry.Count)
		}
		fmt.Println()
		tbl.Print()
	}
	fmt.Println()
}

func printSummary(rpt *report.Report, failures fetchFailures) {
	success := color.New(color.FgGreen, color.Bold).PrintfFunc()
	warn := color.New(color.FgYellow, color.Bold).PrintfFunc()

	success("Report complete: %d per-user patch records, %d IP mappings\n",
		len(rpt.PatchStatus), len(rpt.IPToName))
	if len(rpt.SkippedStale) > 0 {
		warn("Skipped %d stale computers: %v\n", len(rpt.SkippedStale), rpt.SkippedStale)
	}
	for id, err := range failures.Computers {
		warn("Computer %d not fetched: %v\n", id, err)
	}
	for id, err := range failures.Patches {
		warn("Patch %d not fetched: %v\n", id, err)
	}
	if len(failures.Computers) > 0 || len(failures.Patches) > 0 {
		warn("Fleet view is incomplete; re-run to retry failed identifiers\n")
	}
}
