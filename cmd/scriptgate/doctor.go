package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"scriptgate/internal/auditlog"
	"scriptgate/internal/config"
	"scriptgate/internal/logging"
	"scriptgate/internal/provider"
	"scriptgate/internal/runner"

	"github.com/spf13/cobra"
)

type checkStatus string

const (
	statusPass checkStatus = "PASS"
	statusWarn checkStatus = "WARN"
	statusFail checkStatus = "FAIL"
)

type checkResult struct {
	name   string
	status checkStatus
	detail string
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the gateway setup",
		Long: `Verifies that the configuration, targets, text generation providers,
audit database and listen port are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfgPath := resolveConfigPath()
			fmt.Fprintf(out, "scriptgate doctor v%s\n\n", version)

			var results []checkResult
			add := func(name string, status checkStatus, detail string) {
				results = append(results, checkResult{name: name, status: status, detail: detail})
			}

			if _, err := os.Stat(cfgPath); err != nil {
				add("Config file", statusWarn, fmt.Sprintf("not found at %s, using defaults", cfgPath))
			} else {
				add("Config file", statusPass, cfgPath)
			}

			cfg, err := loadConfig()
			if err != nil {
				add("Config validation", statusFail, err.Error())
				printChecks(cmd, results)
				return fmt.Errorf("config is invalid")
			}
			add("Config validation", statusPass, "valid")

			results = append(results, checkTargets(cfg)...)
			results = append(results, checkProviders(cfg)...)

			if cfg.Audit.Enabled {
				if err := checkDatabase(cfg.Audit.DBPath); err != nil {
					add("Audit database", statusFail, err.Error())
				} else {
					add("Audit database", statusPass, cfg.Audit.DBPath)
				}
			}

			if cfg.Log.File != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o755); err != nil {
					add("Log file", statusWarn, fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					add("Log file", statusPass, cfg.Log.File)
				}
			}

			addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
			if err := checkPort(addr); err != nil {
				add("Listen address", statusWarn, fmt.Sprintf("%s may be in use: %v", addr, err))
			} else {
				add("Listen address", statusPass, addr+" available")
			}

			failed := printChecks(cmd, results)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

func checkTargets(cfg *config.Config) []checkResult {
	r := runner.FromConfig(cfg, logging.NewNop())
	var results []checkResult
	for _, name := range r.Names() {
		if err := r.Check(name); err != nil {
			results = append(results, checkResult{name: "Target: " + name, status: statusFail, detail: err.Error()})
			continue
		}
		t, _ := r.Lookup(name)
		detail := t.Command
		if t.Script != "" {
			detail += " " + t.Script
		}
		results = append(results, checkResult{name: "Target: " + name, status: statusPass, detail: detail})
	}
	if len(results) == 0 {
		results = append(results, checkResult{name: "Targets", status: statusWarn, detail: "no targets configured"})
	}
	return results
}

func checkProviders(cfg *config.Config) []checkResult {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := runner.FromConfig(cfg, logging.NewNop())
	factory := provider.NewFactory(cfg, r, logging.NewNop())

	var results []checkResult
	for _, st := range factory.CheckAll(ctx) {
		name := "Provider: " + st.Name
		switch {
		case !st.Enabled:
			continue
		case st.Err == nil:
			results = append(results, checkResult{name: name, status: statusPass, detail: "healthy"})
		case st.Name == cfg.Chat.Provider:
			results = append(results, checkResult{name: name, status: statusFail, detail: st.Err.Error()})
		default:
			results = append(results, checkResult{name: name, status: statusWarn, detail: st.Err.Error()})
		}
	}
	return results
}

func checkDatabase(dbPath string) error {
	store, err := auditlog.NewStore(dbPath, logging.NewNop())
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := store.Summary(ctx, time.Now()); err != nil {
		return fmt.Errorf("cannot query: %w", err)
	}
	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

// printChecks renders the results and returns the number of failures.
func printChecks(cmd *cobra.Command, results []checkResult) int {
	var passed, warned, failed int
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		switch r.status {
		case statusPass:
			passed++
		case statusWarn:
			warned++
		case statusFail:
			failed++
		}
		rows = append(rows, []string{string(r.status), r.name, r.detail})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderTable([]string{"Status", "Check", "Detail"}, rows, nil))
	fmt.Fprintf(out, "\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
	switch {
	case failed > 0:
		fmt.Fprintln(out, "\nPlease fix the failed checks before serving.")
	case warned > 0:
		fmt.Fprintln(out, "\nThe gateway should work but consider fixing the warnings.")
	default:
		fmt.Fprintln(out, "\nAll checks passed.")
	}
	return failed
}
