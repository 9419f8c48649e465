package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"agentrelay/internal/config"
	"agentrelay/internal/coords"
	"agentrelay/internal/history"
	"agentrelay/internal/inbox"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your agentrelay installation",
		Long: `Verifies that agentrelay's configuration, coordinates, inboxes, history
database and browser are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("agentrelay doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'agentrelay init' to create a default configuration.\n")
				return fmt.Errorf("1 check(s) failed")
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return fmt.Errorf("1 check(s) failed")
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Coordinates
			cs, err := coords.Load(cfg.Coordinates.Path)
			switch {
			case err != nil:
				printFail("Coordinates", err.Error())
				failed++
			case len(cs.List()) == 0 && cfg.Automation.Enabled:
				printWarn("Coordinates", fmt.Sprintf("no recipients in %s; GUI delivery will always fall back", cfg.Coordinates.Path))
				warned++
			default:
				printPass("Coordinates", fmt.Sprintf("%d recipient(s)", len(cs.List())))
				passed++
			}

			// 4. Inbox root
			if cfg.Inbox.Enabled {
				if info, err := os.Stat(cfg.Inbox.Root); err != nil {
					printFail("Inbox root", fmt.Sprintf("not found: %s", cfg.Inbox.Root))
					failed++
				} else if !info.IsDir() {
					printFail("Inbox root", fmt.Sprintf("not a directory: %s", cfg.Inbox.Root))
					failed++
				} else {
					names, _ := inbox.NewStore(cfg.Inbox.Root, false, logger).Recipients()
					printPass("Inbox root", fmt.Sprintf("%s (%d inbox(es))", cfg.Inbox.Root, len(names)))
					passed++
				}
			}

			// 5. History database
			if cfg.History.Enabled {
				if err := checkDatabase(cfg.History.DBPath); err != nil {
					printFail("History database", err.Error())
					failed++
				} else {
					printPass("History database", cfg.History.DBPath)
					passed++
				}
			}

			// 6. Browser
			if cfg.Automation.Enabled && cfg.Automation.Backend == "chrome" {
				if path := findChrome(); path == "" {
					printFail("Chrome", "no Chrome/Chromium executable on PATH")
					failed++
				} else {
					printPass("Chrome", path)
					passed++
				}
			}

			// 7. Metrics port
			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Listen); err != nil {
					printWarn("Metrics listen", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
					warned++
				} else {
					printPass("Metrics listen", cfg.Metrics.Listen+" available")
					passed++
				}
			}

			// 8. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running agentrelay.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nagentrelay should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! agentrelay is ready to deliver.\n")
			}
			return nil
		},
	}
}

// checkDatabase opens the ledger (applying migrations) and pings it.
func checkDatabase(dbPath string) error {
	hs, err := history.Open(dbPath, logger)
	if err != nil {
		return err
	}
	defer hs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Ping(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := history.SchemaVersion(hs.DB()); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}

func findChrome() string {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	if _, err := os.Stat("/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"); err == nil {
		return "/Applications/Google Chrome.app"
	}
	return ""
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
