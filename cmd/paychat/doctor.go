package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"paychat/internal/config"
	"paychat/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

// chromeCandidates are looked up on PATH when gateway.chromePath is empty.
var chromeCandidates = []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome"}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your PayChat installation",
		Long: `Verifies that PayChat's configuration, ledger database, payment backend,
browser and listen ports are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("PayChat Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'paychat init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Signed-in user
			if _, err := senderIdentity(cfg); err != nil {
				printWarn("Identity", "identity.fullName not set; payments cannot be announced")
				warned++
			} else {
				printPass("Identity", cfg.Identity.FullName)
				passed++
			}

			// 4. Ledger database writable
			if cfg.Store.Enabled {
				if schema, err := checkDatabase(cfg.Store.DBPath); err != nil {
					printFail("Ledger database", err.Error())
					failed++
				} else {
					printPass("Ledger database", fmt.Sprintf("%s (schema v%d)", cfg.Store.DBPath, schema))
					passed++
				}
			} else {
				printWarn("Ledger database", "disabled; failed notifications cannot be retried after exit")
				warned++
			}

			// 5. Payment backend reachable
			if err := checkBackend(cfg.Backend.BaseURL); err != nil {
				printWarn("Payment backend", err.Error())
				warned++
			} else {
				printPass("Payment backend", cfg.Backend.BaseURL)
				passed++
			}

			// 6. Browser for the hosted checkout
			if cfg.Gateway.Mode == "browser" {
				if path, err := findChrome(cfg.Gateway.ChromePath); err != nil {
					printFail("Browser", err.Error())
					failed++
				} else {
					printPass("Browser", path)
					passed++
				}
			} else {
				printWarn("Browser", "gateway.mode is simulated; no real payments are collected")
				warned++
			}

			// 7. Chat transport
			if cfg.Dispatch.Channel == "" {
				printWarn("Dispatch channel", "not set; pass --channel to pay")
				warned++
			} else {
				printPass("Dispatch channel", cfg.Dispatch.Channel)
				passed++
			}

			// 8. Event stream
			if rc := cfg.Events.Redis; rc.Enabled {
				if err := checkRedis(rc.Addr, rc.Password, rc.DB); err != nil {
					printWarn("Event stream", err.Error())
					warned++
				} else {
					printPass("Event stream", fmt.Sprintf("redis://%s %s", rc.Addr, rc.Stream))
					passed++
				}
			}

			// 9. Listen ports
			ports := map[string]string{
				"Backend port": net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			}
			if cfg.Channels.WebSocket.Enabled {
				ports["WebSocket port"] = cfg.Channels.WebSocket.Addr
			}
			if cfg.Channels.Webhook.Enabled && cfg.Channels.Webhook.Addr != "" {
				ports["Webhook port"] = cfg.Channels.Webhook.Addr
			}
			for _, name := range sortedKeys(ports) {
				if err := checkPort(ports[name]); err != nil {
					printWarn(name, fmt.Sprintf("%s may be in use: %v", ports[name], err))
					warned++
				} else {
					printPass(name, ports[name]+" available")
					passed++
				}
			}

			// 10. Log file writable
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
				fmt.Printf("\nPlease fix the failed checks before running PayChat.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nPayChat should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! PayChat is ready to run.\n")
			}
			return nil
		},
	}
}

// checkDatabase opens the ledger, makes sure it is writable and returns its
// schema version.
func checkDatabase(dbPath string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return 0, fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return 0, fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return 0, fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return 0, fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	v, err := store.GetSchemaVersion(db)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// checkBackend checks the backend's health endpoint next to the API root.
func checkBackend(baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	u.Path = "/healthz"
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(u.String())
	if err != nil {
		return fmt.Errorf("unreachable: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %s", resp.Status)
	}
	return nil
}

func checkRedis(addr, password string, db int) error {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable: %v", err)
	}
	return nil
}

func findChrome(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("gateway.chromePath: %w", err)
		}
		return configured, nil
	}
	for _, name := range chromeCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no Chrome or Chromium found on PATH (set gateway.chromePath)")
}

func checkPort(addr string) error {
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
