package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"agentrelay/internal/config"
	"agentrelay/internal/coords"
	"agentrelay/internal/domain"

	"github.com/spf13/cobra"
)

var knownBackends = []struct {
	ID   string
	Desc string
}{{"chrome", "Drive the agents' console page in Chrome"}, {"dryrun", "Record GUI actions only (testing)"}, {"off", "Inbox files only"}}

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup: workspaces, GUI backend, recipients",
		Long:  "Guides you through the workspace root, the GUI automation backend and console URL, and the recipients' input coordinates. Writes config to the path used by --config or default.",
		RunE:  runWizard,
	}
}

func runWizard(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
		cfg.ExpandPaths()
	}

	reader := bufio.NewReader(os.Stdin)
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(os.Stdout, " [%s]: ", def)
		} else {
			fmt.Fprint(os.Stdout, ": ")
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" && def != "" {
			return def, nil
		}
		return s, nil
	}

	// Step 1: Workspaces
	fmt.Println("\n--- Step 1: Workspaces ---")
	fmt.Fprint(os.Stdout, "Directory holding one workspace per recipient (<root>/<name>/inbox)")
	root, err := prompt(cfg.Inbox.Root)
	if err != nil {
		return err
	}
	cfg.Inbox.Root = config.ExpandPath(root)
	if err := os.MkdirAll(cfg.Inbox.Root, 0o755); err != nil {
		return fmt.Errorf("create workspace root: %w", err)
	}
	fmt.Fprintf(os.Stdout, "  Using workspaces: %s\n", cfg.Inbox.Root)

	// Step 2: GUI backend
	fmt.Println("\n--- Step 2: GUI automation ---")
	for i, b := range knownBackends {
		fmt.Fprintf(os.Stdout, "  %d) %s - %s\n", i+1, b.ID, b.Desc)
	}
	fmt.Fprint(os.Stdout, "Choose backend (1-3)")
	choice, err := prompt("1")
	if err != nil {
		return err
	}
	var idx int
	if n, _ := fmt.Sscanf(choice, "%d", &idx); n != 1 || idx < 1 || idx > len(knownBackends) {
		idx = 1
	}
	backend := knownBackends[idx-1].ID
	cfg.Automation.Enabled = backend != "off"
	if cfg.Automation.Enabled {
		cfg.Automation.Backend = backend
	}
	if backend == "chrome" {
		fmt.Fprint(os.Stdout, "Console URL")
		url, err := prompt(cfg.Automation.URL)
		if err != nil {
			return err
		}
		cfg.Automation.URL = url
	}
	fmt.Fprintf(os.Stdout, "  Using backend: %s\n", backend)

	// Step 3: Recipients
	fmt.Println("\n--- Step 3: Recipients ---")
	cs, err := coords.Load(cfg.Coordinates.Path)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, "Add recipients as 'Name X Y' (empty line to finish).")
	for {
		fmt.Fprint(os.Stdout, "Recipient")
		line, err := prompt("")
		if err != nil {
			return err
		}
		if line == "" {
			break
		}
		name, p, err := parseRecipientLine(line)
		if err != nil {
			fmt.Fprintf(os.Stdout, "  %v\n", err)
			continue
		}
		if err := cs.Set(name, p); err != nil {
			fmt.Fprintf(os.Stdout, "  %v\n", err)
			continue
		}
		if cfg.Inbox.Enabled {
			os.MkdirAll(filepath.Join(cfg.Inbox.Root, name, "inbox"), 0o755)
		}
		fmt.Fprintf(os.Stdout, "  %s at %s\n", name, p)
	}
	if err := cs.Save(); err != nil {
		return err
	}

	// Save
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\nConfig saved to %s\n", cfgPath)
	fmt.Println("Next: run 'agentrelay doctor', then 'agentrelay send --to <name> hello'.")
	return nil
}

// parseRecipientLine parses "Name X Y".
func parseRecipientLine(line string) (string, domain.Point, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return "", domain.Point{}, fmt.Errorf("expected 'Name X Y', got %q", line)
	}
	x, errX := strconv.Atoi(fields[1])
	y, errY := strconv.Atoi(fields[2])
	if errX != nil || errY != nil {
		return "", domain.Point{}, fmt.Errorf("coordinates must be integers: %q", line)
	}
	return fields[0], domain.Point{X: x, Y: y}, nil
}
