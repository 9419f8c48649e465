package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"text/template"

	"agentrelay/internal/config"

	"github.com/spf13/cobra"
)

const serviceLabel = "dev.agentrelay.serve"

// serviceSpec is what the service manager needs to run `serve` for one config.
// Graphical is set when GUI delivery drives a visible Chrome window, which ties
// the service to the user's desktop session.
type serviceSpec struct {
	Label      string
	Exec       string
	ConfigPath string
	WorkDir    string
	StderrPath string
	Graphical  bool
	Dirs       []string // created by preflight
}

func newServiceSpec(cfg *config.Config, execPath, cfgPath string) serviceSpec {
	spec := serviceSpec{
		Label:      serviceLabel,
		Exec:       execPath,
		ConfigPath: cfgPath,
		WorkDir:    cfg.General.DataDir,
		StderrPath: filepath.Join(cfg.General.DataDir, "logs", "serve.stderr.log"),
		Graphical:  cfg.Automation.Enabled && cfg.Automation.Backend == "chrome" && !cfg.Automation.Headless,
	}

	dirs := map[string]bool{
		cfg.General.DataDir:                true,
		cfg.Spool.Dir:                      true,
		filepath.Dir(spec.StderrPath):      true,
		filepath.Dir(cfg.Coordinates.Path): true,
	}
	if cfg.Inbox.Enabled {
		dirs[cfg.Inbox.Root] = true
	}
	if cfg.History.Enabled {
		dirs[filepath.Dir(cfg.History.DBPath)] = true
	}
	if cfg.General.LogFile != "" {
		dirs[filepath.Dir(cfg.General.LogFile)] = true
	}
	for d := range dirs {
		if d != "" && d != "." {
			spec.Dirs = append(spec.Dirs, d)
		}
	}
	sort.Strings(spec.Dirs)
	return spec
}

// serviceTarget is one service manager's unit location and commands.
type serviceTarget struct {
	manager string
	path    string
	tmpl    *template.Template
	start   []string
	stop    []string
}

func serviceTargetFor(goos, home string) (serviceTarget, error) {
	switch goos {
	case "darwin":
		path := filepath.Join(home, "Library", "LaunchAgents", serviceLabel+".plist")
		return serviceTarget{
			manager: "launchd",
			path:    path,
			tmpl:    launchdTemplate,
			start:   []string{"launchctl load -w " + path},
			stop:    []string{"launchctl unload -w " + path},
		}, nil
	case "linux":
		return serviceTarget{
			manager: "systemd",
			path:    filepath.Join(home, ".config", "systemd", "user", "agentrelay.service"),
			tmpl:    systemdTemplate,
			start:   []string{"systemctl --user daemon-reload", "systemctl --user enable --now agentrelay"},
			stop:    []string{"systemctl --user disable --now agentrelay"},
		}, nil
	default:
		return serviceTarget{}, fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
}

func (t serviceTarget) render(spec serviceSpec) (string, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, spec); err != nil {
		return "", fmt.Errorf("render %s unit: %w", t.manager, err)
	}
	return buf.String(), nil
}

// preflight reports what would keep `serve` from delivering under this
// config, and creates the directories it writes to.
func preflight(cfg *config.Config, spec serviceSpec) []string {
	var problems []string
	if err := config.Validate(cfg); err != nil {
		problems = append(problems, err.Error())
	}
	if cfg.Automation.Enabled && cfg.Automation.Backend == "chrome" && findChrome() == "" {
		problems = append(problems, "chrome backend selected but no Chrome/Chromium executable found")
	}
	if cfg.History.Enabled {
		if err := checkDatabase(cfg.History.DBPath); err != nil {
			problems = append(problems, fmt.Sprintf("history database %s: %v", cfg.History.DBPath, err))
		}
	}
	for _, d := range spec.Dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			problems = append(problems, fmt.Sprintf("create %s: %v", d, err))
		}
	}
	return problems
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Install or remove the background service that runs 'agentrelay serve'",
	}
	cmd.AddCommand(installDaemonCmd())
	cmd.AddCommand(uninstallDaemonCmd())
	return cmd
}

func installDaemonCmd() *cobra.Command {
	var (
		force     bool
		printOnly bool
	)
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Check the config, then install a launchd/systemd user service for 'serve'",
		Long: `Runs the delivery preflight (config validation, Chrome for the chrome backend,
the history database, and the spool/inbox/log directories) and then writes a
user service that runs the spool worker at login. A visible Chrome backend ties
the service to the desktop session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err != nil {
				return fmt.Errorf("no config at %s: run 'agentrelay init' first", cfgPath)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			target, err := serviceTargetFor(runtime.GOOS, home)
			if err != nil {
				return err
			}

			spec := newServiceSpec(cfg, execPath, cfgPath)
			unit, err := target.render(spec)
			if err != nil {
				return err
			}
			if printOnly {
				fmt.Print(unit)
				return nil
			}

			if problems := preflight(cfg, spec); len(problems) > 0 {
				for _, p := range problems {
					printFail("Preflight", p)
				}
				if !force {
					return fmt.Errorf("preflight failed (%d problem(s)); fix them or use --force", len(problems))
				}
			}

			if err := os.MkdirAll(filepath.Dir(target.path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(target.path, []byte(unit), 0o644); err != nil {
				return err
			}
			logger.Info("service installed", "manager", target.manager, "path", target.path, "graphical", spec.Graphical)
			fmt.Printf("Installed %s service: %s\n", target.manager, target.path)
			for _, c := range target.start {
				fmt.Printf("  %s\n", c)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "install even if the preflight finds problems")
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the unit instead of installing it")
	return cmd
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the agentrelay user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			target, err := serviceTargetFor(runtime.GOOS, home)
			if err != nil {
				return err
			}
			fmt.Printf("Stop the service first if it is running:\n  %s\n", strings.Join(target.stop, "\n  "))
			if err := os.Remove(target.path); err != nil {
				return fmt.Errorf("remove %s unit: %w", target.manager, err)
			}
			fmt.Printf("Removed %s\n", target.path)
			return nil
		},
	}
}

var launchdTemplate = template.Must(template.New("launchd").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{html .Exec}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{html .ConfigPath}}</string>
    </array>
    <key>WorkingDirectory</key>
    <string>{{html .WorkDir}}</string>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
{{- if .Graphical}}
    <key>LimitLoadToSessionType</key>
    <string>Aqua</string>
{{- end}}
    <key>StandardErrorPath</key>
    <string>{{html .StderrPath}}</string>
</dict>
</plist>
`))

var systemdTemplate = template.Must(template.New("systemd").Parse(`[Unit]
Description=agentrelay delivery worker ({{.ConfigPath}})
{{- if .Graphical}}
After=graphical-session.target
PartOf=graphical-session.target
{{- end}}

[Service]
Type=simple
ExecStart={{.Exec}} serve --config {{.ConfigPath}}
WorkingDirectory={{.WorkDir}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy={{if .Graphical}}graphical-session.target{{else}}default.target{{end}}
`))
