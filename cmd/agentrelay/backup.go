package main

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

// backupItem is a file or directory and its name inside the archive.
type backupItem struct {
	path string
	name string
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive config, coordinates, history and inboxes",
		Long: `Creates a compressed .tar.gz archive containing the config file, the
coordinates file, the history database and every recipient inbox.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if outputPath == "" {
				backupDir := filepath.Join(cfg.General.DataDir, "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("agentrelay-backup-%s.tar.gz", ts))
			}

			candidates := []backupItem{
				{resolveConfigPath(), "config.json"},
				{cfg.Coordinates.Path, filepath.Base(cfg.Coordinates.Path)},
			}
			if cfg.History.Enabled {
				for _, suffix := range []string{"", "-wal", "-shm"} {
					candidates = append(candidates, backupItem{cfg.History.DBPath + suffix, filepath.Base(cfg.History.DBPath) + suffix})
				}
			}
			if cfg.Inbox.Enabled {
				candidates = append(candidates, backupItem{cfg.Inbox.Root, "workspaces"})
			}

			var items []backupItem
			for _, it := range candidates {
				if _, err := os.Stat(it.path); err == nil {
					items = append(items, it)
				}
			}
			if len(items) == 0 {
				return fmt.Errorf("nothing to back up")
			}

			n, err := createTarGz(outputPath, items)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			info, _ := os.Stat(outputPath)
			size := int64(0)
			if info != nil {
				size = info.Size()
			}
			fmt.Printf("Backup created: %s (%s)\n", outputPath, humanSize(size))
			fmt.Printf("Files included: %d\n", n)
			for _, it := range items {
				fmt.Printf("  - %s\n", it.name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: <dataDir>/backups/agentrelay-backup-<timestamp>.tar.gz)")
	return cmd
}

// createTarGz archives items and returns the number of files written.
func createTarGz(outputPath string, items []backupItem) (int, error) {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return 0, err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	count := 0
	for _, it := range items {
		err := filepath.WalkDir(it.path, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(it.path, path)
			if err != nil {
				return err
			}
			name := filepath.ToSlash(filepath.Join(it.name, rel))
			if rel == "." {
				name = it.name
			}
			if err := addFileToTar(tarWriter, path, name); err != nil {
				return fmt.Errorf("add %s: %w", path, err)
			}
			count++
			return nil
		})
		if err != nil {
			return count, err
		}
	}
	return count, nil
}

func addFileToTar(tw *tar.Writer, filePath, name string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	_, err = io.Copy(tw, file)
	return err
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
