// Package cli implements the command-line interface for vaultchain. This
// package provides all CLI commands and their implementations using the
// urfave/cli framework.
//
// Available commands:
//   - backup: create a full vault, or an incremental vault against a prior one
//   - expand: walk a vault chain and reconstruct a directory from it
//   - info: show a vault's metadata without decrypting its payload
//
// All commands support secure password input and provide comprehensive
// error handling.
package cli

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log"
	"os"
	"syscall"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"vaultchain/internal/backuplog"
	"vaultchain/internal/config"
	"vaultchain/pkg/vault"
)

// Run initializes and executes the vaultchain CLI application. It returns
// once a command succeeds; on error it terminates the program via log.Fatal.
func Run() {
	app := &cli.Command{
		Name:  "vaultchain",
		Usage: "Incremental, chained, encrypted directory backups",
		Commands: []*cli.Command{
			backupCommand(),
			expandCommand(),
			infoCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func backupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Create a full vault, or an incremental vault against a prior one",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "vault-dir",
				Aliases:  []string{"d"},
				Usage:    "Directory to store the vault file in",
				Value:    ".",
				Required: false,
			},
			&cli.StringFlag{
				Name:     "source",
				Aliases:  []string{"s"},
				Usage:    "Directory to back up",
				Required: false,
			},
			&cli.StringFlag{
				Name:     "password",
				Aliases:  []string{"p"},
				Usage:    "Vault passphrase (NOT RECOMMENDED, better to enter interactively for security)",
				Required: false,
			},
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Optional TOML config file supplying source and password",
				Required: false,
			},
			&cli.BoolFlag{
				Name:     "full",
				Aliases:  []string{"f"},
				Usage:    "Perform a full backup instead of an incremental one",
				Required: false,
			},
			&cli.StringFlag{
				Name:     "base",
				Aliases:  []string{"b"},
				Usage:    "Predecessor vault file name (required unless --full)",
				Required: false,
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug-level logging",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			vaultDir := cmd.String("vault-dir")
			sourceDir := cmd.String("source")
			password := cmd.String("password")

			if configPath := cmd.String("config"); configPath != "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				if sourceDir == "" {
					sourceDir = cfg.DirToBackup()
				}
				if password == "" {
					password = cfg.Password()
				}
			}
			if sourceDir == "" {
				return fmt.Errorf("--source is required unless --config supplies dir_to_backup")
			}

			if password == "" {
				var err error
				password, err = readPasswordSecurely("Enter vault passphrase: ")
				if err != nil {
					return err
				}
			}

			logger, err := backuplog.New(cmd.Bool("verbose"))
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logger.Sync()

			var vaultPath string
			if cmd.Bool("full") {
				fmt.Printf("Creating full vault from %s...\n", sourceDir)
				vaultPath, err = vault.CreateVault(vaultDir, sourceDir, password, logger)
			} else {
				base := cmd.String("base")
				if base == "" {
					return fmt.Errorf("--base is required for an incremental backup (or pass --full)")
				}
				fmt.Printf("Creating incremental vault against %s...\n", base)
				vaultPath, err = vault.IncrementVault(vaultDir, base, password, sourceDir, logger)
			}
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			hash, err := hashFile(vaultPath)
			if err != nil {
				return fmt.Errorf("hash vault: %w", err)
			}

			fmt.Println("✅ Vault successfully created!")
			fmt.Printf("📦 %s\n", vaultPath)
			fmt.Printf("🔑 sha256 %s\n", hash)
			return nil
		},
	}
}

func expandCommand() *cli.Command {
	return &cli.Command{
		Name:  "expand",
		Usage: "Reconstruct a directory from a vault chain",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "vault-dir",
				Aliases:  []string{"d"},
				Usage:    "Directory the vault chain is stored in",
				Value:    ".",
				Required: false,
			},
			&cli.StringFlag{
				Name:     "password",
				Aliases:  []string{"p"},
				Usage:    "Vault passphrase (NOT RECOMMENDED, better to enter interactively for security)",
				Required: false,
			},
			&cli.StringFlag{
				Name:     "output",
				Aliases:  []string{"o"},
				Usage:    "Directory to write the reconstructed files into; must exist and be empty",
				Value:    "./output",
				Required: false,
			},
			&cli.StringFlag{
				Name:     "vault",
				Aliases:  []string{"V"},
				Usage:    "Vault file name to expand (resolved inside vault-dir)",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug-level logging",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			vaultFile := cmd.String("vault")
			password := cmd.String("password")

			if password == "" {
				var err error
				password, err = readPasswordSecurely("Enter vault passphrase: ")
				if err != nil {
					return err
				}
			}

			logger, err := backuplog.New(cmd.Bool("verbose"))
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logger.Sync()

			fmt.Printf("Expanding vault chain ending at %s...\n", vaultFile)
			if err := vault.ExpandVault(cmd.String("vault-dir"), vaultFile, password, cmd.String("output"), logger); err != nil {
				return fmt.Errorf("expand failed: %w", err)
			}

			fmt.Println("✅ Vault chain expanded successfully!")
			fmt.Printf("📂 %s\n", cmd.String("output"))
			return nil
		},
	}
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show a vault's metadata",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "vault",
				Aliases:  []string{"V"},
				Usage:    "Path to the vault file",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "password",
				Aliases:  []string{"p"},
				Usage:    "Vault passphrase (NOT RECOMMENDED, better to enter interactively for security)",
				Required: false,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			vaultFile := cmd.String("vault")
			password := cmd.String("password")
			if password == "" {
				var err error
				password, err = readPasswordSecurely("Enter vault passphrase: ")
				if err != nil {
					return err
				}
			}

			r, err := vault.OpenVault(vaultFile, password)
			if err != nil {
				return fmt.Errorf("open vault: %w", err)
			}
			defer r.Close()

			fmt.Printf("kind:       %s\n", r.Kind())
			fmt.Printf("id:         %s\n", r.ID())
			fmt.Printf("timestamp:  %s\n", r.Timestamp())
			fmt.Printf("source dir: %s\n", r.SourceDirName())
			fmt.Printf("hash:       %s\n", r.HashValue())
			fmt.Printf("files:      %d\n", len(r.FileSet()))
			if prev := r.Previous(); prev != nil {
				fmt.Printf("previous:   %s (hash %s)\n", prev.FileName, prev.Hash)
			}
			return nil
		},
	}
}

func readPasswordSecurely(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("password read error: %w", err)
	}
	if len(password) == 0 {
		return "", fmt.Errorf("password cannot be empty")
	}
	return string(password), nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
