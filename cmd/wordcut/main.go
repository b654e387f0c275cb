// Command wordcut is the entry point for the wordcut transcript editing server
// and its offline helpers.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/wordcut/internal/app"
	"github.com/MrWong99/wordcut/internal/config"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "wordcut",
	Short: "Edit media by editing its transcript",
	Long: `wordcut serves word-level transcript editing over HTTP, a collaboration
socket and MCP. Deleting, restoring, moving or correcting words edits the
underlying media; the result exports as an EDL.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.AddCommand(serveCmd(), edlCmd(), takesCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger installs a text logger on stderr whose level follows lvl.
func newLogger(lvl *slog.LevelVar, level config.LogLevel) {
	lvl.Set(app.SlogLevel(level))
	if verbose {
		lvl.Set(slog.LevelDebug)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         wordcut — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("LLM", providerValue(cfg.Providers.LLM.Name, cfg.Providers.LLM.Model))
	printRow("Takes", cfg.Takes.Classifier)
	store := "memory"
	if cfg.Store.PostgresDSN != "" {
		store = "postgres"
	}
	printRow("Store", store)
	printRow("MCP", enabled(cfg.MCP.Enabled))
	printRow("Sys clipboard", enabled(cfg.Clipboard.System))
	printRow("Buffer", fmt.Sprintf("%.2fs", cfg.Editor.BufferSeconds))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerValue(name, model string) string {
	switch {
	case name == "":
		return "(not configured)"
	case model != "":
		return name + " / " + model
	}
	return name
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "(disabled)"
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-13s   : %-19s ║\n", kind, value)
}
