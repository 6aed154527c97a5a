package common

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ternarybob/banner"
)

const bannerWidth = 64

// PrintBanner displays the startup banner on stderr and logs the same facts.
func PrintBanner(config *Config, logger *Logger) {
	info := GetVersionInfo()
	serviceURL := fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)

	chain := "disabled (webhook only)"
	if config.Chain.Enabled() {
		chain = config.Chain.VaultAddress
	}

	writeBanner(os.Stderr, "vaultsync", "Vault to brokerage reconciliation", [][2]string{
		{"Version", info.Version},
		{"Commit", info.Commit},
		{"Environment", config.Environment},
		{"Service URL", serviceURL},
		{"Storage", config.Storage.Backend},
		{"Broker mode", config.Clients.Broker.Mode},
		{"Index", config.Index.Name},
		{"Vault", chain},
	})

	logger.Info().
		Str("version", info.Version).
		Str("commit", info.Commit).
		Str("environment", config.Environment).
		Str("service_url", serviceURL).
		Str("storage", config.Storage.Backend).
		Str("broker_mode", config.Clients.Broker.Mode).
		Bool("chain_enabled", config.Chain.Enabled()).
		Msg("Application started")
}

// PrintShutdownBanner displays the shutdown notice.
func PrintShutdownBanner(logger *Logger) {
	writeBanner(os.Stderr, "vaultsync", "Shutting down", nil)
	logger.Info().Msg("Application stopped")
}

func writeBanner(w io.Writer, title, subtitle string, kv [][2]string) {
	textColor := banner.ColorBold + banner.ColorWhite
	hr := banner.ColorCyan + strings.Repeat("═", bannerWidth) + banner.ColorReset

	fmt.Fprintf(w, "\n%s\n\n", hr)
	fmt.Fprintf(w, "%s  %s%s\n", textColor, strings.ToUpper(title), banner.ColorReset)
	fmt.Fprintf(w, "%s  %s%s\n\n", textColor, subtitle, banner.ColorReset)
	for _, row := range kv {
		fmt.Fprintf(w, "%s  %-14s %s%s\n", textColor, row[0], row[1], banner.ColorReset)
	}
	if len(kv) > 0 {
		fmt.Fprintf(w, "\n")
	}
	fmt.Fprintf(w, "%s\n\n", hr)
}
