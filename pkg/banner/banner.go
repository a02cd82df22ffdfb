package banner

import (
	"fmt"

	"ficsync/pkg/config"
)

const banner = `
███████╗██╗ ██████╗███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔════╝██║██╔════╝██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
█████╗  ██║██║     ███████╗ ╚████╔╝ ██╔██╗ ██║██║
██╔══╝  ██║██║     ╚════██║  ╚██╔╝  ██║╚██╗██║██║
██║     ██║╚██████╗███████║   ██║   ██║ ╚████║╚██████╗
╚═╝     ╚═╝ ╚═════╝╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`

// Print writes the startup banner with the effective configuration summary.
func Print(eff *config.EffectiveConfig, conversationID, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("API:          %s\n", eff.Config.API.BaseURL)
	if rt, err := eff.Config.RealtimeURL(); err == nil {
		fmt.Printf("Realtime:     %s\n", rt)
	}
	fmt.Printf("Conversation: %s\n", conversationID)
	if eff.Config.Cache.Enabled {
		fmt.Printf("Cache:        %s\n", eff.Config.Cache.Path)
	}
	if version != "" {
		fmt.Printf("Version:      %s\n", version)
	}
	if eff.Source != "" {
		fmt.Printf("Config sources: %s\n", eff.Source)
	}
	fmt.Println("===============================================================")
}
