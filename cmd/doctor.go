package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/gchat/internal/channels/telegram"
	"github.com/nextlevelbuilder/gchat/internal/config"
	"github.com/nextlevelbuilder/gchat/internal/keyring"
	"github.com/nextlevelbuilder/gchat/internal/sessions"
	"github.com/nextlevelbuilder/gchat/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and state store health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("gchat doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults and env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Telegram:")
	checkSecret("Token:", cfg.Telegram.Token)
	fmt.Printf("    %-12s %d\n", "Owners:", len(cfg.Telegram.OwnerIDs))
	if id := notifyChatID(cfg.Telegram); id != 0 {
		fmt.Printf("    %-12s %d\n", "Notify:", id)
	} else {
		fmt.Printf("    %-12s (log only)\n", "Notify:")
	}

	fmt.Println()
	fmt.Println("  Provider:")
	fmt.Printf("    %-12s %s\n", "Model:", cfg.Provider.Model)
	if cfg.Provider.APIBase != "" {
		fmt.Printf("    %-12s %s\n", "API base:", cfg.Provider.APIBase)
	}
	checkSecret("Fallback:", cfg.Provider.APIKey)

	fmt.Println()
	fmt.Println("  Database:")
	fmt.Printf("    %-12s %s\n", "Driver:", cfg.Database.Driver)
	kvs, err := openStore(cfg.Database)
	if err != nil {
		fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", err)
	} else {
		defer kvs.Close()
		checkState(store.NewConversationStore(kvs, cfg.Database.Collection), cfg)
	}

	fmt.Println()
	fmt.Println("  Optional:")
	checkSecret("ElevenLabs:", cfg.Tts.ElevenLabs.APIKey)
	checkSetting("Metrics:", cfg.Metrics.Listen)
	if cfg.Telemetry.Enabled {
		checkSetting("Telemetry:", cfg.Telemetry.Endpoint)
	} else {
		checkSetting("Telemetry:", "")
	}
	checkSetting("Janitor:", cfg.Media.JanitorSchedule)

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkState(st *store.ConversationStore, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := keyring.NewPool(ctx, st, "")
	if err != nil {
		fmt.Printf("    %-12s READ FAILED (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s OK\n", "Status:")
	keys, cursor := pool.List()
	if len(keys) == 0 {
		fmt.Printf("    %-12s none stored\n", "Keys:")
	} else {
		fmt.Printf("    %-12s %d stored, current %d (%s)\n", "Keys:", len(keys), cursor+1, telegram.MaskKey(keys[cursor]))
	}

	chat := cfg.ChatSettings()
	m, err := sessions.NewManager(ctx, st, chat.DefaultRole, chat.DefaultSecondaryRole)
	if err != nil {
		fmt.Printf("    %-12s READ FAILED (%s)\n", "Users:", err)
		return
	}
	enabled, disabled, forAll := m.Snapshot()
	fmt.Printf("    %-12s %d enabled, %d disabled, all=%v\n", "Users:", len(enabled), len(disabled), forAll)
}

func checkSecret(label, v string) {
	if v == "" {
		fmt.Printf("    %-12s (not configured)\n", label)
		return
	}
	fmt.Printf("    %-12s %s\n", label, telegram.MaskKey(v))
}

func checkSetting(label, v string) {
	if v == "" {
		fmt.Printf("    %-12s disabled\n", label)
		return
	}
	fmt.Printf("    %-12s %s\n", label, v)
}
