package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"LendLedger/internal/config"
	"LendLedger/internal/state"

	"github.com/google/uuid"
)

const marketsTOML = `
[[markets]]
id = "punks"
name = "Punks"
quote_mint = "USDC"
collection_creator = "creator-1"
collateral_limit = 2

[markets.flags]
halt_borrows = true

[[markets.reserves]]
token_mint = "USDC"
decimals = 6
price_feed = "usdc-usd"

[markets.reserves.config]
min_collateral_ratio = 15000
loan_origination_fee = 100

[[markets.reserves]]
token_mint = "SOL"
decimals = 9
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "markets.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write markets file: %v", err)
	}
	return path
}

// =============================================================================
// Markets file
// =============================================================================

func TestLoadMarkets_OverridesOnlyListedConfigKeys(t *testing.T) {
	markets, err := config.LoadMarkets(writeFile(t, marketsTOML))
	if err != nil {
		t.Fatalf("LoadMarkets: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("got %d markets, want 1", len(markets))
	}
	m := markets[0]
	if !m.Flags.HaltBorrows || m.Flags.HaltDeposits {
		t.Errorf("got flags %+v, want only halt_borrows", m.Flags)
	}
	if len(m.Reserves) != 2 {
		t.Fatalf("got %d reserves, want 2", len(m.Reserves))
	}

	usdc := m.Reserves[0].Config
	if usdc.MinCollateralRatio != 15000 {
		t.Errorf("got min collateral ratio %d, want 15000", usdc.MinCollateralRatio)
	}
	if usdc.LoanOriginationFee != 100 {
		t.Errorf("got origination fee %d, want 100", usdc.LoanOriginationFee)
	}
	if usdc.UtilizationRate1 != state.DefaultReserveConfig.UtilizationRate1 {
		t.Errorf("got utilization rate 1 %d, want default %d",
			usdc.UtilizationRate1, state.DefaultReserveConfig.UtilizationRate1)
	}

	if m.Reserves[1].Config != state.DefaultReserveConfig {
		t.Errorf("reserve without config table: got %+v, want defaults", m.Reserves[1].Config)
	}
}

func TestLoadMarkets_Feeds(t *testing.T) {
	markets, err := config.LoadMarkets(writeFile(t, marketsTOML))
	if err != nil {
		t.Fatalf("LoadMarkets: %v", err)
	}
	m := markets[0]
	if got := m.NFTFeed(); got != "punks" {
		t.Errorf("got nft feed %q, want punks", got)
	}
	if got := m.Reserves[0].Feed(); got != "usdc-usd" {
		t.Errorf("got feed %q, want usdc-usd", got)
	}
	if got := m.Reserves[1].Feed(); got != "SOL" {
		t.Errorf("got feed %q, want SOL", got)
	}
}

func TestLoadMarkets_UnknownKeyRejected(t *testing.T) {
	body := marketsTOML + "\n[markets.reserves.config]\nborrow_rate_9 = 1\n"
	_, err := config.LoadMarkets(writeFile(t, body))
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadMarkets_MissingFile(t *testing.T) {
	markets, err := config.LoadMarkets(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadMarkets: %v", err)
	}
	if len(markets) != 0 {
		t.Errorf("got %d markets, want 0", len(markets))
	}
}

func TestBuildMarkets(t *testing.T) {
	markets, err := config.LoadMarkets(writeFile(t, marketsTOML))
	if err != nil {
		t.Fatalf("LoadMarkets: %v", err)
	}
	cfg := config.Defaults()
	cfg.Markets = markets

	built, err := cfg.BuildMarkets()
	if err != nil {
		t.Fatalf("BuildMarkets: %v", err)
	}
	m := built[0]
	if m.CollateralLimit != 2 {
		t.Errorf("got collateral limit %d, want 2", m.CollateralLimit)
	}
	if len(m.Reserves) != 2 || m.Reserves[1].Index != 1 {
		t.Fatalf("got %d reserves, want indexed USDC and SOL", len(m.Reserves))
	}
	if len(m.Snapshots) != 2 {
		t.Errorf("got %d snapshot caches, want 2", len(m.Snapshots))
	}
}

func TestBuildMarkets_InvalidConfig(t *testing.T) {
	body := strings.Replace(marketsTOML, "min_collateral_ratio = 15000", "min_collateral_ratio = 5000", 1)
	markets, err := config.LoadMarkets(writeFile(t, body))
	if err != nil {
		t.Fatalf("LoadMarkets: %v", err)
	}
	cfg := config.Defaults()
	cfg.Markets = markets
	if _, err := cfg.BuildMarkets(); err == nil {
		t.Fatal("expected error for collateral ratio below 100%")
	}
}

func TestValidate_CollateralLimitAboveCapacity(t *testing.T) {
	body := strings.Replace(marketsTOML, "collateral_limit = 2", "collateral_limit = 32", 1)
	markets, err := config.LoadMarkets(writeFile(t, body))
	if err != nil {
		t.Fatalf("LoadMarkets: %v", err)
	}
	cfg := config.Defaults()
	cfg.RootAuthority = uuid.New()
	cfg.CapabilitySalt = "salt"
	cfg.Markets = markets
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "collateral_limit") {
		t.Fatalf("got %v, want collateral_limit error", err)
	}
}

// =============================================================================
// Environment
// =============================================================================

func TestLoad_EnvOverrides(t *testing.T) {
	root := uuid.New()
	t.Setenv("LEND_MARKETS_FILE", writeFile(t, marketsTOML))
	t.Setenv("LEND_ROOT_AUTHORITY", root.String())
	t.Setenv("LEND_CAPABILITY_SALT", "salt")
	t.Setenv("LEND_PERSIST_BATCH_SIZE", "7")
	t.Setenv("LEND_REFRESH_INTERVAL", "2s")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RootAuthority != root {
		t.Errorf("got root %s, want %s", cfg.RootAuthority, root)
	}
	if cfg.PersistBatchSize != 7 {
		t.Errorf("got batch size %d, want 7", cfg.PersistBatchSize)
	}
	if cfg.RefreshInterval != 2*time.Second {
		t.Errorf("got refresh interval %s, want 2s", cfg.RefreshInterval)
	}
	if len(cfg.Markets) != 1 {
		t.Errorf("got %d markets, want 1", len(cfg.Markets))
	}
}

func TestLoad_RequiresAuthorityAndSalt(t *testing.T) {
	t.Setenv("LEND_MARKETS_FILE", filepath.Join(t.TempDir(), "absent.toml"))
	t.Setenv("LEND_ROOT_AUTHORITY", "")
	t.Setenv("LEND_CAPABILITY_SALT", "")

	_, err := config.Load()
	if err == nil {
		t.Fatal("expected error without root authority and salt")
	}
	for _, want := range []string{"LEND_ROOT_AUTHORITY", "LEND_CAPABILITY_SALT"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("LEND_MARKETS_FILE", filepath.Join(t.TempDir(), "absent.toml"))
	t.Setenv("LEND_SLOT_DURATION", "fast")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for unparsable duration")
	}
}

func TestSlot(t *testing.T) {
	cfg := config.Defaults()
	cfg.SlotDuration = 500 * time.Millisecond
	if got := cfg.Slot(time.Unix(10, 0)); got != 20 {
		t.Errorf("got slot %d, want 20", got)
	}
}
