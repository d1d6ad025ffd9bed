package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optroll/internal/rollover"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
schwab:
  access_token: tok-123
`

func TestLoad_Minimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "tok-123", cfg.Schwab.AccessToken)
	assert.False(t, cfg.TradeStation.Enabled())
	assert.False(t, cfg.Fidelity.Enabled())
	assert.False(t, cfg.Mail.Enabled())
	assert.Empty(t, cfg.Rollover.Tiers)
}

func TestLoad_Full(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
schwab:
  access_token: tok-123
  base_url: https://proxy.example.com
tradestation:
  access_token: ts-tok
  account_id: ACC1
fidelity:
  files: [a.csv, b.csv]
ib:
  files: [ib.csv]
earnings:
  finnhub_token: fh-tok
  lookahead_days: 60
rollover:
  tiers:
    - {window_days: 45, min_distance_pct: 2.0, max_debit_pct: 0.2}
    - {window_days: 90, min_distance_pct: 1.0, max_debit_pct: 0.3}
enrich:
  action_extrinsic_pct: 0.02
  near_expiry_days: 7
mail:
  server: smtp.example.com
  port: 587
  from: reports@example.com
  recipients: [me@example.com]
report:
  output_path: out.html
  subject: Daily options report
`))
	require.NoError(t, err)

	assert.True(t, cfg.TradeStation.Enabled())
	assert.Equal(t, []string{"a.csv", "b.csv"}, cfg.Fidelity.Files)
	assert.True(t, cfg.IB.Enabled())
	assert.Equal(t, 60, cfg.Earnings.LookaheadDays)
	assert.Equal(t, []rollover.Tier{
		{WindowDays: 45, MinDistancePct: 2.0, MaxDebitPct: 0.2},
		{WindowDays: 90, MinDistancePct: 1.0, MaxDebitPct: 0.3},
	}, cfg.Rollover.Tiers)
	assert.True(t, cfg.Mail.Enabled())
	assert.Equal(t, "out.html", cfg.Report.OutputPath)

	enrichCfg := cfg.Enrich.EnricherConfig()
	assert.InDelta(t, 0.02, enrichCfg.ActionExtrinsicPct, 1e-9)
	assert.Equal(t, 7, enrichCfg.NearExpiryDays)
	assert.Equal(t, 365, enrichCfg.VolLookbackDays, "unset fields keep defaults")
}

func TestLoad_ExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("TEST_SCHWAB_TOKEN", "env-token")
	cfg, err := Load(writeConfig(t, "schwab:\n  access_token: ${TEST_SCHWAB_TOKEN}\n"))
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Schwab.AccessToken)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+"unknown_section:\n  x: 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing schwab token",
			mutate:  func(c *Config) { c.Schwab.AccessToken = "" },
			wantErr: "schwab.access_token",
		},
		{
			name:    "empty csv path",
			mutate:  func(c *Config) { c.Fidelity.Files = []string{""} },
			wantErr: "must not be empty",
		},
		{
			name: "tier window not widening",
			mutate: func(c *Config) {
				c.Rollover.Tiers = []rollover.Tier{
					{WindowDays: 45, MinDistancePct: 2, MaxDebitPct: 0.2},
					{WindowDays: 45, MinDistancePct: 1, MaxDebitPct: 0.3},
				}
			},
			wantErr: "window_days must widen",
		},
		{
			name: "tier debit out of range",
			mutate: func(c *Config) {
				c.Rollover.Tiers = []rollover.Tier{{WindowDays: 45, MinDistancePct: 2, MaxDebitPct: 1.5}}
			},
			wantErr: "max_debit_pct",
		},
		{
			name:    "action threshold out of range",
			mutate:  func(c *Config) { c.Enrich.ActionExtrinsicPct = 1.5 },
			wantErr: "action_extrinsic_pct",
		},
		{
			name: "mail enabled without from",
			mutate: func(c *Config) {
				c.Mail.Server = "smtp.example.com"
				c.Mail.Port = 587
				c.Mail.Recipients = []string{"me@example.com"}
			},
			wantErr: "mail.from",
		},
		{
			name: "mail bad port",
			mutate: func(c *Config) {
				c.Mail.Server = "smtp.example.com"
				c.Mail.Port = 0
				c.Mail.From = "reports@example.com"
				c.Mail.Recipients = []string{"me@example.com"}
			},
			wantErr: "mail.port",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.Schwab.AccessToken = "tok"
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_MinimalPasses(t *testing.T) {
	cfg := &Config{}
	cfg.Schwab.AccessToken = "tok"
	require.NoError(t, cfg.Validate())
}
