package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Tasks.ExtendDays)
	assert.True(t, cfg.PenaltyAmount().Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, "deadline exceeded", cfg.Penalty.Reason)
	assert.Equal(t, 0, cfg.Penalty.PendingGraceDays)
	assert.Equal(t, 0, cfg.Penalty.InProgressGraceDays)
	assert.Equal(t, "Europe/Moscow", cfg.Location().String())
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte("penalty:\n  amount: \"250.50\"\n  reason: late\n"))
	require.NoError(t, err)
	assert.Equal(t, "250.5", cfg.PenaltyAmount().String())
	assert.Equal(t, "late", cfg.Penalty.Reason)
	assert.Equal(t, 3, cfg.Tasks.ExtendDays)
	assert.Equal(t, "0 16 * * *", cfg.Scanner.Schedule)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"amount":   "penalty:\n  amount: \"-5\"\n",
		"schedule": "scanner:\n  enabled: true\n  schedule: \"every day\"\n",
		"locale":   "locale: de\n",
		"timezone": "timezone: Mars/Olympus\n",
		"extend":   "tasks:\n  extend_days: 0\n",
		"webhook":  "notify:\n  webhooks:\n    - url: \"\"\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptionalFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "agrotasks.yml"), []byte("locale: en\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "en", cfg.Locale)
}
