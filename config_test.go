package symphonycore

import (
	"testing"

	"github.com/spf13/viper"
)

func TestLoadProcessConfigNilViperReturnsDefaults(t *testing.T) {
	cfg := LoadProcessConfig(nil)
	want := DefaultProcessConfig()
	if cfg != want {
		t.Errorf("want defaults %+v, have %+v", want, cfg)
	}
}

func TestLoadProcessConfigReadsProcessKey(t *testing.T) {
	v := viper.New()
	v.Set("process.persistenceversion", "2.0")
	v.Set("process.triggerdefaults.waitfortrigger", true)

	cfg := LoadProcessConfig(v)
	if cfg.PersistenceVersion != "2.0" {
		t.Errorf("want PersistenceVersion 2.0, have %v", cfg.PersistenceVersion)
	}
	if !cfg.TriggerDefaults.WaitForTrigger {
		t.Error("want WaitForTrigger true from the configured value")
	}
}

func TestLoadProcessConfigFallsBackOnUnmarshalError(t *testing.T) {
	v := viper.New()
	// Type mismatch: process.processinterval wants a duration-shaped value.
	v.Set("process.processinterval", map[string]int{"bad": 1})

	cfg := LoadProcessConfig(v)
	if cfg != DefaultProcessConfig() {
		t.Error("an unmarshal error should fall back to DefaultProcessConfig")
	}
}
