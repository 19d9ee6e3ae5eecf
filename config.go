package symphonycore

import (
	"time"

	"github.com/spf13/viper"
)

// ProcessConfig holds the process-wide tunables bound from the config
// loader: trigger state and write destinations, scoped to what this
// module's DAQ loop and persistor need.
type ProcessConfig struct {
	ProcessInterval    time.Duration
	PersistenceVersion string
	TriggerDefaults    TriggerDefaults
	Publisher          PublisherConfig
}

// TriggerDefaults seeds a device's initial wait-for-trigger behavior when no
// prior state is found.
type TriggerDefaults struct {
	WaitForTrigger bool
	AutoDelay      time.Duration
}

// PublisherConfig describes the optional ZMQ event mirror.
type PublisherConfig struct {
	Enabled bool
	Port    int
}

// DefaultProcessConfig is used when viper.UnmarshalKey turns up nothing: a
// conservative interval and triggering disabled until explicitly configured.
func DefaultProcessConfig() ProcessConfig {
	return ProcessConfig{
		ProcessInterval:    50 * time.Millisecond,
		PersistenceVersion: "1.0",
		TriggerDefaults: TriggerDefaults{
			WaitForTrigger: false,
			AutoDelay:      250 * time.Millisecond,
		},
		Publisher: PublisherConfig{Enabled: false, Port: 5502},
	}
}

// LoadProcessConfig reads "process" out of v, falling back to
// DefaultProcessConfig for any key viper can't find or any value viper
// can't unmarshal into ProcessConfig's shape.
func LoadProcessConfig(v *viper.Viper) ProcessConfig {
	cfg := DefaultProcessConfig()
	if v == nil {
		return cfg
	}
	if err := v.UnmarshalKey("process", &cfg); err != nil {
		return DefaultProcessConfig()
	}
	return cfg
}
