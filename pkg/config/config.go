package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial   SerialConfig   `yaml:"serial"`
	Hardware HardwareConfig `yaml:"hardware"`
	Storage  StorageConfig  `yaml:"storage"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Sim      SimConfig      `yaml:"sim"`
}

// SerialConfig contains serial port configuration of the DAC/ADC front-end board.
type SerialConfig struct {
	Port     string        `yaml:"port"`
	BaudRate int           `yaml:"baud_rate"`
	Timeout  time.Duration `yaml:"timeout"` // Per-command response timeout
}

// HardwareConfig describes the converters and the safe voltage envelope.
type HardwareConfig struct {
	DACBits      uint8   `yaml:"dac_bits"`
	DACVRef      float64 `yaml:"dac_vref"`
	ADCBits      uint8   `yaml:"adc_bits"`
	ADCVRef      float64 `yaml:"adc_vref"`
	Oversampling int     `yaml:"oversampling"` // ADC reads averaged per sample
	MinVoltage   float64 `yaml:"min_voltage"`
	MaxVgs       float64 `yaml:"max_vgs"`
	MaxVds       float64 `yaml:"max_vds"`
}

// StorageConfig contains measurement directory parameters.
type StorageConfig struct {
	Dir          string  `yaml:"dir"`
	MaxFiles     int     `yaml:"max_files"`
	WarnFiles    int     `yaml:"warn_files"`
	MaxUsage     float64 `yaml:"max_usage"`      // Fraction of capacity above which sweeps are refused
	MinFreeBytes uint64  `yaml:"min_free_bytes"` // Free space floor for a new sweep
	QuotaBytes   uint64  `yaml:"quota_bytes"`    // 0 = use filesystem usage
}

// SweepConfig contains sweep defaults and worker tuning.
type SweepConfig struct {
	VgsStart   float64       `yaml:"vgs_start"`
	VgsEnd     float64       `yaml:"vgs_end"`
	VgsStep    float64       `yaml:"vgs_step"`
	VdsStart   float64       `yaml:"vds_start"`
	VdsEnd     float64       `yaml:"vds_end"`
	VdsStep    float64       `yaml:"vds_step"`
	Rshunt     float64       `yaml:"rshunt"`
	Settling   time.Duration `yaml:"settling"`
	BaseName   string        `yaml:"base_name"`
	Mode       string        `yaml:"mode"`        // GateSweep or DrainSweep
	FlushEvery int           `yaml:"flush_every"` // Rows between explicit flushes
	YieldEvery int           `yaml:"yield_every"` // Rows between cooperative yields
	MaxPoints  int           `yaml:"max_points"`
	CancelWait time.Duration `yaml:"cancel_wait"`
	StatusWait time.Duration `yaml:"status_wait"` // Bounded wait for progress snapshots
}

// LogConfig contains diagnostic log queue configuration.
type LogConfig struct {
	QueueSize int  `yaml:"queue_size"`
	Recent    int  `yaml:"recent"` // Entries retained for the logs endpoint
	Debug     bool `yaml:"debug"`
}

// ServerConfig contains HTTP adapter configuration.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// SimConfig contains simulated device configuration.
type SimConfig struct {
	I0         float64 `yaml:"i0"`          // Subthreshold current at Vgs = Vth (A)
	Vth        float64 `yaml:"vth"`         // Threshold voltage (V)
	SlopeV     float64 `yaml:"slope_v"`     // n*kT/q, subthreshold slope voltage (V)
	K          float64 `yaml:"k"`           // Square-law gain (A/V²)
	Lambda     float64 `yaml:"lambda"`      // Channel length modulation (1/V)
	Rshunt     float64 `yaml:"rshunt"`      // Shunt the simulated board carries (Ohm)
	NoiseLevel float64 `yaml:"noise_level"` // Sense noise (V, peak)
	Seed       uint64  `yaml:"seed"`
	Quantize   bool    `yaml:"quantize"` // Apply DAC/ADC resolution from hardware config
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: 115200,
			Timeout:  500 * time.Millisecond,
		},
		Hardware: HardwareConfig{
			DACBits:      8,
			DACVRef:      3.3,
			ADCBits:      12,
			ADCVRef:      3.3,
			Oversampling: 16,
			MinVoltage:   0,
			MaxVgs:       3.3,
			MaxVds:       3.3,
		},
		Storage: StorageConfig{
			Dir:          "measurements",
			MaxFiles:     200,
			WarnFiles:    150,
			MaxUsage:     0.8,
			MinFreeBytes: 10240,
			QuotaBytes:   0,
		},
		Sweep: SweepConfig{
			VgsStart:   0,
			VgsEnd:     3.3,
			VgsStep:    0.05,
			VdsStart:   0,
			VdsEnd:     3.3,
			VdsStep:    0.5,
			Rshunt:     100,
			Settling:   5 * time.Millisecond,
			BaseName:   "mosfet_data",
			Mode:       "GateSweep",
			FlushEvery: 50,
			YieldEvery: 10,
			MaxPoints:  100000,
			CancelWait: 200 * time.Millisecond,
			StatusWait: 100 * time.Millisecond,
		},
		Log: LogConfig{
			QueueSize: 64,
			Recent:    50,
			Debug:     false,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Sim: SimConfig{
			I0:         1e-7,
			Vth:        1.0,
			SlopeV:     0.1,
			K:          2e-3,
			Lambda:     0.02,
			Rshunt:     100,
			NoiseLevel: 0,
			Seed:       1,
			Quantize:   false,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.Timeout == 0 {
		c.Serial.Timeout = def.Serial.Timeout
	}

	if c.Hardware.DACBits == 0 {
		c.Hardware.DACBits = def.Hardware.DACBits
	}
	if c.Hardware.DACVRef == 0 {
		c.Hardware.DACVRef = def.Hardware.DACVRef
	}
	if c.Hardware.ADCBits == 0 {
		c.Hardware.ADCBits = def.Hardware.ADCBits
	}
	if c.Hardware.ADCVRef == 0 {
		c.Hardware.ADCVRef = def.Hardware.ADCVRef
	}
	if c.Hardware.Oversampling <= 0 {
		c.Hardware.Oversampling = def.Hardware.Oversampling
	}
	if c.Hardware.MaxVgs == 0 {
		c.Hardware.MaxVgs = def.Hardware.MaxVgs
	}
	if c.Hardware.MaxVds == 0 {
		c.Hardware.MaxVds = def.Hardware.MaxVds
	}

	if c.Storage.Dir == "" {
		c.Storage.Dir = def.Storage.Dir
	}
	if c.Storage.MaxFiles <= 0 {
		c.Storage.MaxFiles = def.Storage.MaxFiles
	}
	if c.Storage.WarnFiles <= 0 {
		c.Storage.WarnFiles = def.Storage.WarnFiles
	}
	if c.Storage.MaxUsage <= 0 || c.Storage.MaxUsage > 1 {
		c.Storage.MaxUsage = def.Storage.MaxUsage
	}
	if c.Storage.MinFreeBytes == 0 {
		c.Storage.MinFreeBytes = def.Storage.MinFreeBytes
	}

	if c.Sweep.VgsStep == 0 {
		c.Sweep.VgsStep = def.Sweep.VgsStep
	}
	if c.Sweep.VdsStep == 0 {
		c.Sweep.VdsStep = def.Sweep.VdsStep
	}
	if c.Sweep.Rshunt == 0 {
		c.Sweep.Rshunt = def.Sweep.Rshunt
	}
	if c.Sweep.BaseName == "" {
		c.Sweep.BaseName = def.Sweep.BaseName
	}
	if c.Sweep.Mode == "" {
		c.Sweep.Mode = def.Sweep.Mode
	}
	if c.Sweep.FlushEvery <= 0 {
		c.Sweep.FlushEvery = def.Sweep.FlushEvery
	}
	if c.Sweep.YieldEvery <= 0 {
		c.Sweep.YieldEvery = def.Sweep.YieldEvery
	}
	if c.Sweep.MaxPoints <= 0 {
		c.Sweep.MaxPoints = def.Sweep.MaxPoints
	}
	if c.Sweep.CancelWait == 0 {
		c.Sweep.CancelWait = def.Sweep.CancelWait
	}
	if c.Sweep.StatusWait == 0 {
		c.Sweep.StatusWait = def.Sweep.StatusWait
	}

	if c.Log.QueueSize <= 0 {
		c.Log.QueueSize = def.Log.QueueSize
	}
	if c.Log.Recent <= 0 {
		c.Log.Recent = def.Log.Recent
	}

	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}

	if c.Sim.SlopeV == 0 {
		c.Sim.SlopeV = def.Sim.SlopeV
	}
	if c.Sim.Rshunt == 0 {
		c.Sim.Rshunt = def.Sim.Rshunt
	}
	if c.Sim.I0 == 0 {
		c.Sim.I0 = def.Sim.I0
	}
	if c.Sim.K == 0 {
		c.Sim.K = def.Sim.K
	}
}
