// Copyright 2026 Matthias Baigner. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package link

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.bug.st/serial"
	"gopkg.in/yaml.v3"
)

// Constants defining default values and ranges for session parameters.
const (
	// Default deadline applied to commands submitted without a timeout.
	DefaultTimeout    = 5 * time.Second
	TimeoutDefaultMin = 10 * time.Millisecond
	TimeoutDefaultMax = 255 * time.Second

	// Default period of the timer loop that expires overdue requests.
	DefaultExpiryTick = 50 * time.Millisecond
	ExpiryTickMin     = 1 * time.Millisecond
	ExpiryTickMax     = 10 * time.Second

	DefaultReadBufferSize = 4096
	DefaultBaudRate       = 9600
	DefaultDataBits       = 8
)

// SerialConfig holds serial port parameters. They are supplied at session
// construction and not renegotiated after connect.
type SerialConfig struct {
	// Address is the serial port address (e.g., "COM3" on Windows,
	// "/dev/ttyUSB0" on Linux).
	Address string `yaml:"address"`
	// BaudRate is the serial port speed (e.g., 9600, 115200).
	BaudRate int `yaml:"baud_rate"`
	// DataBits is the number of data bits (usually 7 or 8).
	DataBits int `yaml:"data_bits"`
	// StopBits is the number of stop bits, 1 or 2.
	StopBits int `yaml:"stop_bits"`
	// Parity is one of "none", "odd", "even".
	Parity string `yaml:"parity"`
	// ReadBufferSize is the size of the transport read buffer in bytes.
	ReadBufferSize int `yaml:"read_buffer_size"`
}

// Config defines a device session configuration.
type Config struct {
	// Serial port settings.
	Serial SerialConfig `yaml:"serial"`

	// TimeoutDefault is applied to commands submitted with a zero timeout.
	TimeoutDefault time.Duration `yaml:"timeout_default"`

	// RetryCount is the number of retries a driver layered above the
	// session should attempt per command. The session itself never
	// retries; it provides mechanism, not policy.
	RetryCount int `yaml:"retry_count"`

	// ExpiryTick caps how long the request-expiry timer sleeps. The timer
	// wakes earlier when a pending deadline is nearer, so timeouts shorter
	// than the tick still resolve on time.
	ExpiryTick time.Duration `yaml:"expiry_tick"`

	// FrameDelimiter and Checksum configure the default delimited codec.
	// Ignored when a custom codec is supplied.
	FrameDelimiter string `yaml:"frame_delimiter"`
	Checksum       bool   `yaml:"checksum"`
}

// Valid applies defaults and checks configuration validity.
func (sf *Config) Valid() error {
	if sf == nil {
		return errors.New("invalid nil config")
	}
	if sf.Serial.Address == "" {
		return errors.New("serial address (port name) must be configured")
	}
	if sf.Serial.BaudRate == 0 {
		sf.Serial.BaudRate = DefaultBaudRate
	} else if sf.Serial.BaudRate < 0 {
		return errors.New("serial baud rate must be positive")
	}
	if sf.Serial.DataBits == 0 {
		sf.Serial.DataBits = DefaultDataBits
	} else if sf.Serial.DataBits < 5 || sf.Serial.DataBits > 8 {
		return errors.New("serial data bits must be in [5, 8]")
	}
	if sf.Serial.StopBits == 0 {
		sf.Serial.StopBits = 1
	} else if sf.Serial.StopBits != 1 && sf.Serial.StopBits != 2 {
		return errors.New("serial stop bits must be 1 or 2")
	}
	switch sf.Serial.Parity {
	case "":
		sf.Serial.Parity = "none"
	case "none", "odd", "even":
	default:
		return errors.New(`serial parity must be "none", "odd" or "even"`)
	}
	if sf.Serial.ReadBufferSize == 0 {
		sf.Serial.ReadBufferSize = DefaultReadBufferSize
	} else if sf.Serial.ReadBufferSize < 0 {
		return errors.New("read buffer size must be positive")
	}

	if sf.TimeoutDefault == 0 {
		sf.TimeoutDefault = DefaultTimeout
	} else if sf.TimeoutDefault < TimeoutDefaultMin || sf.TimeoutDefault > TimeoutDefaultMax {
		return errors.New("default timeout out of range [10ms, 255s]")
	}

	if sf.ExpiryTick == 0 {
		sf.ExpiryTick = DefaultExpiryTick
	} else if sf.ExpiryTick < ExpiryTickMin || sf.ExpiryTick > ExpiryTickMax {
		return errors.New("expiry tick out of range [1ms, 10s]")
	}

	if sf.RetryCount < 0 {
		return errors.New("retry count must not be negative")
	}

	return nil
}

// DefaultConfig provides a default session configuration.
// NOTE: Serial.Address needs to be set explicitly.
func DefaultConfig() Config {
	return Config{
		Serial: SerialConfig{
			BaudRate:       DefaultBaudRate,
			DataBits:       DefaultDataBits,
			StopBits:       1,
			Parity:         "none",
			ReadBufferSize: DefaultReadBufferSize,
		},
		TimeoutDefault: DefaultTimeout,
		ExpiryTick:     DefaultExpiryTick,
	}
}

// LoadConfig reads a Config from a YAML file and validates it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Valid(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mapParity maps the textual parity setting to serial.Parity.
func mapParity(p string) serial.Parity {
	switch p {
	case "odd":
		return serial.OddParity
	case "even":
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}

// mapStopBits maps the numeric stop bit setting to serial.StopBits.
func mapStopBits(s int) serial.StopBits {
	if s == 2 {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}
