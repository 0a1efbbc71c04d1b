// Copyright 2026 Matthias Baigner. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package link

import (
	"github.com/mbaigner/devlink/frame"
)

// Option holds session configuration options.
type Option struct {
	config Config
	codec  frame.Codec
}

// NewOption creates an Option with the default configuration.
// Note: the serial address needs to be set explicitly via SetSerialConfig
// before opening a serial session.
func NewOption() *Option {
	return &Option{config: DefaultConfig()}
}

// SetConfig sets the session configuration. Uses DefaultConfig if the
// provided cfg is invalid.
func (sf *Option) SetConfig(cfg Config) *Option {
	if err := cfg.Valid(); err != nil {
		sf.config = DefaultConfig()
	} else {
		sf.config = cfg
	}
	return sf
}

// SetSerialConfig sets the serial port parameters within the configuration.
func (sf *Option) SetSerialConfig(serialCfg SerialConfig) *Option {
	sf.config.Serial = serialCfg
	return sf
}

// SetCodec injects the device driver's wire codec. When unset, the session
// uses a DelimitedCodec built from the configuration's frame_delimiter and
// checksum options.
func (sf *Option) SetCodec(c frame.Codec) *Option {
	if c != nil {
		sf.codec = c
	}
	return sf
}

// buildCodec resolves the effective codec for a session.
func (sf *Option) buildCodec() frame.Codec {
	if sf.codec != nil {
		return sf.codec
	}
	return &frame.DelimitedCodec{
		Delim:    []byte(sf.config.FrameDelimiter),
		Checksum: sf.config.Checksum,
	}
}
