// Copyright 2026 Matthias Baigner. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package link implements the asynchronous command/response engine at the
// heart of devlink: a per-device Session that serializes command writes to a
// serial transport, demultiplexes asynchronous replies back to their callers
// by correlation key (or FIFO order), and enforces per-request deadlines.
//
// The engine provides mechanism, not instrument policy: command vocabularies
// are injected as frame.Codec implementations, and connection retry is left
// to the layer above.
package link
