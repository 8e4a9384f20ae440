// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package netmgr

import (
	"sync/atomic"

	"github.com/DeRuina/timberjack"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// pkgLogger holds the package-wide logger, following the teacher's Log()
// accessor convention (caddy.go / logging.go): a single swappable
// *zap.Logger rather than a logger threaded through every call. Disabled
// (zap.NewNop()) by default so embedding programs pay nothing until they
// opt in, matching bassosimone-nop's "logging disabled by default" stance.
var pkgLogger atomic.Pointer[zap.Logger]

func init() {
	pkgLogger.Store(zap.NewNop())
}

// Log returns the current package logger. Safe for concurrent use from
// any worker.
func Log() *zap.Logger {
	return pkgLogger.Load()
}

// SetLogger replaces the package logger. Typically called once during
// process startup, before Create.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	pkgLogger.Store(l)
}

// NewRotatingLogger builds a *zap.Logger that writes JSON-encoded entries
// to a size- and age-rotated file at path, using timberjack (the teacher's
// modules/logging package wires the same rotation library). netmgr itself
// never writes to disk — this is purely an ambient logging convenience for
// embedding programs that want one.
func NewRotatingLogger(path string, maxSizeMB, maxBackups, maxAgeDays int) *zap.Logger {
	rotator := &timberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "t"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(rotator), zapcore.InfoLevel)
	logger := zap.New(core)
	logger.Info("rotating log file configured",
		zap.String("path", path),
		zap.String("max_size", humanize.Bytes(uint64(maxSizeMB)*humanize.MByte)),
		zap.Int("max_backups", maxBackups),
		zap.Int("max_age_days", maxAgeDays))
	return logger
}

// debugEnabled reports whether the package logger would actually emit a
// Debug-level entry, so hot-path callers can skip building zap.Field
// slices for read/write/timer-reset events that would be discarded anyway.
func debugEnabled() bool {
	return Log().Core().Enabled(zapcore.DebugLevel)
}
