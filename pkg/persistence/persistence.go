// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package persistence provides gzip-compressed JSON snapshot read/write
// helpers shared by the memory packages, plus a cron-scheduled autosave
// loop with an explicit Flush for shutdown.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SaveSnapshot writes v as gzip-compressed JSON to path, via a temp file
// renamed into place so a crash mid-write can't corrupt the prior
// snapshot.
func SaveSnapshot(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}

	gz := gzip.NewWriter(f)
	enc := json.NewEncoder(gz)
	if err := enc.Encode(v); err != nil {
		gz.Close()
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("close gzip writer: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	return os.Rename(tmp, path)
}

// LoadSnapshot reads gzip-compressed JSON from path into v. A missing
// file is not an error; callers should treat it as "no prior state".
func LoadSnapshot(path string, v any) (found bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return false, fmt.Errorf("open gzip reader: %w", err)
	}
	defer gz.Close()

	if err := json.NewDecoder(gz).Decode(v); err != nil {
		return false, fmt.Errorf("decode snapshot: %w", err)
	}
	return true, nil
}

// SaveFunc produces the snapshot state at the moment it's called; used so
// Autosaver doesn't need to know the concrete type it's persisting.
type SaveFunc func() error

// Autosaver periodically invokes a SaveFunc on a robfig/cron schedule and
// exposes an explicit Flush for clean shutdown.
type Autosaver struct {
	mu     sync.Mutex
	save   SaveFunc
	logger *zap.Logger
	cron   *cron.Cron
}

// NewAutosaver starts a cron job on schedule (e.g. "@every 1m") that calls
// save. Pass a nop logger if none is available.
func NewAutosaver(schedule string, save SaveFunc, logger *zap.Logger) (*Autosaver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Autosaver{save: save, logger: logger, cron: cron.New()}
	if _, err := a.cron.AddFunc(schedule, a.runOnce); err != nil {
		return nil, fmt.Errorf("schedule autosave: %w", err)
	}
	a.cron.Start()
	return a, nil
}

func (a *Autosaver) runOnce() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.save(); err != nil {
		a.logger.Warn("autosave_failed", zap.Error(err))
	}
}

// Flush forces an immediate save, bypassing the schedule. Call on
// shutdown to avoid losing state accumulated since the last tick.
func (a *Autosaver) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.save()
}

func (a *Autosaver) Stop() {
	a.cron.Stop()
}
