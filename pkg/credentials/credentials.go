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

// Package credentials resolves a provider name to a live API key through
// one of three backends: environment variables, an encrypted file
// hot-reloaded via fsnotify, or the OS keychain. Resolved secrets are
// never logged.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
)

// Provider resolves a provider name to its API key or credential.
// credentialRef, when non-empty, names a specific credential to resolve
// instead of the provider's default — the per-agent credential override.
type Provider interface {
	Resolve(ctx context.Context, provider, credentialRef string) (string, error)
}

// EnvProvider resolves credentials from environment variables named
// <PROVIDER>_API_KEY (uppercased, hyphens mapped to underscores), or
// <CREDENTIALREF>_API_KEY when a credentialRef is given.
type EnvProvider struct{}

func (EnvProvider) Resolve(_ context.Context, provider, credentialRef string) (string, error) {
	name := provider
	if credentialRef != "" {
		name = credentialRef
	}
	envVar := envVarName(name)
	v := os.Getenv(envVar)
	if v == "" {
		return "", fmt.Errorf("credential not configured: set %s", envVar)
	}
	return v, nil
}

func envVarName(provider string) string {
	out := make([]byte, 0, len(provider)+8)
	for _, r := range provider {
		if r >= 'a' && r <= 'z' {
			out = append(out, byte(r-'a'+'A'))
		} else if r == '-' {
			out = append(out, '_')
		} else {
			out = append(out, byte(r))
		}
	}
	return string(out) + "_API_KEY"
}

// KeyringProvider resolves credentials from the OS keychain via
// zalando/go-keyring, under a fixed service namespace.
type KeyringProvider struct {
	Service string
}

func NewKeyringProvider(service string) *KeyringProvider {
	if service == "" {
		service = "axon"
	}
	return &KeyringProvider{Service: service}
}

func (k *KeyringProvider) Resolve(_ context.Context, provider, credentialRef string) (string, error) {
	account := provider
	if credentialRef != "" {
		account = credentialRef
	}
	secret, err := keyring.Get(k.Service, account)
	if err != nil {
		return "", fmt.Errorf("keyring lookup for %s: %w", account, err)
	}
	return secret, nil
}

// FileProvider decrypts an AES-GCM encrypted JSON document of
// {provider: key} pairs and hot-reloads it on write via fsnotify.
type FileProvider struct {
	path   string
	gcm    cipher.AEAD
	logger *zap.Logger

	mu     sync.RWMutex
	values map[string]string

	watcher *fsnotify.Watcher
}

// NewFileProvider opens path, decrypts it with key (must be 16/24/32
// bytes), and starts watching it for changes.
func NewFileProvider(path string, key []byte, logger *zap.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("build gcm: %w", err)
	}

	fp := &FileProvider{path: path, gcm: gcm, logger: logger, values: make(map[string]string)}
	if err := fp.load(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	fp.watcher = watcher
	go fp.watch()

	return fp, nil
}

func (f *FileProvider) load() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read credential file: %w", err)
	}
	if len(raw) < f.gcm.NonceSize() {
		return fmt.Errorf("credential file too short")
	}
	nonce, ciphertext := raw[:f.gcm.NonceSize()], raw[f.gcm.NonceSize():]
	plaintext, err := f.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("decrypt credential file: %w", err)
	}

	var values map[string]string
	if err := json.Unmarshal(plaintext, &values); err != nil {
		return fmt.Errorf("parse credential file: %w", err)
	}

	f.mu.Lock()
	f.values = values
	f.mu.Unlock()
	return nil
}

func (f *FileProvider) watch() {
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := f.load(); err != nil {
				f.logger.Warn("credential_file_reload_failed", zap.Error(err))
				continue
			}
			f.logger.Info("credential_file_reloaded")
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("credential_file_watch_error", zap.Error(err))
		}
	}
}

func (f *FileProvider) Resolve(_ context.Context, provider, credentialRef string) (string, error) {
	key := provider
	if credentialRef != "" {
		key = credentialRef
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[key]
	if !ok {
		return "", fmt.Errorf("credential not present for %s", key)
	}
	return v, nil
}

func (f *FileProvider) Close() error {
	if f.watcher == nil {
		return nil
	}
	return f.watcher.Close()
}

// Chain tries each backend in order, returning the first success.
type Chain []Provider

func (c Chain) Resolve(ctx context.Context, provider, credentialRef string) (string, error) {
	var lastErr error
	for _, backend := range c {
		v, err := backend.Resolve(ctx, provider, credentialRef)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no credential backends configured")
	}
	return "", lastErr
}
