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
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvProviderResolvesUppercasedVar(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-123")
	v, err := EnvProvider{}.Resolve(context.Background(), "openai", "")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", v)
}

func TestEnvProviderErrorsWhenUnset(t *testing.T) {
	_, err := EnvProvider{}.Resolve(context.Background(), "nonexistent-provider-xyz", "")
	assert.Error(t, err)
}

type fakeProvider struct {
	value string
	err   error
}

func (f fakeProvider) Resolve(ctx context.Context, provider, credentialRef string) (string, error) {
	return f.value, f.err
}

func TestChainReturnsFirstSuccess(t *testing.T) {
	chain := Chain{
		fakeProvider{err: errors.New("not found")},
		fakeProvider{value: "from-second"},
		fakeProvider{value: "from-third"},
	}
	v, err := chain.Resolve(context.Background(), "openai", "")
	require.NoError(t, err)
	assert.Equal(t, "from-second", v)
}

func TestChainReturnsLastErrorWhenAllFail(t *testing.T) {
	chain := Chain{
		fakeProvider{err: errors.New("first failed")},
		fakeProvider{err: errors.New("second failed")},
	}
	_, err := chain.Resolve(context.Background(), "openai", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second failed")
}

func TestChainEmptyReturnsError(t *testing.T) {
	_, err := Chain{}.Resolve(context.Background(), "openai", "")
	assert.Error(t, err)
}

func writeEncryptedCredentialFile(t *testing.T, path string, key []byte, values map[string]string) {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)

	nonce := make([]byte, gcm.NonceSize())
	_, err = rand.Read(nonce)
	require.NoError(t, err)

	plaintext, err := json.Marshal(values)
	require.NoError(t, err)

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	require.NoError(t, os.WriteFile(path, ciphertext, 0o600))
}

func TestFileProviderDecryptsAndResolves(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")[:32]
	path := filepath.Join(t.TempDir(), "creds.enc")
	writeEncryptedCredentialFile(t, path, key, map[string]string{"openai": "sk-file-key"})

	fp, err := NewFileProvider(path, key, nil)
	require.NoError(t, err)
	defer fp.Close()

	v, err := fp.Resolve(context.Background(), "openai", "")
	require.NoError(t, err)
	assert.Equal(t, "sk-file-key", v)
}

func TestFileProviderResolveUnknownProviderErrors(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")[:32]
	path := filepath.Join(t.TempDir(), "creds.enc")
	writeEncryptedCredentialFile(t, path, key, map[string]string{"openai": "sk-file-key"})

	fp, err := NewFileProvider(path, key, nil)
	require.NoError(t, err)
	defer fp.Close()

	_, err = fp.Resolve(context.Background(), "anthropic", "")
	assert.Error(t, err)
}

func TestFileProviderHotReloadsOnWrite(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")[:32]
	path := filepath.Join(t.TempDir(), "creds.enc")
	writeEncryptedCredentialFile(t, path, key, map[string]string{"openai": "sk-original"})

	fp, err := NewFileProvider(path, key, nil)
	require.NoError(t, err)
	defer fp.Close()

	writeEncryptedCredentialFile(t, path, key, map[string]string{"openai": "sk-rotated"})

	require.Eventually(t, func() bool {
		v, err := fp.Resolve(context.Background(), "openai", "")
		return err == nil && v == "sk-rotated"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestEnvProviderCredentialRefOverridesProviderLookup(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-default")
	t.Setenv("ALICE_KEY_API_KEY", "sk-alice-specific")

	v, err := EnvProvider{}.Resolve(context.Background(), "openai", "alice-key")
	require.NoError(t, err)
	assert.Equal(t, "sk-alice-specific", v, "a credentialRef must be looked up instead of the provider default")
}

func TestFileProviderCredentialRefOverridesProviderLookup(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")[:32]
	path := filepath.Join(t.TempDir(), "creds.enc")
	writeEncryptedCredentialFile(t, path, key, map[string]string{
		"openai":    "sk-default",
		"alice-key": "sk-alice-specific",
	})

	fp, err := NewFileProvider(path, key, nil)
	require.NoError(t, err)
	defer fp.Close()

	v, err := fp.Resolve(context.Background(), "openai", "alice-key")
	require.NoError(t, err)
	assert.Equal(t, "sk-alice-specific", v)
}

func TestNewFileProviderRejectsInvalidKeySize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.enc")
	require.NoError(t, os.WriteFile(path, []byte("irrelevant"), 0o600))

	_, err := NewFileProvider(path, []byte("too-short"), nil)
	assert.Error(t, err)
}
