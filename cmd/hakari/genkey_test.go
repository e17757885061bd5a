package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hakari/internal/auth"
)

func TestGenKey_LoadsIntoJWTManager(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	require.NoError(t, genKey(dir))

	info, err := os.Stat(filepath.Join(dir, "jwt_private.pem"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = auth.NewJWTManager(filepath.Join(dir, "jwt_private.pem"), filepath.Join(dir, "jwt_public.pem"), time.Hour)
	require.NoError(t, err)
}

func TestGenKey_RefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, genKey(dir))
	err := genKey(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", logLevel("debug").String())
	assert.Equal(t, "WARN", logLevel("WARN").String())
	assert.Equal(t, "INFO", logLevel("").String())
}
