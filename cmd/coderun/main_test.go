package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"github.com/isdmx/coderun/config"
)

func executeRoot(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		configFlag = ""
		languageFlag = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestLanguagesCommand(t *testing.T) {
	t.Run("BuiltinProfiles", func(t *testing.T) {
		t.Chdir(t.TempDir())

		out, err := executeRoot(t, "", "languages")
		require.NoError(t, err)
		assert.Equal(t, "python\njavascript\njava\nruby\nc\ncpp\n", out)
	})

	t.Run("ConfiguredLanguage", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "coderun.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
languages:
  go:
    image: golang:1.22-alpine
    source: main.go
    run: go run main.go
`), 0o600))

		out, err := executeRoot(t, "", "languages", "--config", path)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(out, "cpp\ngo\n"), out)
	})
}

func TestRunCommandRejectsEmptySource(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CODERUN_SANDBOX_BACKEND", "local")
	t.Setenv("CODERUN_SANDBOX_ENABLE_LOCAL_BACKEND", "true")

	_, err := executeRoot(t, "", "run", "--language", "python")
	require.Error(t, err)
	assert.Equal(t, "Language and code are required.", err.Error())
}

func TestReadSource(t *testing.T) {
	t.Run("Stdin", func(t *testing.T) {
		code, err := readSource(strings.NewReader("print(1)\n"), nil)
		require.NoError(t, err)
		assert.Equal(t, "print(1)\n", code)
	})

	t.Run("Dash", func(t *testing.T) {
		code, err := readSource(strings.NewReader("puts 1"), []string{"-"})
		require.NoError(t, err)
		assert.Equal(t, "puts 1", code)
	})

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "main.c")
		require.NoError(t, os.WriteFile(path, []byte("int main(){return 0;}"), 0o600))
		code, err := readSource(nil, []string{path})
		require.NoError(t, err)
		assert.Equal(t, "int main(){return 0;}", code)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := readSource(nil, []string{filepath.Join(t.TempDir(), "missing.py")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading source")
	})
}

func TestAppOptionsGraph(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{HTTPPort: 0, MCPTransport: "none", ShutdownTimeoutSec: 1},
		Sandbox: config.SandboxConfig{
			Backend:            "local",
			EnableLocalBackend: true,
			TimeoutSec:         5,
			MemoryMB:           64,
			CPUShares:          512,
			PidsLimit:          64,
			MaxOutputKB:        64,
			Demux:              "keyword",
		},
		Logging: config.LoggingConfig{Mode: "development", Level: "info"},
	}
	assert.NoError(t, fx.ValidateApp(appOptions(cfg)...))
}
