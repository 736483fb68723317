package pkgmgr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		files    map[string]string
		want     Name
		lockfile string
		command  string
	}{
		{
			name:     "bun binary lockfile",
			files:    map[string]string{"package.json": "{}", "bun.lockb": ""},
			want:     Bun,
			lockfile: "bun.lockb",
			command:  "bun install",
		},
		{
			name:     "pnpm lockfile beats yarn",
			files:    map[string]string{"pnpm-lock.yaml": "", "yarn.lock": ""},
			want:     Pnpm,
			lockfile: "pnpm-lock.yaml",
			command:  "pnpm install --frozen-lockfile",
		},
		{
			name:     "yarn",
			files:    map[string]string{"package.json": "{}", "yarn.lock": ""},
			want:     Yarn,
			lockfile: "yarn.lock",
			command:  "yarn install",
		},
		{
			name:     "npm lockfile",
			files:    map[string]string{"package.json": "{}", "package-lock.json": "{}"},
			want:     Npm,
			lockfile: "package-lock.json",
			command:  "npm ci",
		},
		{
			name:    "bare package.json",
			files:   map[string]string{"package.json": `{"name": "x"}`},
			want:    Npm,
			command: "npm install",
		},
		{
			name: "packageManager field wins over lockfile",
			files: map[string]string{
				"package.json": `{"packageManager": "pnpm@9.1.0+sha256.abc"}`,
				"yarn.lock":    "",
			},
			want:    Pnpm,
			command: "pnpm install",
		},
		{
			name: "package.json with comments and trailing comma",
			files: map[string]string{
				"package.json": "{\n  // pinned\n  \"packageManager\": \"yarn@4.0.0\",\n}",
			},
			want:    Yarn,
			command: "yarn install",
		},
		{
			name:     "unknown packageManager falls through to lockfile",
			files:    map[string]string{"package.json": `{"packageManager": "deno@2"}`, "bun.lock": ""},
			want:     Bun,
			lockfile: "bun.lock",
			command:  "bun install",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detect(writeFiles(t, tt.files))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Name)
			assert.Equal(t, tt.lockfile, got.Lockfile)
			assert.Equal(t, tt.command, got.String())
		})
	}
}

func TestDetect_Version(t *testing.T) {
	dir := writeFiles(t, map[string]string{"package.json": `{"packageManager": "pnpm@9.1.0+sha256.abc"}`, "pnpm-lock.yaml": ""})
	got, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, "9.1.0", got.Version)
	assert.Equal(t, []string{"pnpm", "install", "--frozen-lockfile"}, got.Command)
}

func TestDetect_NothingFound(t *testing.T) {
	_, err := Detect(t.TempDir())
	assert.ErrorIs(t, err, ErrNotDetected)
}

func TestDetect_BadPackageJSON(t *testing.T) {
	_, err := Detect(writeFiles(t, map[string]string{"package.json": "{not json"}))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotDetected)
}
