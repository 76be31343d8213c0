package config

import (
	"os"
	"path/filepath"
	"strings"
)

// IsTrustedInstall reports whether the running executable lives under prefix.
// Event and fan level persistence is skipped for untrusted installs.
func IsTrustedInstall(prefix string) bool {
	exe, err := os.Executable()
	if err != nil {
		return false
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return IsTrustedPath(exe, prefix)
}

// IsTrustedPath reports whether path is inside prefix.
func IsTrustedPath(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	prefix = filepath.Clean(prefix)
	path = filepath.Clean(path)
	if prefix == string(filepath.Separator) {
		return filepath.IsAbs(path)
	}
	return strings.HasPrefix(path, prefix+string(filepath.Separator))
}
