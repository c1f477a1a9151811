// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

//go:build !windows

package config

import (
	"io/fs"
	"log/slog"
	"os"
)

// WarnInsecurePermissions logs a warning when the config file is group-
// or world-readable. The config may carry a Qdrant API key, so other
// users on the machine should not be able to read it. Best effort: it
// never fails startup.
func WarnInsecurePermissions(path string) {
	if path == "" {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		slog.Debug("could not stat config file for permission check", "path", path, "error", err)
		return
	}

	const groupOrOtherRead fs.FileMode = 0o044
	if info.Mode().Perm()&groupOrOtherRead != 0 {
		slog.Warn("config file has insecure permissions, api keys may be exposed to other users",
			"path", path,
			"mode", info.Mode(),
			"recommended", "0600",
		)
	}
}
