/*
Copyright 2011 Google Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package osutil provides operating system-specific path information.
package osutil

import (
	"os"
	"path/filepath"
	"runtime"
)

// HomeDir returns the path to the user's home directory.
// It returns the empty string if the value isn't known.
func HomeDir() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("HOMEPATH")
	}
	return os.Getenv("HOME")
}

// DefaultDataDir returns the directory a replica host should use for its
// local and remote blob trees and persisted identity when the caller
// hasn't been given an explicit one, following the same XDG/per-OS
// conventions camlistore's config dir once did. It is overridable by the
// CRDTSTORE_DATA_DIR environment variable.
func DefaultDataDir() string {
	if d := os.Getenv("CRDTSTORE_DATA_DIR"); d != "" {
		return d
	}
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "crdtstore")
	case "darwin":
		return filepath.Join(HomeDir(), "Library", "Application Support", "crdtstore")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "crdtstore")
	}
	return filepath.Join(HomeDir(), ".local", "share", "crdtstore")
}
