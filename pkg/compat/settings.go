// Copyright 2025 Kadir Pekel
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

package compat

import (
	"os"
	"strings"
)

// Patch names, each gated by an RCC_PATCHES_<NAME>_FIX environment switch.
const (
	PatchMissingChoices    = "MISSING_CHOICES"
	PatchIncompleteChoices = "INCOMPLETE_CHOICES"
	PatchLMStudio          = "LMSTUDIO"
	PatchTextTools         = "TEXT_TOOLS"
	PatchFinishOverride    = "FINISH_OVERRIDE"
)

// Settings carries the runtime switches for the compatibility stage. Repairs
// take Settings explicitly instead of reading the environment so they stay
// deterministic under test.
type Settings struct {
	// UnifiedPreprocessing runs the full repair pass as one unit. When off,
	// only the individually enabled patches run. On by default.
	UnifiedPreprocessing bool

	// StrictFinishReason makes an explicit "unknown" finish reason an error
	// instead of being normalized away. Off by default.
	StrictFinishReason bool

	// disabledPatches holds patches explicitly switched off.
	disabledPatches map[string]bool
}

// DefaultSettings returns the production defaults: everything on, strict
// finish-reason off.
func DefaultSettings() Settings {
	return Settings{UnifiedPreprocessing: true}
}

// SettingsFromEnv reads the RCC_* switches. Absent values mean
// feature-default.
func SettingsFromEnv() Settings {
	s := DefaultSettings()
	if envDisabled("RCC_UNIFIED_PREPROCESSING") {
		s.UnifiedPreprocessing = false
	}
	if envEnabled("RCC_STRICT_FINISH_REASON") {
		s.StrictFinishReason = true
	}
	for _, name := range []string{
		PatchMissingChoices,
		PatchIncompleteChoices,
		PatchLMStudio,
		PatchTextTools,
		PatchFinishOverride,
	} {
		if envDisabled("RCC_PATCHES_" + name + "_FIX") {
			s.DisablePatch(name)
		}
	}
	return s
}

// DisablePatch switches one patch off.
func (s *Settings) DisablePatch(name string) {
	if s.disabledPatches == nil {
		s.disabledPatches = make(map[string]bool)
	}
	s.disabledPatches[name] = true
}

// PatchEnabled reports whether a patch should run.
func (s Settings) PatchEnabled(name string) bool {
	return !s.disabledPatches[name]
}

func envDisabled(key string) bool {
	return strings.EqualFold(os.Getenv(key), "false")
}

func envEnabled(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "true" || v == "1"
}
