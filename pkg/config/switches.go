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

package config

import (
	"os"
	"strings"
)

// Runtime switches, read from the environment. The RCC_ prefix is the
// compatibility contract of existing deployments; absent means
// feature-default.

// DebugEnabled reports RCC_DEBUG.
func DebugEnabled() bool {
	return switchEnabled("RCC_DEBUG")
}

// VerboseEnabled reports RCC_VERBOSE.
func VerboseEnabled() bool {
	return switchEnabled("RCC_VERBOSE")
}

// CachePreprocessingEnabled reports RCC_CACHE_PREPROCESSING, which turns the
// pipeline's repair cache on.
func CachePreprocessingEnabled() bool {
	return switchEnabled("RCC_CACHE_PREPROCESSING")
}

func switchEnabled(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "true" || v == "1"
}
