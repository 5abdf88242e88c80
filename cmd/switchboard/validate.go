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

package main

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ValidateCmd loads and validates a configuration without starting anything.
type ValidateCmd struct {
	Print bool `short:"p" help:"Print the normalized configuration (defaults applied) as YAML."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, loader, err := loadConfig(cli, false)
	if err != nil {
		return err
	}
	if loader != nil {
		loader.Stop()
	}

	if c.Print {
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		if err := encoder.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		return encoder.Close()
	}

	fmt.Printf("Configuration OK\n")
	fmt.Printf("  Listen:    %s\n", cfg.Server.Addr())

	providers := make([]string, 0, len(cfg.Providers))
	for id := range cfg.Providers {
		providers = append(providers, id)
	}
	sort.Strings(providers)
	fmt.Printf("  Providers: %d\n", len(providers))
	for _, id := range providers {
		p := cfg.Providers[id]
		fmt.Printf("    - %s (%s) %s\n", id, p.Protocol, p.Endpoint)
	}

	categories := make([]string, 0, len(cfg.Routing))
	for category := range cfg.Routing {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	fmt.Printf("  Routes:    %d\n", len(categories))
	for _, category := range categories {
		target := cfg.Routing[category]
		fmt.Printf("    - %s -> %s/%s\n", category, target.Provider, target.Model)
	}

	return nil
}
