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

// Command switchboard runs the LLM request broker.
//
// Usage:
//
//	switchboard serve --config config.yaml
//	switchboard serve --config switchboard/config --config-type consul
//	switchboard validate --config config.yaml
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/switchboard"
	"github.com/kadirpekel/switchboard/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the broker."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for the configuration."`

	Config     string   `short:"c" help:"Config path: a file, or a key for remote stores."`
	ConfigType string   `name:"config-type" help:"Config source (file, consul, etcd, zookeeper)." default:"file"`
	Endpoints  []string `help:"Remote config store endpoints."`
	LogLevel   string   `help:"Log level (debug, info, warn, error; default info)."`
	LogFile    string   `help:"Log file path (empty = stderr)."`
	LogFormat  string   `help:"Log format (simple, verbose, json; default simple)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(switchboard.GetVersion())
	return nil
}

// buildVersion prefers the module version stamped into the binary, falling
// back to the compiled-in release constant.
func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			return info.Main.Version
		}
	}
	return switchboard.Version
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("switchboard"),
		kong.Description("switchboard - multi-provider LLM request broker"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
