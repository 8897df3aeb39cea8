// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	axonconfig "github.com/dr-jd-allen/axon/internal/config"
)

var (
	cfgFile string
	cfg     *axonconfig.Config
)

var rootCmd = &cobra.Command{
	Use:     "axon",
	Short:   "Axon - multi-provider LLM orchestration core",
	Long:    `Axon coordinates multiple LLM-backed agents across providers using parallel, sequential, pipeline, competitive, and consensus strategies, with built-in resilience and layered memory.`,
	Version: "0.1.0",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $AXON_DATA_DIR/axon.yaml)")

	rootCmd.PersistentFlags().String("host", "0.0.0.0", "gateway listen host")
	rootCmd.PersistentFlags().Int("port", 8420, "gateway listen port")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, console)")
	rootCmd.PersistentFlags().Bool("cache-enabled", true, "enable the response cache")

	_ = viper.BindPFlag("server.host", rootCmd.PersistentFlags().Lookup("host"))
	_ = viper.BindPFlag("server.port", rootCmd.PersistentFlags().Lookup("port"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("cache.enabled", rootCmd.PersistentFlags().Lookup("cache-enabled"))
}

func initConfig() {
	var err error
	cfg, err = axonconfig.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}
