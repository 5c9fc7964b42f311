// Package util holds shared command-line helpers: help-text wrapping and
// the flag/viper plumbing common to every client-facing subcommand.
package util

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// ClientConfig is the flag-derived configuration shared by every command
// that stands up a core.Core against a live (or simulated) cluster.
type ClientConfig struct {
	SeedEndpoints   []string
	Timeout         time.Duration
	PollInterval    time.Duration
	Buckets         []string
	LogLevel        string
	AlternateNet    string
	ConnPerEndpoint int
	RetryCount      int
}

// SetupCoreClientFlags adds the flags every core-client command needs to
// reach a cluster, mirroring the teacher's SetupRPCClientFlags grouping.
func SetupCoreClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds for outstanding requests"))

	key = "poll-interval"
	cmd.PersistentFlags().Int(key, 5, WrapString("How often, in seconds, to poll seed endpoints for configuration changes"))

	key = "seed-endpoints"
	cmd.PersistentFlags().String(key, "http://localhost:8091", WrapString("Comma-separated list of seed endpoints used to bootstrap the cluster configuration"))

	key = "buckets"
	cmd.PersistentFlags().String(key, "", WrapString("Comma-separated list of buckets to open once global configuration has loaded"))

	key = "alternate-network"
	cmd.PersistentFlags().String(key, "", WrapString("Name of the alternate-address network to resolve node addresses through (empty uses the primary addresses)"))

	key = "conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 1, WrapString("Simultaneous connections to open per key-value endpoint"))

	key = "retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many send attempts an endpoint pool makes for a request before cancelling it"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("Log level for every named logger in the module (debug, info, warn, error)"))
}

// InitClientConfig loads .env files and wires viper to read CORE_-prefixed
// environment variables, following the teacher's initConfig pattern.
func InitClientConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("core")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// GetClientConfig reads a ClientConfig out of viper's bound flags.
func GetClientConfig() *ClientConfig {
	c := &ClientConfig{
		Timeout:         time.Duration(viper.GetInt("timeout")) * time.Second,
		PollInterval:    time.Duration(viper.GetInt("poll-interval")) * time.Second,
		LogLevel:        viper.GetString("log-level"),
		AlternateNet:    viper.GetString("alternate-network"),
		ConnPerEndpoint: viper.GetInt("conn-per-endpoint"),
		RetryCount:      viper.GetInt("retries"),
	}

	if seeds := viper.GetString("seed-endpoints"); seeds != "" {
		c.SeedEndpoints = strings.Split(seeds, ",")
	}
	if buckets := viper.GetString("buckets"); buckets != "" {
		c.Buckets = strings.Split(buckets, ",")
	}

	return c
}

// BindCommandFlags binds a command's flags to viper.
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
