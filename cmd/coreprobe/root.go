// Package coreprobe implements a command-line harness that stands up a
// core.Core against a real (or simulated) cluster's configuration
// endpoint, opens buckets, and prints the live topology as it converges.
// It exists to exercise the dispatch/topology engine end to end outside
// of a unit test.
package coreprobe

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdutil "github.com/nimbusdb/corekit/cmd/util"
	"github.com/nimbusdb/corekit/configprovider"
	"github.com/nimbusdb/corekit/core"
	"github.com/nimbusdb/corekit/corectx"
	"github.com/nimbusdb/corekit/events"
	"github.com/nimbusdb/corekit/reconcile"
	"github.com/nimbusdb/corekit/transport"
	"github.com/nimbusdb/corekit/wire"
	"github.com/spf13/cobra"
)

// ProbeCmd connects to a cluster's seed endpoints, drives the
// configuration/reconciliation loop, opens the requested buckets, and
// reports on the resulting topology until interrupted.
var ProbeCmd = &cobra.Command{
	Use:     "probe",
	Short:   "Connect to a cluster and report on its dispatch topology",
	Long:    `probe stands up a core.Core against the given seed endpoints, opens any requested buckets, and prints the live node/service topology as reconciliation converges. The configuration is read from flags or CORE_-prefixed environment variables (e.g. CORE_SEED_ENDPOINTS).`,
	PreRunE: bindFlags,
	RunE:    runProbe,
}

func init() {
	cobra.OnInitialize(cmdutil.InitClientConfig)
	cmdutil.SetupCoreClientFlags(ProbeCmd)
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	return cmdutil.BindCommandFlags(cmd)
}

// noopAuthenticator satisfies corectx.Authenticator for a probe run: this
// module's scope stops at the authenticator boundary, so the demo harness
// only needs something that clears Environment.ValidateAuthenticator
// under either TLS posture.
type noopAuthenticator struct{}

func (noopAuthenticator) SupportsTLS() bool    { return true }
func (noopAuthenticator) SupportsNonTLS() bool { return true }

func runProbe(_ *cobra.Command, _ []string) error {
	cfg := cmdutil.GetClientConfig()
	corectx.InitLoggers(cfg.LogLevel)

	if len(cfg.SeedEndpoints) == 0 {
		return fmt.Errorf("no seed endpoints configured")
	}

	env := corectx.NewEnvironment(cfg.Timeout)
	env.AlternateAddress = cfg.AlternateNet

	ctx, err := corectx.NewCoreContext(env, noopAuthenticator{})
	if err != nil {
		return fmt.Errorf("construct core context: %w", err)
	}

	provider := configprovider.NewPollingProvider(configprovider.PollingConfig{
		SeedEndpoints: cfg.SeedEndpoints,
		Interval:      cfg.PollInterval,
		Timeout:       cfg.Timeout,
	})

	factory := reconcile.NewTransportServiceFactory(
		transport.NewTCPConnector(),
		wire.NewBinaryCodec(),
		cfg.Timeout,
	)
	factory.ConnectionsPerEndpoint = cfg.ConnPerEndpoint
	factory.RetryCount = cfg.RetryCount

	c := core.New(ctx, provider, factory)

	env.EventBus.Subscribe(stdoutSink{})

	if err := c.InitGlobalConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: global config unavailable yet: %v\n", err)
	}

	for _, bucket := range cfg.Buckets {
		if err := c.OpenBucket(bucket); err != nil {
			fmt.Fprintf(os.Stderr, "warning: open bucket %q failed: %v\n", bucket, err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	fmt.Printf("probe: instance %d watching %v (Ctrl-C to stop)\n", ctx.InstanceID, cfg.SeedEndpoints)

	for {
		select {
		case <-sigCh:
			fmt.Println("probe: shutting down")
			return c.Shutdown(cfg.Timeout)
		case <-ticker.C:
			printDiagnostics(c)
		}
	}
}

func printDiagnostics(c *core.Core) {
	diag := c.Diagnostics()
	b, err := json.MarshalIndent(diag, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "diagnostics: %v\n", err)
		return
	}
	fmt.Println(string(b))
}

// stdoutSink prints every event published on the bus, giving the probe
// run a plain-text trace of reconfiguration and bucket lifecycle activity.
type stdoutSink struct{}

func (stdoutSink) OnEvent(ev events.Event) {
	fmt.Printf("event: %s %+v\n", ev.Name(), ev)
}
