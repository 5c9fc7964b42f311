package configprovider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/nimbusdb/corekit/topology"
	"github.com/nimbusdb/corekit/wire"
)

var log = logger.GetLogger("configprovider")

// PollingConfig configures a PollingProvider.
type PollingConfig struct {
	// SeedEndpoints are manager-service base URLs (e.g.
	// "http://10.0.0.1:8091"); one is chosen round-robin per poll.
	SeedEndpoints []string
	Interval      time.Duration
	Timeout       time.Duration
}

// PollingProvider implements ConfigurationProvider by periodically
// GETting a cluster configuration document from a manager-service seed
// node, chosen round-robin over SeedEndpoints on every poll, and decoding it with
// wire.JSONCodec. This is the module's Open Question resolution for
// spec.md §4.6, which otherwise treats the provider as a pure external
// interface.
type PollingProvider struct {
	config PollingConfig
	client *http.Client
	codec  wire.JSONCodec

	mu          sync.RWMutex
	current     topology.ClusterConfig
	openBuckets map[string]bool

	subMu       sync.Mutex
	subscribers []chan topology.ClusterConfig

	nextEndpoint uint64
	stopCh       chan struct{}
	stopped      atomic.Bool
	wg           sync.WaitGroup
}

// NewPollingProvider constructs a provider and starts its background
// polling loop immediately.
func NewPollingProvider(config PollingConfig) *PollingProvider {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	p := &PollingProvider{
		config:      config,
		client:      &http.Client{Timeout: config.Timeout},
		openBuckets: make(map[string]bool),
		stopCh:      make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *PollingProvider) Configs() <-chan topology.ClusterConfig {
	ch := make(chan topology.ClusterConfig, 1)
	p.subMu.Lock()
	p.subscribers = append(p.subscribers, ch)
	p.subMu.Unlock()
	return ch
}

func (p *PollingProvider) Config() topology.ClusterConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

func (p *PollingProvider) OpenBucket(ctx context.Context, bucket string) error {
	p.mu.Lock()
	p.openBuckets[bucket] = true
	p.mu.Unlock()
	return p.poll(ctx)
}

func (p *PollingProvider) CloseBucket(bucket string) {
	p.mu.Lock()
	delete(p.openBuckets, bucket)
	p.mu.Unlock()
}

func (p *PollingProvider) LoadAndRefreshGlobalConfig(ctx context.Context) error {
	return p.poll(ctx)
}

func (p *PollingProvider) Shutdown() {
	if p.stopped.CompareAndSwap(false, true) {
		close(p.stopCh)
	}
	p.wg.Wait()

	p.subMu.Lock()
	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
	p.subMu.Unlock()
}

func (p *PollingProvider) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
			if err := p.poll(ctx); err != nil {
				log.Warningf("configprovider: poll failed: %v", err)
			}
			cancel()
		}
	}
}

// poll fetches a fresh document from one seed endpoint and publishes it
// to every subscriber, whether or not it differs from the current
// snapshot.
func (p *PollingProvider) poll(ctx context.Context) error {
	endpoint := p.nextSeed()
	if endpoint == "" {
		return fmt.Errorf("configprovider: no seed endpoints configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/pools/default/config", nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("configprovider: request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("configprovider: reading response from %s failed: %w", endpoint, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("configprovider: %s responded %s", endpoint, resp.Status)
	}

	var doc configDoc
	if err := p.codec.Decode(body, &doc); err != nil {
		return fmt.Errorf("configprovider: decoding response from %s failed: %w", endpoint, err)
	}

	next := doc.toClusterConfig()

	p.mu.Lock()
	p.current = next
	p.mu.Unlock()

	p.publish(next)
	return nil
}

func (p *PollingProvider) publish(cc topology.ClusterConfig) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subscribers {
		select {
		case ch <- cc:
		default:
			log.Debugf("configprovider: subscriber channel full, dropping stale snapshot in favor of the next poll")
		}
	}
}

func (p *PollingProvider) nextSeed() string {
	if len(p.config.SeedEndpoints) == 0 {
		return ""
	}
	if len(p.config.SeedEndpoints) == 1 {
		return p.config.SeedEndpoints[0]
	}
	idx := atomic.AddUint64(&p.nextEndpoint, 1) % uint64(len(p.config.SeedEndpoints))
	return p.config.SeedEndpoints[idx]
}
