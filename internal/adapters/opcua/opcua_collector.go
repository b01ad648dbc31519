package opcua

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/AegisStream/internal/adapters/observability"
	"github.com/ghalamif/AegisStream/internal/domain"
	"github.com/ghalamif/AegisStream/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint         string        `yaml:"endpoint"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	Nodes            []NodeConfig  `yaml:"nodes"`
}

// NodeConfig defines a monitored tag. Key identifies the tag in the
// last-value cache, Name is what subscribers and the sink see.
type NodeConfig struct {
	NodeID string `yaml:"node_id"`
	Key    string `yaml:"key"`
	Name   string `yaml:"name"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "AegisStream"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 250 * time.Millisecond
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
	for i := range c.Nodes {
		if c.Nodes[i].Key == "" {
			c.Nodes[i].Key = c.Nodes[i].NodeID
		}
		if c.Nodes[i].Name == "" {
			c.Nodes[i].Name = c.Nodes[i].Key
		}
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Nodes) == 0 {
		return errors.New("at least one node must be configured")
	}
	for _, n := range c.Nodes {
		if _, err := ua.ParseNodeID(n.NodeID); err != nil {
			return fmt.Errorf("node %q: %w", n.NodeID, err)
		}
	}
	return nil
}

// Collector subscribes to data changes of the configured nodes and emits one
// sample per change.
type Collector struct {
	cfg Config
	obs ports.Observability

	mu      sync.Mutex
	session *session
	handles map[uint32]NodeConfig
	wg      sync.WaitGroup
}

// session is one connected client plus its subscription.
type session struct {
	client *opcua.Client
	sub    *opcua.Subscription
	cancel context.CancelFunc
}

func (s *session) close(ctx context.Context) error {
	s.cancel()
	var errs []error
	if s.sub != nil {
		if err := s.sub.Cancel(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("cancel subscription: %w", err))
		}
	}
	if err := s.client.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, fmt.Errorf("close client: %w", err))
	}
	return errors.Join(errs...)
}

func NewCollector(cfg Config, obs ports.Observability) (*Collector, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if obs == nil {
		obs = observability.NewLogObs(nil)
	}
	return &Collector{cfg: cfg, obs: obs}, nil
}

// Start connects, subscribes and monitors every node, then streams changes
// onto out until Stop. Any failure tears the partial session down.
func (c *Collector) Start(out chan<- *domain.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return fmt.Errorf("opcua collector already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{cancel: cancel}

	client, err := opcua.NewClient(c.cfg.Endpoint, c.clientOptions()...)
	if err != nil {
		cancel()
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("opcua connect %s: %w", c.cfg.Endpoint, err)
	}
	sess.client = client

	notifications := make(chan *opcua.PublishNotificationData, len(c.cfg.Nodes)*4)
	sess.sub, err = client.Subscribe(ctx, &opcua.SubscriptionParameters{Interval: c.cfg.PublishInterval}, notifications)
	if err != nil {
		sess.sub = nil
		_ = sess.close(ctx)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	handles, err := c.monitor(ctx, sess.sub)
	if err != nil {
		_ = sess.close(ctx)
		return err
	}

	c.session = sess
	c.handles = handles
	c.obs.LogInfo("opcua_subscribed",
		ports.Field{Key: "endpoint", Value: c.cfg.Endpoint},
		ports.Field{Key: "nodes", Value: len(handles)})

	c.wg.Add(1)
	go c.consume(ctx, notifications, out)
	return nil
}

// monitor registers one monitored item per node. Client handles are the
// 1-based node index.
func (c *Collector) monitor(ctx context.Context, sub *opcua.Subscription) (map[uint32]NodeConfig, error) {
	handles := make(map[uint32]NodeConfig, len(c.cfg.Nodes))
	for i, node := range c.cfg.Nodes {
		id, err := ua.ParseNodeID(node.NodeID)
		if err != nil {
			return nil, fmt.Errorf("parse node id %q: %w", node.NodeID, err)
		}

		handle := uint32(i + 1)
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(id, ua.AttributeIDValue, handle)
		if c.cfg.SamplingInterval > 0 {
			req.RequestedParameters.SamplingInterval = float64(c.cfg.SamplingInterval.Milliseconds())
		}

		res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
		switch {
		case err != nil:
			return nil, fmt.Errorf("monitor node %q: %w", node.NodeID, err)
		case len(res.Results) == 0:
			return nil, fmt.Errorf("monitor node %q: empty result", node.NodeID)
		case res.Results[0].StatusCode != ua.StatusOK:
			return nil, fmt.Errorf("monitor node %q: %s", node.NodeID, res.Results[0].StatusCode)
		}
		handles[handle] = node
	}
	return handles, nil
}

// Stop cancels the subscription, closes the client and waits for the
// consumer goroutine.
func (c *Collector) Stop() error {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()
	if sess == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := sess.close(ctx)
	c.wg.Wait()
	return err
}

func (c *Collector) consume(ctx context.Context, notifications <-chan *opcua.PublishNotificationData, out chan<- *domain.Sample) {
	defer c.wg.Done()

	for {
		var n *opcua.PublishNotificationData
		select {
		case <-ctx.Done():
			return
		case n = <-notifications:
		}

		if n == nil {
			continue
		}
		if n.Error != nil {
			c.obs.LogError("opcua_notification_failed", n.Error,
				ports.Field{Key: "endpoint", Value: c.cfg.Endpoint})
			continue
		}
		change, ok := n.Value.(*ua.DataChangeNotification)
		if !ok {
			continue
		}
		for _, s := range c.samplesFrom(change, time.Now()) {
			select {
			case <-ctx.Done():
				return
			case out <- s:
			}
		}
	}
}

// samplesFrom converts the monitored items of one notification. Items with
// unknown handles or unsupported value types are skipped.
func (c *Collector) samplesFrom(data *ua.DataChangeNotification, now time.Time) []*domain.Sample {
	out := make([]*domain.Sample, 0, len(data.MonitoredItems))
	for _, item := range data.MonitoredItems {
		if item == nil || item.Value == nil {
			continue
		}
		nodeCfg, ok := c.handles[item.ClientHandle]
		if !ok {
			continue
		}
		v, ok := variantValue(item.Value.Value)
		if !ok {
			c.obs.LogError("opcua_unsupported_value", fmt.Errorf("unsupported type %s", variantType(item.Value.Value)),
				ports.Field{Key: "node_id", Value: nodeCfg.NodeID})
			continue
		}

		ts := item.Value.SourceTimestamp
		if ts.IsZero() {
			ts = item.Value.ServerTimestamp
		}
		if ts.IsZero() {
			ts = now
		}

		out = append(out, &domain.Sample{
			Key:       nodeCfg.Key,
			Name:      nodeCfg.Name,
			Timestamp: ts.UnixMilli(),
			Value:     v,
		})
	}
	return out
}

func (c *Collector) clientOptions() []opcua.Option {
	auth := opcua.AuthAnonymous()
	if c.cfg.Username != "" {
		auth = opcua.AuthUsername(c.cfg.Username, c.cfg.Password)
	}
	return []opcua.Option{
		opcua.SecurityModeString(securityMode(c.cfg.SecurityMode)),
		opcua.SecurityPolicy(c.cfg.SecurityPolicy),
		opcua.ApplicationName(c.cfg.ApplicationName),
		opcua.AutoReconnect(true),
		auth,
	}
}

// variantValue maps an OPC UA variant onto the sample value kinds: bool,
// int64, float64 and string.
func variantValue(v *ua.Variant) (any, bool) {
	if v == nil {
		return nil, false
	}

	switch val := v.Value().(type) {
	case bool:
		return val, true
	case string:
		return val, true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return int64(val), true
	case uint8:
		return int64(val), true
	case int16:
		return int64(val), true
	case uint16:
		return int64(val), true
	case int32:
		return int64(val), true
	case uint32:
		return int64(val), true
	case int64:
		return val, true
	case uint64:
		if val > math.MaxInt64 {
			return float64(val), true
		}
		return int64(val), true
	default:
		return nil, false
	}
}

func variantType(v *ua.Variant) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", v.Value())
}

// securityMode accepts the spellings operators tend to write in YAML.
func securityMode(mode string) string {
	switch strings.NewReplacer("_", "", "+", "", "-", "").Replace(strings.ToLower(mode)) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

var _ ports.Collector = (*Collector)(nil)
