package aegisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	"github.com/ghalamif/AegisStream/internal/adapters/observability"
	"github.com/ghalamif/AegisStream/internal/adapters/opcua"
	"github.com/ghalamif/AegisStream/internal/adapters/simulator"
	"github.com/ghalamif/AegisStream/internal/adapters/sink"
	"github.com/ghalamif/AegisStream/internal/adapters/subscriber"
	"github.com/ghalamif/AegisStream/internal/app/broadcast"
	"github.com/ghalamif/AegisStream/internal/app/config"
	"github.com/ghalamif/AegisStream/internal/app/pipeline"
	"github.com/ghalamif/AegisStream/internal/ports"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	collector     Collector
	sink          Sink
	backend       Backend
	transformer   Transformer
	observability Observability
	registry      *prometheus.Registry
	logger        *slog.Logger
	subscribers   []Subscriber
	fs            afero.Fs
	httpClient    *http.Client
}

// WithCollector injects a custom collector implementation (MQTT, Modbus, simulators, etc.).
func WithCollector(col Collector) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.collector = col
	}
}

// WithSink replaces the configured sink entirely.
func WithSink(s Sink) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.sink = s
	}
}

// WithBackend keeps the configured buffering policy but writes batches
// through a caller-provided backend.
func WithBackend(b Backend) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.backend = b
	}
}

// WithTransformer overrides the default no-op transformer.
func WithTransformer(t Transformer) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.transformer = t
	}
}

// WithObservability plugs in a custom observability backend (OpenTelemetry, structured logs, etc.).
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithRegistry registers the runtime metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.registry = reg
	}
}

// WithLogger overrides the logger built from the log section of the config.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.logger = l
	}
}

// WithSubscribers attaches in-process subscribers when the runtime starts.
func WithSubscribers(subs ...Subscriber) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.subscribers = append(o.subscribers, subs...)
	}
}

// WithFs roots the file sink in a custom afero filesystem.
func WithFs(fs afero.Fs) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.fs = fs
	}
}

// WithHTTPClient sets the client used by the network sink.
func WithHTTPClient(c *http.Client) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.httpClient = c
	}
}

// Status is the document served on /status.
type Status struct {
	Producer      string          `json:"producer"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	Sink          SinkStats       `json:"sink"`
	Diagnostics   SinkDiagnostics `json:"diagnostics"`
	Broadcast     BroadcastStats  `json:"broadcast"`
}

// Runtime wires collector → broadcaster → sink and subscribers, and serves
// the WebSocket stream, /status, /healthz and /metrics.
type Runtime struct {
	cfg         *Config
	obs         ports.Observability
	gatherer    prometheus.Gatherer
	producer    string
	collector   ports.Collector
	transformer ports.Transformer
	sink        ports.Sink
	broadcaster *broadcast.Broadcaster
	extraSubs   []ports.Subscriber

	mux        *http.ServeMux
	streamSrv  *http.Server
	streamLn   net.Listener
	metricsSrv *http.Server
	metricsLn  net.Listener
	baseCancel context.CancelFunc

	pipelineCancel context.CancelFunc
	pipelineDone   <-chan struct{}
	gaugeStopCh    chan struct{}
	closers        []io.Closer

	mu       sync.Mutex
	started  time.Time
	running  bool
	shutdown bool
}

// NewRuntime bootstraps the adapters selected by cfg (producer, sink,
// Prometheus observability). RuntimeOption values override any of them.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	logger := overrides.logger
	if logger == nil {
		logger = cfg.Log.NewLogger(os.Stderr)
	}

	var gatherer prometheus.Gatherer
	obs := overrides.observability
	if obs == nil {
		reg := overrides.registry
		if reg == nil {
			reg = prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
		}
		obs = observability.NewPromObs(reg, logger)
		gatherer = reg
	} else if overrides.registry != nil {
		gatherer = overrides.registry
	}

	snk, err := buildSink(cfg, overrides, obs)
	if err != nil {
		return nil, err
	}

	producer := cfg.Producer.Kind
	col := overrides.collector
	if col != nil {
		producer = "custom"
	} else {
		col, err = buildCollector(cfg, obs)
		if err != nil {
			_ = snk.Close()
			return nil, err
		}
	}
	if producer == "" {
		producer = config.ProducerNone
	}

	tr := overrides.transformer
	if tr == nil {
		tr = pipeline.NoopTransformer{}
	}

	return &Runtime{
		cfg:         cfg,
		obs:         obs,
		gatherer:    gatherer,
		producer:    producer,
		collector:   col,
		transformer: tr,
		sink:        snk,
		broadcaster: broadcast.New(snk, cfg.Broadcast, broadcast.WithObservability(obs)),
		extraSubs:   overrides.subscribers,
	}, nil
}

func buildSink(cfg *Config, o runtimeOverrides, obs ports.Observability) (ports.Sink, error) {
	if o.sink != nil {
		return o.sink, nil
	}
	if o.backend != nil {
		return sink.NewBuffer(o.backend, cfg.Sink.BufferPolicy,
			sink.WithMeasurement(cfg.Sink.Measurement),
			sink.WithObservability(obs)), nil
	}
	return sink.Build(cfg.Sink, sink.Deps{Obs: obs, Fs: o.fs, HTTPClient: o.httpClient})
}

func buildCollector(cfg *Config, obs ports.Observability) (ports.Collector, error) {
	switch cfg.Producer.Kind {
	case config.ProducerRandomWalk:
		w, err := simulator.NewRandomWalk(cfg.Producer.RandomWalk, nil)
		if err != nil {
			return nil, fmt.Errorf("randomwalk producer: %w", err)
		}
		return w, nil
	case config.ProducerOPCUA:
		c, err := opcua.NewCollector(cfg.Producer.OPCUA, obs)
		if err != nil {
			return nil, fmt.Errorf("opcua producer: %w", err)
		}
		return c, nil
	case "", config.ProducerNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown producer %q", cfg.Producer.Kind)
	}
}

// Start dials the configured subscriber transports, opens the listeners and
// starts the producer. It returns once everything is running.
func (r *Runtime) Start() error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running || r.shutdown {
		return fmt.Errorf("runtime already started")
	}

	if err := r.attachTransports(); err != nil {
		r.closeTransports()
		return err
	}
	for _, s := range r.extraSubs {
		r.broadcaster.Attach(s)
	}

	if err := r.startServers(); err != nil {
		r.closeTransports()
		return err
	}

	if r.collector != nil {
		ctx, cancel := context.WithCancel(context.Background())
		done, err := pipeline.RunEdgePipeline(ctx, r.collector, r.transformer, r.broadcaster, r.cfg.Broadcast.QueueLen, r.obs)
		if err != nil {
			cancel()
			r.stopServers(context.Background())
			r.closeTransports()
			return fmt.Errorf("start producer: %w", err)
		}
		r.pipelineCancel = cancel
		r.pipelineDone = done
	}

	r.gaugeStopCh = make(chan struct{})
	go r.recordGauges(r.gaugeStopCh, time.Second)

	r.started = time.Now()
	r.running = true
	r.obs.LogInfo("runtime_started",
		ports.Field{Key: "producer", Value: r.producer},
		ports.Field{Key: "sink", Value: r.sink.Name()},
		ports.Field{Key: "stream_addr", Value: r.Addr()})
	return nil
}

// Run starts the runtime and blocks until the provided context is cancelled.
// Upon cancellation it attempts a graceful shutdown.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// Shutdown stops the producer, delivers pending frames, flushes and closes
// the sink, then stops the HTTP servers.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return nil
	}
	r.shutdown = true
	r.running = false
	r.mu.Unlock()

	var errs []error

	if r.gaugeStopCh != nil {
		close(r.gaugeStopCh)
	}

	if r.collector != nil && r.pipelineCancel != nil {
		if err := r.collector.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop producer: %w", err))
		}
		r.pipelineCancel()
		select {
		case <-r.pipelineDone:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}

	r.broadcaster.Close()
	errs = append(errs, r.closeTransports()...)

	if err := r.sink.Close(); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, r.stopServers(ctx)...)
	return errors.Join(errs...)
}

// Record hands a sample to the broadcaster as if a collector had produced it.
func (r *Runtime) Record(s *PipelineSample) {
	if s == nil {
		return
	}
	out, err := r.transformer.Transform(s)
	if err != nil {
		r.obs.RecordDropped("transform", s, err)
		return
	}
	if out != nil {
		r.broadcaster.Record(out)
	}
}

func (r *Runtime) Attach(sub Subscriber) { r.broadcaster.Attach(sub) }

func (r *Runtime) Detach(id string) { r.broadcaster.Detach(id) }

// Sink exposes the active sink, e.g. to read a ring sink's lines.
func (r *Runtime) Sink() Sink { return r.sink }

func (r *Runtime) Status() Status {
	st := r.sink.Stats()
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()

	var uptime float64
	if !started.IsZero() {
		uptime = time.Since(started).Seconds()
	}
	return Status{
		Producer:      r.producer,
		UptimeSeconds: uptime,
		Sink:          st,
		Diagnostics:   sink.DiagnosticsFor(st),
		Broadcast:     r.broadcaster.Stats(),
	}
}

// Handler serves the stream path, /status and /healthz (plus /metrics when
// it shares the stream address). It can be mounted into a caller's server.
func (r *Runtime) Handler() http.Handler {
	if r.mux == nil {
		r.mux = r.newStreamMux()
	}
	return r.mux
}

// Addr is the bound address of the stream server, empty when disabled.
func (r *Runtime) Addr() string {
	if r.streamLn == nil {
		return ""
	}
	return r.streamLn.Addr().String()
}

// MetricsAddr is the bound address of the metrics server. It equals Addr
// when both share one listener.
func (r *Runtime) MetricsAddr() string {
	if r.metricsLn == nil {
		return r.Addr()
	}
	return r.metricsLn.Addr().String()
}

func (r *Runtime) attachTransports() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if r.cfg.MQTT.Broker != "" {
		m, err := subscriber.DialMQTT(ctx, r.cfg.MQTT)
		if err != nil {
			return err
		}
		r.closers = append(r.closers, m)
		r.broadcaster.Attach(m)
	}
	if r.cfg.Redis.Addr != "" {
		rd, err := subscriber.DialRedis(ctx, r.cfg.Redis)
		if err != nil {
			return err
		}
		r.closers = append(r.closers, rd)
		r.broadcaster.Attach(rd)
	}
	return nil
}

func (r *Runtime) closeTransports() []error {
	var errs []error
	for _, c := range r.closers {
		if sub, ok := c.(ports.Subscriber); ok {
			r.broadcaster.Detach(sub.ID())
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errs
}

func (r *Runtime) metricsShared() bool {
	return r.cfg.Metrics.Addr == "" || r.cfg.Metrics.Addr == r.cfg.Server.Addr
}

func (r *Runtime) newStreamMux() *http.ServeMux {
	path := r.cfg.Server.Path
	if path == "" {
		path = "/stream"
	}
	mux := http.NewServeMux()
	mux.Handle(path, subscriber.NewWebSocketHandler(r.broadcaster, r.obs, r.cfg.Server.OriginPatterns...))
	mux.HandleFunc("/status", r.serveStatus)
	mux.HandleFunc("/healthz", serveHealth)
	if r.metricsShared() && r.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (r *Runtime) startServers() error {
	baseCtx, cancel := context.WithCancel(context.Background())
	r.baseCancel = cancel
	base := func(net.Listener) context.Context { return baseCtx }

	if r.cfg.Server.Addr != "" {
		ln, err := net.Listen("tcp", r.cfg.Server.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", r.cfg.Server.Addr, err)
		}
		r.streamLn = ln
		r.streamSrv = &http.Server{Handler: r.Handler(), BaseContext: base, ReadHeaderTimeout: 10 * time.Second}
		go r.serve("stream", r.streamSrv, ln)
	}

	if !r.metricsShared() && r.gatherer != nil {
		ln, err := net.Listen("tcp", r.cfg.Metrics.Addr)
		if err != nil {
			r.stopServers(context.Background())
			return fmt.Errorf("listen %s: %w", r.cfg.Metrics.Addr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
		mux.HandleFunc("/healthz", serveHealth)
		r.metricsLn = ln
		r.metricsSrv = &http.Server{Handler: mux, BaseContext: base, ReadHeaderTimeout: 10 * time.Second}
		go r.serve("metrics", r.metricsSrv, ln)
	}
	return nil
}

func (r *Runtime) serve(name string, srv *http.Server, ln net.Listener) {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		r.obs.LogError("server_exited", err, ports.Field{Key: "server", Value: name})
	}
}

func (r *Runtime) stopServers(ctx context.Context) []error {
	var errs []error
	if r.baseCancel != nil {
		r.baseCancel()
	}
	for _, srv := range []*http.Server{r.streamSrv, r.metricsSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	return errs
}

func (r *Runtime) serveStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r.Status()); err != nil {
		r.obs.LogError("status_encode_failed", err)
	}
}

func serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) recordGauges(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			st := r.sink.Stats()
			r.obs.SetGauge(observability.SinkBufferedBytes, float64(st.BufferedBytes))
			r.obs.SetGauge(observability.Subscribers, float64(r.broadcaster.Stats().Subscribers))
		}
	}
}
