package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danmuck/blockgate/internal/admin"
	"github.com/danmuck/blockgate/internal/cluster"
	"github.com/danmuck/blockgate/internal/cluster/natsfabric"
	"github.com/danmuck/blockgate/internal/compress"
	"github.com/danmuck/blockgate/internal/config"
	logs "github.com/danmuck/blockgate/internal/logging"
	"github.com/danmuck/blockgate/internal/observability"
	"github.com/danmuck/blockgate/internal/protocol/codec"
	"github.com/danmuck/blockgate/internal/protocol/frame"
	"github.com/danmuck/blockgate/internal/protocol/packets"
	"github.com/danmuck/blockgate/internal/sink"
)

const DefaultHeartbeatInterval = 30 * time.Second

type Option func(*Service)

// WithConnector joins through c instead of the message fabric. Sinks are
// then not bound to the fabric, and inbound packets only go to a
// WithForwarder target.
func WithConnector(c cluster.Connector) Option {
	return func(s *Service) {
		s.connector = c
		s.fabric = nil
	}
}

func WithSupervisorOptions(opts ...cluster.Option) Option {
	return func(s *Service) {
		s.supervisorOpts = append(s.supervisorOpts, opts...)
	}
}

// WithForwarder replaces the fabric as the target for inbound packets.
func WithForwarder(f Forwarder) Option {
	return func(s *Service) {
		s.forward = f
	}
}

// WithListeners serves on already bound listeners. Either may be nil.
func WithListeners(gameLn, adminLn net.Listener) Option {
	return func(s *Service) {
		s.gameLn = gameLn
		s.adminLn = adminLn
	}
}

// Service wires the gateway together: join the cluster, bind the sink
// directory to the fabric, then accept players.
type Service struct {
	cfg        config.Config
	codec      *codec.Codec
	packager   *frame.Packager
	directory  *sink.Directory
	fabric     *natsfabric.Fabric
	connector  cluster.Connector
	forward    Forwarder
	supervisor *cluster.Supervisor
	admin      *admin.Server
	listener   *Listener

	supervisorOpts []cluster.Option
	gameLn         net.Listener
	adminLn        net.Listener
	heartbeat      time.Duration
}

func NewService(cfg config.Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	compressor, err := compress.Lookup(cfg.Compression.Codec)
	if err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg, heartbeat: DefaultHeartbeatInterval}
	s.fabric = natsfabric.New(natsfabric.Config{
		URL:            cfg.Cluster.URL,
		Name:           cfg.Cluster.Name,
		SubjectPrefix:  cfg.Cluster.SubjectPrefix,
		ConnectTimeout: cfg.Cluster.ConnectTimeout,
	})
	s.connector = s.fabric
	for _, opt := range opts {
		opt(s)
	}

	s.codec = codec.New(packets.Registry())
	s.packager = frame.NewPackager(s.codec,
		frame.WithThreshold(cfg.Compression.Threshold),
		frame.WithCompressor(compressor),
	)
	s.directory = sink.NewDirectory(s.packager, cfg.Directory())
	s.supervisor = cluster.NewSupervisor(s.connector, cfg.ClusterSupervisor(), s.supervisorOpts...)

	if s.forward == nil && s.fabric != nil {
		s.forward = s.fabric
	}
	lcfg := DefaultListenerConfig()
	lcfg.Threshold = cfg.Compression.Threshold
	s.listener = NewListener(s.directory, s.packager, s.codec, s.forward, lcfg)
	if cfg.AdminAddr != "" || s.adminLn != nil {
		s.admin = admin.New(cfg.NodeName, cfg.AdminAddr, s.directory, s.supervisor.State, cfg.CorsOrigins)
	}
	return s, nil
}

func (s *Service) Directory() *sink.Directory { return s.directory }

func (s *Service) Packager() *frame.Packager { return s.packager }

func (s *Service) Supervisor() *cluster.Supervisor { return s.supervisor }

// Run blocks until ctx is cancelled or a startup step fails. The admin
// server comes up first so readiness can be observed during the join.
func (s *Service) Run(ctx context.Context) error {
	observability.RegisterMetrics()
	if s.cfg.LogLevel != "" {
		logs.SetLevel(s.cfg.LogLevel)
	}
	logs.Infof("gateway.Service.Run starting node=%s listen=%s cluster=%s codec=%s threshold=%d",
		s.cfg.NodeName, s.cfg.ListenAddr, s.cfg.Cluster.URL, s.packager.Compressor().Name(), s.packager.Threshold())

	g, gctx := errgroup.WithContext(ctx)
	if s.admin != nil {
		g.Go(func() error {
			if s.adminLn != nil {
				return s.admin.ServeListener(gctx, s.adminLn)
			}
			return s.admin.Serve(gctx)
		})
	}

	if s.fabric != nil {
		s.supervisor.OnConnected("bind-sinks", func(context.Context) error {
			return s.fabric.BindDirectory(s.directory)
		})
	}
	s.supervisor.OnConnected("reaper", func(context.Context) error {
		g.Go(func() error { return ignoreCanceled(s.directory.Run(gctx, s.cfg.Sink.ReapInterval)) })
		g.Go(func() error { return s.heartbeatLoop(gctx) })
		return nil
	})
	s.supervisor.OnConnected("accept", func(context.Context) error {
		ln := s.gameLn
		if ln == nil {
			var err error
			if ln, err = net.Listen("tcp", s.cfg.ListenAddr); err != nil {
				return err
			}
		}
		g.Go(func() error { return s.listener.Serve(gctx, ln) })
		return nil
	})

	g.Go(func() error {
		if err := s.supervisor.Join(gctx); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("gateway: startup aborted: %w", err)
		}
		logs.Infof("gateway.Service.Run ready node=%s attempts=%d", s.cfg.NodeName, s.supervisor.Attempts())
		return nil
	})

	err := g.Wait()
	s.shutdown()
	if err != nil {
		logs.Errf("gateway.Service.Run failed err=%v", err)
		return err
	}
	logs.Infof("gateway.Service.Run shutdown node=%s", s.cfg.NodeName)
	return nil
}

func (s *Service) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			connected := s.fabric == nil || s.fabric.Connected()
			logs.Infof("gateway.Service.heartbeat node=%s cluster=%s fabric_connected=%t sinks=%d",
				s.cfg.NodeName, s.supervisor.State(), connected, s.directory.Len())
		}
	}
}

func (s *Service) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.directory.Close(ctx); err != nil {
		logs.Warnf("gateway.Service.shutdown directory err=%v", err)
	}
	if s.fabric != nil {
		if err := s.fabric.Close(); err != nil {
			logs.Warnf("gateway.Service.shutdown fabric err=%v", err)
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
