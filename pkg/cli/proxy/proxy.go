// Package proxy wires the Run action for the "run" command: it loads the
// configuration, constructs every component built under internal/, and
// hands them to a Supervisor. It plays the role of the teacher's
// pkg/cli/server package: a thin command action that does nothing but
// construct and join the real components living under their own packages.
package proxy

import (
	"errors"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/k3s-io/edge-proxy/internal/admission"
	"github.com/k3s-io/edge-proxy/internal/certstore"
	"github.com/k3s-io/edge-proxy/internal/config"
	"github.com/k3s-io/edge-proxy/internal/coordsock"
	"github.com/k3s-io/edge-proxy/internal/lifecycle"
	"github.com/k3s-io/edge-proxy/internal/listener"
	"github.com/k3s-io/edge-proxy/internal/proxyhttp"
	"github.com/k3s-io/edge-proxy/internal/registry"
	"github.com/k3s-io/edge-proxy/internal/supervisor"
	"github.com/k3s-io/edge-proxy/internal/tlsaccept"
	"github.com/k3s-io/edge-proxy/pkg/cli/cmds"
	"github.com/k3s-io/edge-proxy/pkg/signals"
)

// Run is the action behind "edge-proxy run". When --restart is set it
// instead performs a one-shot hot-restart handshake against an
// already-running instance's coordination socket and returns.
func Run(_ *cli.Context) error {
	cfg := cmds.ProxyConfig

	if cfg.Restart {
		if err := coordsock.RequestRestart(cfg.CoordSocket, uint32(cfg.RestartGen)); err != nil {
			return pkgerrors.Wrap(err, "requesting hot restart")
		}
		logrus.Infof("edge-proxy: restart generation %d accepted", cfg.RestartGen)
		return nil
	}

	app, err := build(cfg)
	if err != nil {
		return err
	}

	root := lifecycle.New(signals.SetupSignalContext())
	sup := supervisor.New(root, 30*time.Second)

	for i, b := range app.bindings {
		sup.Add(fmt.Sprintf("listener[%d]:%s", i, b.Addr), listener.New(b, app.admission))
	}
	sup.Add("certstore-reloader", supervisor.ServiceFunc(func(token *lifecycle.Token) error {
		return app.reloader.Run(token.Context())
	}))

	if cfg.Watch {
		sup.Add("config-watcher", supervisor.ServiceFunc(app.watchConfig))
	}

	if cfg.CoordSocket != "" {
		coord, err := coordsock.Listen(cfg.CoordSocket)
		if err != nil {
			return pkgerrors.Wrap(err, "starting coordination socket")
		}
		sup.Add("coord-socket", supervisor.ServiceFunc(func(token *lifecycle.Token) error {
			return serveCoordSocket(token, coord)
		}))
	}

	if err := sup.Run(); err != nil && !errors.Is(err, errRestartRequested) {
		return err
	}
	return nil
}

// errRestartRequested is returned by the coordination-socket service when a
// peer successfully requests a hot restart. It cancels the Supervisor's
// root token like any other service error (spec §4.7), but Run treats it
// as a clean exit rather than a failure.
var errRestartRequested = errors.New("hot restart requested")

// wired holds every long-lived component build constructs, so Run can hand
// each off to the Supervisor without re-deriving it.
type wired struct {
	configPath string
	reloader   *certstore.Reloader
	reg        *registry.Registry
	admission  *admission.Counter
	bindings   []listener.Binding
}

func build(cmdCfg cmds.Proxy) (*wired, error) {
	cfg, err := config.Load(cmdCfg.ConfigFile)
	if err != nil {
		return nil, err
	}

	table, err := cfg.BuildTable()
	if err != nil {
		return nil, err
	}
	reg := registry.NewRegistry(table)

	store := certstore.NewStore()
	reloader := certstore.NewReloader(store, cfg.BuildCertSources(), 30*time.Second)

	adm := admission.NewCounter(int64(cfg.MaxClients))

	proxyTimeout := time.Duration(cfg.ProxyTimeoutMs) * time.Millisecond
	upstreamTimeout := time.Duration(cfg.UpstreamTimeoutMs) * time.Millisecond
	handler := proxyhttp.NewHandler(reg, upstreamTimeout)

	var bindings []listener.Binding
	bindings = append(bindings, listener.Binding{
		Addr:         fmt.Sprintf(":%d", cfg.ListenPort),
		Backlog:      int(cfg.TCPListenBacklog),
		TLS:          false,
		Handler:      handler,
		ProxyTimeout: proxyTimeout,
	})

	if cfg.ListenPortTLS != 0 {
		acceptor := tlsaccept.NewAcceptor(store, proxyTimeout)
		bindings = append(bindings, listener.Binding{
			Addr:         fmt.Sprintf(":%d", cfg.ListenPortTLS),
			Backlog:      int(cfg.TCPListenBacklog),
			TLS:          true,
			Acceptor:     acceptor,
			Handler:      handler,
			ProxyTimeout: proxyTimeout,
		})
	}

	if cfg.ACME != nil {
		if domains := cfg.ACMEDomains(); len(domains) > 0 {
			logrus.Warnf("edge-proxy: acme configured for %d host(s) but no certificate issuer is wired into this build; those hosts will serve no certificate until one is supplied", len(domains))
		}
	}

	return &wired{
		configPath: cmdCfg.ConfigFile,
		reloader:   reloader,
		reg:        reg,
		admission:  adm,
		bindings:   bindings,
	}, nil
}

// watchConfig re-parses the configuration file on every fsnotify write event
// and swaps the Registry's Table, mirroring the Certificate Reloader's
// fsnotify-driven republish (spec §5: "the Backend Registry is swapped
// atomically on reload").
func (w *wired) watchConfig(token *lifecycle.Token) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return pkgerrors.Wrap(err, "creating config watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(w.configPath); err != nil {
		return pkgerrors.Wrapf(err, "watching config file %s", w.configPath)
	}

	for {
		select {
		case <-token.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := config.Load(w.configPath)
			if err != nil {
				logrus.Warnf("edge-proxy: config reload failed, keeping previous table: %v", err)
				continue
			}
			table, err := cfg.BuildTable()
			if err != nil {
				logrus.Warnf("edge-proxy: config reload failed, keeping previous table: %v", err)
				continue
			}
			w.reg.Swap(table)
			logrus.Infof("edge-proxy: backend registry reloaded from %s", w.configPath)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logrus.Warnf("edge-proxy: config watcher error: %v", err)
		}
	}
}

// serveCoordSocket answers hot-restart handshakes until token is cancelled.
// A successful handshake returns errRestartRequested, which Supervisor.Run
// treats like any other service error and cancels Root, draining every
// listener so the successor process can bind the freed ports.
func serveCoordSocket(token *lifecycle.Token, coord *coordsock.Server) error {
	defer coord.Close()

	go func() {
		<-token.Done()
		coord.Close()
	}()

	for {
		gen, err := coord.Accept()
		if err != nil {
			select {
			case <-token.Done():
				return nil
			default:
				return err
			}
		}
		logrus.Infof("edge-proxy: accepted hot-restart request, generation %d", gen)
		return errRestartRequested
	}
}
