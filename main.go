package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/treemana/godoh/log"
	"github.com/treemana/godoh/override"
	"github.com/treemana/godoh/proxy"
	"github.com/treemana/godoh/resolver"
	"github.com/treemana/godoh/stat"
	godohtls "github.com/treemana/godoh/tls"
	"github.com/treemana/godoh/udp"
	"github.com/treemana/godoh/upstream"
	"github.com/treemana/godoh/util"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var fv flagValues

	cmd := &cobra.Command{
		Use:   "godoh",
		Short: "DNS to DNS-over-HTTPS proxy",
		Long: `DNS to DNS-over-HTTPS proxy.

It listens for plain DNS queries over UDP and forwards
each of them unchanged to an https resolver, answering
the client with the resolver's reply.

The resolver hostname is looked up periodically through
the bootstrap nameservers, so the system resolver may
point at this proxy.
`,
		Example:      `  godoh -a 127.0.0.1 -p 53 -r https://dns.google/dns-query -u nobody -g nogroup`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opt, err := loadOption(cmd.Flags(), &fv)
			if err != nil {
				return err
			}
			return run(opt)
		},
	}

	bindFlags(cmd.Flags(), &fv)

	return cmd
}

func run(opt *Option) error {
	if err := initLog(opt); err != nil {
		return err
	}
	defer log.Close()

	// godoh is running until os exit
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	signal.Ignore(syscall.SIGPIPE)

	_, stop, err := startAll(opt)
	if err != nil {
		log.Sugar.Error(err)
		return err
	}

	s := <-sc
	log.Sugar.Infof("signal %d %s", s, s)

	stop()
	return nil
}

// startAll brings every component up and returns the listening server and
// the function stopping them in order.
func startAll(opt *Option) (*udp.Server, func(), error) {
	ip, err := util.ParseIP(opt.Server.Address)
	if err != nil {
		return nil, nil, err
	}

	var server *udp.Server
	if server, err = udp.New(ip, opt.Server.Port); err != nil {
		return nil, nil, err
	}

	if err = util.DropPrivileges(opt.Server.User, opt.Server.Group); err != nil {
		server.Close()
		return nil, nil, fmt.Errorf("drop privileges: %w", err)
	}

	store := override.New()

	var up *upstream.Client
	hostname, polling := util.PollingHostname(opt.Resolver.URL, opt.Resolver.Proxy)
	if up, err = newUpstream(opt, store, polling); err != nil {
		server.Close()
		return nil, nil, err
	}

	var poller *resolver.Poller
	if polling {
		nameservers, _ := util.ParseNameservers(opt.Resolver.Bootstrap)
		poller, err = resolver.NewPoller(resolver.Options{
			Nameservers: nameservers,
			Hostname:    hostname,
			Port:        opt.resolverPort(),
			IPv4Only:    opt.Resolver.IPv4Only,
		}, func(e *override.Entry) {
			store.Store(e)
			log.Sugar.Infof("resolver %s pinned to %s (ipv%d), ttl %s, version %d", e.Key(), e.Addr, e.Family(), e.TTL, store.Version())
		})
		if err != nil {
			up.Close()
			server.Close()
			return nil, nil, err
		}
	} else {
		log.Sugar.Infof("resolver hostname left to %s", resolverOf(opt))
	}

	st := stat.New()
	st.Start(time.Duration(opt.StatsInterval) * time.Second)

	req, resp := server.GetChan()
	var px *proxy.Proxy
	if px, err = proxy.New(proxy.Options{Polling: polling, Timeout: opt.timeout()}, up, store, req, resp, st); err != nil {
		st.Stop()
		up.Close()
		server.Close()
		return nil, nil, err
	}

	if poller != nil {
		poller.Start()
	}
	px.Start()     // start proxy
	server.Start() // start server

	log.Sugar.Warnf("godoh listening on %s, resolver %s", server.LocalAddr(), opt.Resolver.URL)

	return server, func() {
		if poller != nil {
			poller.Stop()
		}
		server.StopRead()
		px.Stop()
		store.Reset()
		server.StopWrite()
		up.Close()
		st.Stop()
	}, nil
}

func newUpstream(opt *Option, store *override.Store, polling bool) (*upstream.Client, error) {
	uo := upstream.Options{
		URL:         opt.Resolver.URL,
		Timeout:     opt.timeout(),
		Proxy:       opt.Resolver.Proxy,
		HTTPVersion: opt.Resolver.HTTPVersion,
		PinnedOnly:  polling,
		TLS:         godohtls.Options{CAFile: opt.Resolver.CAFile},
	}

	if len(opt.Resolver.SourceAddr) > 0 {
		ip, err := util.ParseIP(opt.Resolver.SourceAddr)
		if err != nil {
			return nil, err
		}
		uo.SourceAddr = ip
	}

	return upstream.New(uo, store)
}

func resolverOf(opt *Option) string {
	if len(opt.Resolver.Proxy) > 0 {
		return "proxy " + opt.Resolver.Proxy
	}
	return "system resolver"
}

func initLog(opt *Option) error {
	lc := log.Config{
		File:       opt.Log.File,
		STDERR:     len(opt.Log.File) == 0,
		Level:      log.LevelFromVerbosity(opt.Log.Verbose),
		JsonFormat: opt.Log.JsonFormat,
		MaxAge:     2,
		MaxSize:    10,
		MaxBackups: 100,
	}

	if err := log.Init(lc); err != nil {
		fmt.Fprintln(os.Stderr, "log init error", err)
		return err
	}

	return nil
}
