package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"

	"github.com/treemana/godoh/upstream"
	"github.com/treemana/godoh/util"
)

const (
	defaultResolverURL = "https://dns.google/dns-query"
	defaultBootstrap   = "8.8.8.8,1.1.1.1,8.8.4.4,1.0.0.1,145.100.185.15,145.100.185.16,185.49.141.37"
)

// Option represents console arguments and the optional json option file.
// A flag given on the command line wins over the file.
type Option struct {
	Log struct {
		File       string `json:"file"`
		Verbose    int    `json:"verbose" validate:"min=0"`
		JsonFormat bool   `json:"json_format"`
	} `json:"log"`

	Server struct {
		Address string `json:"address" validate:"required,ip"`
		Port    int    `json:"port" validate:"min=1,max=65535"`
		User    string `json:"user"`
		Group   string `json:"group"`
	} `json:"server"`

	Resolver struct {
		URL         string `json:"url" validate:"required,url"`
		Bootstrap   string `json:"bootstrap"`
		IPv4Only    bool   `json:"ipv4_only"`
		Proxy       string `json:"proxy" validate:"omitempty,url"`
		HTTPVersion string `json:"http_version" validate:"oneof=1.1 2 3"`
		CAFile      string `json:"ca_file" validate:"omitempty,file"`
		SourceAddr  string `json:"source_addr" validate:"omitempty,ip"`

		// Timeout seconds per fetch
		Timeout int `json:"timeout" validate:"min=1"`
	} `json:"resolver"`

	// StatsInterval seconds between stat lines, disabled if zero
	StatsInterval int `json:"stats_interval" validate:"min=0"`
}

// flagValues are bound to the command flags, merged by loadOption.
type flagValues struct {
	Option

	config string
	http11 bool
	http3  bool
}

func defaultOption() Option {
	var o Option
	o.Server.Address = "127.0.0.1"
	o.Server.Port = 5053
	o.Resolver.URL = defaultResolverURL
	o.Resolver.Bootstrap = defaultBootstrap
	o.Resolver.HTTPVersion = upstream.HTTP2
	o.Resolver.Timeout = 10
	return o
}

func bindFlags(fs *pflag.FlagSet, fv *flagValues) {
	def := defaultOption()

	fs.StringVarP(&fv.config, "config", "c", "", "json option file")
	fs.StringVarP(&fv.Server.Address, "listen-addr", "a", def.Server.Address, "local listen address")
	fs.IntVarP(&fv.Server.Port, "listen-port", "p", def.Server.Port, "local listen port")
	fs.StringVarP(&fv.Server.User, "user", "u", "", "user to drop to after binding")
	fs.StringVarP(&fv.Server.Group, "group", "g", "", "group to drop to after binding")
	fs.StringVarP(&fv.Resolver.URL, "resolver-url", "r", def.Resolver.URL, "https resolver url")
	fs.StringVarP(&fv.Resolver.Bootstrap, "bootstrap-dns", "b", def.Resolver.Bootstrap, "comma separated bootstrap nameservers")
	fs.BoolVarP(&fv.Resolver.IPv4Only, "ipv4", "4", false, "resolve the resolver hostname over A records only")
	fs.StringVarP(&fv.Resolver.Proxy, "proxy", "t", "", "outbound proxy url, http https socks5 socks5h")
	fs.BoolVarP(&fv.http11, "http11", "x", false, "use http/1.1")
	fs.BoolVarP(&fv.http3, "http3", "q", false, "use http/3")
	fs.StringVarP(&fv.Resolver.CAFile, "ca-file", "C", "", "PEM bundle replacing the system roots")
	fs.StringVarP(&fv.Resolver.SourceAddr, "source-addr", "S", "", "source address of outbound connections")
	fs.IntVarP(&fv.Resolver.Timeout, "timeout", "T", def.Resolver.Timeout, "fetch timeout in seconds")
	fs.StringVarP(&fv.Log.File, "logfile", "l", "", "log file, stderr if empty")
	fs.CountVarP(&fv.Log.Verbose, "verbose", "v", "increase logging verbosity")
	fs.IntVarP(&fv.StatsInterval, "stats-interval", "s", 0, "seconds between stat lines, 0 disables")
}

// loadOption starts from the defaults, applies the option file if any and
// then every flag set on the command line.
func loadOption(fs *pflag.FlagSet, fv *flagValues) (*Option, error) {
	opt := defaultOption()

	if len(fv.config) > 0 {
		raw, err := os.ReadFile(fv.config)
		if err != nil {
			return nil, fmt.Errorf("read option file: %w", err)
		}
		if err = json.Unmarshal(raw, &opt); err != nil {
			return nil, fmt.Errorf("parse option file %s: %w", fv.config, err)
		}
	}

	if fv.http11 && fv.http3 {
		return nil, errors.New("--http11 and --http3 are exclusive")
	}

	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "listen-addr":
			opt.Server.Address = fv.Server.Address
		case "listen-port":
			opt.Server.Port = fv.Server.Port
		case "user":
			opt.Server.User = fv.Server.User
		case "group":
			opt.Server.Group = fv.Server.Group
		case "resolver-url":
			opt.Resolver.URL = fv.Resolver.URL
		case "bootstrap-dns":
			opt.Resolver.Bootstrap = fv.Resolver.Bootstrap
		case "ipv4":
			opt.Resolver.IPv4Only = fv.Resolver.IPv4Only
		case "proxy":
			opt.Resolver.Proxy = fv.Resolver.Proxy
		case "http11":
			if fv.http11 {
				opt.Resolver.HTTPVersion = upstream.HTTP11
			}
		case "http3":
			if fv.http3 {
				opt.Resolver.HTTPVersion = upstream.HTTP3
			}
		case "ca-file":
			opt.Resolver.CAFile = fv.Resolver.CAFile
		case "source-addr":
			opt.Resolver.SourceAddr = fv.Resolver.SourceAddr
		case "timeout":
			opt.Resolver.Timeout = fv.Resolver.Timeout
		case "logfile":
			opt.Log.File = fv.Log.File
		case "verbose":
			opt.Log.Verbose = fv.Log.Verbose
		case "stats-interval":
			opt.StatsInterval = fv.StatsInterval
		}
	})

	if err := opt.validate(); err != nil {
		return nil, err
	}

	return &opt, nil
}

func (o *Option) validate() error {
	if err := validator.New().Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed on '%s'", e.Namespace(), e.Tag()))
			}
			return fmt.Errorf("invalid option: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("invalid option: %w", err)
	}

	if _, err := util.ParseNameservers(o.Resolver.Bootstrap); err != nil {
		return fmt.Errorf("invalid bootstrap-dns: %w", err)
	}

	return nil
}

func (o *Option) timeout() time.Duration {
	return time.Duration(o.Resolver.Timeout) * time.Second
}

// resolverPort is the port the resolver url connects to.
func (o *Option) resolverPort() int {
	u, err := url.Parse(o.Resolver.URL)
	if err != nil {
		return 443
	}
	if p, err := strconv.Atoi(u.Port()); err == nil {
		return p
	}
	if u.Scheme == "http" {
		return 80
	}
	return 443
}
