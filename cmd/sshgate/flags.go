package main

import (
	"github.com/sameehj/sshgate/pkg/config"
	"github.com/spf13/pflag"
)

// remoteFlags holds the command-line overrides shared by every command that
// talks to the remote host. The password is never accepted as a flag.
type remoteFlags struct {
	host      string
	port      int
	username  string
	mode      string
	timeout   string
	logLevel  string
	logFormat string
	fs        *pflag.FlagSet
}

func newRemoteFlags() *remoteFlags {
	f := &remoteFlags{}
	fs := pflag.NewFlagSet("remote", pflag.ContinueOnError)
	fs.StringVar(&f.host, "host", "", "remote host (overrides remote.host)")
	fs.IntVar(&f.port, "port", config.DefaultPort, "remote SSH port (overrides remote.port)")
	fs.StringVar(&f.username, "username", "", "remote user (overrides remote.username)")
	fs.StringVar(&f.mode, "transport", "", "transport mode: sshpass or native")
	fs.StringVar(&f.timeout, "timeout", "", "per-command timeout, e.g. 30s")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", "", "log format: json or text")
	f.fs = fs
	return f
}

func (f *remoteFlags) FlagSet() *pflag.FlagSet {
	return f.fs
}

// apply copies every flag the user set explicitly onto cfg.
func (f *remoteFlags) apply(cfg *config.Config) {
	if f.fs.Changed("host") {
		cfg.Remote.Host = f.host
	}
	if f.fs.Changed("port") {
		cfg.Remote.Port = f.port
	}
	if f.fs.Changed("username") {
		cfg.Remote.Username = f.username
	}
	if f.fs.Changed("transport") {
		cfg.Transport.Mode = f.mode
	}
	if f.fs.Changed("timeout") {
		cfg.Transport.Timeout = f.timeout
	}
	if f.fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if f.fs.Changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
}
