package ovtransport

import (
	"fmt"
	"net/netip"

	"github.com/opd-ai/ovtransport/config"
	"github.com/opd-ai/ovtransport/interfaces"
	"github.com/opd-ai/ovtransport/session"
	"github.com/sirupsen/logrus"
)

// Client is a configured transport session.
type Client struct {
	*session.Session
	cfg config.Config
}

// SessionOptions converts a configuration into session options.
func SessionOptions(cfg config.Config, observer interfaces.Observer) (session.Options, error) {
	opts := session.DefaultOptions()
	opts.CallerID = cfg.CallerID
	opts.Secret = []byte(cfg.Secret)
	opts.Version = cfg.Version
	opts.RelayHost = cfg.Relay.Host
	opts.RelayPort = cfg.Relay.Port
	opts.BindPort = cfg.BindPort
	opts.LocalPort = cfg.LocalPort
	opts.PortOffset = cfg.PortOffset
	opts.Mode = cfg.Mode()
	opts.SendLocal = cfg.SendLocal
	opts.Observer = observer

	if cfg.LocalAddr != "" {
		addr, err := netip.ParseAddr(cfg.LocalAddr)
		if err != nil {
			return session.Options{}, fmt.Errorf("%w: local_addr: %w", config.ErrInvalidConfig, err)
		}
		opts.LocalAddr = addr
	}

	t := cfg.Timing
	opts.PingPeriod = t.PingPeriod
	opts.EndpointTimeout = t.EndpointTimeout
	opts.StatusInterval = t.StatusInterval
	opts.NetworkTimeout = t.NetworkTimeout
	opts.LocalTimeout = t.LocalTimeout
	opts.MirrorTimeout = t.MirrorTimeout
	opts.LatencyCapacity = t.LatencyCapacity
	return opts, nil
}

// NewClient creates a session from cfg and registers its proxy clients,
// extra ports and receiver ports. The session is not started. observer may
// be nil.
func NewClient(cfg config.Config, observer interfaces.Observer) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := SessionOptions(cfg, observer)
	if err != nil {
		return nil, err
	}

	s, err := session.New(opts)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	c := &Client{Session: s, cfg: cfg}

	if err := c.configure(); err != nil {
		s.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) configure() error {
	for _, p := range c.cfg.ProxyClients {
		if err := c.AddProxyClient(p.ID, p.Host); err != nil {
			return fmt.Errorf("proxy client %d: %w", p.ID, err)
		}
	}
	for _, xd := range c.cfg.ExtraPorts {
		c.AddExtraPort(xd)
	}
	for _, r := range c.cfg.ReceiverPorts {
		if err := c.AddReceiverPort(r.Src, r.Dest); err != nil {
			return fmt.Errorf("receiver port %d: %w", r.Src, err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":       "Client.configure",
		"proxy_clients":  len(c.cfg.ProxyClients),
		"extra_ports":    len(c.cfg.ExtraPorts),
		"receiver_ports": len(c.cfg.ReceiverPorts),
	}).Debug("Client configured")
	return nil
}

// Config returns the configuration the client was built from.
func (c *Client) Config() config.Config {
	return c.cfg
}
