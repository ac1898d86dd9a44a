// ABOUTME: Tailscale tsnet listeners for serving the chat stream on a tailnet
// ABOUTME: The stream is served plain on :80, with tailnet certs on :443, or through a public funnel

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/converse-gateway/internal/config"
)

// tailnetGRPCPort is where the gRPC health service listens on the tailnet.
const tailnetGRPCPort = ":50051"

// streamExposure says how the HTTP side of the gateway is reachable on the tailnet.
type streamExposure int

const (
	exposePlain  streamExposure = iota // tailnet only, :80
	exposeTLS                          // tailnet only, :443 with tailnet certs
	exposeFunnel                       // public internet through funnel, :443
)

func (e streamExposure) port() string {
	if e == exposePlain {
		return ":80"
	}
	return ":443"
}

func (e streamExposure) scheme() string {
	if e == exposePlain {
		return "ws"
	}
	return "wss"
}

// exposureFor picks the exposure; funnel implies TLS.
func exposureFor(cfg config.TailscaleConfig) streamExposure {
	switch {
	case cfg.Funnel:
		return exposeFunnel
	case cfg.HTTPS:
		return exposeTLS
	default:
		return exposePlain
	}
}

// tailnetStateDir returns the node state directory, defaulting under the user's data dir.
func tailnetStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating tailscale state (set tailscale.state_dir): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "converse-gateway", "tailscale"), nil
}

// tailnetAuthKey prefers the configured key over TS_AUTHKEY.
func tailnetAuthKey(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if key := os.Getenv("TS_AUTHKEY"); key != "" {
		return key, nil
	}
	return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
}

// warnIgnoredAddresses notes that TCP addresses do not apply on the tailnet.
func (g *Gateway) warnIgnoredAddresses() {
	if g.config.Server.GRPCAddr == "" && g.config.Server.HTTPAddr == "" {
		return
	}
	g.logger.Warn("server addresses are ignored when tailscale is enabled",
		"http_addr", g.config.Server.HTTPAddr,
		"grpc_addr", g.config.Server.GRPCAddr,
	)
}

// setupTailscaleListeners joins the tailnet and returns the gRPC health and
// stream listeners. On failure the node is shut down again.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	ts := g.config.Tailscale

	dir, err := tailnetStateDir(ts.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	key, err := tailnetAuthKey(ts.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	node := &tsnet.Server{Hostname: ts.Hostname, Dir: dir, Ephemeral: ts.Ephemeral, AuthKey: key}
	g.tsnetServer = node
	defer func() {
		if err != nil {
			// Closing the node releases its listeners
			_ = node.Close()
			g.tsnetServer = nil
		}
	}()

	g.logger.Info("joining tailnet", "hostname", ts.Hostname, "state_dir", dir, "ephemeral", ts.Ephemeral)
	status, err := node.Up(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}

	grpcLn, err = node.Listen("tcp", tailnetGRPCPort)
	if err != nil {
		return nil, nil, fmt.Errorf("listening for gRPC health on tailnet: %w", err)
	}

	exposure := exposureFor(ts)
	httpLn, err = g.listenStream(node, exposure)
	if err != nil {
		return nil, nil, err
	}

	g.logTailnetReady(status, exposure)
	return grpcLn, httpLn, nil
}

// listenStream opens the listener the chat stream is served on.
func (g *Gateway) listenStream(node *tsnet.Server, exposure streamExposure) (net.Listener, error) {
	port := exposure.port()
	switch exposure {
	case exposeFunnel:
		ln, err := node.ListenFunnel("tcp", port)
		if err != nil {
			return nil, fmt.Errorf("opening tailscale funnel: %w", err)
		}
		return ln, nil

	case exposeTLS:
		ln, err := node.Listen("tcp", port)
		if err != nil {
			return nil, fmt.Errorf("listening for stream on tailnet %s: %w", port, err)
		}
		lc, err := node.LocalClient()
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("getting tailscale local client: %w", err)
		}
		return tls.NewListener(ln, &tls.Config{
			GetCertificate: lc.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}), nil

	default:
		ln, err := node.Listen("tcp", port)
		if err != nil {
			return nil, fmt.Errorf("listening for stream on tailnet %s: %w", port, err)
		}
		return ln, nil
	}
}

// logTailnetReady logs where clients can reach the stream.
func (g *Gateway) logTailnetReady(status *ipnstate.Status, exposure streamExposure) {
	var ip, dnsName string
	if len(status.TailscaleIPs) > 0 {
		ip = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no addresses assigned")
	}
	if status.Self != nil {
		dnsName = strings.TrimSuffix(status.Self.DNSName, ".")
	}

	host := dnsName
	if host == "" {
		host = ip
	}
	g.logger.Info("tailnet ready",
		"tailscale_ip", ip,
		"dns_name", dnsName,
		"funnel", exposure == exposeFunnel,
		"stream_url", fmt.Sprintf("%s://%s%s", exposure.scheme(), host, g.config.Server.StreamPath),
	)
}
