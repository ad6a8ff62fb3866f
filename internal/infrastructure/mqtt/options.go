package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tvcwb/boardbridge/internal/infrastructure/config"
)

const (
	// defaultConnectTimeout applies when an endpoint has no timeout of its own.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout bounds publish and subscribe acknowledgements.
	defaultPublishTimeout = 5 * time.Second

	defaultDisconnectQuiesce = 250 // milliseconds

	defaultKeepAlive = 60 * time.Second

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12
)

// Endpoint is one broker to dial.
type Endpoint struct {
	Host           string
	Port           int
	ClientID       string
	ConnectTimeout time.Duration
}

// URL returns the broker URL, ssl:// when TLS is on.
func (e Endpoint) URL(useTLS bool) string {
	scheme := "tcp"
	if useTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, e.Host, e.Port)
}

// buildClientOptions creates paho options for a single connect attempt.
//
// Paho's own reconnect and connect-retry are off: a lost session is
// reported as an event and the caller decides when to dial again.
func buildClientOptions(cfg config.MQTTConfig, ep Endpoint) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(ep.URL(cfg.Broker.TLS))

	clientID := ep.ClientID
	if clientID == "" {
		clientID = cfg.Broker.ClientID
	}
	opts.SetClientID(clientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	// Deliver messages one at a time, in arrival order.
	opts.SetOrderMatters(true)

	timeout := ep.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	opts.SetConnectTimeout(timeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
			ServerName: ep.Host,
		})
	}

	return opts
}
