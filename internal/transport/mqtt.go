package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"

	"github.com/eclipse/paho.golang/paho"
)

// MQTTOptions configures a subscription to a broker that republishes the
// telemetry envelopes.
type MQTTOptions struct {
	// Broker is a tcp://host:port or mqtt://host:port URL.
	Broker   string
	ClientID string
	// Topic defaults to "#".
	Topic string
	// KeepAlive in seconds, 30 if zero.
	KeepAlive uint16
	QoS       byte
}

// MQTTConn receives envelopes as MQTT publish payloads.
type MQTTConn struct {
	base

	client    *paho.Client
	closeOnce sync.Once
	closeErr  error
}

// DialMQTT connects to the broker and subscribes. Publishes that arrive
// before OnMessage is called wait for it.
func DialMQTT(ctx context.Context, opts MQTTOptions, log *slog.Logger) (*MQTTConn, error) {
	addr, err := brokerAddress(opts.Broker)
	if err != nil {
		return nil, &ConnectionError{message: "invalid broker address", wrapped: err}
	}
	if opts.Topic == "" {
		opts.Topic = "#"
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = 30
	}

	var d net.Dialer
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{
			message: fmt.Sprintf("error dialing broker %s", addr),
			wrapped: err,
		}
	}

	c := &MQTTConn{}
	c.base.init(log)
	c.log = c.log.With(slog.String("broker", addr), slog.String("topic", opts.Topic))

	c.client = paho.NewClient(paho.ClientConfig{
		ClientID: opts.ClientID,
		Conn:     netConn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			c.onPublish,
		},
		// Paho only reports fatal errors here.
		OnClientError: func(err error) {
			c.fail(&ConnectionError{message: "mqtt client error", wrapped: err})
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			c.fail(&ConnectionError{
				message: fmt.Sprintf("broker disconnected with reason code %d", d.ReasonCode),
			})
		},
	})

	connack, err := c.client.Connect(ctx, &paho.Connect{
		ClientID:   opts.ClientID,
		KeepAlive:  opts.KeepAlive,
		CleanStart: true,
	})
	if err != nil {
		_ = netConn.Close()
		return nil, &ConnectionError{message: "mqtt connect failed", wrapped: err}
	}
	if connack.ReasonCode >= 0x80 {
		_ = netConn.Close()
		return nil, &ConnectionError{
			message: fmt.Sprintf("mqtt connect refused with reason code %d", connack.ReasonCode),
		}
	}

	if _, err := c.client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{
			Topic: opts.Topic,
			QoS:   opts.QoS,
		}},
	}); err != nil {
		_ = c.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return nil, &ConnectionError{message: "mqtt subscribe failed", wrapped: err}
	}

	c.log.Info("upstream connected")
	return c, nil
}

// MQTTDialer adapts DialMQTT to a Dialer.
func MQTTDialer(opts MQTTOptions, log *slog.Logger) Dialer {
	return func(ctx context.Context) (Connection, error) {
		c, err := DialMQTT(ctx, opts, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func (c *MQTTConn) onPublish(pb paho.PublishReceived) (bool, error) {
	select {
	case <-c.ready:
	case <-c.done:
		return true, nil
	}
	c.dispatch(pb.Packet.Payload)
	return true, nil
}

func (c *MQTTConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.waitHandler()

		c.closeErr = c.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		c.log.Info("upstream connection closed")
		c.finish()
	})
	return c.closeErr
}

func brokerAddress(broker string) (string, error) {
	if broker == "" {
		return "", errors.New("empty broker address")
	}
	u, err := url.Parse(broker)
	if err != nil || u.Host == "" {
		// Bare host:port.
		if _, _, splitErr := net.SplitHostPort(broker); splitErr != nil {
			return "", fmt.Errorf("cannot parse %q", broker)
		}
		return broker, nil
	}
	switch u.Scheme {
	case "tcp", "mqtt":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.Host, nil
}
