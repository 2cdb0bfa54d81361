package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"road-telemetry-hub/config"
	"road-telemetry-hub/metrics"
	"road-telemetry-hub/pairing"
)

// TransientConnectionError reports a lost or refused broker connection.
// The adapter reconnects after it.
type TransientConnectionError struct {
	Addr string
	Err  error
}

func (e *TransientConnectionError) Error() string {
	return fmt.Sprintf("mqtt connection to %s: %v", e.Addr, e.Err)
}

func (e *TransientConnectionError) Unwrap() error {
	return e.Err
}

// MQTT subscribes to the agent and traffic topics and pairs what arrives.
// Every broker connection gets a fresh Session.
type MQTT struct {
	cfg     config.MQTT
	backoff time.Duration
	sink    Sink

	// OnSubscribed, if set, runs after every successful subscription.
	OnSubscribed func()

	dial func(ctx context.Context) (net.Conn, error)
}

func NewMQTT(cfg config.MQTT, backoff time.Duration, sink Sink) *MQTT {
	if cfg.ClientID == "" {
		cfg.ClientID = "road-hub-" + uuid.NewString()
	}
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	m := &MQTT{cfg: cfg, backoff: backoff, sink: sink}
	m.dial = func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", m.addr())
	}
	return m
}

func (m *MQTT) addr() string {
	return net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
}

// Run keeps a broker connection up until ctx is done, retrying with a fixed
// backoff after every failure.
func (m *MQTT) Run(ctx context.Context) error {
	for {
		err := m.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		slog.Error("mqtt connection lost", "addr", m.addr(), "err", err, "retry_in", m.backoff)
		metrics.ReconnectsTotal.Inc()

		select {
		case <-time.After(m.backoff):
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *MQTT) kindFor(topic string) pairing.Kind {
	switch topic {
	case m.cfg.AgentTopic:
		return pairing.KindTelemetry
	case m.cfg.TrafficTopic:
		return pairing.KindTraffic
	}
	return pairing.KindUnknown
}

func (m *MQTT) runOnce(ctx context.Context) error {
	conn, err := m.dial(ctx)
	if err != nil {
		return &TransientConnectionError{Addr: m.addr(), Err: err}
	}

	session := NewSession("mqtt", m.sink)
	defer session.Close()

	lost := make(chan error, 1)
	signal := func(err error) {
		select {
		case lost <- err:
		default:
		}
	}

	client := paho.NewClient(paho.ClientConfig{
		Conn:          conn,
		ClientID:      m.cfg.ClientID,
		OnClientError: signal,
		OnServerDisconnect: func(d *paho.Disconnect) {
			signal(fmt.Errorf("server disconnected with reason code %d", d.ReasonCode))
		},
	})
	client.AddOnPublishReceived(func(pr paho.PublishReceived) (bool, error) {
		_ = session.Handle(m.kindFor(pr.Packet.Topic), pr.Packet.Payload)
		return true, nil
	})

	keepAlive := uint16(m.cfg.KeepAlive / time.Second)
	if keepAlive == 0 {
		keepAlive = 60
	}
	ca, err := client.Connect(ctx, &paho.Connect{
		ClientID:   m.cfg.ClientID,
		KeepAlive:  keepAlive,
		CleanStart: true,
	})
	if err != nil {
		conn.Close()
		return &TransientConnectionError{Addr: m.addr(), Err: err}
	}
	if ca.ReasonCode != 0 {
		conn.Close()
		return &TransientConnectionError{
			Addr: m.addr(),
			Err:  fmt.Errorf("connack reason code %d", ca.ReasonCode),
		}
	}
	slog.Info("connected to mqtt broker", "addr", m.addr(), "client_id", m.cfg.ClientID, "conn", session.ID())

	if _, err := client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: m.cfg.AgentTopic, QoS: 1},
			{Topic: m.cfg.TrafficTopic, QoS: 1},
		},
	}); err != nil {
		_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return &TransientConnectionError{Addr: m.addr(), Err: fmt.Errorf("subscribe: %w", err)}
	}
	if m.OnSubscribed != nil {
		m.OnSubscribed()
	}

	select {
	case err := <-lost:
		conn.Close()
		return &TransientConnectionError{Addr: m.addr(), Err: err}
	case <-ctx.Done():
		if err := client.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
			slog.Warn("mqtt disconnect failed", "err", err)
		}
		return nil
	}
}
