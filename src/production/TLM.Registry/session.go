package registry

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	config "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Config"
	logger "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Logger"
	tlmmodels "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Models"
)

// Session is one live broker connection. Close is safe to call more
// than once.
type Session interface {
	Close()
	IsConnected() bool
}

// MessageHandler receives every message arriving on the device's data
// topic.
type MessageHandler func(topic string, payload []byte)

// SessionFactory opens a broker session for a device. The production
// factory speaks MQTT via paho; tests substitute an in-memory one.
type SessionFactory func(device tlmmodels.Device, onMessage MessageHandler) (Session, error)

// ProbeFunc checks broker reachability before a session is attempted.
type ProbeFunc func(host string, port int, timeout time.Duration) error

type brokerSession struct {
	client    mqtt.Client
	logger    *logger.Logger
	closeOnce sync.Once
}

// NewPahoSessionFactory returns the production MQTT session factory.
// Sessions never reconnect on their own: after a broker drop the
// device stays offline until a user connects it again.
func NewPahoSessionFactory(cfg config.TelemetryConfig, log *logger.Logger) SessionFactory {
	return func(device tlmmodels.Device, onMessage MessageHandler) (Session, error) {
		slog := log.WithComponent("session").WithDevice(device.ID, device.Name)

		clientID := device.ClientID
		if clientID == "" {
			clientID = fmt.Sprintf("%s-%d-%s", cfg.ClientIDPrefix, device.ID, uuid.NewString()[:8])
		}

		keepAlive := cfg.KeepAlive
		if device.KeepAlive > 0 {
			keepAlive = time.Duration(device.KeepAlive) * time.Second
		}

		scheme := "tcp"
		if device.EnableTLS {
			scheme = "tcps"
		}
		broker := fmt.Sprintf("%s://%s:%d", scheme, device.Host, device.Port)
		topic := fmt.Sprintf("%s/%s/data", cfg.TopicPrefix, device.Name)

		opts := mqtt.NewClientOptions().
			AddBroker(broker).
			SetClientID(clientID).
			SetKeepAlive(keepAlive).
			SetConnectTimeout(cfg.ConnectTimeout).
			SetCleanSession(true).
			SetAutoReconnect(false).
			SetConnectRetry(false)

		if device.Username != "" {
			opts.SetUsername(device.Username)
			opts.SetPassword(device.Password)
		}

		opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.ErrorWithError(err, "Broker connection lost")
		})
		opts.SetOnConnectHandler(func(c mqtt.Client) {
			slog.WithField("topic", topic).Info("Connected to broker, subscribing")
			token := c.Subscribe(topic, 1, func(_ mqtt.Client, m mqtt.Message) {
				onMessage(m.Topic(), m.Payload())
			})
			if token.Wait() && token.Error() != nil {
				slog.ErrorWithError(token.Error(), "Failed to subscribe to data topic")
			}
		})

		client := mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			return nil, fmt.Errorf("broker handshake failed: %w", token.Error())
		}

		return &brokerSession{client: client, logger: slog}, nil
	}
}

func (s *brokerSession) Close() {
	s.closeOnce.Do(func() {
		if s.client.IsConnected() {
			s.client.Disconnect(250)
		}
		s.logger.Info("Broker session closed")
	})
}

func (s *brokerSession) IsConnected() bool {
	return s.client.IsConnected()
}

// ProbeBroker dials the broker's TCP port so obviously dead hosts fail
// fast instead of holding the session slot through a long handshake
// timeout.
func ProbeBroker(host string, port int, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}
