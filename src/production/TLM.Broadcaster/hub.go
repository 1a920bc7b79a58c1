// Package broadcaster fans dashboard events out to connected websocket
// subscribers. Delivery is best-effort and at-most-once: a slow
// subscriber drops events rather than stalling the publisher, and a
// newly-connected client pulls current state via the query endpoints
// instead of replaying history.
package broadcaster

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	logger "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Logger"
	tlmmodels "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 32
)

type envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub owns the subscriber set. All membership changes and fan-out go
// through the Run loop, so no lock is needed around the set.
type Hub struct {
	logger *logger.Logger

	register    chan *subscriber
	unregister  chan *subscriber
	broadcast   chan []byte
	quit        chan struct{}
	done        chan struct{}
	subscribers int64
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		logger:     log.WithComponent("broadcaster"),
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		broadcast:  make(chan []byte, 64),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until Close is called.
func (h *Hub) Run() {
	defer close(h.done)
	subscribers := make(map[*subscriber]struct{})

	for {
		select {
		case sub := <-h.register:
			subscribers[sub] = struct{}{}
			atomic.StoreInt64(&h.subscribers, int64(len(subscribers)))
			h.logger.Debug("subscriber attached")

		case sub := <-h.unregister:
			if _, ok := subscribers[sub]; ok {
				delete(subscribers, sub)
				close(sub.send)
			}
			atomic.StoreInt64(&h.subscribers, int64(len(subscribers)))

		case message := <-h.broadcast:
			for sub := range subscribers {
				select {
				case sub.send <- message:
				default:
					// subscriber is not keeping up; drop the event
				}
			}

		case <-h.quit:
			for sub := range subscribers {
				close(sub.send)
			}
			atomic.StoreInt64(&h.subscribers, 0)
			return
		}
	}
}

// Close stops the Run loop and detaches every subscriber.
func (h *Hub) Close() {
	close(h.quit)
	<-h.done
}

// SubscriberCount reports the current number of attached subscribers.
func (h *Hub) SubscriberCount() int {
	return int(atomic.LoadInt64(&h.subscribers))
}

// Attach registers an upgraded websocket connection and starts its
// read/write pumps. The hub owns the connection from here on.
func (h *Hub) Attach(conn *websocket.Conn) {
	sub := &subscriber{conn: conn, send: make(chan []byte, sendBufferSize)}

	select {
	case h.register <- sub:
	case <-h.quit:
		conn.Close()
		return
	}

	go h.writePump(sub)
	go h.readPump(sub)
}

// PublishReading emits a reading_update event.
func (h *Hub) PublishReading(update tlmmodels.ReadingUpdate) {
	h.publish(tlmmodels.EventReadingUpdate, update)
}

// PublishDeviceStatus emits a device_status event.
func (h *Hub) PublishDeviceStatus(status tlmmodels.DeviceStatus) {
	h.publish(tlmmodels.EventDeviceStatus, status)
}

// PublishSummary emits a connectivity_summary event.
func (h *Hub) PublishSummary(summary tlmmodels.ConnectivitySummary) {
	h.publish(tlmmodels.EventConnectivitySummary, summary)
}

func (h *Hub) publish(event string, data interface{}) {
	message, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		h.logger.ErrorWithError(err, "Failed to marshal event")
		return
	}
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("Broadcast queue full, dropping event " + event)
	}
}

func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case message, ok := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the stream is one-way. Its only
// job is noticing the peer went away.
func (h *Hub) readPump(sub *subscriber) {
	defer func() {
		select {
		case h.unregister <- sub:
		case <-h.quit:
		}
		sub.conn.Close()
	}()

	sub.conn.SetReadLimit(512)
	sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}
