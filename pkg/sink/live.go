package sink

import (
	"net/http"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/payload.go/pkg/telemetry"
)

// DefaultLiveBacklog is the number of frames buffered per client.
const DefaultLiveBacklog = 16

type liveFrame struct {
	data []byte
	text bool
}

// Live broadcasts records to websocket clients. Packets are sent as binary
// frames and text rows as text frames. A slow client loses frames.
type Live struct {
	Backlog int
	// Hello is sent to every new client as the first text frame. It must
	// be set before serving.
	Hello []byte

	lock    sync.Mutex
	clients map[*websocket.Conn]chan liveFrame
}

// NewLive creates a Live feed.
func NewLive() *Live {
	return &Live{Backlog: DefaultLiveBacklog, clients: make(map[*websocket.Conn]chan liveFrame)}
}

// Name implements Sink.
func (l *Live) Name() string {
	return "live"
}

// Verify implements Sink.
func (l *Live) Verify() error {
	return nil
}

// Clients is the number of connected clients.
func (l *Live) Clients() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.clients)
}

// StoreText implements Sink.
func (l *Live) StoreText(s string) error {
	l.broadcast(liveFrame{data: []byte(s), text: true})
	return nil
}

// StorePacket implements Sink.
func (l *Live) StorePacket(record []byte) error {
	pkt, err := telemetry.Trim(record)
	if err != nil {
		return err
	}
	l.broadcast(liveFrame{data: append([]byte(nil), pkt...)})
	return nil
}

// ServeHTTP implements http.Handler.
func (l *Live) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(l.serve).ServeHTTP(w, r)
}

func (l *Live) broadcast(frame liveFrame) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for conn, ch := range l.clients {
		select {
		case ch <- frame:
		default:
			glog.V(2).Infof("[Core 1] live: %s lagging, frame dropped", conn.Request().RemoteAddr)
		}
	}
}

func (l *Live) serve(conn *websocket.Conn) {
	backlog := l.Backlog
	if backlog <= 0 {
		backlog = DefaultLiveBacklog
	}
	ch := make(chan liveFrame, backlog)
	l.lock.Lock()
	if l.clients == nil {
		l.clients = make(map[*websocket.Conn]chan liveFrame)
	}
	l.clients[conn] = ch
	l.lock.Unlock()
	glog.Infof("live: client %s connected", conn.Request().RemoteAddr)

	defer func() {
		l.lock.Lock()
		delete(l.clients, conn)
		l.lock.Unlock()
		conn.Close()
		glog.Infof("live: client %s disconnected", conn.Request().RemoteAddr)
	}()

	if len(l.Hello) > 0 {
		if err := websocket.Message.Send(conn, string(l.Hello)); err != nil {
			return
		}
	}

	closed := make(chan struct{})
	go func() {
		var discard []byte
		for websocket.Message.Receive(conn, &discard) == nil {
		}
		close(closed)
	}()

	for {
		select {
		case frame := <-ch:
			var err error
			if frame.text {
				err = websocket.Message.Send(conn, string(frame.data))
			} else {
				err = websocket.Message.Send(conn, frame.data)
			}
			if err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
