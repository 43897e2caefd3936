package ground

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/robotalks/payload.go/pkg/comm/mqtt"
	"github.com/robotalks/payload.go/pkg/msgs"
)

// DefaultDiscoverTimeout is how long Discover collects retained meta.
const DefaultDiscoverTimeout = 500 * time.Millisecond

// DefaultClientIDPrefix starts the MQTT client ID of ground queues.
const DefaultClientIDPrefix = "ground-"

// Connector reaches payloads through an MQTT broker.
type Connector struct {
	DiscoverTimeout time.Duration
	// ClientIDPrefix is completed with a random suffix per queue, so that
	// several ground stations share a broker. A client-id in the broker
	// URL replaces the default.
	ClientIDPrefix string

	options     *paho.ClientOptions
	topicPrefix string
}

// NewConnector creates a Connector, e.g. for mqtt://host:1883/prefix/.
func NewConnector(brokerURL string) (*Connector, error) {
	opts, topicPrefix, err := mqtt.ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	prefix := DefaultClientIDPrefix
	if opts.ClientID != "" {
		prefix = opts.ClientID + "-"
	}
	return &Connector{
		DiscoverTimeout: DefaultDiscoverTimeout,
		ClientIDPrefix:  prefix,
		options:         opts,
		topicPrefix:     topicPrefix,
	}, nil
}

// NewQueue creates an unconnected queue on the broker.
func (c *Connector) NewQueue() *mqtt.Queue {
	c.options.SetClientID(c.newClientID())
	return mqtt.NewQueue(c.options, c.topicPrefix)
}

func (c *Connector) newClientID() string {
	return c.ClientIDPrefix + uuid.New().String()[:8]
}

// Discover lists the payloads with a retained meta topic.
func (c *Connector) Discover(ctx context.Context) ([]*msgs.Meta, error) {
	q := c.NewQueue()
	if err := mqtt.WaitToken(q.Connect(), mqtt.DefaultConnectTimeout); err != nil {
		return nil, err
	}
	defer q.Close()
	return Discover(ctx, q, c.DiscoverTimeout)
}

// Connect connects a Link to payload id.
func (c *Connector) Connect(ctx context.Context, id string) (*Link, error) {
	if id == "" {
		return nil, fmt.Errorf("payload id must be specified")
	}
	q := c.NewQueue()
	if err := mqtt.WaitToken(q.Connect(), mqtt.DefaultConnectTimeout); err != nil {
		return nil, err
	}
	return NewLink(q, id), nil
}

// Discover collects meta announcements on sub for timeout. Payloads
// which went offline are left out.
func Discover(ctx context.Context, sub mqtt.Subscriber, timeout time.Duration) ([]*msgs.Meta, error) {
	if timeout <= 0 {
		timeout = DefaultDiscoverTimeout
	}
	var lock sync.Mutex
	found := make(map[string]*msgs.Meta)
	s := sub.Sub(mqtt.AllMeta(), func(topic string, payload []byte) {
		id, _, err := mqtt.ParseTopic(topic)
		if err != nil {
			return
		}
		meta, err := msgs.DecodeMeta(payload)
		if err != nil {
			glog.Warningf("discover: bad meta of %s: %v", id, err)
			return
		}
		lock.Lock()
		defer lock.Unlock()
		if meta == nil {
			delete(found, id)
			return
		}
		if meta.ID == "" {
			meta.ID = id
		}
		found[id] = meta
	})
	defer s.Close()

	select {
	case <-time.After(timeout):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	lock.Lock()
	defer lock.Unlock()
	result := make([]*msgs.Meta, 0, len(found))
	for _, meta := range found {
		result = append(result, meta)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
