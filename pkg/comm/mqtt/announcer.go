package mqtt

import (
	"context"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

// Announcer keeps a retained description of a payload on its meta topic
// while connected. The will clears it if the connection drops.
type Announcer struct {
	Queue *Queue
	Topic string
	Meta  []byte
}

// NewAnnouncer prepares options with the clearing will and creates the
// Queue. Topic is relative to the topic prefix.
func NewAnnouncer(opts *paho.ClientOptions, topicPrefix, topic string, meta []byte) *Announcer {
	opts.SetBinaryWill(topicPrefix+topic, nil, 1, true)
	a := &Announcer{Topic: topic, Meta: meta}
	a.Queue = NewQueue(opts, topicPrefix)
	a.Queue.OnConnect = func(q *Queue) { q.PubWith(a.Topic, a.Meta, 1, true) }
	return a
}

// ConnectRetryInterval is the wait between failed connection attempts.
const ConnectRetryInterval = 5 * time.Second

// Run implements Runnable. It keeps trying to connect until it succeeds
// or ctx is done.
func (a *Announcer) Run(ctx context.Context) error {
	for {
		err := WaitToken(a.Queue.Connect(), DefaultConnectTimeout)
		if err == nil {
			break
		}
		glog.Warningf("mqtt connect failed: %v", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(ConnectRetryInterval):
		}
	}
	<-ctx.Done()
	WaitToken(a.Queue.PubWith(a.Topic, nil, 1, true), time.Second)
	a.Queue.Close()
	return nil
}
