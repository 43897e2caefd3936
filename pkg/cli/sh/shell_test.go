package sh

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/payload.go/pkg/msgs"
)

type fakeTarget struct {
	cmdType    string
	fileNumber int
	reply      *msgs.CommandReply
	err        error
	deadline   bool
}

func (f *fakeTarget) Command(ctx context.Context, cmdType string, fileNumber int) (*msgs.CommandReply, error) {
	f.cmdType, f.fileNumber = cmdType, fileNumber
	_, f.deadline = ctx.Deadline()
	return f.reply, f.err
}

func TestShellCommand(t *testing.T) {
	target := &fakeTarget{reply: &msgs.CommandReply{Ok: true, Output: []byte("[Flash] START_DATA\n")}}
	s := &Shell{
		Config: &Config{Timeout: time.Second},
		Conn:   &Conn{Ctx: context.Background(), ID: "p1", Target: target},
	}
	reply, err := s.Command("download", 2)
	require.NoError(t, err)
	require.Equal(t, "download", target.cmdType)
	require.Equal(t, 2, target.fileNumber)
	require.True(t, target.deadline)

	var out bytes.Buffer
	require.NoError(t, s.WriteReply(&out, reply))
	require.Equal(t, "[Flash] START_DATA\n", out.String())

	out.Reset()
	require.NoError(t, s.WriteReply(&out, &msgs.CommandReply{Ok: true}))
	require.Equal(t, "OK\n", out.String())

	s.OutputJSON = true
	out.Reset()
	require.NoError(t, s.WriteReply(&out, &msgs.CommandReply{Ok: true}))
	require.Contains(t, out.String(), `"ok":true`)

	target.err = errors.New("no such file")
	_, err = s.Command("delete", 9)
	require.EqualError(t, err, "no such file")

	s.Conn = nil
	_, err = s.Command("status", 0)
	require.Error(t, err)
}

func TestFormatMeta(t *testing.T) {
	meta := &msgs.Meta{ID: "p1", Channels: []string{"a", "b"}, Sinks: []string{"flash"}, TextMode: true}
	require.Equal(t, "p1: 2 channels, sinks [flash], text mode", FormatMeta(meta))
}

func TestNoConnector(t *testing.T) {
	s := &Shell{Config: NewConfig()}
	_, err := s.Discover()
	require.Error(t, err)
	require.Error(t, s.Connect("p1"))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvID, "p9")
	t.Setenv(EnvTimeout, "2m")
	t.Setenv(EnvBrokerURL, "")
	c := fromEnv(Config{BrokerURL: "mqtt://localhost:1883/", Timeout: time.Second})
	require.Equal(t, Config{ID: "p9", BrokerURL: "mqtt://localhost:1883/", Timeout: 2 * time.Minute}, c)

	t.Setenv(EnvTimeout, "soon")
	require.Equal(t, time.Second, fromEnv(Config{Timeout: time.Second}).Timeout)
}
