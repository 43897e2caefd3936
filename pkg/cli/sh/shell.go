// Package sh is the interactive command console of a payload. It runs
// against a remote payload over MQTT or against the mailbox of the local
// one.
package sh

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/payload.go/pkg/ground"
	"github.com/robotalks/payload.go/pkg/msgs"
)

// Target executes administrative commands on a payload.
type Target interface {
	Command(ctx context.Context, cmdType string, fileNumber int) (*msgs.CommandReply, error)
}

// Connector finds and connects remote payloads.
type Connector interface {
	Discover(ctx context.Context) ([]*msgs.Meta, error)
	Connect(ctx context.Context, id string) (*ground.Link, error)
}

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool

	Shell     *ishell.Shell
	Config    *Config
	Connector Connector
	Conn      *Conn
}

// Conn is the current command target.
type Conn struct {
	Ctx    context.Context
	Cancel func()
	ID     string
	Target Target
}

// Close releases the connection.
func (c *Conn) Close() {
	if c.Cancel != nil {
		c.Cancel()
	}
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&DiscoverCmd,
		&ConnectCmd,
		&DisconnectCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a shell for remote payloads.
func New(conf *Config, connector Connector) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:     ishell.New(),
		Config:    conf,
		Connector: connector,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// NewLocal creates a shell bound to one target, e.g. the mailbox of the
// running payload.
func NewLocal(conf *Config, id string, target Target) *Shell {
	s := New(conf, nil)
	s.Interactive = true
	s.Conn = &Conn{Ctx: context.Background(), ID: id, Target: target}
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", id))
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Conn == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// FormatMeta prints a payload description for display.
func FormatMeta(meta *msgs.Meta) string {
	var w bytes.Buffer
	fmt.Fprintf(&w, "%s: %d channels", meta.ID, len(meta.Channels))
	if len(meta.Sinks) > 0 {
		fmt.Fprintf(&w, ", sinks %v", meta.Sinks)
	}
	if meta.TextMode {
		w.WriteString(", text mode")
	}
	return w.String()
}

// Command runs a command on the current target and waits for the reply.
func (s *Shell) Command(cmdType string, fileNumber int) (*msgs.CommandReply, error) {
	if s.Conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	ctx, cancel := context.WithTimeout(s.Conn.Ctx, timeoutOrDefault(s.Config))
	defer cancel()
	return s.Conn.Target.Command(ctx, cmdType, fileNumber)
}

// WriteReply prints a reply, the raw output or the whole reply in JSON.
func (s *Shell) WriteReply(w io.Writer, reply *msgs.CommandReply) error {
	if s.OutputJSON {
		out, err := json.Marshal(reply)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	}
	if len(reply.Output) == 0 {
		_, err := fmt.Fprintln(w, "OK")
		return err
	}
	_, err := w.Write(reply.Output)
	return err
}

// DoCommand runs a command and prints the reply.
func DoCommand(c *ishell.Context, cmdType string, fileNumber int) error {
	s := ShellFrom(c)
	reply, err := s.Command(cmdType, fileNumber)
	if err != nil {
		c.Err(err)
		return err
	}
	var out bytes.Buffer
	if err := s.WriteReply(&out, reply); err != nil {
		c.Err(err)
		return err
	}
	c.Print(out.String())
	return nil
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// Discover lists remote payloads.
func (s *Shell) Discover() ([]*msgs.Meta, error) {
	if s.Connector == nil {
		return nil, fmt.Errorf("discovery not available")
	}
	return s.Connector.Discover(context.TODO())
}

// SelectPayload discovers payloads and asks for a choice.
func (s *Shell) SelectPayload() (*msgs.Meta, error) {
	found, err := s.Discover()
	if err != nil || len(found) == 0 {
		return nil, err
	}
	var index int
	if len(found) > 1 {
		if !s.Interactive {
			return nil, fmt.Errorf("more than 1 payloads discovered in non-interactive mode")
		}
		items := make([]string, len(found))
		for n, meta := range found {
			items[n] = FormatMeta(meta)
		}
		index = s.Shell.MultiChoice(items, "Which one to connect?")
	}
	return found[index], nil
}

// Connect connects a remote payload.
func (s *Shell) Connect(id string) error {
	if s.Connector == nil {
		return fmt.Errorf("connect not available")
	}
	conn := &Conn{ID: id}
	conn.Ctx, conn.Cancel = context.WithCancel(context.Background())
	link, err := s.Connector.Connect(conn.Ctx, id)
	if err != nil {
		conn.Cancel()
		return err
	}
	link.Expiration = timeoutOrDefault(s.Config)
	conn.Target = link
	go func() {
		link.Run(conn.Ctx)
		if closer, ok := link.Queue.(io.Closer); ok {
			closer.Close()
		}
	}()
	if s.Conn != nil {
		s.Conn.Close()
	}
	s.Conn = conn
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", id))
	return nil
}

// Disconnect disconnects the current payload.
func (s *Shell) Disconnect() {
	if s.Conn != nil {
		s.Conn.Close()
		s.Conn = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect && s.Conn == nil && s.Config.ID != "" {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.ID)
		}
		if err := s.Connect(s.Config.ID); err != nil {
			log.Fatalf("connect %q failed: %v", s.Config.ID, err)
		}
	}

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// DiscoverCmd discovers payloads.
	DiscoverCmd = ishell.Cmd{
		Name:    "discover",
		Aliases: []string{"list", "l"},
		Help:    "list payloads",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			found, err := s.Discover()
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				if found == nil {
					found = []*msgs.Meta{}
				}
				out, err := json.Marshal(found)
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(string(out))
				return
			}
			if len(found) == 0 {
				c.Println("No payloads found")
				return
			}
			for _, meta := range found {
				c.Println(FormatMeta(meta))
			}
		},
	}

	// ConnectCmd connects a payload.
	ConnectCmd = ishell.Cmd{
		Name:    "use",
		Aliases: []string{"connect", "c"},
		Help:    "[ID]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			var id string
			if len(c.Args) >= 1 {
				id = c.Args[0]
			} else {
				meta, err := s.SelectPayload()
				if err != nil {
					c.Err(err)
					return
				}
				if meta == nil {
					c.Err(fmt.Errorf("no payload discovered"))
					return
				}
				id = meta.ID
			}
			if err := s.Connect(id); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects the current payload.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	conf := NewConfig()
	connector, err := ground.NewConnector(conf.BrokerURL)
	if err != nil {
		log.Fatalln(err)
	}
	New(conf, connector).WithAutoConnect(true).Run(flag.Args()...)
}

// timeoutOrDefault is the reply timeout of conf.
func timeoutOrDefault(conf *Config) time.Duration {
	if conf == nil || conf.Timeout <= 0 {
		return ground.DefaultCommandExpiration
	}
	return conf.Timeout
}
