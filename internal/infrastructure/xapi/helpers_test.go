package xapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type wireCommand struct {
	Command   string         `json:"command"`
	Arguments map[string]any `json:"arguments"`
}

// pipeServer answers every decoded command with handle's reply, written in
// two halves so the client has to reassemble it.
func pipeServer(handle func(cmd wireCommand) string) DialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		client, server := net.Pipe()
		go servePipe(server, handle)
		return client, nil
	}
}

func servePipe(conn net.Conn, handle func(cmd wireCommand) string) {
	defer conn.Close()

	var dec FrameDecoder
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				msg, ok, derr := dec.Next()
				if derr != nil || !ok {
					break
				}
				var cmd wireCommand
				if json.Unmarshal(msg, &cmd) != nil {
					return
				}
				reply := handle(cmd)
				if reply == "" {
					return
				}
				half := len(reply) / 2
				if _, err := conn.Write([]byte(reply[:half])); err != nil {
					return
				}
				if _, err := conn.Write([]byte(reply[half:])); err != nil {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// fakeTransport scripts replies per command name.
type fakeTransport struct {
	mu         sync.Mutex
	connectErr error
	replies    map[string]string
	execErr    error
	commands   []Command
	closed     bool
	token      string

	// hold parks Execute for the named command until the channel is closed.
	hold    map[string]chan struct{}
	entered chan string
}

func newFakeTransport(replies map[string]string) *fakeTransport {
	return &fakeTransport{replies: replies}
}

func (f *fakeTransport) Connect(context.Context) error {
	return f.connectErr
}

func (f *fakeTransport) Execute(_ context.Context, cmd Command) (*Response, error) {
	f.mu.Lock()
	gate := f.hold[cmd.Command]
	f.mu.Unlock()
	if gate != nil {
		if f.entered != nil {
			f.entered <- cmd.Command
		}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrConnectionBroken
	}
	f.commands = append(f.commands, cmd)
	if f.execErr != nil {
		return nil, f.execErr
	}
	reply, ok := f.replies[cmd.Command]
	if !ok {
		return nil, errors.New("no scripted reply for " + cmd.Command)
	}
	return decodeResponse(json.RawMessage(reply))
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Authorize(token string) {
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) sent() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Command, len(f.commands))
	copy(out, f.commands)
	return out
}

const loginOK = `{"status":true,"streamSessionId":"stream-1"}`
