package gpib

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridgeerrors "gpib-load-bridge/pkg/errors"
)

// fakeController plays the controller side of a net.Pipe. Every line received
// is recorded; "++read eoi" answers with the response scripted for the
// previous instrument command.
type fakeController struct {
	conn      net.Conn
	responses map[string]string

	mu    sync.Mutex
	lines []string
	done  chan struct{}
}

func newFakeController(t *testing.T, responses map[string]string) (*fakeController, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	fc := &fakeController{conn: server, responses: responses, done: make(chan struct{})}
	go fc.serve()
	t.Cleanup(func() {
		client.Close()
		server.Close()
		<-fc.done
	})
	return fc, client
}

func (fc *fakeController) serve() {
	defer close(fc.done)
	reader := bufio.NewReader(fc.conn)
	last := ""
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSuffix(line, "\n")

		fc.mu.Lock()
		fc.lines = append(fc.lines, line)
		fc.mu.Unlock()

		if line != cmdRead {
			last = line
			continue
		}
		if resp, ok := fc.responses[last]; ok {
			if _, err := fc.conn.Write([]byte(resp + "\r\n")); err != nil {
				return
			}
		}
	}
}

func (fc *fakeController) received() []string {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]string(nil), fc.lines...)
}

func TestPrologixInit(t *testing.T) {
	fc, conn := newFakeController(t, nil)
	p := NewPrologix(conn, PrologixOptions{Link: "pipe"})

	require.NoError(t, p.Init(context.Background()))
	assert.Equal(t, NoAddress, p.Address())

	assert.Eventually(t, func() bool {
		return len(fc.received()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"++mode 1", "++auto 0"}, fc.received())
}

func TestPrologixAddressAndQuery(t *testing.T) {
	fc, conn := newFakeController(t, map[string]string{
		"MEAS:VOLT?": "1.20000E+01",
		"*IDN?":      "HEWLETT-PACKARD,6060B,0,A.00.00",
	})
	p := NewPrologix(conn, PrologixOptions{Link: "pipe", ReadTimeout: time.Second})
	ctx := context.Background()

	require.NoError(t, p.SetAddress(ctx, 5))
	assert.Equal(t, 5, p.Address())

	resp, err := p.Query(ctx, "MEAS:VOLT?")
	require.NoError(t, err)
	assert.Equal(t, "1.20000E+01", resp)

	idn, err := p.Identification(ctx)
	require.NoError(t, err)
	assert.Equal(t, "HEWLETT-PACKARD,6060B,0,A.00.00", idn)

	require.NoError(t, p.Local(ctx))

	assert.Eventually(t, func() bool {
		return len(fc.received()) == 6
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{
		"++addr 5",
		"MEAS:VOLT?", "++read eoi",
		"*IDN?", "++read eoi",
		"++loc",
	}, fc.received())
}

func TestPrologixSetAddressRange(t *testing.T) {
	p := NewPrologix(&bufferLink{}, PrologixOptions{})

	for _, addr := range []int{-1, 31} {
		err := p.SetAddress(context.Background(), addr)
		assert.ErrorIs(t, err, bridgeerrors.ErrValidation, "address %d", addr)
	}
	assert.Equal(t, NoAddress, p.Address())
}

func TestPrologixReadTimeout(t *testing.T) {
	_, conn := newFakeController(t, nil)
	p := NewPrologix(conn, PrologixOptions{Link: "pipe", ReadTimeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := p.Query(context.Background(), "MEAS:VOLT?")
	require.Error(t, err)

	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	var busErr *bridgeerrors.BusError
	require.ErrorAs(t, err, &busErr)
	assert.Equal(t, "pipe", busErr.Link)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPrologixCancelledContext(t *testing.T) {
	_, conn := newFakeController(t, nil)
	p := NewPrologix(conn, PrologixOptions{Link: "pipe"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Write(ctx, "*CLS")
	assert.ErrorIs(t, err, context.Canceled)
}

// bufferLink is a write-only link for checking framing
type bufferLink struct {
	strings.Builder
}

func (b *bufferLink) Read(p []byte) (int, error) {
	return 0, errors.New("not readable")
}

func TestPrologixEscaping(t *testing.T) {
	link := &bufferLink{}
	p := NewPrologix(link, PrologixOptions{})
	ctx := context.Background()

	require.NoError(t, p.Write(ctx, "++eor 2"))
	require.NoError(t, p.Write(ctx, "DISP:TEXT 'a+b'"))
	require.NoError(t, p.Write(ctx, "A\rB\x1bC"))

	assert.Equal(t,
		"++eor 2\n"+
			"DISP:TEXT 'a\x1b+b'\n"+
			"A\x1b\rB\x1b\x1bC\n",
		link.String())
}

func TestEscape(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"VOLT 12.500", "VOLT 12.500"},
		{"+", "\x1b+"},
		{"\n", "\x1b\n"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := string(escape(tt.in)); got != tt.want {
			t.Errorf("escape(%q): Expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

// lateController listens on loopback TCP and answers each "++read eoi" after the
// delay scripted for the previous command
func lateController(t *testing.T, responses map[string]string, delays map[string]time.Duration) net.Conn {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		server, err := ln.Accept()
		if err != nil {
			return
		}
		defer server.Close()

		reader := bufio.NewReader(server)
		last := ""
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimSuffix(line, "\n")
			if line != cmdRead {
				last = line
				continue
			}
			go func(cmd string) {
				time.Sleep(delays[cmd])
				_, _ = server.Write([]byte(responses[cmd] + "\r\n"))
			}(last)
		}
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		ln.Close()
	})
	return conn
}

func TestPrologixDiscardsLateAnswer(t *testing.T) {
	conn := lateController(t,
		map[string]string{"MEAS:VOLT?": "12.5", "MEAS:CURR?": "1.0"},
		map[string]time.Duration{"MEAS:VOLT?": 150 * time.Millisecond},
	)
	p := NewPrologix(conn, PrologixOptions{Link: "tcp", ReadTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	_, err := p.Query(ctx, "MEAS:VOLT?")
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)

	// the voltage answer lands while nobody is waiting for it
	time.Sleep(300 * time.Millisecond)

	resp, err := p.Query(ctx, "MEAS:CURR?")
	require.NoError(t, err)
	assert.Equal(t, "1.0", resp)

	resp, err = p.Query(ctx, "MEAS:CURR?")
	require.NoError(t, err)
	assert.Equal(t, "1.0", resp)
}
