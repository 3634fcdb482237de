package gpib

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	bridgeerrors "gpib-load-bridge/pkg/errors"
	"gpib-load-bridge/pkg/logger"
)

// Prologix controller commands
const (
	cmdAddr = "++addr"
	cmdAuto = "++auto 0"
	cmdMode = "++mode 1"
	cmdRead = "++read eoi"
	cmdLoc  = "++loc"
	cmdIDN  = "*IDN?"
)

const (
	esc = 0x1B
	lf  = '\n'
)

// drainWindow is how long a stale link is read for a late answer before the next request
const drainWindow = 50 * time.Millisecond

// readDeadliner is implemented by links that can bound a blocking read
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// PrologixOptions configures a Prologix controller
type PrologixOptions struct {
	// Link names the underlying connection in errors and logs, e.g. "tcp://10.0.0.5:1234"
	Link string

	// ReadTimeout bounds every response read when the link supports deadlines.
	// A context deadline that expires earlier wins.
	ReadTimeout time.Duration
}

// Prologix implements Bus on top of a Prologix GPIB-ETHERNET / GPIB-USB controller.
// One exchange (write, or write + read) runs at a time.
type Prologix struct {
	rw      io.ReadWriter
	reader  *bufio.Reader
	link    string
	timeout time.Duration

	mu      sync.Mutex
	address int

	// stale is set when a read failed; the answer may still arrive
	stale bool
}

// NewPrologix creates a controller on an already opened link
func NewPrologix(rw io.ReadWriter, opts PrologixOptions) *Prologix {
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	return &Prologix{
		rw:      rw,
		reader:  bufio.NewReader(rw),
		link:    opts.Link,
		timeout: opts.ReadTimeout,
		address: NoAddress,
	}
}

// Init puts the controller in controller mode with read-after-write disabled,
// so responses are only fetched by an explicit "++read".
func (p *Prologix) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, cmd := range []string{cmdMode, cmdAuto} {
		if err := p.writeLine(ctx, cmd); err != nil {
			return err
		}
	}
	logger.LogDebug("Prologix controller on %s initialised", p.link)
	return nil
}

// Address returns the instrument the controller currently talks to
func (p *Prologix) Address() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.address
}

// SetAddress selects the instrument subsequent I/O goes to
func (p *Prologix) SetAddress(ctx context.Context, addr int) error {
	if addr < 0 || addr > 30 {
		return bridgeerrors.NewValidationError("address", "0-30", addr)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.writeLine(ctx, fmt.Sprintf("%s %d", cmdAddr, addr)); err != nil {
		return err
	}
	p.address = addr
	return nil
}

// Write sends one line to the controller or, unless it is a "++" command, to the addressed instrument
func (p *Prologix) Write(ctx context.Context, cmd string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeLine(ctx, cmd)
}

// Query sends cmd, asks the controller to read until EOI and returns the trimmed answer
func (p *Prologix) Query(ctx context.Context, cmd string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.drain()

	if err := p.writeLine(ctx, cmd); err != nil {
		return "", err
	}
	if err := p.writeLine(ctx, cmdRead); err != nil {
		return "", err
	}
	resp, err := p.readLine(ctx)
	if err != nil {
		p.stale = true
		return "", err
	}
	return resp, nil
}

// drain discards bytes no request is waiting for. After a failed read it also
// reads the link for drainWindow so a late answer is not taken for the next one.
// Must be called with mu held.
func (p *Prologix) drain() {
	discarded := p.reader.Buffered()
	if discarded > 0 {
		_, _ = p.reader.Discard(discarded)
	}

	if p.stale {
		p.stale = false
		if d, ok := p.rw.(readDeadliner); ok && d.SetReadDeadline(time.Now().Add(drainWindow)) == nil {
			buf := make([]byte, 256)
			for i := 0; i < 64; i++ {
				n, err := p.rw.Read(buf)
				discarded += n
				if err != nil {
					break
				}
			}
		}
		p.reader.Reset(p.rw)
	}

	if discarded > 0 {
		logger.LogWarn("⚠️ Discarded %d bytes of late response on %s", discarded, p.link)
	}
}

// Local returns the addressed instrument to front panel control
func (p *Prologix) Local(ctx context.Context) error {
	return p.Write(ctx, cmdLoc)
}

// Identification returns the addressed instrument's *IDN? answer
func (p *Prologix) Identification(ctx context.Context) (string, error) {
	return p.Query(ctx, cmdIDN)
}

// writeLine must be called with mu held
func (p *Prologix) writeLine(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return bridgeerrors.NewBusError("write", err, p.link)
	}

	var frame []byte
	if strings.HasPrefix(cmd, "++") {
		frame = append([]byte(cmd), lf)
	} else {
		frame = append(escape(cmd), lf)
	}

	logger.LogTrace("GPIB %s > %q", p.link, cmd)
	if _, err := p.rw.Write(frame); err != nil {
		return bridgeerrors.NewBusError("write", err, p.link)
	}
	return nil
}

// readLine must be called with mu held
func (p *Prologix) readLine(ctx context.Context) (string, error) {
	if d, ok := p.rw.(readDeadliner); ok {
		deadline := time.Now().Add(p.timeout)
		if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
		if err := d.SetReadDeadline(deadline); err != nil {
			return "", bridgeerrors.NewBusError("set read deadline", err, p.link)
		}
	}

	line, err := p.reader.ReadString(lf)
	if err != nil {
		// A partial line belongs to a response we gave up on
		p.reader.Reset(p.rw)
		return "", bridgeerrors.NewBusError("read", err, p.link)
	}

	resp := strings.TrimSpace(line)
	logger.LogTrace("GPIB %s < %q", p.link, resp)
	return resp, nil
}

// escape prefixes the bytes the controller would otherwise interpret with ESC
func escape(data string) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		switch c := data[i]; c {
		case '\r', '\n', esc, '+':
			out = append(out, esc, c)
		default:
			out = append(out, c)
		}
	}
	return out
}

var _ Bus = (*Prologix)(nil)
