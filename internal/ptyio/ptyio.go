// Package ptyio provides a ring-buffered async wrapper around a
// pseudo-terminal pair, used to expose a BLE characteristic stream as a
// serial-like device. Producers never block on a slow tty consumer: ring
// buffer semantics drop the oldest bytes on overflow.
package ptyio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/term"
)

// ReadCallback is invoked from a background goroutine when data arrives
// from the tty slave. Implementations must not retain the slice.
type ReadCallback func(data []byte)

// PTY is a non-blocking interface to a pseudo-terminal master
type PTY interface {
	io.ReadWriteCloser
	TTYName() string
	SetReadCallback(cb ReadCallback)
}

const defaultBufferSize = 4096

type ringPTY struct {
	logger *logrus.Logger
	master *os.File
	slave  *os.File

	writeBuf  *ringbuffer.RingBuffer // bytes queued for the slave
	readBuf   *ringbuffer.RingBuffer // bytes produced by the slave
	writeKick chan struct{}
	readKick  chan struct{}

	readCb atomic.Value // ReadCallback or nil

	closed uint32
	wg     sync.WaitGroup
}

// NewPty creates a master/slave pair in raw mode and starts the background
// pump goroutines. The slave path (TTYName) can be handed to an external
// process.
func NewPty(readCap, writeCap int, logger *logrus.Logger) (PTY, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if readCap <= 0 {
		readCap = defaultBufferSize
	}
	if writeCap <= 0 {
		writeCap = defaultBufferSize
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("failed to set %s to raw mode: %w", slave.Name(), err)
	}

	p := &ringPTY{
		logger:    logger,
		master:    master,
		slave:     slave,
		writeBuf:  ringbuffer.New(writeCap),
		readBuf:   ringbuffer.New(readCap),
		writeKick: make(chan struct{}, 1),
		readKick:  make(chan struct{}, 1),
	}

	p.wg.Add(3)
	go p.writeLoop()
	go p.readLoop()
	go p.dispatchLoop()

	return p, nil
}

// Write queues data for the tty slave. Non-blocking: on overflow the
// excess is dropped and the returned count reflects what was queued.
func (p *ringPTY) Write(data []byte) (int, error) {
	if atomic.LoadUint32(&p.closed) == 1 {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	n, err := p.writeBuf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return 0, err
	}
	if n < len(data) {
		p.logger.WithFields(logrus.Fields{
			"dropped": len(data) - n,
			"queued":  n,
		}).Warn("PTY write buffer overflow")
	}

	kick(p.writeKick)
	return n, nil
}

// Read drains buffered slave output. Non-blocking: returns 0, io.EOF after
// Close, and 0, nil when nothing is buffered.
func (p *ringPTY) Read(b []byte) (int, error) {
	if atomic.LoadUint32(&p.closed) == 1 {
		return 0, io.EOF
	}
	n, err := p.readBuf.TryRead(b)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0, err
	}
	return n, nil
}

// TTYName returns the slave device path (e.g. /dev/pts/5)
func (p *ringPTY) TTYName() string {
	return p.slave.Name()
}

// SetReadCallback sets or clears (nil) the data-arrival callback
func (p *ringPTY) SetReadCallback(cb ReadCallback) {
	p.readCb.Store(cb)
	if cb != nil {
		kick(p.readKick)
	}
}

// Close stops the pumps and closes both ends of the pair
func (p *ringPTY) Close() error {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return nil
	}

	// Closing the FDs unblocks the reader goroutine
	err := p.master.Close()
	if serr := p.slave.Close(); err == nil {
		err = serr
	}

	kick(p.writeKick)
	kick(p.readKick)
	p.wg.Wait()
	return err
}

func kick(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// writeLoop drains the write ring into the master
func (p *ringPTY) writeLoop() {
	defer p.wg.Done()

	buf := make([]byte, defaultBufferSize)
	for range p.writeKick {
		if atomic.LoadUint32(&p.closed) == 1 {
			return
		}
		for {
			n, err := p.writeBuf.TryRead(buf)
			if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
				break
			}
			if _, werr := p.master.Write(buf[:n]); werr != nil {
				if atomic.LoadUint32(&p.closed) == 0 {
					p.logger.WithError(werr).Warn("PTY master write failed")
				}
				return
			}
		}
	}
}

// readLoop pumps slave output into the read ring
func (p *ringPTY) readLoop() {
	defer p.wg.Done()

	buf := make([]byte, defaultBufferSize)
	for {
		n, err := p.master.Read(buf)
		if n > 0 {
			written, werr := p.readBuf.Write(buf[:n])
			if werr != nil && !errors.Is(werr, ringbuffer.ErrIsFull) {
				p.logger.WithError(werr).Warn("PTY read buffer write failed")
			}
			if written < n {
				p.logger.WithField("dropped", n-written).Warn("PTY read buffer overflow")
			}
			if written > 0 {
				kick(p.readKick)
			}
		}
		if err != nil {
			// EOF or EBADF after Close, EIO when the slave side hangs up
			if atomic.LoadUint32(&p.closed) == 0 && !errors.Is(err, io.EOF) {
				p.logger.WithError(err).Debug("PTY master read ended")
			}
			return
		}
	}
}

// dispatchLoop feeds buffered slave output to the registered callback
func (p *ringPTY) dispatchLoop() {
	defer p.wg.Done()

	buf := make([]byte, defaultBufferSize)
	for range p.readKick {
		if atomic.LoadUint32(&p.closed) == 1 {
			return
		}
		cb, _ := p.readCb.Load().(ReadCallback)
		if cb == nil {
			continue
		}
		for {
			n, err := p.readBuf.TryRead(buf)
			if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
				break
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			cb(chunk)
		}
	}
}
