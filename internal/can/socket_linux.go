//go:build linux

package can

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"can-safety-gateway/internal/models"
)

// readTimeout bounds each blocking read so the read loop notices Close.
const readTimeout = 100 * time.Millisecond

func openSocket(ifname string) (int, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return -1, fmt.Errorf("failed to create CAN socket: %w", err)
	}

	ifreq, err := unix.NewIfreq(ifname)
	if err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to create ifreq: %w", err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFINDEX, ifreq); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to get interface index: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: int(ifreq.Uint32())}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to bind socket: %w", err)
	}

	tv := unix.NsecToTimeval(readTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("failed to set read timeout: %w", err)
	}
	return fd, nil
}

// Reader reads frames from a SocketCAN interface into a channel, tagging
// them with a bus index.
type Reader struct {
	fd        int
	ifname    string
	bus       int
	msgChan   chan models.CANMessage
	errorChan chan error
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewReader opens ifname for reading frames of bus.
func NewReader(ifname string, bus int) (*Reader, error) {
	fd, err := openSocket(ifname)
	if err != nil {
		return nil, err
	}
	return newReader(fd, ifname, bus), nil
}

func newReader(fd int, ifname string, bus int) *Reader {
	return &Reader{
		fd:        fd,
		ifname:    ifname,
		bus:       bus,
		msgChan:   make(chan models.CANMessage, 1000),
		errorChan: make(chan error, 10),
		done:      make(chan struct{}),
	}
}

// Start begins reading frames.
func (r *Reader) Start() {
	r.wg.Add(1)
	go r.readLoop()
}

func (r *Reader) readLoop() {
	defer r.wg.Done()
	defer close(r.msgChan)
	defer close(r.errorChan)

	buf := make([]byte, FrameSize)
	for {
		select {
		case <-r.done:
			return
		default:
		}

		n, err := unix.Read(r.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			r.reportError(fmt.Errorf("read error on %s: %w", r.ifname, err))
			continue
		}

		frame, err := DecodeFrame(buf[:n])
		if err != nil {
			if !errors.Is(err, ErrUnsupportedFrame) {
				r.reportError(err)
			}
			continue
		}
		frame.Bus = r.bus

		msg := models.CANMessage{
			Frame:     frame,
			Timestamp: time.Now().UTC(),
			Interface: r.ifname,
		}
		select {
		case r.msgChan <- msg:
		case <-r.done:
			return
		default:
			r.reportError(fmt.Errorf("message channel full on %s, dropping frame", r.ifname))
		}
	}
}

func (r *Reader) reportError(err error) {
	select {
	case r.errorChan <- err:
	default:
	}
}

// Messages returns the channel of received frames. It is closed by Close.
func (r *Reader) Messages() <-chan models.CANMessage {
	return r.msgChan
}

// Errors returns the channel of read errors. It is closed by Close.
func (r *Reader) Errors() <-chan error {
	return r.errorChan
}

// SetFilter restricts reception to the given standard identifiers.
func (r *Reader) SetFilter(ids []uint32) error {
	if len(ids) == 0 {
		return nil
	}
	filters := make([]unix.CanFilter, len(ids))
	for i, id := range ids {
		filters[i] = unix.CanFilter{Id: id, Mask: unix.CAN_SFF_MASK}
	}
	if err := unix.SetsockoptCanRawFilter(r.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters); err != nil {
		return fmt.Errorf("failed to set filter: %w", err)
	}
	return nil
}

// Close stops the read loop and closes the socket.
func (r *Reader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		err = unix.Close(r.fd)
	})
	return err
}

// Writer sends frames on a SocketCAN interface.
type Writer struct {
	fd     int
	ifname string
}

// Send writes one frame, retrying while the socket send queue is full.
func (w *Writer) Send(ctx context.Context, f models.CANFrame) error {
	buf, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := unix.Write(w.fd, buf)
		if err == nil {
			if n != len(buf) {
				return fmt.Errorf("short write on %s: %d bytes", w.ifname, n)
			}
			return nil
		}
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.ENOBUFS) {
			select {
			case <-time.After(time.Millisecond):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if errors.Is(err, unix.EBADF) {
			return ErrClosed
		}
		return fmt.Errorf("write error on %s: %w", w.ifname, err)
	}
}

// SocketBus is a Bus over one SocketCAN interface.
type SocketBus struct {
	reader *Reader
	writer *Writer
	logger *slog.Logger
}

// NewSocketBus opens ifname as bus index bus and starts reading.
func NewSocketBus(ifname string, bus int, logger *slog.Logger) (*SocketBus, error) {
	fd, err := openSocket(ifname)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ifname, err)
	}
	b := &SocketBus{
		reader: newReader(fd, ifname, bus),
		writer: &Writer{fd: fd, ifname: ifname},
		logger: logger.With("interface", ifname, "bus", bus),
	}
	b.reader.Start()
	go b.logErrors()
	return b, nil
}

func (b *SocketBus) logErrors() {
	for err := range b.reader.Errors() {
		b.logger.Warn("socketcan error", "error", err)
	}
}

// SetFilter limits the frames received to ids.
func (b *SocketBus) SetFilter(ids []uint32) error { return b.reader.SetFilter(ids) }

func (b *SocketBus) Receive(ctx context.Context) (models.CANFrame, error) {
	select {
	case msg, ok := <-b.reader.Messages():
		if !ok {
			return models.CANFrame{}, ErrClosed
		}
		return msg.Frame, nil
	case <-ctx.Done():
		return models.CANFrame{}, ctx.Err()
	}
}

func (b *SocketBus) Send(ctx context.Context, f models.CANFrame) error {
	return b.writer.Send(ctx, f)
}

func (b *SocketBus) Close() error {
	return b.reader.Close()
}
