package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	messageBufferSize = 32
)

var (
	errWriterClosed = errors.New("connection writer closed")
	errBufferFull   = errors.New("connection send buffer full")
)

// clientWriter owns all writes to one connection. Payloads are queued on a bounded
// buffer so a slow client never blocks the dispatcher.
type clientWriter struct {
	connection  *websocket.Conn
	clock       clockwork.Clock
	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func newClientWriter(connection *websocket.Conn, clock clockwork.Clock) *clientWriter {
	cw := &clientWriter{
		connection:  connection,
		clock:       clock,
		sendChannel: make(chan []byte, messageBufferSize),
		doneChannel: make(chan struct{}),
	}
	cw.extendReadDeadline()
	connection.SetPongHandler(func(string) error {
		cw.extendReadDeadline()
		return nil
	})

	cw.wg.Add(1)
	go cw.run()
	return cw
}

// send queues payload without blocking.
func (cw *clientWriter) send(payload []byte) error {
	select {
	case <-cw.doneChannel:
		return errWriterClosed
	default:
	}

	select {
	case cw.sendChannel <- payload:
		return nil
	case <-cw.doneChannel:
		return errWriterClosed
	default:
		return errBufferFull
	}
}

func (cw *clientWriter) run() {
	ticker := cw.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cw.wg.Done()

	for {
		select {
		case msg := <-cw.sendChannel:
			cw.setWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				// Unblocks the read loop, which then unregisters the connection
				_ = cw.connection.Close()
				return
			}
		case <-ticker.Chan():
			cw.setWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = cw.connection.Close()
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

// closed reports whether stop or close has been called.
func (cw *clientWriter) closed() bool {
	select {
	case <-cw.doneChannel:
		return true
	default:
		return false
	}
}

// close stops the writer, sends a close frame with code and reason and closes the
// connection. Safe to call more than once.
func (cw *clientWriter) close(code int, reason string) {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)

		// The run goroutine must be gone before the close frame is written
		cw.wg.Wait()

		cw.setWriteDeadline()
		_ = cw.connection.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
		_ = cw.connection.Close()
	})
	cw.wg.Wait()
}

func (cw *clientWriter) extendReadDeadline() {
	_ = cw.connection.SetReadDeadline(cw.clock.Now().Add(pongDeadline))
}

func (cw *clientWriter) setWriteDeadline() {
	_ = cw.connection.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
}
