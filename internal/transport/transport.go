// Package transport serves the websocket feed and static frontend
// assets over HTTP. The websocket upgrade and frame codec are
// hand-rolled against RFC 6455 rather than pulled from a library —
// the protocol is small enough to implement directly over net/http's
// connection hijack.
package transport

import (
	"bufio"
	"context"
	"crypto/sha1" //nolint:gosec // SHA-1 is mandated by RFC 6455 §4.1, not used for security
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ashgrove/cs2obs/internal/broadcast"
	"github.com/ashgrove/cs2obs/internal/gameobserver"
	"github.com/ashgrove/cs2obs/internal/obslog"
)

// maxFrameSize bounds the payload length the server will accept from a
// client before dropping the connection. Browsers never push anything
// to this feed; readLoop discards payloads without buffering them, and
// this limit stops a misbehaving client from holding it on one huge
// frame.
const maxFrameSize = 64 * 1024

// wsGUID is the fixed GUID from RFC 6455 §4.1 used to derive
// Sec-WebSocket-Accept.
const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// payload is the JSON document pushed to every websocket client per
// published batch.
type payload struct {
	Players []gameobserver.Player `json:"players"`
}

// Server hosts the websocket feed at /ws and serves static frontend
// assets from webRoot at every other path.
type Server struct {
	hub          *broadcast.Hub
	log          *obslog.Logger
	writeTimeout time.Duration
	mux          *http.ServeMux
}

// New returns a Server backed by hub, serving static files from
// webRoot. writeTimeout <= 0 defaults to 10 seconds. log may be nil,
// in which case a no-op logger is used.
func New(hub *broadcast.Hub, webRoot string, writeTimeout time.Duration, log *obslog.Logger) *Server {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	if log == nil {
		log = obslog.NewNop()
	}

	s := &Server{hub: hub, log: log, writeTimeout: writeTimeout, mux: http.NewServeMux()}
	s.mux.HandleFunc("/ws", s.serveWS)
	s.mux.Handle("/", http.FileServer(http.Dir(webRoot)))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// serveWS upgrades the connection and drives its read/write loops
// until the client disconnects or the hub closes its subscription.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if !isWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}

	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		http.Error(w, "missing Sec-WebSocket-Key", http.StatusBadRequest)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "server does not support hijacking", http.StatusInternalServerError)
		return
	}

	conn, bufrw, err := hj.Hijack()
	if err != nil {
		s.log.Error("websocket hijack failed", zap.Error(err))
		return
	}

	accept := computeAcceptKey(key)
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n\r\n"

	if _, err := bufrw.WriteString(resp); err != nil {
		conn.Close()
		return
	}
	if err := bufrw.Flush(); err != nil {
		conn.Close()
		return
	}

	clientID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	batches := s.hub.Subscribe(ctx)
	defer s.hub.Unsubscribe(batches)

	s.log.Info("websocket client connected", zap.String("client_id", clientID))

	var closed atomic.Bool
	closeOnce := func() {
		if closed.CompareAndSwap(false, true) {
			conn.Close()
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		readLoop(conn)
		closeOnce()
		cancel()
	}()

	for {
		select {
		case <-done:
			return

		case batch, ok := <-batches:
			if !ok {
				closeOnce()
				return
			}

			body, err := json.Marshal(payload{Players: batch})
			if err != nil {
				continue
			}

			if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
				closeOnce()
				return
			}
			if err := writeTextFrame(conn, body); err != nil {
				closeOnce()
				return
			}
		}
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func computeAcceptKey(key string) string {
	//nolint:gosec // SHA-1 is mandated by RFC 6455, not used for security
	h := sha1.New()
	h.Write([]byte(key + wsGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// writeTextFrame encodes payload as a single unfragmented text frame
// (FIN=1, opcode=0x1). Server-to-client frames must not be masked
// (RFC 6455 §5.1).
func writeTextFrame(conn net.Conn, body []byte) error {
	n := len(body)
	var header []byte

	switch {
	case n < 126:
		header = []byte{0x81, byte(n)}
	case n < 65536:
		header = []byte{0x81, 126, 0, 0}
		binary.BigEndian.PutUint16(header[2:], uint16(n))
	default:
		header = make([]byte, 10)
		header[0] = 0x81
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:], uint64(n))
	}

	if _, err := conn.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := conn.Write(body); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// readLoop reads and discards incoming frames until the connection
// closes or a close frame arrives. Clients never push data on this
// feed; this exists only to detect disconnection promptly.
func readLoop(conn net.Conn) {
	buf := bufio.NewReader(conn)
	for {
		b0, err := buf.ReadByte()
		if err != nil {
			return
		}
		b1, err := buf.ReadByte()
		if err != nil {
			return
		}

		opcode := b0 & 0x0F
		masked := (b1 & 0x80) != 0
		length := int64(b1 & 0x7F)

		switch length {
		case 126:
			var ext [2]byte
			if _, err := io.ReadFull(buf, ext[:]); err != nil {
				return
			}
			length = int64(binary.BigEndian.Uint16(ext[:]))
		case 127:
			var ext [8]byte
			if _, err := io.ReadFull(buf, ext[:]); err != nil {
				return
			}
			rawLen := binary.BigEndian.Uint64(ext[:])
			if rawLen > maxFrameSize {
				return
			}
			length = int64(rawLen)
		}

		if masked {
			var maskKey [4]byte
			if _, err := io.ReadFull(buf, maskKey[:]); err != nil {
				return
			}
		}

		if length > 0 {
			if _, err := io.CopyN(io.Discard, buf, length); err != nil {
				return
			}
		}

		if opcode == 0x08 {
			return
		}
	}
}
