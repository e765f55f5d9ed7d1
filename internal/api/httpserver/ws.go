package httpserver

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/witnessnet/gateway/internal/apperr"
	"github.com/witnessnet/gateway/internal/eventbus"
)

// websocketMagic is the RFC 6455 handshake GUID.
const websocketMagic = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// wsEvents upgrades to a websocket connection and relays every event on
// this gateway's network stream (attestation.committed, batch.closed,
// cross_anchor.received) as a JSON text frame. No third-party websocket
// library is used since none of the example repos import one; this is a
// minimal RFC 6455 server-push-only
// framer — it never needs to parse client-sent frames beyond detecting
// connection close.
func (s *Server) wsEvents(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" || !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		writeError(w, apperr.BadRequest("expected a websocket upgrade request"))
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		writeError(w, apperr.Internal(nil))
		return
	}
	conn, buf, err := hijacker.Hijack()
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	defer conn.Close()

	accept := computeWebsocketAccept(key)
	handshake := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n\r\n"
	if _, err := buf.WriteString(handshake); err != nil {
		return
	}
	if err := buf.Flush(); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go watchForClose(conn, cancel)

	if s.bus == nil {
		return
	}

	frames := make(chan []byte, 32)
	go func() {
		_ = s.bus.Subscribe(ctx, s.network.NetworkID, func(_ context.Context, event eventbus.Event) error {
			payload, err := jsonMarshal(event)
			if err != nil {
				return nil
			}
			select {
			case frames <- payload:
			case <-ctx.Done():
			}
			return nil
		})
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-frames:
			if err := writeTextFrame(conn, payload); err != nil {
				return
			}
		}
	}
}

func computeWebsocketAccept(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketMagic))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// writeTextFrame writes a single unmasked, unfragmented RFC 6455 text
// frame (server-to-client frames are never masked).
func writeTextFrame(conn net.Conn, payload []byte) error {
	var header []byte
	length := len(payload)
	switch {
	case length <= 125:
		header = []byte{0x81, byte(length)}
	case length <= 65535:
		header = make([]byte, 4)
		header[0] = 0x81
		header[1] = 126
		binary.BigEndian.PutUint16(header[2:], uint16(length))
	default:
		header = make([]byte, 10)
		header[0] = 0x81
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:], uint64(length))
	}
	if _, err := conn.Write(header); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}

// watchForClose discards incoming bytes until the connection errors,
// which is the only signal a server-push-only handler needs to detect a
// client disconnect or close frame.
func watchForClose(conn net.Conn, cancel context.CancelFunc) {
	defer cancel()
	r := bufio.NewReader(conn)
	if _, err := io.Copy(io.Discard, r); err != nil {
		return
	}
}
