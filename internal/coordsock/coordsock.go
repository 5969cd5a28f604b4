// Package coordsock implements the coordination UNIX socket (spec §6, §4.7):
// a fixed-path UNIX stream socket that accepts a hot-restart handshake: the
// requesting peer sends a 32-bit big-endian restart_generation and the
// running process answers with a one-byte ack, refusing generations above
// MaxGeneration. The running process sends no generation of its own back.
//
// Grounded on pkg/dqlite/pipe/http.go's raw net.Listen("unix", ...) plus
// manual wire-protocol read/write pattern (no higher-level RPC framework is
// in the example pack for a single-roundtrip handshake this small).
package coordsock

import (
	"encoding/binary"
	"net"
	"os"

	"github.com/pkg/errors"
)

// MaxGeneration is the highest restart generation the coordination socket
// accepts (spec §6: "If restart_generation > 4, the old process refuses and
// reports failure").
const MaxGeneration = 4

// ErrGenerationExceeded is returned when a restart handshake requests a
// generation beyond MaxGeneration.
var ErrGenerationExceeded = errors.New("restart generation exceeds maximum")

// Server listens on a fixed UNIX socket path and answers restart handshakes.
type Server struct {
	path string
	ln   net.Listener
}

// Listen binds the coordination socket at path, removing any stale socket
// file left behind by a previous process.
func Listen(path string) (*Server, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on coordination socket %s", path)
	}
	return &Server{path: path, ln: ln}, nil
}

// Close closes the listening socket and removes the socket file.
func (s *Server) Close() error {
	err := s.ln.Close()
	_ = os.Remove(s.path)
	return err
}

// Accept blocks for one restart handshake: it reads a 32-bit big-endian
// generation from the connecting peer, validates it against MaxGeneration,
// writes back a one-byte ack (1 on success, 0 on refusal), and returns the
// requested generation.
func (s *Server) Accept() (generation uint32, err error) {
	conn, err := s.ln.Accept()
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var buf [4]byte
	if _, err := conn.Read(buf[:]); err != nil {
		return 0, errors.Wrap(err, "reading restart generation")
	}
	generation = binary.BigEndian.Uint32(buf[:])

	if generation > MaxGeneration {
		conn.Write([]byte{0})
		return generation, ErrGenerationExceeded
	}
	conn.Write([]byte{1})
	return generation, nil
}

// RequestRestart dials the coordination socket at path and sends generation,
// returning an error if the peer refuses it.
func RequestRestart(path string, generation uint32) error {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return errors.Wrapf(err, "dial coordination socket %s", path)
	}
	defer conn.Close()

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], generation)
	if _, err := conn.Write(buf[:]); err != nil {
		return errors.Wrap(err, "writing restart generation")
	}

	var ack [1]byte
	if _, err := conn.Read(ack[:]); err != nil {
		return errors.Wrap(err, "reading restart ack")
	}
	if ack[0] != 1 {
		return ErrGenerationExceeded
	}
	return nil
}
