package monitor

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mcdev12/festtrivia/go/internal/realtime/connstate"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pongServer speaks just enough of the NATS client protocol for a connect handshake and
// flushes: it sends INFO and answers every PING with PONG.
type pongServer struct {
	ln net.Listener

	mu    sync.Mutex
	conns []net.Conn
	mute  bool
}

func newPongServer(t *testing.T) *pongServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &pongServer{ln: ln}
	go s.accept()
	t.Cleanup(s.close)
	return s
}

func (s *pongServer) url() string {
	return "nats://" + s.ln.Addr().String()
}

func (s *pongServer) accept() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.serve(conn)
	}
}

func (s *pongServer) serve(conn net.Conn) {
	addr := s.ln.Addr().(*net.TCPAddr)
	fmt.Fprintf(conn, "INFO {\"server_id\":\"pong\",\"version\":\"2.10.0\",\"host\":\"127.0.0.1\",\"port\":%d,\"max_payload\":1048576,\"proto\":1}\r\n", addr.Port)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if !strings.HasPrefix(scanner.Text(), "PING") {
			continue
		}
		s.mu.Lock()
		mute := s.mute
		s.mu.Unlock()
		if !mute {
			fmt.Fprint(conn, "PONG\r\n")
		}
	}
}

// silence stops answering PINGs after the handshake.
func (s *pongServer) silence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mute = true
}

func (s *pongServer) close() {
	s.ln.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
}

func TestNATSProber(t *testing.T) {
	srv := newPongServer(t)
	nc, err := nats.Connect(srv.url(), nats.NoReconnect())
	require.NoError(t, err)
	defer nc.Close()

	prober := NewNATSProber(nc, time.Second)
	assert.NoError(t, prober.Probe(context.Background()))

	srv.silence()
	prober = NewNATSProber(nc, 50*time.Millisecond)
	assert.Error(t, prober.Probe(context.Background()))
}

func TestNATSProber_ClosedConnection(t *testing.T) {
	srv := newPongServer(t)
	nc, err := nats.Connect(srv.url(), nats.NoReconnect())
	require.NoError(t, err)
	nc.Close()

	err = NewNATSProber(nc, time.Second).Probe(context.Background())
	assert.ErrorIs(t, err, ErrNATSNotConnected)
}

func TestMonitor_WatchNATSDisconnectGoesOffline(t *testing.T) {
	f := newFixture()
	m := f.monitor(healthy, true, nil)

	srv := newPongServer(t)
	nc, err := nats.Connect(srv.url(), nats.NoReconnect())
	require.NoError(t, err)
	defer nc.Close()
	m.WatchNATS(nc)

	srv.close()
	require.Eventually(t, func() bool {
		return m.Status() == connstate.StatusOffline
	}, 2*time.Second, 5*time.Millisecond)
}
