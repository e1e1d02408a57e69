package streamer

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aircast/aircast/internal/codec"
	"github.com/aircast/aircast/internal/encoder"
)

func init() {
	codec.Register(codec.FamilyMPEG, codec.KindMP3, "pcm-test", codec.NewPCMEngine)
}

// fakeServer accepts icecast source connections, answers 200 and swallows
// the stream. It records the request headers and bytes received.
type fakeServer struct {
	ln net.Listener
	wg sync.WaitGroup

	mu       sync.Mutex
	request  string
	received int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeServer{ln: ln}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.close)
	return s
}

func (s *fakeServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			r := bufio.NewReader(conn)
			var req strings.Builder
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					return
				}
				req.WriteString(line)
				if line == "\r\n" {
					break
				}
			}
			s.mu.Lock()
			s.request = req.String()
			s.mu.Unlock()
			if _, err := conn.Write([]byte("HTTP/1.0 200 OK\r\n\r\n")); err != nil {
				return
			}
			buf := make([]byte, 4096)
			for {
				n, err := r.Read(buf)
				s.mu.Lock()
				s.received += n
				s.mu.Unlock()
				if err != nil {
					return
				}
			}
		}()
	}
}

func (s *fakeServer) close() {
	s.ln.Close()
	s.wg.Wait()
}

func (s *fakeServer) params() ConnectParams {
	addr := s.ln.Addr().(*net.TCPAddr)
	return ConnectParams{
		Host:     "127.0.0.1",
		Port:     addr.Port,
		Mount:    "/live",
		User:     "source",
		Password: "hackme",
		Name:     "test stream",
	}
}

func (s *fakeServer) snapshot() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.request, s.received
}

func startEncoder(t *testing.T) (*encoder.Encoder, func()) {
	t.Helper()
	f, err := codec.ParseFormat("mpeg", "mp3")
	require.NoError(t, err)
	e := encoder.New(0, 48000, nil)
	go e.Run()
	require.NoError(t, e.Start(encoder.Config{
		Format: f, BitRate: 128, SampleRate: 48000, Channels: 2,
	}))

	stop := make(chan struct{})
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		buf := make([]float32, 512)
		for {
			select {
			case <-stop:
				return
			default:
			}
			e.FeedAudio(buf, buf)
			time.Sleep(2 * time.Millisecond)
		}
	}()
	return e, func() {
		close(stop)
		<-pumpDone
		e.Shutdown()
		<-e.Done()
	}
}

func waitMode(t *testing.T, s *Streamer, want Mode, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.Mode() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("streamer never reached %v, stuck at %v", want, s.Mode())
}

func TestStreamerLifecycle(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	srv := newFakeServer(t)
	e, stopEnc := startEncoder(t)
	defer stopEnc()

	s := New(0, nil)
	go s.Run()
	defer func() {
		s.Shutdown()
		<-s.Done()
	}()

	require.NoError(t, s.Connect(e, srv.params()))
	waitMode(t, s, ModeConnected, 5*time.Second)
	assert.True(t, s.NewConnection())
	assert.False(t, s.NewConnection(), "the new-connection flag reads once")

	// stream bytes should flow once the fence serial arrives
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, n := srv.snapshot(); n > 4096 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	req, n := srv.snapshot()
	assert.Greater(t, n, 4096, "no stream data arrived")
	assert.Contains(t, req, "SOURCE /live HTTP/1.0\r\n")
	assert.Contains(t, req, "Authorization: Basic ")
	assert.Contains(t, req, "Content-Type: audio/mpeg\r\n")
	assert.Contains(t, req, "Ice-Name: test stream\r\n")

	require.NoError(t, s.Disconnect())
	assert.Equal(t, ModeDisconnected, s.Mode())
	assert.Error(t, s.Disconnect(), "disconnecting twice must fail")
}

func TestStreamerConnectRefusedWhileConnected(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	srv := newFakeServer(t)
	e, stopEnc := startEncoder(t)
	defer stopEnc()

	s := New(1, nil)
	go s.Run()
	defer func() {
		s.Shutdown()
		<-s.Done()
	}()

	require.NoError(t, s.Connect(e, srv.params()))
	waitMode(t, s, ModeConnected, 5*time.Second)
	assert.Error(t, s.Connect(e, srv.params()))
	require.NoError(t, s.Disconnect())
}

func TestStreamerConnectionFailureReturnsToDisconnected(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	e, stopEnc := startEncoder(t)
	defer stopEnc()

	// a listener that is closed immediately: connection refused
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s := New(2, nil)
	go s.Run()
	defer func() {
		s.Shutdown()
		<-s.Done()
	}()

	require.NoError(t, s.Connect(e, ConnectParams{
		Host: "127.0.0.1", Port: port, Mount: "/live",
		User: "source", Password: "hackme",
	}))
	waitMode(t, s, ModeDisconnected, 5*time.Second)
	assert.Equal(t, 0, e.ClientCount(), "failed connection must release the output chain")
}

func TestStreamerRequiresRunningEncoder(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	e := encoder.New(3, 48000, nil)
	go e.Run()
	defer func() {
		e.Shutdown()
		<-e.Done()
	}()

	s := New(3, nil)
	err := s.Connect(e, ConnectParams{Host: "h", Port: 1, Mount: "/m"})
	assert.Error(t, err)
}

func TestStreamTitle(t *testing.T) {
	t.Parallel()
	cases := []struct {
		payload string
		want    string
	}{
		{"custom line\nArtist\nTitle\nAlbum", "custom line"},
		{"\nArtist\nTitle\nAlbum", "Artist - Title"},
		{"\n\nTitle only\n", "Title only"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, streamTitle([]byte(tc.payload)))
	}
}
