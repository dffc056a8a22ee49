package bridge

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pion "github.com/pion/transport/v4"
	"github.com/pion/transport/v4/vnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/lanbridge/internal/device"
	"github.com/1ureka/lanbridge/internal/handshake"
	"github.com/1ureka/lanbridge/internal/protocol"
	"github.com/1ureka/lanbridge/internal/status"
	"github.com/1ureka/lanbridge/internal/util"
)

const (
	hostA = "10.0.0.1"
	hostB = "10.0.0.2"
	hostC = "10.0.0.3"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// newLAN starts a virtual router with one network per IP.
func newLAN(t *testing.T, ips ...string) map[string]*vnet.Net {
	t.Helper()

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: util.PionLoggerFactory{},
	})
	require.NoError(t, err)

	nets := make(map[string]*vnet.Net, len(ips))
	for _, ip := range ips {
		nw, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ip}})
		require.NoError(t, err)
		require.NoError(t, router.AddNet(nw))
		nets[ip] = nw
	}

	require.NoError(t, router.Start())
	t.Cleanup(func() { _ = router.Stop() })
	return nets
}

// recorder collects status events.
type recorder struct {
	mu     sync.Mutex
	events []status.Event
}

func (r *recorder) sink(ev status.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []status.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]status.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

type peer struct {
	sess *Session
	dev  *device.Memory
	rec  *recorder
}

func options(nw pion.Net, dev device.Device, rec *recorder) Options {
	return Options{
		Net:        nw,
		OpenDevice: func(device.Config) (device.Device, error) { return dev, nil },
		Handshake:  handshake.Config{ReciprocalHello: true},
		Poll:       10 * time.Millisecond,
		Sink:       rec.sink,
	}
}

// start connects a session on ip towards peerIP, both on port 9000.
func start(t *testing.T, nw pion.Net, ip, peerIP string, mutate ...func(*Options)) *peer {
	t.Helper()

	p := &peer{dev: device.NewMemory("mem-"+ip, false), rec: &recorder{}}
	opts := options(nw, p.dev, p.rec)
	for _, m := range mutate {
		m(&opts)
	}

	sess, err := Connect(context.Background(), Endpoint{
		BindAddr:  ip + ":9000",
		PeerAddr:  peerIP + ":9000",
		VirtualIP: ip,
	}, opts)
	require.NoError(t, err)
	t.Cleanup(sess.Shutdown)

	p.sess = sess
	return p
}

func waitConnected(t *testing.T, peers ...*peer) {
	t.Helper()
	for _, p := range peers {
		require.Eventually(t, p.sess.Status().Connected, 3*time.Second, 10*time.Millisecond,
			"session %s did not connect", p.sess.Endpoint().BindAddr)
	}
}

func expectFrame(t *testing.T, dev *device.Memory, want []byte) {
	t.Helper()
	select {
	case got := <-dev.Written():
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("frame %q was not delivered to %s", want, dev.Name())
	}
}

func expectNoFrame(t *testing.T, dev *device.Memory, wait time.Duration) {
	t.Helper()
	select {
	case got := <-dev.Written():
		t.Fatalf("unexpected frame %q delivered to %s", got, dev.Name())
	case <-time.After(wait):
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not terminate")
	}
}

// countEntries returns how many status lines contain substr.
func countEntries(st *status.Status, substr string) int {
	n := 0
	for _, line := range st.Entries() {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

// flakyDevice fails the first writes with a transient error.
type flakyDevice struct {
	*device.Memory
	failures atomic.Int32
}

func (d *flakyDevice) Write(p []byte) (int, error) {
	if d.failures.Add(-1) >= 0 {
		return 0, errors.New("no buffer space available")
	}
	return d.Memory.Write(p)
}

// rawPeer is a bare UDP socket speaking the wire protocol by hand.
type rawPeer struct {
	t    *testing.T
	conn pion.UDPConn
	to   *net.UDPAddr
}

func newRawPeer(t *testing.T, nw *vnet.Net, ip, toIP string) *rawPeer {
	t.Helper()
	conn, err := nw.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(ip), Port: 9000})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &rawPeer{t: t, conn: conn, to: &net.UDPAddr{IP: net.ParseIP(toIP), Port: 9000}}
}

func (r *rawPeer) sendRaw(b []byte) {
	r.t.Helper()
	_, err := r.conn.WriteTo(b, r.to)
	require.NoError(r.t, err)
}

func (r *rawPeer) send(pkt *protocol.Packet) { r.sendRaw(protocol.Encode(pkt)) }

// expectControl reads until a control message arrives and checks it.
func (r *rawPeer) expectControl(want protocol.ControlMessage) {
	r.t.Helper()
	buf := make([]byte, 2048)
	require.NoError(r.t, r.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		n, _, err := r.conn.ReadFrom(buf)
		require.NoError(r.t, err, "waiting for %s", want)
		pkt, err := protocol.Decode(buf[:n])
		require.NoError(r.t, err)
		if msg, ok := pkt.Payload.(protocol.ControlMessage); ok {
			require.Equal(r.t, want, msg)
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

// TestBridgeRelaysBothWays runs two sessions against each other and checks
// that frames injected on one interface come out of the other.
func TestBridgeRelaysBothWays(t *testing.T) {
	lan := newLAN(t, hostA, hostB)

	a := start(t, lan[hostA], hostA, hostB)
	b := start(t, lan[hostB], hostB, hostA)
	waitConnected(t, a, b)

	require.NoError(t, a.dev.Inject([]byte("frame from A")))
	expectFrame(t, b.dev, []byte("frame from A"))

	require.NoError(t, b.dev.Inject([]byte("frame from B")))
	expectFrame(t, a.dev, []byte("frame from B"))

	// order within one direction is preserved
	for _, f := range []string{"one", "two", "three"} {
		require.NoError(t, a.dev.Inject([]byte(f)))
	}
	for _, f := range []string{"one", "two", "three"} {
		expectFrame(t, b.dev, []byte(f))
	}

	assert.Contains(t, a.rec.kinds(), status.EventConnected)
	assert.Contains(t, b.rec.kinds(), status.EventConnected)
	assert.True(t, a.sess.Status().Snapshot().Connected)
}

// TestHandshakeTimeout starts a session with nobody listening and checks that
// it gives up exactly once and releases everything.
func TestHandshakeTimeout(t *testing.T) {
	lan := newLAN(t, hostA)

	a := start(t, lan[hostA], hostA, hostB, func(o *Options) {
		o.Handshake = handshake.Config{Timeout: 200 * time.Millisecond}
	})
	waitDone(t, a.sess)

	assert.ErrorIs(t, a.sess.Err(), ErrHandshakeTimeout)
	assert.False(t, a.sess.Status().Connected())
	assert.Equal(t, []status.EventKind{status.EventError, status.EventDisconnected}, a.rec.kinds())

	timeouts := 0
	for _, line := range a.sess.Status().Entries() {
		if strings.Contains(line, ErrHandshakeTimeout.Error()) {
			timeouts++
		}
	}
	assert.Equal(t, 1, timeouts)

	select {
	case <-a.dev.Closed():
	default:
		t.Fatal("device left open after timeout")
	}
}

// TestHelloRetryConnectsLateJoiner verifies that with retries enabled a peer
// that comes up after the first Hello still completes the handshake.
func TestHelloRetryConnectsLateJoiner(t *testing.T) {
	lan := newLAN(t, hostA, hostB)
	retry := func(o *Options) {
		o.Handshake = handshake.Config{HelloRetry: 50 * time.Millisecond}
	}

	a := start(t, lan[hostA], hostA, hostB, retry)
	time.Sleep(150 * time.Millisecond)
	b := start(t, lan[hostB], hostB, hostA, retry)

	waitConnected(t, a, b)
}

// TestPeerAuthentication verifies that datagrams from anyone but the peer are
// dropped, even when they are well formed.
func TestPeerAuthentication(t *testing.T) {
	lan := newLAN(t, hostA, hostB, hostC)

	a := start(t, lan[hostA], hostA, hostB)
	b := start(t, lan[hostB], hostB, hostA)
	waitConnected(t, a, b)

	before := util.Stats.Unauthorized.Load()

	intruder := newRawPeer(t, lan[hostC], hostC, hostA)
	intruder.send(protocol.NewData([]byte("spoofed")))
	intruder.send(protocol.NewControl(protocol.Hello))

	require.Eventually(t, func() bool { return util.Stats.Unauthorized.Load()-before >= 2 },
		time.Second, 10*time.Millisecond)
	expectNoFrame(t, a.dev, 200*time.Millisecond)

	// the real peer still gets through
	require.NoError(t, b.dev.Inject([]byte("genuine")))
	expectFrame(t, a.dev, []byte("genuine"))
}

// TestWireProtocolAgainstRawPeer drives a session by hand through the
// handshake, liveness and malformed input.
func TestWireProtocolAgainstRawPeer(t *testing.T) {
	lan := newLAN(t, hostA, hostB)

	raw := newRawPeer(t, lan[hostB], hostB, hostA)
	a := start(t, lan[hostA], hostA, hostB)

	raw.expectControl(protocol.Hello)

	malformed := util.Stats.Malformed.Load()
	raw.sendRaw([]byte("garbage"))
	raw.send(&protocol.Packet{ID: 1, ProtocolID: 0x12345678, Payload: protocol.HelloAck})
	require.Eventually(t, func() bool { return util.Stats.Malformed.Load()-malformed >= 2 },
		time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return countEntries(a.sess.Status(), "Dropped malformed datagram") == 2 },
		time.Second, 10*time.Millisecond)
	assert.False(t, a.sess.Status().Connected())

	// data before the handshake is dropped
	raw.send(protocol.NewData([]byte("early")))
	expectNoFrame(t, a.dev, 200*time.Millisecond)

	raw.send(protocol.NewControl(protocol.HelloAck))
	waitConnected(t, a)

	raw.send(protocol.NewControl(protocol.Ping))
	raw.expectControl(protocol.Pong)

	raw.send(protocol.NewData([]byte("late")))
	expectFrame(t, a.dev, []byte("late"))

	// a restarted peer says Hello again and is acknowledged
	raw.send(protocol.NewControl(protocol.Hello))
	raw.expectControl(protocol.HelloAck)
	assert.True(t, a.sess.Status().Connected())
}

// TestShutdownMidRelay shuts a session down while frames are flowing and
// checks the resources are released and reusable.
func TestShutdownMidRelay(t *testing.T) {
	lan := newLAN(t, hostA, hostB)

	a := start(t, lan[hostA], hostA, hostB)
	b := start(t, lan[hostB], hostB, hostA)
	waitConnected(t, a, b)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := a.dev.Inject([]byte("traffic")); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	var delivered atomic.Int64
	drainStop, drained := make(chan struct{}), make(chan struct{})
	go func() {
		defer close(drained)
		for {
			select {
			case <-b.dev.Written():
				delivered.Add(1)
			case <-drainStop:
				return
			}
		}
	}()

	time.Sleep(50 * time.Millisecond)
	Shutdown(a.sess)
	close(stop)
	wg.Wait()

	// let datagrams already on the wire land, then watch b on our own
	time.Sleep(100 * time.Millisecond)
	close(drainStop)
	<-drained
	assert.Positive(t, delivered.Load())

	framesOut := util.Stats.FramesOut.Load()
	assert.ErrorIs(t, a.dev.Inject([]byte("after shutdown")), os.ErrClosed)
	expectNoFrame(t, b.dev, 200*time.Millisecond)
	assert.Equal(t, framesOut, util.Stats.FramesOut.Load())

	assert.NoError(t, a.sess.Err())
	assert.False(t, a.sess.Status().Connected())
	assert.True(t, a.sess.Status().ShutdownRequested())
	kinds := a.rec.kinds()
	assert.Equal(t, status.EventDisconnected, kinds[len(kinds)-1])

	select {
	case <-a.dev.Closed():
	default:
		t.Fatal("device left open after shutdown")
	}

	// shutting down twice is harmless
	a.sess.Shutdown()

	// the address is free for the next session
	again := start(t, lan[hostA], hostA, hostB)
	waitConnected(t, again)
}

// TestTransientReadErrorsKeepSessionUp feeds frames larger than the read
// buffer and checks each failed read is logged, paced and survived.
func TestTransientReadErrorsKeepSessionUp(t *testing.T) {
	lan := newLAN(t, hostA, hostB)

	a := start(t, lan[hostA], hostA, hostB, func(o *Options) { o.FrameSize = 8 })
	b := start(t, lan[hostB], hostB, hostA)
	waitConnected(t, a, b)

	const oversize = 3
	began := time.Now()
	for range oversize {
		require.NoError(t, a.dev.Inject([]byte("far too long for eight bytes")))
	}
	require.NoError(t, a.dev.Inject([]byte("short")))

	expectFrame(t, b.dev, []byte("short"))
	assert.GreaterOrEqual(t, time.Since(began).Milliseconds(), (oversize * readErrorBackoff).Milliseconds())
	assert.Equal(t, oversize, countEntries(a.sess.Status(), "Read error on mem-"+hostA))

	assert.NoError(t, a.sess.Err())
	assert.True(t, a.sess.Status().Connected())
	select {
	case <-a.sess.Done():
		t.Fatal("session ended on a transient read error")
	default:
	}
}

// TestTransientWriteErrorKeepsSessionUp drops a frame the interface refuses
// and keeps relaying the next one.
func TestTransientWriteErrorKeepsSessionUp(t *testing.T) {
	lan := newLAN(t, hostA, hostB)

	dev := &flakyDevice{Memory: device.NewMemory("flaky0", false)}
	dev.failures.Store(1)

	raw := newRawPeer(t, lan[hostB], hostB, hostA)
	a := start(t, lan[hostA], hostA, hostB, func(o *Options) {
		o.OpenDevice = func(device.Config) (device.Device, error) { return dev, nil }
	})

	raw.expectControl(protocol.Hello)
	raw.send(protocol.NewControl(protocol.HelloAck))
	waitConnected(t, a)

	raw.send(protocol.NewData([]byte("refused")))
	require.Eventually(t, func() bool { return countEntries(a.sess.Status(), "Write error on flaky0") == 1 },
		time.Second, 10*time.Millisecond)

	raw.send(protocol.NewData([]byte("accepted")))
	expectFrame(t, dev.Memory, []byte("accepted"))
	assert.NoError(t, a.sess.Err())
	assert.True(t, a.sess.Status().Connected())
}

func TestContextCancelEndsSession(t *testing.T) {
	lan := newLAN(t, hostA)
	ctx, cancel := context.WithCancel(context.Background())

	dev := device.NewMemory("mem0", false)
	sess, err := Connect(ctx, Endpoint{BindAddr: hostA + ":9000", PeerAddr: hostB + ":9000", VirtualIP: hostA},
		options(lan[hostA], dev, &recorder{}))
	require.NoError(t, err)

	cancel()
	waitDone(t, sess)
	assert.NoError(t, sess.Err())
}

// TestFatalDeviceError closes the interface underneath a running session.
func TestFatalDeviceError(t *testing.T) {
	lan := newLAN(t, hostA)
	a := start(t, lan[hostA], hostA, hostB)

	require.NoError(t, a.dev.Close())
	waitDone(t, a.sess)

	assert.ErrorIs(t, a.sess.Err(), ErrFatalIO)
	assert.Equal(t, []status.EventKind{status.EventError, status.EventDisconnected}, a.rec.kinds())
}

func TestConnectBindErrors(t *testing.T) {
	lan := newLAN(t, hostA)
	boom := errors.New("no tun for you")

	testCases := []struct {
		name   string
		ep     Endpoint
		open   func(device.Config) (device.Device, error)
		devOut bool // device must have been closed again
	}{
		{
			name: "address not on this host",
			ep:   Endpoint{BindAddr: "10.0.0.9:9000", PeerAddr: hostB + ":9000", VirtualIP: hostA},
		},
		{
			name: "unresolvable peer",
			ep:   Endpoint{BindAddr: hostA + ":9000", PeerAddr: "not a host", VirtualIP: hostA},
		},
		{
			name: "invalid virtual IP",
			ep:   Endpoint{BindAddr: hostA + ":9000", PeerAddr: hostB + ":9000", VirtualIP: "10.0.0"},
		},
		{
			name: "interface unavailable",
			ep:   Endpoint{BindAddr: hostA + ":9000", PeerAddr: hostB + ":9000", VirtualIP: hostA},
			open: func(device.Config) (device.Device, error) { return nil, boom },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{}
			dev := device.NewMemory("mem0", false)
			opts := options(lan[hostA], dev, rec)
			if tc.open != nil {
				opts.OpenDevice = tc.open
			}

			sess, err := Connect(context.Background(), tc.ep, opts)
			require.Error(t, err)
			assert.Nil(t, sess)
			assert.ErrorIs(t, err, ErrBind)
			assert.Equal(t, []status.EventKind{status.EventError}, rec.kinds())
		})
	}
}

// TestConnectReleasesDeviceOnSocketFailure checks that a failed bind does not
// leak the already opened interface.
func TestConnectReleasesDeviceOnSocketFailure(t *testing.T) {
	lan := newLAN(t, hostA)
	dev := device.NewMemory("mem0", false)

	_, err := Connect(context.Background(),
		Endpoint{BindAddr: "10.0.0.9:9000", PeerAddr: hostB + ":9000", VirtualIP: hostA},
		options(lan[hostA], dev, &recorder{}))
	require.ErrorIs(t, err, ErrBind)

	select {
	case <-dev.Closed():
	default:
		t.Fatal("device left open after failed bind")
	}
}

func TestStatusLogIsShared(t *testing.T) {
	lan := newLAN(t, hostA)
	st := status.New(nil)

	a := start(t, lan[hostA], hostA, hostB, func(o *Options) { o.Status = st })
	assert.Same(t, st, a.sess.Status())
	require.Eventually(t, func() bool { return len(st.Entries()) > 0 }, time.Second, 10*time.Millisecond)
	assert.Contains(t, st.Entries()[0], "Connecting to "+hostB+":9000")
}
