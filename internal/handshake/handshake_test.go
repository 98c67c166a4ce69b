package handshake

import (
	"net"
	"testing"
	"time"
)

func TestCompareEndpointsIPv4OctetWise(t *testing.T) {
	cases := []struct {
		hostA string
		portA int
		hostB string
		portB int
		want  int // sign only
	}{
		{"10.0.0.1", 100, "10.0.0.2", 100, -1},
		{"10.0.0.5", 100, "10.0.0.1", 100, 1},
		{"10.0.0.1", 100, "10.0.0.1", 200, -1},
		{"10.0.0.1", 200, "10.0.0.1", 100, 1},
		{"10.0.0.1", 100, "10.0.0.1", 100, 0},
	}
	for _, c := range cases {
		got := compareEndpoints(c.hostA, c.portA, c.hostB, c.portB)
		if sign(got) != c.want {
			t.Errorf("compareEndpoints(%s:%d, %s:%d) = %d, want sign %d",
				c.hostA, c.portA, c.hostB, c.portB, got, c.want)
		}
	}
}

func TestCompareEndpointsHostnameFallback(t *testing.T) {
	if got := compareEndpoints("alpha", 1, "beta", 1); sign(got) != -1 {
		t.Errorf("compareEndpoints(alpha, beta) = %d, want negative", got)
	}
	if got := compareEndpoints("beta", 1, "alpha", 1); sign(got) != 1 {
		t.Errorf("compareEndpoints(beta, alpha) = %d, want positive", got)
	}
	if got := compareEndpoints("same", 5, "same", 9); sign(got) != -1 {
		t.Errorf("compareEndpoints(same:5, same:9) = %d, want negative", got)
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

// freePort asks the kernel for an unused TCP port on loopback and hands it
// back for a handshake test to bind to.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestRunEstablishesSymmetricChannel(t *testing.T) {
	portA := freePort(t)
	portB := freePort(t)

	cfgA := Config{
		Transport:    TransportTCP,
		LocalHost:    "127.0.0.1",
		ListenPort:   portA,
		PeerHost:     "127.0.0.1",
		PeerPort:     portB,
		PipeCapacity: 4096,
		Timeout:      5 * time.Second,
	}
	cfgB := cfgA
	cfgB.ListenPort = portB
	cfgB.PeerPort = portA
	cfgB.PipeCapacity = 8192

	type result struct {
		cap uint64
		err error
	}
	doneA := make(chan result, 1)
	doneB := make(chan result, 1)

	go func() {
		ch, err := Run(cfgA)
		if err != nil {
			doneA <- result{0, err}
			return
		}
		defer ch.Close()
		doneA <- result{ch.RemoteCap, nil}
	}()
	go func() {
		ch, err := Run(cfgB)
		if err != nil {
			doneB <- result{0, err}
			return
		}
		defer ch.Close()
		doneB <- result{ch.RemoteCap, nil}
	}()

	resA := <-doneA
	resB := <-doneB
	if resA.err != nil {
		t.Fatalf("side A: %v", resA.err)
	}
	if resB.err != nil {
		t.Fatalf("side B: %v", resB.err)
	}
	if resA.cap != 8192 {
		t.Errorf("side A learned remote capacity %d, want 8192", resA.cap)
	}
	if resB.cap != 4096 {
		t.Errorf("side B learned remote capacity %d, want 4096", resB.cap)
	}
}
