package encoder

import (
	"sync"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"
)

// clientRingBytes sizes each client's private packet ring. It holds several
// seconds of compressed output at broadcast bitrates.
const clientRingBytes = 512 * 1024

// Client is one attachment to an encoder's output chain. Each attached
// streamer or recorder owns exactly one Client and consumes its private
// packet ring at its own pace.
type Client struct {
	enc *Encoder

	// mu guards the ring so the encoder can expire or reset buffered
	// packets without racing a concurrent read.
	mu   sync.Mutex
	ring *ringbuffer.RingBuffer

	perfWarning atomic.Bool

	hdrScratch [HeaderSize]byte
}

func newClient(enc *Encoder) *Client {
	return &Client{
		enc:  enc,
		ring: ringbuffer.New(clientRingBytes),
	}
}

// Encoder returns the encoder this client is attached to.
func (c *Client) Encoder() *Encoder { return c.enc }

// writePacket appends one whole packet to the ring. It returns false without
// writing anything when the packet does not fit, so a saturated client never
// receives a truncated packet.
func (c *Client) writePacket(h *PacketHeader, payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := HeaderSize + len(payload)
	if c.ring.Free() < total {
		c.perfWarning.Store(true)
		return false
	}
	buf := appendHeader(c.hdrScratch[:0], h)
	c.ring.Write(buf)
	if len(payload) > 0 {
		c.ring.Write(payload)
	}
	return true
}

// GetPacket pops the oldest whole packet, or returns nil when the ring holds
// none. A sync marker mismatch means the ring is corrupt; the ring is reset
// and the error returned.
func (c *Client) GetPacket() (*Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ring.Length() < HeaderSize {
		return nil, nil
	}
	if _, err := c.ring.Read(c.hdrScratch[:]); err != nil {
		return nil, err
	}
	pkt := &Packet{}
	if err := parseHeader(c.hdrScratch[:], &pkt.Header); err != nil {
		c.ring.Reset()
		return nil, err
	}
	if pkt.Header.DataSize > 0 {
		pkt.Data = make([]byte, pkt.Header.DataSize)
		if _, err := c.ring.Read(pkt.Data); err != nil {
			return nil, err
		}
	}
	return pkt, nil
}

// Pending reports whether at least one whole packet header is buffered.
func (c *Client) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ring.Length() >= HeaderSize
}

// SetFlush asks the owning encoder to close out the current segment and
// returns the serial in effect when the request was made. The caller observes
// the cut point as the first packet whose serial exceeds the returned value.
func (c *Client) SetFlush() uint32 {
	return c.enc.requestFlush()
}

// PerformanceWarning reports and clears the overflow indicator.
func (c *Client) PerformanceWarning() bool {
	return c.perfWarning.Swap(false)
}

// reset discards all buffered packets.
func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ring.Reset()
}
