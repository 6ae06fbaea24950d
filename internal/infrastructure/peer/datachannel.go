// Package peer wraps WebRTC peer connections behind the byte-channel
// interface transfer sessions run over. Signaling (offers, answers,
// candidates) travels through the coordination channel; this package only
// handles the data path.
package peer

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// ICEServer mirrors the configured STUN/TURN entries.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// DataChannel adapts a pion data channel to the transfer Channel interface.
type DataChannel struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	onMessage func(data []byte)
	mu        sync.RWMutex

	logger *zap.SugaredLogger
}

// NewPeerConnection builds a peer connection with the given ICE servers.
func NewPeerConnection(servers []ICEServer) (*webrtc.PeerConnection, error) {
	cfg := webrtc.Configuration{}
	for _, s := range servers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return pc, nil
}

// NewDataChannel opens an ordered, reliable data channel on pc. The offering
// side calls this; the answering side uses WrapDataChannel from
// pc.OnDataChannel.
func NewDataChannel(pc *webrtc.PeerConnection, label string, logger *zap.SugaredLogger) (*DataChannel, error) {
	ordered := true
	dc, err := pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("create data channel %q: %w", label, err)
	}
	return wrap(pc, dc, logger), nil
}

// WrapDataChannel adapts an incoming data channel.
func WrapDataChannel(pc *webrtc.PeerConnection, dc *webrtc.DataChannel, logger *zap.SugaredLogger) *DataChannel {
	return wrap(pc, dc, logger)
}

func wrap(pc *webrtc.PeerConnection, dc *webrtc.DataChannel, logger *zap.SugaredLogger) *DataChannel {
	ch := &DataChannel{pc: pc, dc: dc, logger: logger}

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		ch.mu.RLock()
		handler := ch.onMessage
		ch.mu.RUnlock()
		if handler != nil {
			handler(msg.Data)
		}
	})
	dc.OnClose(func() {
		logger.Infow("data channel closed", "label", dc.Label())
	})

	return ch
}

func (c *DataChannel) Send(data []byte) error {
	if err := c.dc.Send(data); err != nil {
		return fmt.Errorf("send on %q: %w", c.dc.Label(), err)
	}
	return nil
}

func (c *DataChannel) OnMessage(fn func(data []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

func (c *DataChannel) Close() error {
	if err := c.dc.Close(); err != nil {
		return err
	}
	return c.pc.Close()
}

// OnOpen registers a callback for when the channel becomes usable.
func (c *DataChannel) OnOpen(fn func()) {
	c.dc.OnOpen(fn)
}

func (c *DataChannel) Label() string {
	return c.dc.Label()
}
