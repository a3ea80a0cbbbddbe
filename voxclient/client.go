// Package voxclient composes the L0–L2 layers into the client endpoint:
// one authenticated TCP data controller, a UDP send/receive pair, and an
// audio pipeline driving a capture/playback Device. Grounded on the
// teacher's voice.Session, which wraps a voicegateway.Gateway and a
// udp.Manager behind one struct the rest of the application drives.
package voxclient

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/wiresong/voxhub/audio"
	"github.com/wiresong/voxhub/codec"
	"github.com/wiresong/voxhub/internal/backoff"
	"github.com/wiresong/voxhub/recorder"
	"github.com/wiresong/voxhub/transport"
	"github.com/wiresong/voxhub/wire"
)

// NewEncoderFn/NewDecoderFn let callers plug in the real opuscodec adapter
// without this package importing cgo directly.
type NewEncoderFn func() (codec.Encoder, error)
type NewDecoderFn func() (codec.Decoder, error)

// Client is the client-side endpoint.
type Client struct {
	log *slog.Logger

	keys    *transport.KeyManager
	dataCtl *transport.Controller
	udpCtl  *transport.Controller

	device audio.Device

	gateParams audio.GateParams
	compParams audio.CompressorParams
	newDecoder NewDecoderFn

	paramsMu    sync.Mutex
	outPipeline *audio.Pipeline

	inMu        sync.Mutex
	inPipelines map[wire.ClientID]*audio.Pipeline

	mux *audio.Muxer

	// record, if set, receives a copy of every mixed playback frame. This
	// is the supplemented recorder.Writer collaborator: optional, and
	// fed from the mixer's output rather than the per-peer inbound
	// pipelines, since what's worth keeping is what the listener actually
	// heard.
	record recorder.Writer

	clientID wire.ClientID
	sequence uint16

	host     string
	dataPort int
}

// Options configures a new Client.
type Options struct {
	Host         string
	DataPort     int
	Device       audio.Device
	Gate         audio.GateParams
	Comp         audio.CompressorParams
	NewEncoder   NewEncoderFn
	NewDecoder   NewDecoderFn
	AudioLimiter *rate.Limiter
	Log          *slog.Logger

	// Record, if non-nil, receives a copy of every mixed playback frame.
	Record recorder.Writer
}

// New builds a Client ready to Connect.
func New(opts Options) *Client {
	keys := transport.NewKeyManager()
	dataCtl := transport.NewController(transport.ModeTCP, transport.RoleClient, keys, nil)
	udpCtl := transport.NewController(transport.ModeUDP, transport.RoleClient, keys, opts.AudioLimiter)
	dataCtl.SetLog(opts.Log)
	udpCtl.SetLog(opts.Log)

	c := &Client{
		log:         opts.Log,
		keys:        keys,
		dataCtl:     dataCtl,
		udpCtl:      udpCtl,
		device:      opts.Device,
		gateParams:  opts.Gate,
		compParams:  opts.Comp,
		newDecoder:  opts.NewDecoder,
		inPipelines: make(map[wire.ClientID]*audio.Pipeline),
		mux:         audio.NewMuxer(opts.Log),
		record:      opts.Record,
		host:        opts.Host,
		dataPort:    opts.DataPort,
	}
	c.outPipeline = audio.NewPipeline(
		audio.NewNoiseGate(opts.Gate),
		audio.NewCompressor(opts.Comp),
		audio.NewOpusEncodeStage(opts.NewEncoder, opts.Log),
	)
	return c
}

// inboundPipeline returns (building if necessary) the decode→jitter chain
// for one remote peer. Built fresh for each peer so each peer's jitter heap
// and decoder are independent, per spec.md's per-peer playback ordering.
func (c *Client) inboundPipeline(from wire.ClientID) *audio.Pipeline {
	c.inMu.Lock()
	defer c.inMu.Unlock()
	if p, ok := c.inPipelines[from]; ok {
		return p
	}
	p := audio.NewPipeline(
		audio.NewOpusDecodeStage(c.newDecoder, c.log),
		audio.NewJitterBuffer(),
	)
	c.inPipelines[from] = p
	return p
}

// Connect runs the TCP handshake, registers for UDP audio, and starts the
// background read loops. It retries the TCP dial with exponential backoff
// (per spec.md §9's flagged hot-loop reconnect fix) until ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	timer := backoff.NewTimer(200*time.Millisecond, 10*time.Second)
	defer timer.Stop()

	for {
		if err := c.dataCtl.Connect(c.host, c.dataPort); err != nil {
			select {
			case <-timer.Next():
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		break
	}

	c.dataCtl.Start(ctx)

	conn, ok := c.dataCtl.SoleConn()
	if !ok {
		return errors.New("voxclient: no TCP connection after Connect")
	}

	id, err := c.dataCtl.ClientHandshake(ctx, conn)
	if err != nil {
		return errors.Wrap(err, "voxclient: handshake failed")
	}
	c.clientID = id

	if err := c.udpCtl.Connect(c.host, c.dataPort); err != nil {
		return errors.Wrap(err, "voxclient: open UDP socket")
	}
	// Stamp the UDP controller with our own identity so it decrypts
	// relayed audio under our key regardless of which peer sent it,
	// mirroring client.py's udp_send.client_id/udp_recv.client_id
	// assignment right after the handshake.
	c.udpCtl.SetSelfID(id)
	c.udpCtl.Start(ctx)

	localUDP := c.udpCtl.LocalAddr()
	udpAddr, ok := localUDP.(*net.UDPAddr)
	if !ok {
		return errors.New("voxclient: UDP local address has unexpected type")
	}
	portPayload := make([]byte, 2)
	binary.BigEndian.PutUint16(portPayload, uint16(udpAddr.Port))
	cid := c.clientID
	if err := c.dataCtl.SendPacket(wire.OpRegisterUDP, portPayload, transport.SendOptions{ClientID: &cid}); err != nil {
		return errors.Wrap(err, "voxclient: send REGISTER_UDP")
	}

	go c.controlLoop(ctx)

	return nil
}

// controlLoop watches the TCP post-auth queue for SET_GATE/SET_COMP
// parameter pushes and rebuilds the outbound pipeline in place.
func (c *Client) controlLoop(ctx context.Context) {
	for {
		entry, err := c.dataCtl.GetPacket(ctx, func(e *transport.Entry) bool {
			return e.Packet.Opcode == wire.OpSetGate || e.Packet.Opcode == wire.OpSetComp
		}, false)
		if err != nil {
			return
		}

		c.paramsMu.Lock()
		switch entry.Packet.Opcode {
		case wire.OpSetGate:
			if gp, ok := audio.DecodeGateParams(entry.Packet.Payload); ok {
				c.gateParams = gp
			}
		case wire.OpSetComp:
			if cp, ok := audio.DecodeCompressorParams(entry.Packet.Payload); ok {
				c.compParams = cp
			}
		}
		c.outPipeline.Stages[0] = audio.NewNoiseGate(c.gateParams)
		c.outPipeline.Stages[1] = audio.NewCompressor(c.compParams)
		c.paramsMu.Unlock()
	}
}

// CaptureLoop reads 256-sample frames from the device, runs them through
// the outbound pipeline, and transmits whatever survives. Runs until ctx is
// done or the device returns an error.
func (c *Client) CaptureLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := c.device.Capture()
		if err != nil {
			return errors.Wrap(err, "voxclient: device capture")
		}

		amp := audio.ComputeRMS(frame)
		pcm := encodePCM16LE(frame)
		seq := c.sequence
		c.sequence++

		c.paramsMu.Lock()
		out, ok := c.outPipeline.Run(pcm, &audio.Context{Sequence: seq, Amplitude: amp})
		c.paramsMu.Unlock()
		if !ok {
			continue
		}

		payload := make([]byte, 2+len(out))
		binary.BigEndian.PutUint16(payload[:2], amp)
		copy(payload[2:], out)

		cid := c.clientID
		_ = c.udpCtl.SendPacket(wire.OpAudio, payload, transport.SendOptions{Sequence: &seq, ClientID: &cid})
	}
}

// InboundLoop drains decoded AUDIO packets off the UDP controller, threads
// each through its origin's decode/jitter pipeline, and writes survivors
// into the playback muxer.
func (c *Client) InboundLoop(ctx context.Context) error {
	for {
		entry, err := c.udpCtl.GetPacket(ctx, func(e *transport.Entry) bool {
			return e.Packet.Opcode == wire.OpAudio
		}, false)
		if err != nil {
			return err
		}
		if len(entry.Packet.Payload) < 2 {
			continue
		}

		body := entry.Packet.Payload[2:]
		pipeline := c.inboundPipeline(entry.Packet.Origin)
		pcm, ok := pipeline.Run(body, &audio.Context{Sequence: entry.Packet.Sequence})
		if !ok {
			continue
		}
		c.mux.Write(entry.Packet.Origin, decodePCM16LE(pcm))
	}
}

// PlaybackLoop drains the muxer and writes summed frames to the device
// until ctx is done.
func (c *Client) PlaybackLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		frame := c.mux.Read()
		if frame == nil {
			return nil // muxer closed
		}
		samples := decodePCM16LE(frame)
		if c.record != nil {
			if err := c.record.WriteFrame(samples); err != nil && c.log != nil {
				c.log.Warn("voxclient: session recording write failed", "error", err)
			}
		}
		if err := c.device.Play(samples); err != nil {
			return errors.Wrap(err, "voxclient: device play")
		}
	}
}

// Close tears down both controllers, the muxer, and the recorder (if any).
func (c *Client) Close() error {
	c.mux.Close()
	if c.record != nil {
		_ = c.record.Close()
	}
	err1 := c.dataCtl.Close()
	err2 := c.udpCtl.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func encodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func decodePCM16LE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}
