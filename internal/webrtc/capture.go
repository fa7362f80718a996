package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/rtp/codecs"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"

	"duoxme-bridge/internal/signaling"
)

// ErrCaptureInFlight is returned when a capture attempt starts while a
// previous one is still running. The door station ends the call when a
// second peer joins, so attempts are never overlapped.
var ErrCaptureInFlight = errors.New("frame capture already in progress")

const (
	protocolVersion = "0.8.2"

	defaultJoinTimeout   = 10 * time.Second
	defaultFrameTimeout  = 15 * time.Second
	defaultHangupTimeout = 5 * time.Second

	sampleBuilderDepth = 64
)

// Capturer joins a doorbell call over the vendor's signaling channel and
// captures a single decoded video frame as JPEG.
type Capturer struct {
	decoder FrameDecoder

	dial func(ctx context.Context, rawURL string) (*signaling.Client, error)

	joinTimeout   time.Duration
	frameTimeout  time.Duration
	hangupTimeout time.Duration

	mu sync.Mutex
}

func NewCapturer(decoder FrameDecoder) *Capturer {
	return &Capturer{
		decoder:       decoder,
		dial:          signaling.Dial,
		joinTimeout:   defaultJoinTimeout,
		frameTimeout:  defaultFrameTimeout,
		hangupTimeout: defaultHangupTimeout,
	}
}

// CaptureFrame connects to the given call room, negotiates a video-only
// consumer and returns the first decodable keyframe as JPEG bytes.
func (c *Capturer) CaptureFrame(ctx context.Context, roomID, socketURL, authToken, appToken string) ([]byte, error) {
	if !c.mu.TryLock() {
		return nil, ErrCaptureInFlight
	}
	defer c.mu.Unlock()

	sig, err := c.dial(ctx, socketURL)
	if err != nil {
		return nil, fmt.Errorf("connect signaling: %w", err)
	}
	defer c.hangup(sig)

	frameCh := make(chan []byte, 1)
	failCh := make(chan error, 1)
	fail := func(err error) {
		select {
		case failCh <- err:
		default:
		}
	}

	// The station emits end_up when it tears the call down on its side.
	sig.OnEvent("end_up", func([]json.RawMessage) {
		fail(errors.New("call ended by remote"))
	})

	joinArgs, err := sig.EmitWithAck(ctx, "join_call", c.joinTimeout, map[string]any{
		"appToken":         appToken,
		"roomId":           roomID,
		"fermaxOauthToken": authToken,
		"protocolVersion":  protocolVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("join call: %w", err)
	}
	join, err := decodeAck[joinResult](joinArgs)
	if err != nil {
		return nil, fmt.Errorf("join call: %w", err)
	}

	pc, err := newPeerConnection(join.ICEServers)
	if err != nil {
		return nil, fmt.Errorf("peer connection: %w", err)
	}
	defer pc.Close()

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		if state == pion.ICEConnectionStateFailed {
			fail(errors.New("ice connection failed"))
		}
	})
	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		if track.Kind() != pion.RTPCodecTypeVideo {
			return
		}
		go c.readTrack(ctx, track, frameCh, fail)
	})

	if err := c.handshake(ctx, sig, pc, join); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.frameTimeout)
	defer timer.Stop()
	select {
	case frame := <-frameCh:
		return frame, nil
	case err := <-failCh:
		return nil, err
	case <-timer.C:
		return nil, errors.New("timed out waiting for video frame")
	case <-sig.Done():
		return nil, errors.New("signaling connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handshake consumes the video producer, answers the synthesized offer and
// resumes the consumer so the station starts sending media.
func (c *Capturer) handshake(ctx context.Context, sig *signaling.Client, pc *pion.PeerConnection, join joinResult) error {
	transport := join.RecvTransportVideo

	consumeArgs, err := sig.EmitWithAck(ctx, "transport_consume", c.joinTimeout, map[string]any{
		"transportId":     transport.ID,
		"producerId":      join.ProducerIDVideo,
		"rtpCapabilities": rtpCapabilities,
	})
	if err != nil {
		return fmt.Errorf("consume video: %w", err)
	}
	consumer, err := decodeAck[consumerResult](consumeArgs)
	if err != nil {
		return fmt.Errorf("consume video: %w", err)
	}

	offer := pion.SessionDescription{
		Type: pion.SDPTypeOffer,
		SDP:  buildVideoOnlyOffer(transport, consumer.RTPParameters),
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	gatherComplete := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return ctx.Err()
	}

	local := pc.LocalDescription()
	if local == nil {
		return errors.New("no local description after gathering")
	}
	fingerprints := answerFingerprints(local.SDP)
	if len(fingerprints) == 0 {
		return errors.New("no dtls fingerprints in local answer")
	}

	err = sig.Emit("transport_connect", map[string]any{
		"transportId": transport.ID,
		"dtlsParameters": DTLSParameters{
			Role:         "client",
			Fingerprints: fingerprints,
		},
	})
	if err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	if err := sig.Emit("consumer_resume", map[string]any{"consumerId": consumer.ID}); err != nil {
		return fmt.Errorf("resume consumer: %w", err)
	}
	return nil
}

// readTrack reassembles H.264 access units from RTP and decodes the first
// keyframe it sees.
func (c *Capturer) readTrack(ctx context.Context, track *pion.TrackRemote, frameCh chan<- []byte, fail func(error)) {
	builder := samplebuilder.New(sampleBuilderDepth, &codecs.H264Packet{}, track.Codec().ClockRate)
	var stream h264Stream
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		builder.Push(pkt)
		for {
			sample := builder.Pop()
			if sample == nil {
				break
			}
			if !stream.scan(sample.Data) {
				continue
			}
			jpeg, err := c.decoder.DecodeJPEG(ctx, stream.withParameterSets(sample.Data))
			if err != nil {
				log.Printf("frame decode failed: %v", err)
				fail(fmt.Errorf("decode frame: %w", err))
				return
			}
			select {
			case frameCh <- jpeg:
			default:
			}
			return
		}
	}
}

// hangup tells the station we are leaving and waits briefly for the ack so
// the call slot frees up before the socket drops.
func (c *Capturer) hangup(sig *signaling.Client) {
	select {
	case <-sig.Done():
	default:
		ctx, cancel := context.WithTimeout(context.Background(), c.hangupTimeout)
		defer cancel()
		if _, err := sig.EmitWithAck(ctx, "hang_up", c.hangupTimeout, "{}"); err != nil {
			log.Printf("hang_up ack not received: %v", err)
		}
	}
	sig.Close()
}

func newPeerConnection(servers []ICEServer) (*pion.PeerConnection, error) {
	config := pion.Configuration{}
	for _, s := range servers {
		urls, err := decodeICEURLs(s.URLs)
		if err != nil || len(urls) == 0 {
			continue
		}
		ice := pion.ICEServer{URLs: urls, Username: s.Username}
		if s.Credential != "" {
			ice.Credential = s.Credential
		}
		config.ICEServers = append(config.ICEServers, ice)
	}
	return pion.NewPeerConnection(config)
}

// decodeICEURLs accepts both the single-string and list forms the server
// uses for ice server urls.
func decodeICEURLs(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, err
	}
	return many, nil
}

// decodeAck decodes the first ack argument's result envelope.
func decodeAck[T any](args []json.RawMessage) (T, error) {
	var env ackEnvelope[T]
	if len(args) == 0 {
		return env.Result, errors.New("empty acknowledgment")
	}
	if err := json.Unmarshal(args[0], &env); err != nil {
		return env.Result, fmt.Errorf("decode acknowledgment: %w", err)
	}
	return env.Result, nil
}
