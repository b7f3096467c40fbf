package rtc

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/studyroom-signaling/config"
)

type stubMedia struct {
	onEnded func()
	closed  bool
}

func (m *stubMedia) Tracks(audio, video bool) ([]webrtc.TrackLocal, error) {
	var tracks []webrtc.TrackLocal
	if audio {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "stub")
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if video {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "stub")
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

func (m *stubMedia) ScreenTrack(onEnded func()) (webrtc.TrackLocal, error) {
	m.onEnded = onEnded
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "stub")
}

func (m *stubMedia) Close() error {
	m.closed = true
	return nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *stubMedia) {
	t.Helper()
	media := &stubMedia{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	o := NewOrchestrator(config.ICEConfig{}, media, logger)
	t.Cleanup(o.CloseAll)
	return o, media
}

// remoteOffer produces a real offer the way another participant would.
func remoteOffer(t *testing.T) (*webrtc.PeerConnection, string) {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("remote peer connection: %v", err)
	}
	t.Cleanup(func() { pc.Close() })
	if _, err := pc.CreateDataChannel("control", nil); err != nil {
		t.Fatalf("data channel: %v", err)
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("remote offer: %v", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("remote local description: %v", err)
	}
	return pc, offer.SDP
}

func TestCreatePeerConnectionIdempotent(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	if err := o.CreatePeerConnection("bob", true); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := o.CreatePeerConnection("bob", false); err != nil {
		t.Fatalf("repeat create: %v", err)
	}
	if o.PeerCount() != 1 {
		t.Fatalf("peer count = %d, want 1", o.PeerCount())
	}
}

func TestClosePeerConnectionIdempotent(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	if err := o.CreatePeerConnection("bob", true); err != nil {
		t.Fatalf("create: %v", err)
	}
	o.ClosePeerConnection("bob")
	o.ClosePeerConnection("bob")
	o.ClosePeerConnection("never-existed")
	if o.HasPeer("bob") {
		t.Fatal("peer still present after close")
	}
}

func TestOperationsOnUnknownPeer(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	if _, err := o.CreateOffer("ghost"); !errors.Is(err, ErrPeerNotFound) {
		t.Fatalf("CreateOffer err = %v", err)
	}
	if _, err := o.CreateAnswer("ghost", "sdp"); !errors.Is(err, ErrPeerNotFound) {
		t.Fatalf("CreateAnswer err = %v", err)
	}
	if err := o.SetRemoteAnswer("ghost", "sdp"); !errors.Is(err, ErrPeerNotFound) {
		t.Fatalf("SetRemoteAnswer err = %v", err)
	}
	if err := o.AddIceCandidate("ghost", webrtc.ICECandidateInit{}); !errors.Is(err, ErrPeerNotFound) {
		t.Fatalf("AddIceCandidate err = %v", err)
	}
}

func TestCreateOfferProducesSDP(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	if err := o.StartLocalStream(true, true); err != nil {
		t.Fatalf("start stream: %v", err)
	}
	if err := o.CreatePeerConnection("bob", true); err != nil {
		t.Fatalf("create: %v", err)
	}
	sdp, err := o.CreateOffer("bob")
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if sdp == "" {
		t.Fatal("empty offer SDP")
	}
}

func TestAnswerHeldUntilStreamStarts(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	_, offerSDP := remoteOffer(t)

	if err := o.CreatePeerConnection("alice", false); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := o.CreateAnswer("alice", offerSDP)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !res.Pending || res.SDP != "" {
		t.Fatalf("result = %+v, want pending", res)
	}

	type answer struct{ peerID, sdp string }
	var produced []answer
	o.OnAnswerCreated = func(peerID, sdp string) {
		produced = append(produced, answer{peerID, sdp})
	}

	if err := o.StartLocalStream(true, false); err != nil {
		t.Fatalf("start stream: %v", err)
	}
	if len(produced) != 1 {
		t.Fatalf("answers produced = %d, want 1", len(produced))
	}
	if produced[0].peerID != "alice" || produced[0].sdp == "" {
		t.Fatalf("answer = %+v", produced[0])
	}

	// A second start must not re-answer anything.
	if err := o.StartLocalStream(true, false); err != nil {
		t.Fatalf("repeat start: %v", err)
	}
	if len(produced) != 1 {
		t.Fatalf("answers produced after repeat start = %d, want 1", len(produced))
	}
}

func TestAnswerImmediateWhenStreamStarted(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	_, offerSDP := remoteOffer(t)

	if err := o.StartLocalStream(true, true); err != nil {
		t.Fatalf("start stream: %v", err)
	}
	if err := o.CreatePeerConnection("alice", false); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := o.CreateAnswer("alice", offerSDP)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if res.Pending || res.SDP == "" {
		t.Fatalf("result = %+v, want immediate answer", res)
	}
}

func TestIceCandidateBufferedBeforeRemoteDescription(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	_, offerSDP := remoteOffer(t)

	if err := o.StartLocalStream(true, false); err != nil {
		t.Fatalf("start stream: %v", err)
	}
	if err := o.CreatePeerConnection("alice", false); err != nil {
		t.Fatalf("create: %v", err)
	}

	cand := webrtc.ICECandidateInit{
		Candidate: "candidate:1 1 UDP 2130706431 127.0.0.1 54400 typ host",
	}
	if err := o.AddIceCandidate("alice", cand); err != nil {
		t.Fatalf("buffered candidate rejected: %v", err)
	}

	// The buffered candidate drains when the remote description lands.
	if _, err := o.CreateAnswer("alice", offerSDP); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := o.AddIceCandidate("alice", cand); err != nil {
		t.Fatalf("direct candidate rejected: %v", err)
	}
}

func TestScreenShareLifecycle(t *testing.T) {
	o, media := newTestOrchestrator(t)

	if err := o.CreatePeerConnection("bob", true); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := o.StartScreenShare(); err != nil {
		t.Fatalf("start share: %v", err)
	}
	if !o.Sharing() {
		t.Fatal("not sharing after start")
	}
	if err := o.StartScreenShare(); err != nil {
		t.Fatalf("repeat start: %v", err)
	}

	o.StopScreenShare()
	if o.Sharing() {
		t.Fatal("still sharing after stop")
	}
	o.StopScreenShare()

	// Capture ending on its own tears the share down too.
	if err := o.StartScreenShare(); err != nil {
		t.Fatalf("restart share: %v", err)
	}
	stopped := false
	o.OnScreenShareStopped = func() { stopped = true }
	media.onEnded()
	if o.Sharing() {
		t.Fatal("still sharing after capture ended")
	}
	if !stopped {
		t.Fatal("OnScreenShareStopped not fired")
	}
}

// syncEndMedia ends the capture from inside ScreenTrack itself, the way
// a user dismissing the capture picker immediately would.
type syncEndMedia struct {
	stubMedia
}

func (m *syncEndMedia) ScreenTrack(onEnded func()) (webrtc.TrackLocal, error) {
	onEnded()
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "stub")
}

func TestScreenShareCaptureEndingAtOnce(t *testing.T) {
	media := &syncEndMedia{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	o := NewOrchestrator(config.ICEConfig{}, media, logger)
	t.Cleanup(o.CloseAll)

	stopped := false
	o.OnScreenShareStopped = func() { stopped = true }

	done := make(chan error, 1)
	go func() { done <- o.StartScreenShare() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start share: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("StartScreenShare never returned")
	}

	if o.Sharing() {
		t.Fatal("sharing a capture that already ended")
	}
	if !stopped {
		t.Fatal("OnScreenShareStopped not fired")
	}
}

func TestToggleFlags(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	if !o.AudioEnabled() || !o.VideoEnabled() {
		t.Fatal("media not enabled by default")
	}
	o.ToggleAudio(false)
	o.ToggleVideo(false)
	if o.AudioEnabled() || o.VideoEnabled() {
		t.Fatal("toggles not recorded")
	}
}

func TestCloseAllReleasesMedia(t *testing.T) {
	o, media := newTestOrchestrator(t)

	if err := o.CreatePeerConnection("bob", true); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := o.StartLocalStream(true, false); err != nil {
		t.Fatalf("start stream: %v", err)
	}

	o.CloseAll()
	if o.PeerCount() != 0 {
		t.Fatalf("peer count = %d after CloseAll", o.PeerCount())
	}
	if o.Started() {
		t.Fatal("still started after CloseAll")
	}
	if !media.closed {
		t.Fatal("media source not released")
	}
}
