// Package rtc manages one peer connection per remote participant: offer and
// answer negotiation, ICE exchange, local media publication and screen share.
package rtc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/studyroom-signaling/config"
)

var ErrPeerNotFound = errors.New("no peer connection for participant")

// SDPResult is the outcome of CreateAnswer. When the local stream has not
// started yet the offer is held and Pending is set; the answer is produced
// later by StartLocalStream and delivered through OnAnswerCreated.
type SDPResult struct {
	SDP     string
	Pending bool
}

type peerState struct {
	pc        *webrtc.PeerConnection
	initiator bool

	// pendingOffer holds a remote offer received before local media was
	// ready. Applied exactly once when the stream starts.
	pendingOffer string

	// queued ICE candidates that arrived before the remote description.
	queued    []webrtc.ICECandidateInit
	remoteSet bool

	senders      []*webrtc.RTPSender
	screenSender *webrtc.RTPSender
}

// Orchestrator owns every peer connection of one session. All exported
// methods are safe for concurrent use.
type Orchestrator struct {
	cfg   webrtc.Configuration
	media MediaSource
	log   *slog.Logger

	mu           sync.Mutex
	peers        map[string]*peerState
	started      bool
	localTracks  []webrtc.TrackLocal
	audioEnabled bool
	videoEnabled bool
	sharing      bool

	// Callbacks are invoked from pion goroutines and from the method that
	// triggered them; set them before creating peer connections.
	OnIceCandidate          func(peerID string, candidate webrtc.ICECandidateInit)
	OnAnswerCreated         func(peerID, sdp string)
	OnRemoteTrack           func(peerID string, track *webrtc.TrackRemote)
	OnConnectionStateChange func(peerID string, state webrtc.PeerConnectionState)
	OnScreenShareStopped    func()
}

func NewOrchestrator(ice config.ICEConfig, media MediaSource, logger *slog.Logger) *Orchestrator {
	servers := []webrtc.ICEServer{}
	if ice.STUNServer != "" {
		servers = append(servers, webrtc.ICEServer{URLs: []string{ice.STUNServer}})
	}
	if ice.TURNServer != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{ice.TURNServer},
			Username:   ice.TURNUser,
			Credential: ice.TURNPass,
		})
	}
	return &Orchestrator{
		cfg:          webrtc.Configuration{ICEServers: servers},
		media:        media,
		log:          logger,
		peers:        make(map[string]*peerState),
		audioEnabled: true,
		videoEnabled: true,
	}
}

// CreatePeerConnection sets up the connection for a remote participant.
// Calling it again for the same participant is a no-op.
func (o *Orchestrator) CreatePeerConnection(peerID string, initiator bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.peers[peerID]; exists {
		return nil
	}

	pc, err := webrtc.NewPeerConnection(o.cfg)
	if err != nil {
		return fmt.Errorf("new peer connection for %s: %w", peerID, err)
	}

	ps := &peerState{pc: pc, initiator: initiator}
	o.peers[peerID] = ps

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if cb := o.OnIceCandidate; cb != nil {
			cb(peerID, c.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		o.log.Info("remote track",
			slog.String("peer_id", peerID),
			slog.String("kind", track.Kind().String()))
		if cb := o.OnRemoteTrack; cb != nil {
			cb(peerID, track)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		o.log.Info("connection state",
			slog.String("peer_id", peerID),
			slog.String("state", state.String()))
		if cb := o.OnConnectionStateChange; cb != nil {
			cb(peerID, state)
		}
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			o.ClosePeerConnection(peerID)
		}
	})

	if o.started {
		o.publishLocked(ps, peerID)
	}
	return nil
}

// ClosePeerConnection tears down one connection. Unknown participants are
// ignored so disconnect races are harmless.
func (o *Orchestrator) ClosePeerConnection(peerID string) {
	o.mu.Lock()
	ps, ok := o.peers[peerID]
	if ok {
		delete(o.peers, peerID)
	}
	o.mu.Unlock()

	if !ok {
		return
	}
	if err := ps.pc.Close(); err != nil {
		o.log.Warn("close peer connection", slog.String("peer_id", peerID), slog.Any("error", err))
	}
}

// CloseAll tears down every connection and releases the media source.
func (o *Orchestrator) CloseAll() {
	o.mu.Lock()
	peers := o.peers
	o.peers = make(map[string]*peerState)
	o.started = false
	o.sharing = false
	o.localTracks = nil
	o.mu.Unlock()

	for peerID, ps := range peers {
		if err := ps.pc.Close(); err != nil {
			o.log.Warn("close peer connection", slog.String("peer_id", peerID), slog.Any("error", err))
		}
	}
	if o.media != nil {
		if err := o.media.Close(); err != nil {
			o.log.Warn("close media source", slog.Any("error", err))
		}
	}
}

// CreateOffer produces and installs the local offer for a participant.
func (o *Orchestrator) CreateOffer(peerID string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ps, ok := o.peers[peerID]
	if !ok {
		return "", ErrPeerNotFound
	}

	offer, err := ps.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer for %s: %w", peerID, err)
	}
	if err := ps.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local offer for %s: %w", peerID, err)
	}
	return offer.SDP, nil
}

// CreateAnswer applies a remote offer and produces the answer. If the local
// stream has not started, the offer is held and the result is pending; the
// answer fires through OnAnswerCreated once media is up.
func (o *Orchestrator) CreateAnswer(peerID, offerSDP string) (SDPResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ps, ok := o.peers[peerID]
	if !ok {
		return SDPResult{}, ErrPeerNotFound
	}

	if !o.started {
		ps.pendingOffer = offerSDP
		o.log.Info("holding offer until local stream starts", slog.String("peer_id", peerID))
		return SDPResult{Pending: true}, nil
	}

	sdp, err := o.answerLocked(ps, peerID, offerSDP)
	if err != nil {
		return SDPResult{}, err
	}
	return SDPResult{SDP: sdp}, nil
}

func (o *Orchestrator) answerLocked(ps *peerState, peerID, offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := ps.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote offer for %s: %w", peerID, err)
	}
	ps.remoteSet = true
	o.flushCandidatesLocked(ps, peerID)

	answer, err := ps.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer for %s: %w", peerID, err)
	}
	if err := ps.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local answer for %s: %w", peerID, err)
	}
	return answer.SDP, nil
}

// SetRemoteAnswer installs the remote answer on an initiated connection and
// drains any ICE candidates that arrived early.
func (o *Orchestrator) SetRemoteAnswer(peerID, answerSDP string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ps, ok := o.peers[peerID]
	if !ok {
		return ErrPeerNotFound
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := ps.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer for %s: %w", peerID, err)
	}
	ps.remoteSet = true
	o.flushCandidatesLocked(ps, peerID)
	return nil
}

// AddIceCandidate applies a remote candidate, buffering it when the remote
// description is not installed yet.
func (o *Orchestrator) AddIceCandidate(peerID string, candidate webrtc.ICECandidateInit) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	ps, ok := o.peers[peerID]
	if !ok {
		return ErrPeerNotFound
	}

	if !ps.remoteSet {
		ps.queued = append(ps.queued, candidate)
		return nil
	}
	if err := ps.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add ice candidate for %s: %w", peerID, err)
	}
	return nil
}

func (o *Orchestrator) flushCandidatesLocked(ps *peerState, peerID string) {
	for _, c := range ps.queued {
		if err := ps.pc.AddICECandidate(c); err != nil {
			o.log.Warn("apply queued candidate", slog.String("peer_id", peerID), slog.Any("error", err))
		}
	}
	ps.queued = nil
}

// StartLocalStream acquires local media, publishes it into every existing
// connection and resolves held offers. Answers produced here are delivered
// through OnAnswerCreated, one per pending peer.
func (o *Orchestrator) StartLocalStream(audio, video bool) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil
	}

	tracks, err := o.media.Tracks(audio, video)
	if err != nil {
		o.mu.Unlock()
		return fmt.Errorf("acquire local tracks: %w", err)
	}
	o.localTracks = tracks
	o.started = true
	o.audioEnabled = audio
	o.videoEnabled = video

	type answered struct {
		peerID string
		sdp    string
	}
	var answers []answered

	for peerID, ps := range o.peers {
		o.publishLocked(ps, peerID)
		if ps.pendingOffer == "" {
			continue
		}
		offer := ps.pendingOffer
		ps.pendingOffer = ""
		sdp, err := o.answerLocked(ps, peerID, offer)
		if err != nil {
			// One broken peer must not block the rest.
			o.log.Error("answer held offer", slog.String("peer_id", peerID), slog.Any("error", err))
			continue
		}
		answers = append(answers, answered{peerID: peerID, sdp: sdp})
	}
	cb := o.OnAnswerCreated
	o.mu.Unlock()

	if cb != nil {
		for _, a := range answers {
			cb(a.peerID, a.sdp)
		}
	}
	return nil
}

func (o *Orchestrator) publishLocked(ps *peerState, peerID string) {
	for _, track := range o.localTracks {
		sender, err := ps.pc.AddTrack(track)
		if err != nil {
			o.log.Error("add local track", slog.String("peer_id", peerID), slog.Any("error", err))
			continue
		}
		ps.senders = append(ps.senders, sender)
	}
}

// ToggleAudio and ToggleVideo record the mute state. The media source owns
// actual sample production; these flags let the session report status.
func (o *Orchestrator) ToggleAudio(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.audioEnabled = enabled
}

func (o *Orchestrator) ToggleVideo(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.videoEnabled = enabled
}

func (o *Orchestrator) AudioEnabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.audioEnabled
}

func (o *Orchestrator) VideoEnabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.videoEnabled
}

// StartScreenShare publishes a screen track into every connection. If the
// capture ends on its own the share is torn down and OnScreenShareStopped
// fires.
func (o *Orchestrator) StartScreenShare() error {
	o.mu.Lock()
	if o.sharing {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	// The track is acquired outside the lock: a capture may end
	// synchronously, and its callback re-enters StopScreenShare.
	var (
		captureMu sync.Mutex
		ended     bool
		live      bool
	)
	track, err := o.media.ScreenTrack(func() {
		captureMu.Lock()
		ended = true
		wasLive := live
		captureMu.Unlock()
		if wasLive {
			o.StopScreenShare()
		}
		if cb := o.OnScreenShareStopped; cb != nil {
			cb()
		}
	})
	if err != nil {
		return fmt.Errorf("acquire screen track: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sharing {
		return nil
	}
	captureMu.Lock()
	if ended {
		// The capture was over before we could publish it.
		captureMu.Unlock()
		return nil
	}
	live = true
	captureMu.Unlock()

	for peerID, ps := range o.peers {
		sender, err := ps.pc.AddTrack(track)
		if err != nil {
			o.log.Error("add screen track", slog.String("peer_id", peerID), slog.Any("error", err))
			continue
		}
		ps.screenSender = sender
	}
	o.sharing = true
	return nil
}

// StopScreenShare removes the screen track from every connection. Safe to
// call when no share is active.
func (o *Orchestrator) StopScreenShare() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.sharing {
		return
	}
	for peerID, ps := range o.peers {
		if ps.screenSender == nil {
			continue
		}
		if err := ps.pc.RemoveTrack(ps.screenSender); err != nil {
			o.log.Warn("remove screen track", slog.String("peer_id", peerID), slog.Any("error", err))
		}
		ps.screenSender = nil
	}
	o.sharing = false
}

func (o *Orchestrator) Sharing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sharing
}

// HasPeer reports whether a connection exists for the participant.
func (o *Orchestrator) HasPeer(peerID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.peers[peerID]
	return ok
}

// PeerCount reports the number of live connections.
func (o *Orchestrator) PeerCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.peers)
}

// Started reports whether local media has been published.
func (o *Orchestrator) Started() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started
}
