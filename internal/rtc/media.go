package rtc

import "github.com/pion/webrtc/v4"

// MediaSource supplies the local tracks published into peer connections.
// Implementations own the capture devices; the orchestrator only attaches
// and detaches the tracks it is handed.
type MediaSource interface {
	// Tracks returns the local audio/video tracks for the requested kinds.
	Tracks(audio, video bool) ([]webrtc.TrackLocal, error)
	// ScreenTrack returns a screen capture track. onEnded fires when the
	// capture stops on its own (the user ends sharing at the OS level).
	ScreenTrack(onEnded func()) (webrtc.TrackLocal, error)
	Close() error
}
