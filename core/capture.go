package core

import "context"

// CaptureSession is one continuous speaking turn being transcribed by the STT
// collaborator. Audio frames are fed by the media layer via WriteAudio; the
// orchestrator only opens, finalizes, or discards the session.
type CaptureSession interface {
	// WriteAudio forwards one audio frame to the transcriber.
	WriteAudio(chunk []byte) error
	// Finalize flushes the transcriber and returns the full transcript for
	// the turn. Blocks until the transcriber has drained or ctx expires.
	Finalize(ctx context.Context) (string, error)
	// Cancel discards the session and any in-flight transcription.
	Cancel()
}
