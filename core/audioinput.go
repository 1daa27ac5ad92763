package session

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/tablevox/ordervoice-core/core/audio"
)

// audioInput wraps the configured capture client. Clients without capture
// controls stream continuously and the session gates forwarding on the
// recording state; clients with controls are started and stopped around
// each recording.
type audioInput struct {
	base         AudioInput
	fineControls AudioInputFine

	connected   atomic.Bool
	isCapturing atomic.Bool

	// onInputAudio receives every captured frame, already gated upstream.
	onInputAudio func(audio []byte)
}

func newAudioInput(onInputAudio func(audio []byte)) *audioInput {
	if onInputAudio == nil {
		onInputAudio = func(audio []byte) {}
	}
	return &audioInput{onInputAudio: onInputAudio}
}

func (a *audioInput) Set(client AudioInput) {
	if a == nil {
		return
	}

	a.base = client
	a.fineControls = nil
	a.connected.Store(false)
	a.isCapturing.Store(false)

	if client == nil {
		return
	}

	a.connected.Store(true)
	if fine, ok := client.(AudioInputFine); ok {
		a.fineControls = fine
	}
}

func (a *audioInput) IsConfigured() bool            { return a != nil && a.connected.Load() }
func (a *audioInput) SupportsCaptureControls() bool { return a != nil && a.fineControls != nil }
func (a *audioInput) IsCapturing() bool             { return a != nil && a.isCapturing.Load() }

// Start begins continuous streaming for clients without capture controls.
// Clients with controls are left idle until StartCapture.
func (a *audioInput) Start(ctx context.Context) {
	if !a.IsConfigured() || a.SupportsCaptureControls() {
		return
	}

	if !a.isCapturing.CompareAndSwap(false, true) {
		return
	}

	go func() {
		if err := a.base.Stream(ctx, a.onInputAudio); err != nil {
			a.isCapturing.Store(false)
			logger.Warn("audio input stream stopped", "error", err)
		}
	}()
}

// StartCapture activates capture on clients with explicit controls.
func (a *audioInput) StartCapture(ctx context.Context) {
	if !a.SupportsCaptureControls() {
		return
	}

	if !a.isCapturing.CompareAndSwap(false, true) {
		return
	}

	go func() {
		if err := a.fineControls.StartCapture(ctx, a.onInputAudio); err != nil {
			a.isCapturing.Store(false)
			logger.Warn("failed to start audio capture", "error", err)
		}
	}()
}

// StopCapture deactivates capture on clients with explicit controls.
func (a *audioInput) StopCapture() {
	if !a.SupportsCaptureControls() {
		return
	}

	if err := a.fineControls.StopCapture(); err != nil {
		logger.Warn("failed to stop audio capture", "error", err)
	}
	a.isCapturing.Store(false)
}

func (a *audioInput) Close() error {
	if a == nil || a.base == nil || !a.IsConfigured() {
		return nil
	}

	var errs error
	if a.fineControls != nil {
		if err := a.fineControls.StopCapture(); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	a.isCapturing.Store(false)
	if err := a.base.Close(); err != nil {
		errs = errors.Join(errs, err)
	}
	return errs
}

func (a *audioInput) EncodingInfo() audio.EncodingInfo {
	if a == nil || a.base == nil {
		return audio.GetDefaultEncodingInfo()
	}

	return a.base.EncodingInfo()
}
