package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/arakitakashi/homework-coach-robo-sub000/pkg/device"
	"github.com/arakitakashi/homework-coach-robo-sub000/pkg/media"
	coach "github.com/arakitakashi/homework-coach-robo-sub000/sdk"
)

// runVoice drives the duplex voice channel: microphone PCM up, coach audio
// down through the streaming player. It returns when the context is cancelled
// or the transport fails.
func runVoice(ctx context.Context, cfg liveConfig, orch *coach.Orchestrator, imageURI, problemText string, in io.Reader, out, errOut io.Writer) error {
	speaker := media.NewFFPlaySpeaker("", media.PlaybackSampleRate, 1)
	player := media.NewPlayer(speaker, media.PlayerConfig{})
	defer player.Close()

	transportDown := make(chan error, 1)
	reportDown := func(err error) {
		select {
		case transportDown <- err:
		default:
		}
	}

	voice, err := orch.ConnectVoice(ctx, coach.VoiceHandlers{
		OnAudioData: func(pcm []byte) {
			player.Feed(pcm)
		},
		OnInterrupted: func() {
			player.EndOfAudio()
		},
		OnTurnComplete: func() {
			fmt.Fprintln(out)
		},
		OnInputTranscription: func(t coach.Transcription) {
			if t.Finished {
				fmt.Fprintf(out, "あなた: %s\n", t.Text)
			}
		},
		OnOutputTranscription: func(t coach.Transcription) {
			fmt.Fprint(out, t.Text)
		},
		OnAgentTransition: func(e coach.AgentTransition) {
			fmt.Fprintf(out, "[%s -> %s]\n", e.FromAgent, e.ToAgent)
		},
		OnImageProblemConfirmed: func(e coach.ImageProblemConfirmed) {
			fmt.Fprintf(out, "問題を確認したよ: %s\n", e.ProblemText)
		},
		OnImageRecognitionError: func(e coach.ImageRecognitionError) {
			fmt.Fprintf(errOut, "%s\n", device.Message(device.KindCamera, device.CodeRecognitionFailed))
		},
		OnStateChange: func(state coach.ConnectionState) {
			if state == coach.StateError || state == coach.StateDisconnected {
				reportDown(fmt.Errorf("voice connection is %s", state))
			}
		},
		OnError: func(err error) {
			fmt.Fprintf(errOut, "voice error: %v\n", err)
		},
	})
	if err != nil {
		return err
	}
	defer voice.Close()

	if imageURI != "" {
		if err := voice.SendImageStart(problemText, imageURI, "", nil); err != nil {
			return fmt.Errorf("send image start: %w", err)
		}
	}

	capture := media.NewCapture("")
	mic, err := capture.Start(ctx, media.CaptureConfig{
		InputFormat: cfg.MicFormat,
		InputDevice: cfg.MicDevice,
	})
	if err != nil {
		var devErr *device.Error
		if errors.As(err, &devErr) {
			fmt.Fprintln(errOut, devErr.Message)
		}
		return err
	}
	defer mic.Stop()

	pumpDone := make(chan error, 1)
	go func() {
		pumpDone <- media.Pump(mic, 0, func(pcm []byte) error {
			return voice.SendAudio(pcm)
		})
	}()

	fmt.Fprintln(out, "マイクに向かって話してね。Ctrl+C で終了します。")

	select {
	case <-ctx.Done():
		return nil
	case err := <-transportDown:
		if ctx.Err() != nil {
			return nil
		}
		return err
	case err := <-pumpDone:
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("microphone stream: %w", err)
		}
		return nil
	case err := <-player.Err():
		return fmt.Errorf("playback: %w", err)
	}
}
