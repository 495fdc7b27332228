package media

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// PlayerConfig controls the streaming player.
type PlayerConfig struct {
	SampleRate  int           // output rate, default 24000
	Channels    int           // output channels, default 1 (mono source duplicated for stereo)
	Tick        time.Duration // render cadence, default 20ms
	RingSeconds int           // ring capacity in seconds of audio, default 180
	IdleTimeout time.Duration // playing-signal debounce, default 300ms
}

// Player turns discrete PCM chunks arriving at arbitrary times into gapless
// output at a fixed cadence. Chunks land in a pre-allocated ring; a render
// tick drains one frame per tick into the speaker with no allocation on that
// path.
//
// IsPlaying is a debounce heuristic, not a hardware playback-complete signal:
// every Feed marks the player active and restarts an idle timeout; if no
// audio arrives before it fires, playing flips false.
type Player struct {
	cfg     PlayerConfig
	ring    *Ring
	speaker Speaker

	playing       atomic.Bool
	playedSamples atomic.Int64

	idleMu    sync.Mutex
	idleTimer *time.Timer

	frame []float32
	out   []byte

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	errCh  chan error
}

// NewPlayer creates a player and starts its render loop.
func NewPlayer(speaker Speaker, cfg PlayerConfig) *Player {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = PlaybackSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 20 * time.Millisecond
	}
	if cfg.RingSeconds <= 0 {
		cfg.RingSeconds = 180
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 300 * time.Millisecond
	}

	samplesPerTick := int(int64(cfg.SampleRate) * int64(cfg.Tick) / int64(time.Second))
	if samplesPerTick <= 0 {
		samplesPerTick = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Player{
		cfg:     cfg,
		ring:    NewRing(cfg.SampleRate * cfg.RingSeconds),
		speaker: speaker,
		frame:   make([]float32, samplesPerTick),
		out:     make([]byte, samplesPerTick*cfg.Channels*BytesPerSample),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		errCh:   make(chan error, 1),
	}
	go p.run()
	return p
}

// Feed pushes one chunk of 16-bit little-endian PCM into the ring and marks
// the player active.
func (p *Player) Feed(pcm []byte) {
	if p == nil || len(pcm) == 0 {
		return
	}
	p.ring.WritePCM16(pcm)
	p.markActive()
}

// EndOfAudio discards all unplayed buffered audio; used when the current
// utterance is interrupted.
func (p *Player) EndOfAudio() {
	if p == nil {
		return
	}
	p.ring.EndOfAudio()
}

// IsPlaying reports the debounced playing signal.
func (p *Player) IsPlaying() bool {
	if p == nil {
		return false
	}
	return p.playing.Load()
}

// PlayedMS returns how much audio has been rendered, in milliseconds.
func (p *Player) PlayedMS() int64 {
	if p == nil {
		return 0
	}
	return p.playedSamples.Load() * 1000 / int64(p.cfg.SampleRate)
}

// BufferedMS returns how much unplayed audio the ring holds, in milliseconds.
func (p *Player) BufferedMS() int64 {
	if p == nil {
		return 0
	}
	return int64(p.ring.Buffered()) * 1000 / int64(p.cfg.SampleRate)
}

// Err yields asynchronous speaker failures.
func (p *Player) Err() <-chan error {
	return p.errCh
}

// Close stops the render loop and closes the speaker.
func (p *Player) Close() error {
	if p == nil {
		return nil
	}
	p.cancel()
	<-p.done

	p.idleMu.Lock()
	if p.idleTimer != nil {
		p.idleTimer.Stop()
	}
	p.idleMu.Unlock()

	if p.speaker != nil {
		return p.speaker.Close()
	}
	return nil
}

func (p *Player) markActive() {
	p.playing.Store(true)
	p.idleMu.Lock()
	defer p.idleMu.Unlock()
	if p.idleTimer == nil {
		p.idleTimer = time.AfterFunc(p.cfg.IdleTimeout, func() {
			p.playing.Store(false)
		})
		return
	}
	p.idleTimer.Reset(p.cfg.IdleTimeout)
}

func (p *Player) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.onTick()
		}
	}
}

func (p *Player) onTick() {
	// Drain whatever the ring holds even after the playing signal has
	// debounced off; the flag is a consumer-facing heuristic, not a render
	// gate. The underflow-hold behavior only applies while the signal is
	// still active.
	if p.ring.Buffered() == 0 && !p.playing.Load() {
		return
	}

	p.ring.Render(p.frame)
	for i, s := range p.frame {
		v := EncodeSample(s)
		for ch := 0; ch < p.cfg.Channels; ch++ {
			off := (i*p.cfg.Channels + ch) * BytesPerSample
			p.out[off] = byte(v)
			p.out[off+1] = byte(v >> 8)
		}
	}
	p.playedSamples.Add(int64(len(p.frame)))

	if p.speaker == nil {
		return
	}
	if err := p.speaker.Write(p.out); err != nil {
		select {
		case p.errCh <- err:
		default:
		}
	}
}
