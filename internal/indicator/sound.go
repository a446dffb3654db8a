package indicator

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
)

type cueKind int

const (
	cueStart cueKind = iota + 1
	cueStop
	cueComplete
	cueCancel
	cueNotice
)

const (
	cueSampleRate = 16000
	cueVolume     = 0.18
	// rampLimit caps the attack and release ramps at 5ms.
	rampLimit = cueSampleRate / 200
)

type tone struct {
	hz float64
	ms int
}

// cueSheet is a short melody: tones separated by gap of silence.
type cueSheet struct {
	tones []tone
	gap   time.Duration
}

var cueSheets = map[cueKind]cueSheet{
	cueStart:    {tones: []tone{{880, 70}, {1175, 70}}, gap: 22 * time.Millisecond},
	cueStop:     {tones: []tone{{620, 120}}},
	cueComplete: {tones: []tone{{740, 65}, {988, 90}}, gap: 22 * time.Millisecond},
	cueCancel:   {tones: []tone{{480, 75}, {360, 90}}, gap: 22 * time.Millisecond},
	cueNotice:   {tones: []tone{{988, 55}, {1319, 55}, {1568, 80}}, gap: 15 * time.Millisecond},
}

var renderedCues = sync.OnceValue(func() map[cueKind][]int16 {
	out := make(map[cueKind][]int16, len(cueSheets))
	for kind, sheet := range cueSheets {
		out[kind] = sheet.render()
	}
	return out
})

func cueSamples(kind cueKind) []int16 {
	return renderedCues()[kind]
}

// emitCue plays a rendered cue on the default pulse sink.
func emitCue(kind cueKind) error {
	samples := cueSamples(kind)
	if len(samples) == 0 {
		return nil
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("parley"),
		pulse.ClientApplicationIconName("dialog-information"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	stream, err := client.NewPlayback(
		samplesReader(samples),
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(cueSampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("parley cue"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play cue stream: %w", err)
	}
	return nil
}

func samplesReader(samples []int16) pulse.Int16Reader {
	remaining := samples
	return pulse.Int16Reader(func(buf []int16) (int, error) {
		n := copy(buf, remaining)
		remaining = remaining[n:]
		if len(remaining) == 0 {
			return n, pulse.EndOfData
		}
		return n, nil
	})
}

func (s cueSheet) render() []int16 {
	if len(s.tones) == 0 {
		return nil
	}
	gap := samplesFor(s.gap)

	var pcm []int16
	for i, t := range s.tones {
		if i > 0 && gap > 0 {
			pcm = append(pcm, make([]int16, gap)...)
		}
		pcm = append(pcm, t.render(cueVolume)...)
	}
	return pcm
}

// render synthesizes a sine tone with linear attack and release ramps so the
// edges do not click.
func (t tone) render(volume float64) []int16 {
	n := samplesFor(time.Duration(t.ms) * time.Millisecond)
	if n <= 0 || t.hz <= 0 || volume <= 0 {
		return nil
	}
	ramp := min(max(n/10, 1), rampLimit)

	pcm := make([]int16, n)
	for i := range pcm {
		envelope := min(1.0, float64(i)/float64(ramp), float64(n-i-1)/float64(ramp))
		phase := 2 * math.Pi * t.hz * float64(i) / cueSampleRate
		pcm[i] = int16(math.Round(math.Sin(phase) * volume * envelope * math.MaxInt16))
	}
	return pcm
}

func samplesFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}
