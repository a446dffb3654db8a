//go:build integration

package audio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func selectIntegrationDevice(t *testing.T) Device {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	selection, err := SelectDevice(ctx, "", "")
	if err != nil {
		t.Skipf("no usable pulse source: %v", err)
	}
	return selection.Device
}

// recordFor captures from device for d while draining Chunks, and returns the bytes
// delivered through the channel.
func recordFor(t *testing.T, device Device, opts CaptureOptions, d time.Duration) (*Capture, int) {
	t.Helper()
	capture, err := StartCapture(context.Background(), device, opts)
	require.NoError(t, err)

	delivered := make(chan int, 1)
	go func() {
		total := 0
		for chunk := range capture.Chunks() {
			total += len(chunk)
		}
		delivered <- total
	}()

	time.Sleep(d)
	require.NoError(t, capture.Stop())
	return capture, <-delivered
}

func TestCaptureKeepsRawPCMIntegration(t *testing.T) {
	device := selectIntegrationDevice(t)

	capture, delivered := recordFor(t, device, CaptureOptions{MediaName: "parley integration", KeepRaw: true}, 500*time.Millisecond)

	require.Equal(t, device.ID, capture.Device().ID)
	require.Positive(t, capture.BytesCaptured())
	require.Len(t, capture.RawPCM(), int(capture.BytesCaptured()))
	require.Positive(t, delivered)
	require.LessOrEqual(t, delivered, int(capture.BytesCaptured()))
}

func TestCaptureWithoutKeepRawIntegration(t *testing.T) {
	device := selectIntegrationDevice(t)

	capture, delivered := recordFor(t, device, CaptureOptions{MediaName: "parley wake monitor"}, 300*time.Millisecond)

	require.Positive(t, capture.BytesCaptured())
	require.Positive(t, delivered)
	require.Empty(t, capture.RawPCM())
}
