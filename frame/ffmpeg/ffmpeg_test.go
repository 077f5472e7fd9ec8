package ffmpeg

import (
	"reflect"
	"testing"

	"github.com/kidwatch/kidwatch-go/frame"
)

func TestParseDevices(t *testing.T) {
	const s = `bcm2835-codec-decode (platform:bcm2835-codec):
	/dev/video10
	/dev/video11

HD Pro Webcam C920 (usb-0000:01:00.0-1.2):
	/dev/video0
	/dev/video1
	/dev/media3

`
	devs, err := parseDevices(s)
	if err != nil {
		t.Fatalf("parsing v4l2-ctl output: %v", err)
	}
	exp := []frame.Device{
		{ID: "/dev/video0", Name: "HD Pro Webcam C920 (usb-0000:01:00.0-1.2) (/dev/video0)"},
		{ID: "/dev/video1", Name: "HD Pro Webcam C920 (usb-0000:01:00.0-1.2) (/dev/video1)"},
	}
	if !reflect.DeepEqual(devs, exp) {
		t.Fatalf("ffmpeg devices, got %v, expected %v", devs, exp)
	}

	if _, err := parseDevices("bcm2835-isp (platform:bcm2835-isp):\n\t/dev/video13\n"); err == nil {
		t.Fatalf("missing error without cameras")
	}
}
