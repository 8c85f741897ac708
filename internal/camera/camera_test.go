package camera

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/e7canasta/stream-counter/internal/media"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

// addNode creates class/video4linux/<node> pointing at usbIface. An empty
// usbIface creates a node without a USB parent.
func addNode(t *testing.T, root, node, name, index, usbIface string) {
	t.Helper()
	nodeDir := filepath.Join(root, "class", "video4linux", node)
	writeFile(t, filepath.Join(nodeDir, "name"), name)
	writeFile(t, filepath.Join(nodeDir, "index"), index)

	target := filepath.Join(root, "devices", "platform", node)
	if usbIface != "" {
		target = usbIface
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, filepath.Join(nodeDir, "device")); err != nil {
		t.Fatal(err)
	}
}

func addUSBDevice(t *testing.T, root, port, vid, pid string) string {
	t.Helper()
	dev := filepath.Join(root, "devices", "pci0000:00", "usb1", port)
	writeFile(t, filepath.Join(dev, "idVendor"), vid)
	writeFile(t, filepath.Join(dev, "idProduct"), pid)
	iface := filepath.Join(dev, port+":1.0")
	if err := os.MkdirAll(iface, 0o755); err != nil {
		t.Fatal(err)
	}
	return iface
}

func TestLister_ListCameras(t *testing.T) {
	root := t.TempDir()

	cam := addUSBDevice(t, root, "1-2", "32e6", "9221")
	logi := addUSBDevice(t, root, "1-3", "046d", "085b")

	addNode(t, root, "video10", "Loopback", "0", "")
	addNode(t, root, "video0", "HD Camera", "0", cam)
	addNode(t, root, "video1", "HD Camera", "1", cam)
	addNode(t, root, "video2", "C925e", "0", logi)

	devs, err := Lister{SysRoot: root, DevDir: "/dev"}.ListCameras(context.Background())
	if err != nil {
		t.Fatalf("ListCameras() error = %v", err)
	}

	want := []media.CameraDescriptor{
		{FriendlyName: "HD Camera", HardwareLink: `USB\VID_32E6&PID_9221\/dev/video0`, VendorID: "32E6", ProductID: "9221"},
		{FriendlyName: "C925e", HardwareLink: `USB\VID_046D&PID_085B\/dev/video2`, VendorID: "046D", ProductID: "085B"},
		{FriendlyName: "Loopback", HardwareLink: `V4L2\/dev/video10`},
	}
	if len(devs) != len(want) {
		t.Fatalf("ListCameras() returned %d devices, want %d: %+v", len(devs), len(want), devs)
	}
	for i := range want {
		if devs[i] != want[i] {
			t.Errorf("device %d = %+v, want %+v", i, devs[i], want[i])
		}
	}
}

func TestLister_NoVideoClass(t *testing.T) {
	devs, err := Lister{SysRoot: t.TempDir()}.ListCameras(context.Background())
	if err != nil {
		t.Fatalf("ListCameras() error = %v", err)
	}
	if len(devs) != 0 {
		t.Errorf("ListCameras() = %v, want none", devs)
	}
}

func TestLister_Cancelled(t *testing.T) {
	root := t.TempDir()
	addNode(t, root, "video0", "cam", "0", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (Lister{SysRoot: root}).ListCameras(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("ListCameras() error = %v, want context.Canceled", err)
	}
}

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		msg, debug string
		want       ErrorCategory
	}{
		{"Internal data stream error.", "streaming stopped, reason not-negotiated (-4)", ErrCategoryFormat},
		{"Device '/dev/video0' does not support the requested caps", "", ErrCategoryFormat},
		{"Cannot identify device '/dev/video9'.", "system error: No such file or directory", ErrCategoryDevice},
		{"Could not open device '/dev/video0' for reading and writing.", "Device or resource busy", ErrCategoryDevice},
		{"Output window was closed", "", ErrCategoryUnknown},
	}

	for _, tt := range tests {
		if got := ClassifyMessage(tt.msg, tt.debug); got != tt.want {
			t.Errorf("ClassifyMessage(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestOpenError(t *testing.T) {
	if err := openError(ErrCategoryFormat, "x"); !errors.Is(err, media.ErrFormatNegotiationFailed) {
		t.Errorf("format error = %v", err)
	}
	for _, c := range []ErrorCategory{ErrCategoryDevice, ErrCategoryUnknown} {
		if err := openError(c, "x"); !errors.Is(err, media.ErrActivationFailed) {
			t.Errorf("%v error = %v", c, err)
		}
	}
	if ErrCategoryDevice.String() != "device" || ErrCategoryFormat.String() != "format" || ErrCategoryUnknown.String() != "unknown" {
		t.Error("unexpected category names")
	}
}

func TestCheckFrameSize(t *testing.T) {
	geom := media.StreamGeometry{Width: 640, Height: 480, Format: media.FormatNV12}
	expected := int(geom.FrameSize())

	tests := []struct {
		name string
		n    int
		want sizeVerdict
	}{
		{"exact", expected, sizeOK},
		{"slack above", expected + frameSlack, sizeOK},
		{"slack below", expected - frameSlack, sizeOK},
		{"short", expected - frameSlack - 1, sizeMismatch},
		{"long", expected + 4096, sizeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checkFrameSize(tt.n, geom); got != tt.want {
				t.Errorf("checkFrameSize(%d) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}

	rgb := media.StreamGeometry{Width: 640, Height: 480, Format: media.FormatRGB}
	if got := checkFrameSize(expected, rgb); got != sizeNV12InRGB {
		t.Errorf("NV12-sized payload with RGB caps = %v, want sizeNV12InRGB", got)
	}
}

func TestGeometryFromCaps(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]interface{}
		want   media.StreamGeometry
		ok     bool
	}{
		{"nv12", map[string]interface{}{"width": 640, "height": 480, "format": "NV12"},
			media.StreamGeometry{Width: 640, Height: 480, Format: media.FormatNV12}, true},
		{"rgb", map[string]interface{}{"width": 320, "height": 240, "format": "RGB"},
			media.StreamGeometry{Width: 320, Height: 240, Format: media.FormatRGB}, true},
		{"unsupported", map[string]interface{}{"width": 320, "height": 240, "format": "YUY2"},
			media.StreamGeometry{}, false},
		{"odd width", map[string]interface{}{"width": 641, "height": 480, "format": "NV12"},
			media.StreamGeometry{}, false},
		{"missing height", map[string]interface{}{"width": 640, "format": "NV12"},
			media.StreamGeometry{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := geometryFromValues(func(k string) (interface{}, bool) {
				v, ok := tt.values[k]
				return v, ok
			})
			if ok != tt.ok || got != tt.want {
				t.Errorf("geometryFromValues() = %+v, %v; want %+v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}
