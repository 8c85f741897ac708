package media

import "testing"

func TestNewCameraDescriptor(t *testing.T) {
	tests := []struct {
		link        string
		wantVendor  string
		wantProduct string
	}{
		{`\\?\usb#vid_32e6&pid_9221&mi_00#6&1a2b3c&0&0000#{e5323777}`, "32E6", "9221"},
		{`USB\VID_046D&PID_085B\/dev/video0`, "046D", "085B"},
		{`\\?\usb#pid_9221&vid_32e6#x`, "32E6", "9221"},
		{`V4L2\/dev/video2`, "", ""},
		{`USB\VID_12&PID_5678\x`, "", "5678"},
	}

	for _, tt := range tests {
		d := NewCameraDescriptor("cam", tt.link)
		if d.VendorID != tt.wantVendor || d.ProductID != tt.wantProduct {
			t.Errorf("NewCameraDescriptor(%q) = %s:%s, want %s:%s",
				tt.link, d.VendorID, d.ProductID, tt.wantVendor, tt.wantProduct)
		}
	}
}

func TestUSBHardwareLink(t *testing.T) {
	link := USBHardwareLink("32e6", "9221", "/dev/video0")
	if link != `USB\VID_32E6&PID_9221\/dev/video0` {
		t.Errorf("USBHardwareLink() = %q", link)
	}
	if got := LinkInstance(link); got != "/dev/video0" {
		t.Errorf("LinkInstance() = %q, want /dev/video0", got)
	}
	if got := LinkInstance("/dev/video3"); got != "/dev/video3" {
		t.Errorf("LinkInstance(plain) = %q", got)
	}
}

func TestStreamGeometry_FrameSize(t *testing.T) {
	nv12 := StreamGeometry{Width: 640, Height: 480, Format: FormatNV12}
	if got := nv12.FrameSize(); got != 640*480*3/2 {
		t.Errorf("NV12 FrameSize() = %d", got)
	}
	rgb := StreamGeometry{Width: 640, Height: 480, Format: FormatRGB}
	if got := rgb.FrameSize(); got != 640*480*3 {
		t.Errorf("RGB FrameSize() = %d", got)
	}
	if s := nv12.String(); s != "640x480 NV12" {
		t.Errorf("String() = %q", s)
	}
}
