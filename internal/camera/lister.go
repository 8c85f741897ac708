// Package camera implements device enumeration and NV12 frame capture on
// top of GStreamer's v4l2src.
package camera

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/e7canasta/stream-counter/internal/media"
)

// maxParentDepth bounds the walk from a video4linux node up to its USB device.
const maxParentDepth = 4

// Lister enumerates video capture devices from sysfs.
//
// Each /sys/class/video4linux/videoN with index 0 is one source. USB devices
// get a USB\VID_xxxx&PID_yyyy\/dev/videoN hardware link; other devices get
// V4L2\/dev/videoN, which no vendor/product filter matches.
type Lister struct {
	// SysRoot is the sysfs mount, "/sys" when empty
	SysRoot string
	// DevDir holds the device nodes, "/dev" when empty
	DevDir string
}

// ListCameras returns the capture sources in node order.
func (l Lister) ListCameras(ctx context.Context) ([]media.CameraDescriptor, error) {
	sysRoot := l.SysRoot
	if sysRoot == "" {
		sysRoot = "/sys"
	}
	devDir := l.DevDir
	if devDir == "" {
		devDir = "/dev"
	}

	classDir := filepath.Join(sysRoot, "class", "video4linux")
	entries, err := os.ReadDir(classDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", classDir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "video") {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool { return nodeNumber(names[i]) < nodeNumber(names[j]) })

	var devs []media.CameraDescriptor
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		nodeDir := filepath.Join(classDir, name)
		// Metadata nodes of UVC cameras carry index 1 and deliver no frames.
		if idx, ok := readAttr(nodeDir, "index"); ok && idx != "0" {
			slog.Debug("stream-counter: skipping secondary video node", "node", name, "index", idx)
			continue
		}

		friendly, ok := readAttr(nodeDir, "name")
		if !ok {
			friendly = name
		}
		devNode := filepath.Join(devDir, name)

		link := `V4L2\` + devNode
		if vid, pid, ok := usbIDs(filepath.Join(nodeDir, "device")); ok {
			link = media.USBHardwareLink(vid, pid, devNode)
		}
		devs = append(devs, media.NewCameraDescriptor(friendly, link))
	}

	return devs, nil
}

// usbIDs walks up from the device link until it finds idVendor/idProduct.
func usbIDs(deviceLink string) (vendor, product string, ok bool) {
	dir, err := filepath.EvalSymlinks(deviceLink)
	if err != nil {
		return "", "", false
	}
	for i := 0; i < maxParentDepth; i++ {
		v, vok := readAttr(dir, "idVendor")
		p, pok := readAttr(dir, "idProduct")
		if vok && pok {
			return v, p, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", "", false
}

func readAttr(dir, name string) (string, bool) {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(string(b))
	return v, v != ""
}

func nodeNumber(name string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(name, "video"))
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}
