package streamcounter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/e7canasta/stream-counter/internal/media"
)

// Enumerate lists capture devices. Zero devices is ErrNoDevicesFound.
func Enumerate(ctx context.Context, lister DeviceLister) ([]CameraDescriptor, error) {
	devs, err := lister.ListCameras(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate cameras: %w", err)
	}
	if len(devs) == 0 {
		return nil, ErrNoDevicesFound
	}

	slog.Info("stream-counter: cameras enumerated", "count", len(devs))
	for i, d := range devs {
		slog.Debug("stream-counter: camera found",
			"index", i,
			"name", d.FriendlyName,
			"vendor_id", d.VendorID,
			"product_id", d.ProductID,
			"link", d.HardwareLink,
		)
	}
	return devs, nil
}

// ParseHardwareIDs extracts the VID_/PID_ hex pairs from a hardware link.
// Missing ids are returned empty.
func ParseHardwareIDs(link string) (vendor, product string) {
	d := media.NewCameraDescriptor("", link)
	return d.VendorID, d.ProductID
}

// SelectCamera returns the index of the first device whose hardware link
// contains both VID_<vendor> and PID_<product>, ignoring case and order.
func SelectCamera(devs []CameraDescriptor, vendor, product string) (int, bool) {
	vidToken := "VID_" + strings.ToUpper(vendor)
	pidToken := "PID_" + strings.ToUpper(product)

	for i, d := range devs {
		link := strings.ToUpper(d.HardwareLink)
		if strings.Contains(link, vidToken) && strings.Contains(link, pidToken) {
			return i, true
		}
	}
	return 0, false
}

// PromptCamera lists devs on w and reads a 1-based choice from r. Any input
// outside [1, len(devs)], including 0 and EOF, returns false.
func PromptCamera(r io.Reader, w io.Writer, devs []CameraDescriptor) (int, bool) {
	if len(devs) == 0 {
		return 0, false
	}

	fmt.Fprintln(w, "Available cameras:")
	for i, d := range devs {
		fmt.Fprintf(w, "  %d) %s [%s]\n", i+1, d.FriendlyName, d.HardwareLink)
	}
	fmt.Fprintf(w, "Select camera (1-%d, or 0 to exit): ", len(devs))

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(w)
		return 0, false
	}

	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 1 || n > len(devs) {
		return 0, false
	}
	return n - 1, true
}

// DescribeCameras prints one block per device and marks the ones matching
// the target vendor/product.
func DescribeCameras(w io.Writer, devs []CameraDescriptor, vendor, product string) {
	target, hasTarget := SelectCamera(devs, vendor, product)

	fmt.Fprintf(w, "Found %d camera(s)\n", len(devs))
	for i, d := range devs {
		marker := ""
		if hasTarget && i == target {
			marker = "  <-- target"
		}
		fmt.Fprintf(w, "\nCamera %d%s\n", i+1, marker)
		fmt.Fprintf(w, "  Name:       %s\n", d.FriendlyName)
		fmt.Fprintf(w, "  Link:       %s\n", d.HardwareLink)
		fmt.Fprintf(w, "  Vendor ID:  %s\n", orNone(d.VendorID))
		fmt.Fprintf(w, "  Product ID: %s\n", orNone(d.ProductID))
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
