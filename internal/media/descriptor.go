package media

import (
	"regexp"
	"strings"
)

var (
	vendorPattern  = regexp.MustCompile(`(?i)VID_([0-9A-F]{4})`)
	productPattern = regexp.MustCompile(`(?i)PID_([0-9A-F]{4})`)
)

// NewCameraDescriptor derives vendor and product ids from the hardware link.
// Ids are upper-cased; a link without a VID_/PID_ token leaves that id empty.
func NewCameraDescriptor(friendlyName, hardwareLink string) CameraDescriptor {
	return CameraDescriptor{
		FriendlyName: friendlyName,
		HardwareLink: hardwareLink,
		VendorID:     findID(vendorPattern, hardwareLink),
		ProductID:    findID(productPattern, hardwareLink),
	}
}

func findID(re *regexp.Regexp, link string) string {
	m := re.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}

// USBHardwareLink formats a link in the USB\VID_xxxx&PID_yyyy\<instance>
// shape used across platforms for selection.
func USBHardwareLink(vendorID, productID, instance string) string {
	return `USB\VID_` + strings.ToUpper(vendorID) + `&PID_` + strings.ToUpper(productID) + `\` + instance
}

// LinkInstance returns the segment after the last backslash of a hardware
// link, which identifies the concrete device node.
func LinkInstance(link string) string {
	if i := strings.LastIndex(link, `\`); i >= 0 {
		return link[i+1:]
	}
	return link
}
