package enums

import "fmt"

// VMSize is the t-shirt size of a requested virtual machine.
type VMSize string

const (
	VMSizeSmall  VMSize = "small"
	VMSizeMedium VMSize = "medium"
	VMSizeLarge  VMSize = "large"
	VMSizeXLarge VMSize = "xlarge"
)

// VMSizeSpec is the fixed hardware allocation behind a size code.
type VMSizeSpec struct {
	VCPUs  int
	RAMGB  int
	DiskGB int
}

var vmSizeSpecs = map[VMSize]VMSizeSpec{
	VMSizeSmall:  {VCPUs: 1, RAMGB: 2, DiskGB: 20},
	VMSizeMedium: {VCPUs: 2, RAMGB: 4, DiskGB: 40},
	VMSizeLarge:  {VCPUs: 4, RAMGB: 8, DiskGB: 80},
	VMSizeXLarge: {VCPUs: 8, RAMGB: 16, DiskGB: 160},
}

var validVMSizes = []VMSize{VMSizeSmall, VMSizeMedium, VMSizeLarge, VMSizeXLarge}

// String implements fmt.Stringer.
func (v VMSize) String() string {
	return string(v)
}

// IsValid reports whether the value is a known VMSize.
func (v VMSize) IsValid() bool {
	_, ok := vmSizeSpecs[v]
	return ok
}

// Spec returns the hardware allocation for the size.
func (v VMSize) Spec() VMSizeSpec {
	return vmSizeSpecs[v]
}

// ParseVMSize converts raw input into a VMSize.
func ParseVMSize(value string) (VMSize, error) {
	for _, candidate := range validVMSizes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid vm size %q", value)
}
