package util

import (
	"fmt"
	"strconv"
	"strings"
)

// SplitIPMask splits a CIDR notation into IP and mask length
// Returns the IP (without mask) and mask length
func SplitIPMask(cidr string) (string, int) {
	parts := strings.Split(cidr, "/")
	if len(parts) != 2 {
		return cidr, 0 // Return as-is if no mask
	}
	maskLen, err := strconv.Atoi(parts[1])
	if err != nil {
		return parts[0], 0
	}
	return parts[0], maskLen
}

// PrefixLength returns the prefix length of a CIDR ("10.0.0.0/24" -> 24).
// Returns an error when the CIDR carries no parseable prefix.
func PrefixLength(cidr string) (int, error) {
	_, maskLen := SplitIPMask(cidr)
	if maskLen == 0 {
		return 0, fmt.Errorf("invalid CIDR notation: %s", cidr)
	}
	return maskLen, nil
}
