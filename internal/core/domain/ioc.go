package domain

import (
	"net"
	"regexp"
	"strings"
)

type IOCType string

const (
	IOCTypeIP       IOCType = "ip"
	IOCTypeDomain   IOCType = "domain"
	IOCTypeFileHash IOCType = "file_hash"
	IOCTypeURL      IOCType = "url"
)

// IOC is a single observable extracted from an alert.
type IOC struct {
	Value string  `json:"value"`
	Type  IOCType `json:"type"`
}

var (
	ipv4Pattern   = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	ipv6Pattern   = regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){2,7}[0-9a-fA-F]{1,4}\b`)
	hashPattern   = regexp.MustCompile(`\b[0-9a-fA-F]{32}\b|\b[0-9a-fA-F]{40}\b|\b[0-9a-fA-F]{64}\b`)
	urlPattern    = regexp.MustCompile(`\bhttps?://[^\s"'<>]+`)
	domainPattern = regexp.MustCompile(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}\b`)
)

// ValidFileHash reports whether s has MD5, SHA1 or SHA256 length and a
// pure hex charset.
func ValidFileHash(s string) bool {
	switch len(s) {
	case 32, 40, 64:
	default:
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') && (r < 'A' || r > 'F') {
			return false
		}
	}
	return true
}

// RoutableIP reports whether ip is a public, non-loopback, non-multicast
// address. Private and loopback addresses carry no intel value on their
// own and are dropped by the free-text scanner.
func RoutableIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	return !ip.IsPrivate() && !ip.IsLoopback() && !ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast() && !ip.IsMulticast() && !ip.IsUnspecified()
}

// ScanIOCs extracts IOCs from free-text fields: IPv4/IPv6, file hashes of
// valid lengths, URLs and domain names. Private and loopback IPs are
// skipped, and results are deduplicated across all inputs.
func ScanIOCs(texts ...string) []IOC {
	var found []IOC
	for _, text := range texts {
		if text == "" {
			continue
		}
		for _, m := range urlPattern.FindAllString(text, -1) {
			found = append(found, IOC{Value: NormalizeIOC(m, IOCTypeURL), Type: IOCTypeURL})
		}
		for _, m := range hashPattern.FindAllString(text, -1) {
			found = append(found, IOC{Value: strings.ToLower(m), Type: IOCTypeFileHash})
		}
		for _, m := range ipv4Pattern.FindAllString(text, -1) {
			ip := net.ParseIP(m)
			if ip == nil || !RoutableIP(ip) {
				continue
			}
			found = append(found, IOC{Value: m, Type: IOCTypeIP})
		}
		for _, m := range ipv6Pattern.FindAllString(text, -1) {
			ip := net.ParseIP(m)
			if ip == nil || ip.To4() != nil || !RoutableIP(ip) {
				continue
			}
			found = append(found, IOC{Value: strings.ToLower(m), Type: IOCTypeIP})
		}
		for _, m := range domainPattern.FindAllString(text, -1) {
			// Skip matches that are really IPs or parts of an URL we
			// already captured.
			if net.ParseIP(m) != nil || ipv4Pattern.MatchString(m) {
				continue
			}
			if strings.Contains(text, "://"+m) || strings.Contains(text, "://www."+m) {
				continue
			}
			found = append(found, IOC{Value: strings.ToLower(m), Type: IOCTypeDomain})
		}
	}
	return DedupIOCs(found)
}

// DedupIOCs removes duplicate (value, type) pairs preserving order.
func DedupIOCs(iocs []IOC) []IOC {
	seen := make(map[IOC]bool, len(iocs))
	out := make([]IOC, 0, len(iocs))
	for _, ioc := range iocs {
		if seen[ioc] {
			continue
		}
		seen[ioc] = true
		out = append(out, ioc)
	}
	return out
}

// NormalizeIOC normalizes IOC values for matching: URLs and domains are
// lowercased, URLs lose a trailing slash, everything is trimmed.
func NormalizeIOC(value string, iocType IOCType) string {
	value = strings.TrimSpace(value)
	switch iocType {
	case IOCTypeURL:
		value = strings.ToLower(value)
		value = strings.TrimSuffix(value, "/")
	case IOCTypeDomain, IOCTypeFileHash:
		value = strings.ToLower(value)
	}
	return value
}
