package domain

import (
	"testing"
)

func TestScanIOCs(t *testing.T) {
	text := "Beacon to https://Evil.Example.com/payload/ from 198.51.100.7, " +
		"internal hop 10.0.0.5, dropper d41d8cd98f00b204e9800998ecf8427e " +
		"contacting c2.badguys.net"

	iocs := ScanIOCs(text)

	byType := make(map[IOCType][]string)
	for _, ioc := range iocs {
		byType[ioc.Type] = append(byType[ioc.Type], ioc.Value)
	}

	if got := byType[IOCTypeURL]; len(got) != 1 || got[0] != "https://evil.example.com/payload" {
		t.Errorf("urls = %v, want normalized lowercase without trailing slash", got)
	}
	if got := byType[IOCTypeFileHash]; len(got) != 1 || got[0] != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Errorf("hashes = %v", got)
	}
	if got := byType[IOCTypeIP]; len(got) != 1 || got[0] != "198.51.100.7" {
		t.Errorf("ips = %v, want only the routable address", got)
	}
	for _, d := range byType[IOCTypeDomain] {
		if d == "evil.example.com" {
			t.Error("domain already captured inside the URL must be skipped")
		}
	}
	found := false
	for _, d := range byType[IOCTypeDomain] {
		if d == "c2.badguys.net" {
			found = true
		}
	}
	if !found {
		t.Errorf("domains = %v, want c2.badguys.net", byType[IOCTypeDomain])
	}
}

func TestScanIOCsSkipsPrivateAndLoopback(t *testing.T) {
	iocs := ScanIOCs("traffic from 192.168.1.10 and 127.0.0.1 and 172.16.0.3")
	for _, ioc := range iocs {
		if ioc.Type == IOCTypeIP {
			t.Errorf("private or loopback IP leaked: %s", ioc.Value)
		}
	}
}

func TestScanIOCsDeduplicatesAcrossInputs(t *testing.T) {
	iocs := ScanIOCs(
		"hash d41d8cd98f00b204e9800998ecf8427e seen",
		"again: D41D8CD98F00B204E9800998ECF8427E",
	)
	count := 0
	for _, ioc := range iocs {
		if ioc.Type == IOCTypeFileHash {
			count++
		}
	}
	if count != 1 {
		t.Errorf("hash count = %d, want 1 after case-insensitive dedup", count)
	}
}

func TestValidFileHash(t *testing.T) {
	tests := []struct {
		hash string
		want bool
	}{
		{"d41d8cd98f00b204e9800998ecf8427e", true},                                  // MD5
		{"da39a3ee5e6b4b0d3255bfef95601890afd80709", true},                          // SHA1
		{"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", true},  // SHA256
		{"E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855", true},  // upper hex
		{"d41d8cd98f00b204e9800998ecf8427", false},                                  // 31 chars
		{"g41d8cd98f00b204e9800998ecf8427e", false},                                 // non-hex
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidFileHash(tt.hash); got != tt.want {
			t.Errorf("ValidFileHash(%q) = %v, want %v", tt.hash, got, tt.want)
		}
	}
}

func TestNormalizeIOC(t *testing.T) {
	tests := []struct {
		value   string
		iocType IOCType
		want    string
	}{
		{" https://Evil.Example.com/x/ ", IOCTypeURL, "https://evil.example.com/x"},
		{"C2.BadGuys.NET", IOCTypeDomain, "c2.badguys.net"},
		{"DEADBEEFDEADBEEFDEADBEEFDEADBEEF", IOCTypeFileHash, "deadbeefdeadbeefdeadbeefdeadbeef"},
		{" 198.51.100.7 ", IOCTypeIP, "198.51.100.7"},
	}
	for _, tt := range tests {
		if got := NormalizeIOC(tt.value, tt.iocType); got != tt.want {
			t.Errorf("NormalizeIOC(%q, %s) = %q, want %q", tt.value, tt.iocType, got, tt.want)
		}
	}
}

func TestDedupIOCs(t *testing.T) {
	in := []IOC{
		{Value: "198.51.100.7", Type: IOCTypeIP},
		{Value: "198.51.100.7", Type: IOCTypeIP},
		{Value: "198.51.100.7", Type: IOCTypeDomain}, // same value, other type survives
	}
	out := DedupIOCs(in)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2: %v", len(out), out)
	}
	if out[0].Type != IOCTypeIP || out[1].Type != IOCTypeDomain {
		t.Errorf("order not preserved: %v", out)
	}
}

func TestDedupIOCsLeavesInputIntact(t *testing.T) {
	in := []IOC{
		{Value: "a.example.net", Type: IOCTypeDomain},
		{Value: "a.example.net", Type: IOCTypeDomain},
		{Value: "b.example.net", Type: IOCTypeDomain},
	}
	_ = DedupIOCs(in)
	if in[1].Value != "a.example.net" || in[2].Value != "b.example.net" {
		t.Errorf("input slice mutated: %v", in)
	}
}
