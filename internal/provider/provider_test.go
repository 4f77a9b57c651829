package provider

import "testing"

func TestRecordFQDN(t *testing.T) {
	tests := []struct {
		record   Record
		expected string
	}{
		{Record{Name: "@", Zone: "example.com"}, "example.com"},
		{Record{Name: "www", Zone: "example.com"}, "www.example.com"},
		{Record{Name: "a.b", Zone: "example.com"}, "a.b.example.com"},
	}
	for _, tt := range tests {
		if got := tt.record.FQDN(); got != tt.expected {
			t.Errorf("FQDN(%q, %q) = %q, want %q", tt.record.Name, tt.record.Zone, got, tt.expected)
		}
	}
}

func TestRelativeName(t *testing.T) {
	tests := []struct {
		fqdn, zone, expected string
	}{
		{"example.com", "example.com", "@"},
		{"www.example.com", "example.com", "www"},
		{"www.example.com.", "example.com.", "www"},
	}
	for _, tt := range tests {
		if got := RelativeName(tt.fqdn, tt.zone); got != tt.expected {
			t.Errorf("RelativeName(%q, %q) = %q, want %q", tt.fqdn, tt.zone, got, tt.expected)
		}
	}
}
