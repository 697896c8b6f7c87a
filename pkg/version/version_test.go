package version

import "testing"

func TestGetVersion(t *testing.T) {
	expected := "1.0.0"
	if got := GetVersion(); got != expected {
		t.Errorf("GetVersion() = %v, want %v", got, expected)
	}
}

func TestGetProtocolVersion(t *testing.T) {
	expected := "1"
	if got := GetProtocolVersion(); got != expected {
		t.Errorf("GetProtocolVersion() = %v, want %v", got, expected)
	}
}
