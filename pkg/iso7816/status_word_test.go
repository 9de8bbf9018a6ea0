package iso7816

import (
	"strings"
	"testing"
)

func TestStatusWord_Counter(t *testing.T) {
	tests := []struct {
		sw        StatusWord
		isCounter bool
	}{
		{NewStatusWord(0x63, 0xC0), true},  // Counter 0
		{NewStatusWord(0x63, 0xCF), true},  // Counter 15
		{NewStatusWord(0x63, 0x00), false}, // Not a counter
		{NewStatusWord(0x63, 0x81), false}, // File filled
	}

	for _, tt := range tests {
		if got := tt.sw.IsCounter(); got != tt.isCounter {
			t.Errorf("SW %X IsCounter = %v, want %v", uint16(tt.sw), got, tt.isCounter)
		}
	}
}

func TestStatusWord_Classification(t *testing.T) {
	tests := []struct {
		sw        StatusWord
		isSuccess bool
		isWarning bool
		isError   bool
	}{
		{SW_NO_ERROR, true, false, false},
		{NewStatusWord(0x61, 0x10), true, false, false},
		{SW_WARN_NO_INFO, false, true, false},
		{NewStatusWord(0x63, 0xC2), false, true, false},
		{SW_ERR_WRONG_LENGTH, false, false, true},
		{SW_ERR_SM_OBJ_INCORRECT, false, false, true},
		{NewStatusWord(0x6F, 0xFF), false, false, true},
		{NewStatusWord(0x12, 0x34), false, false, true},
	}

	for _, tt := range tests {
		if got := tt.sw.IsSuccess(); got != tt.isSuccess {
			t.Errorf("SW %X IsSuccess = %v, want %v", uint16(tt.sw), got, tt.isSuccess)
		}
		if got := tt.sw.IsWarning(); got != tt.isWarning {
			t.Errorf("SW %X IsWarning = %v, want %v", uint16(tt.sw), got, tt.isWarning)
		}
		if got := tt.sw.IsError(); got != tt.isError {
			t.Errorf("SW %X IsError = %v, want %v", uint16(tt.sw), got, tt.isError)
		}
	}
}

func TestStatusWord_Verbose(t *testing.T) {
	tests := []struct {
		sw       StatusWord
		contains string
	}{
		{NewStatusWord(0x63, 0xC3), "counter = 3"},
		{NewStatusWord(0x61, 0x20), "32 bytes available"},
		{NewStatusWord(0x6C, 0x05), "correct Le is 5"},
		{SW_ERR_RECORD_NOT_FOUND, "SW_ERR_RECORD_NOT_FOUND"},
		{NewStatusWord(0x6A, 0x99), "Checking Error: Wrong parameters"},
		{NewStatusWord(0x6F, 0xFF), "[6FFF] Unknown Status"},
	}

	for _, tt := range tests {
		got := tt.sw.Verbose()
		if !strings.Contains(got, tt.contains) {
			t.Errorf("Verbose(%X) = %q; want containing %q", uint16(tt.sw), got, tt.contains)
		}
	}
}

func TestStatusWord_String(t *testing.T) {
	if got := SW_NO_ERROR.String(); got != "SW_NO_ERROR" {
		t.Errorf("String() = %q", got)
	}
	if got := NewStatusWord(0x6F, 0xFF).String(); got != "StatusWord(0x6FFF)" {
		t.Errorf("String() = %q", got)
	}
}
