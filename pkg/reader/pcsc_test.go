package reader

import (
	"fmt"
	"testing"

	"github.com/ebfe/scard"
	"github.com/pkg/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"Removed card", scard.ErrRemovedCard, ErrCardIO},
		{"No card", scard.ErrNoSmartcard, ErrCardIO},
		{"Mute card", scard.ErrUnresponsiveCard, ErrCardIO},
		{"Wrapped reset", fmt.Errorf("transmit: %w", scard.ErrResetCard), ErrCardIO},
		{"Reader gone", scard.ErrReaderUnavailable, ErrReaderIO},
		{"Foreign error", errors.New("boom"), ErrReaderIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransportError(t *testing.T) {
	if !IsTransportError(errors.Wrap(ErrCardIO, "transmit")) {
		t.Error("wrapped ErrCardIO should be a transport error")
	}
	if !IsTransportError(errors.Wrapf(ErrReaderIO, "connect %q", "SAM")) {
		t.Error("wrapped ErrReaderIO should be a transport error")
	}
	if IsTransportError(errors.New("6985")) {
		t.Error("plain error should not be a transport error")
	}
}

func TestConnection_NotEstablished(t *testing.T) {
	var c *Connection
	if _, err := c.Transmit([][]byte{{0x80, 0x84, 0x00, 0x00, 0x08}}, true); !errors.Is(err, ErrReaderIO) {
		t.Errorf("Transmit() on nil connection = %v, want ErrReaderIO", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil connection = %v", err)
	}
}
