package tdr

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResource(t *testing.T) {
	tests := []struct {
		in       string
		wantKind string
		wantAddr string
	}{
		{"ASRL/dev/ttyUSB0::INSTR", KindSerial, "/dev/ttyUSB0"},
		{"ASRLCOM3::INSTR", KindSerial, "COM3"},
		{"asrl/dev/ttyACM1::instr", KindSerial, "/dev/ttyACM1"},
		{"SIM::INSTR", KindSim, ""},
		{"/dev/ttyACM0", KindSerial, "/dev/ttyACM0"},
		{"COM5", KindSerial, "COM5"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			kind, addr := ParseResource(tt.in)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantAddr, addr)
		})
	}
}

func TestResourceManager_OpenSim(t *testing.T) {
	rm := NewResourceManager(nil)

	link, err := rm.Open("SIM::INSTR", 0, time.Second)
	require.NoError(t, err)
	assert.IsType(t, &Sim{}, link)
	assert.Equal(t, 1, rm.OpenCount())

	require.NoError(t, rm.Release(link))
	assert.Equal(t, 0, rm.OpenCount())
	assert.ErrorIs(t, link.Flush(), ErrClosed)
}

func TestResourceManager_OpenSerialViaFake(t *testing.T) {
	p := newFakePort(nil)
	withFakePort(t, p)
	rm := NewResourceManager(nil)

	link, err := rm.Open("ASRL/dev/ttyUSB0::INSTR", 115200, time.Second)
	require.NoError(t, err)
	s, ok := link.(*Serial)
	require.True(t, ok)
	assert.Equal(t, "/dev/ttyUSB0", s.Name())

	require.NoError(t, rm.Close())
	assert.True(t, p.closed)
	assert.Equal(t, 0, rm.OpenCount())
}

func TestResourceManager_Errors(t *testing.T) {
	withFakePort(t, newFakePort(nil))
	rm := NewResourceManager(nil)

	_, err := rm.Open("ASRL::INSTR", 115200, time.Second)
	assert.Error(t, err)

	_, err = rm.Open("missing", 115200, time.Second)
	assert.Error(t, err)
	assert.Equal(t, 0, rm.OpenCount())
}

func TestWithLink_ReleasesOnEveryPath(t *testing.T) {
	rm := NewResourceManager(nil)

	var seen Link
	err := WithLink(rm, "SIM::INSTR", 0, time.Second, func(l Link) error {
		seen = l
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, seen.Flush(), ErrClosed)

	boom := errors.New("boom")
	err = WithLink(rm, "SIM::INSTR", 0, time.Second, func(l Link) error {
		seen = l
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, seen.Flush(), ErrClosed)

	assert.Panics(t, func() {
		_ = WithLink(rm, "SIM::INSTR", 0, time.Second, func(l Link) error {
			seen = l
			panic("cancelled")
		})
	})
	assert.ErrorIs(t, seen.Flush(), ErrClosed)
	assert.Equal(t, 0, rm.OpenCount())
}
