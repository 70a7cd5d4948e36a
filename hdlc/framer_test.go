package hdlc

import (
	"bytes"
	"encoding/hex"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
)

var (
	// Aidon style list 1, active power import only
	testInfo = []byte{
		0xe6, 0xe7, 0x00, // LLC
		0x0f,                   // data-notification
		0x40, 0x00, 0x00, 0x00, // invoke id
		0x00,       // no timestamp
		0x01, 0x01, // array, 1 element
		0x02, 0x03, // structure, 3 elements
		0x09, 0x06, 0x01, 0x00, 0x01, 0x07, 0x00, 0xff, // OBIS 1-0:1.7.0.255
		0x06, 0x00, 0x00, 0x04, 0x62, // uint32 1122
		0x02, 0x02, 0x0f, 0x00, 0x16, 0x1b, // scaler 0, unit W
	}
	testFrame = Encode(0x20, 0x241, 0x13, testInfo)

	// Published reference capture, flags added. It is missing
	// bytes and fails its own header check.
	referenceCapture = "7E" +
		"A18A088313FDE6400102020101020B494F31020201103732313831020201070434020101070175020216020102070202" +
		"160201070202160201040702021602011F071007020216020107100102021602010710020202160201200708F2020216" +
		"230201340708F7020216230201070202162302020107E907041680020101082A020201160201020802020116020108B6" +
		"020201162002010408580202011620DCF2" +
		"7E"
)

func decodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	require.NoError(t, err)
	return b
}

// drain runs Next until the framer asks for more input.
func drain(f *Framer) (frames []*Frame, errs []error) {
	for {
		fr, err := f.Next()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if fr == nil {
			return
		}
		frames = append(frames, fr)
	}
}

func frameErr(t *testing.T, err error) *FrameError {
	t.Helper()
	var fe *FrameError
	require.True(t, errors.As(err, &fe), "not a FrameError: %v", err)
	return fe
}

func TestEncodeHeader(t *testing.T) {
	assert.Equal(t, []byte{0x7e, 0xa0, 0x2a, 0x41, 0x08, 0x83, 0x13}, testFrame[:7])
	assert.Equal(t, byte(0x7e), testFrame[len(testFrame)-1])
	assert.Len(t, testFrame, 0x2a+2)
	assert.True(t, Valid(testFrame[1:9]))
	assert.True(t, Valid(testFrame[1:len(testFrame)-1]))
}

func TestFramerSingleFrame(t *testing.T) {
	f := NewFramer()
	_, _ = f.Write(testFrame)

	fr, err := f.Next()
	require.NoError(t, err)
	require.NotNil(t, fr)
	assert.Equal(t, testInfo, fr.Info)
	assert.Equal(t, uint32(0x20), fr.Destination)
	assert.Equal(t, uint32(0x241), fr.Source)
	assert.Equal(t, byte(0x13), fr.Control)
	assert.Equal(t, 0x2a, fr.Length)
	assert.False(t, fr.Segmented)
	assert.Equal(t, int64(0), fr.Offset)

	fr, err = f.Next()
	assert.NoError(t, err)
	assert.Nil(t, fr)
	assert.False(t, f.InProgress())
}

func TestFramerByteByByte(t *testing.T) {
	f := NewFramer()
	for i, b := range testFrame {
		_, _ = f.Write([]byte{b})
		fr, err := f.Next()
		require.NoError(t, err)
		if i < len(testFrame)-1 {
			require.Nil(t, fr, "frame returned after %d bytes", i+1)
			continue
		}
		require.NotNil(t, fr)
		assert.Equal(t, testInfo, fr.Info)
	}
}

func TestFramerStates(t *testing.T) {
	f := NewFramer()
	assert.Equal(t, StateSeeking, f.State())

	_, _ = f.Write(testFrame[:5])
	fr, err := f.Next()
	require.NoError(t, err)
	require.Nil(t, fr)
	assert.Equal(t, StateInFrame, f.State())
	assert.True(t, f.InProgress())

	_, _ = f.Write(testFrame[5:20])
	fr, err = f.Next()
	require.NoError(t, err)
	require.Nil(t, fr)
	assert.Equal(t, StateValidating, f.State())

	_, _ = f.Write(testFrame[20:])
	fr, err = f.Next()
	require.NoError(t, err)
	require.NotNil(t, fr)
	assert.Equal(t, StateSeeking, f.State())
	assert.Equal(t, "validating", StateValidating.String())
}

func TestFramerNoise(t *testing.T) {
	f := NewFramer()
	_, _ = f.Write([]byte{0x01, 0x02, 0x03})
	_, _ = f.Write(testFrame)

	frames, errs := drain(f)
	require.Len(t, errs, 1)
	fe := frameErr(t, errs[0])
	assert.ErrorIs(t, fe, ErrDesync)
	assert.Equal(t, 3, fe.Skipped)
	assert.Equal(t, int64(0), fe.Offset)

	require.Len(t, frames, 1)
	assert.Equal(t, testInfo, frames[0].Info)
	assert.Equal(t, int64(3), frames[0].Offset)
}

func TestFramerBackToBack(t *testing.T) {
	cases := map[string][]byte{
		// 7E frame 7E 7E frame 7E
		"separate flags": append(append([]byte{}, testFrame...), testFrame...),
		// 7E frame 7E frame 7E
		"shared flag": append(append([]byte{}, testFrame...), testFrame[1:]...),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			f := NewFramer()
			_, _ = f.Write(data)
			frames, errs := drain(f)
			assert.Empty(t, errs)
			require.Len(t, frames, 2)
			assert.Equal(t, testInfo, frames[1].Info)
		})
	}
}

func TestFramerHeaderCRC(t *testing.T) {
	bad := append([]byte{}, testFrame...)
	bad[7] ^= 0xff // first HCS byte

	f := NewFramer()
	_, _ = f.Write(bad)
	_, _ = f.Write(testFrame)

	frames, errs := drain(f)
	require.NotEmpty(t, errs)
	fe := frameErr(t, errs[0])
	assert.ErrorIs(t, fe, ErrHeaderCRC)
	assert.Equal(t, binaryUint16(testFrame[7:9]), fe.Want)
	assert.Equal(t, binaryUint16(bad[7:9]), fe.Got)

	require.Len(t, frames, 1)
	assert.Equal(t, testInfo, frames[0].Info)
}

func TestFramerFrameCRC(t *testing.T) {
	bad := append([]byte{}, testFrame...)
	bad[30] ^= 0x01 // inside the information field

	f := NewFramer()
	_, _ = f.Write(bad)
	_, _ = f.Write(testFrame)

	frames, errs := drain(f)
	require.NotEmpty(t, errs)
	assert.ErrorIs(t, errs[0], ErrFrameCRC)
	require.Len(t, frames, 1)
	assert.Equal(t, testInfo, frames[0].Info)
	assert.Equal(t, int64(len(bad)), frames[0].Offset)
}

func TestFramerTruncatedFrames(t *testing.T) {
	// Keep the header, cut 1..n bytes before the closing flag
	body := testFrame[:len(testFrame)-1]
	for cut := 1; cut <= len(body)-9; cut++ {
		short := append(append([]byte{}, body[:len(body)-cut]...), flag)

		f := NewFramer()
		_, _ = f.Write(short)
		_, _ = f.Write(testFrame)

		frames, errs := drain(f)
		require.NotEmpty(t, errs, "cut %d", cut)
		first := frameErr(t, errs[0])
		assert.True(t, errors.Is(first, ErrFrameCRC) || errors.Is(first, ErrTruncated),
			"cut %d: unexpected error %v", cut, first)
		require.Len(t, frames, 1, "cut %d", cut)
		assert.Equal(t, testInfo, frames[0].Info, "cut %d", cut)
	}
}

func TestFramerIncompleteFrameWaits(t *testing.T) {
	f := NewFramer()
	_, _ = f.Write(testFrame[:len(testFrame)-6])

	frames, errs := drain(f)
	assert.Empty(t, frames)
	assert.Empty(t, errs)
	assert.True(t, f.InProgress())

	f.Reset()
	assert.False(t, f.InProgress())
	assert.Equal(t, 0, f.Buffered())

	_, _ = f.Write(testFrame)
	frames, errs = drain(f)
	assert.Empty(t, errs)
	require.Len(t, frames, 1)
	assert.Equal(t, int64(len(testFrame)-6), frames[0].Offset)
}

func TestFramerMaxFrameLength(t *testing.T) {
	f := NewFramer(WithMaxFrameLength(32))
	_, _ = f.Write(testFrame)
	_, _ = f.Write(Encode(0x20, 0x241, 0x13, []byte{0xe6, 0xe7, 0x00}))

	frames, errs := drain(f)
	require.NotEmpty(t, errs)
	fe := frameErr(t, errs[0])
	assert.ErrorIs(t, fe, ErrFrameTooLong)
	assert.Equal(t, 0x2a, fe.Length)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0xe6, 0xe7, 0x00}, frames[0].Info)
}

func TestFramerNoiseIsBounded(t *testing.T) {
	f := NewFramer(WithMaxFrameLength(64))
	noise := bytes.Repeat([]byte{0x55, 0xaa, 0x7e}, 1000)
	for i := 0; i < 10; i++ {
		_, _ = f.Write(noise)
		frames, _ := drain(f)
		assert.Empty(t, frames)
		assert.LessOrEqual(t, f.Buffered(), 64+2)
	}
}

func TestFramerFrameWithoutInfo(t *testing.T) {
	f := NewFramer()
	_, _ = f.Write(Encode(0x01, 0x01, 0x93, nil))
	fr, err := f.Next()
	require.NoError(t, err)
	require.NotNil(t, fr)
	assert.Empty(t, fr.Info)
	assert.Equal(t, byte(0x93), fr.Control)
	assert.Equal(t, minFrameLength, fr.Length)
}

func TestFramerReferenceCapture(t *testing.T) {
	capture := decodeHex(t, referenceCapture)
	require.Len(t, capture, 163)

	f := NewFramer()
	_, _ = f.Write(capture)
	_, _ = f.Write(testFrame)

	frames, errs := drain(f)
	require.NotEmpty(t, errs)
	assert.ErrorIs(t, errs[0], ErrHeaderCRC)
	require.Len(t, frames, 1)
	assert.Equal(t, testInfo, frames[0].Info)
}

func binaryUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}
