package han

import (
	"bytes"
	"context"
	"errors"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hemtjan.st/han/cosem"
	"hemtjan.st/han/hdlc"
	"hemtjan.st/han/meter"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"
)

func reading(o cosem.Obis, v cosem.Element, su ...cosem.ScalerUnit) cosem.Element {
	s := cosem.Structure(cosem.ObisElement(o), v)
	for _, u := range su {
		s.Children = append(s.Children, cosem.ScalerUnitElement(u))
	}
	return s
}

var (
	list1 = cosem.Array(
		reading(cosem.ObisActivePowerImport, cosem.Unsigned(cosem.TagDoubleLongUnsigned, 640), cosem.ScalerUnit{Unit: cosem.UnitW}),
	)
	list2 = cosem.Array(
		reading(cosem.ObisListVersion, cosem.VisibleString("AIDON_V0001")),
		reading(cosem.ObisMeterID, cosem.VisibleString("7359992890941742")),
		reading(cosem.ObisMeterType, cosem.VisibleString("6525")),
		reading(cosem.ObisActivePowerImport, cosem.Unsigned(cosem.TagDoubleLongUnsigned, 1122), cosem.ScalerUnit{Unit: cosem.UnitW}),
		reading(cosem.ObisActivePowerExport, cosem.Unsigned(cosem.TagDoubleLongUnsigned, 0), cosem.ScalerUnit{Unit: cosem.UnitW}),
		reading(cosem.ObisCurrentL1, cosem.Signed(cosem.TagLong, 51), cosem.ScalerUnit{Scaler: -1, Unit: cosem.UnitA}),
		reading(cosem.ObisVoltageL1, cosem.Unsigned(cosem.TagLongUnsigned, 2318), cosem.ScalerUnit{Scaler: -1, Unit: cosem.UnitV}),
	)

	list1Frame = frame(cosem.EncodeNotification(1, time.Time{}, list1))
	list2Frame = frame(cosem.EncodeNotification(1, time.Time{}, list2))
	// Ciphered payloads pass the link layer but cannot be decoded
	cipheredFrame = frame([]byte{0xe6, 0xe7, 0x00, 0xdb, 0x08, 1, 2, 3, 4, 5, 6, 7, 8, 0x20, 0x00})
)

func frame(info []byte) []byte {
	return hdlc.Encode(0x20, 0x241, 0x13, info)
}

func concat(parts ...[]byte) []byte {
	var b []byte
	for _, p := range parts {
		b = append(b, p...)
	}
	return b
}

// chunkReader returns one chunk per Read
type chunkReader struct {
	chunks [][]byte
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks = c.chunks[1:]
	return n, nil
}

// clock returns the given times in order, one per call
func clock(times ...time.Time) func() time.Time {
	return func() time.Time {
		t := times[0]
		if len(times) > 1 {
			times = times[1:]
		}
		return t
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("device gone")
}

func TestReader(t *testing.T) {
	r := NewReader(strings.NewReader(string(list1Frame)))
	fr, err := r.ReadFrame()
	require.NoError(t, err)
	require.NotNil(t, fr)
	assert.Equal(t, cosem.EncodeNotification(1, time.Time{}, list1), fr.Info)

	_, err = r.ReadFrame()
	assert.Equal(t, io.EOF, err)
}

func TestReaderDataWithEOF(t *testing.T) {
	// The last chunk comes together with io.EOF
	r := NewReader(iotest.DataErrReader(bytes.NewReader(concat(list1Frame, list2Frame))))

	fr, err := r.ReadFrame()
	require.NoError(t, err)
	require.NotNil(t, fr)
	assert.Equal(t, cosem.EncodeNotification(1, time.Time{}, list1), fr.Info)

	fr, err = r.ReadFrame()
	require.NoError(t, err)
	require.NotNil(t, fr)
	assert.Equal(t, cosem.EncodeNotification(1, time.Time{}, list2), fr.Info)

	_, err = r.ReadFrame()
	assert.Equal(t, io.EOF, err)
}

func TestReaderReportsRejectedFrames(t *testing.T) {
	bad := append([]byte{}, list1Frame...)
	bad[len(bad)-2] ^= 0xff

	r := NewReader(strings.NewReader(string(concat([]byte{1, 2, 3}, bad, list2Frame))))
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, hdlc.ErrDesync)
	_, err = r.ReadFrame()
	assert.ErrorIs(t, err, hdlc.ErrFrameCRC)
	fr, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, cosem.EncodeNotification(1, time.Time{}, list2), fr.Info)
}

func TestReaderFrameTimeout(t *testing.T) {
	t0 := time.Date(2020, 8, 20, 11, 27, 15, 0, time.UTC)
	src := &chunkReader{chunks: [][]byte{list2Frame[:20], list1Frame}}
	r := NewReader(src, WithClock(clock(t0, t0.Add(3*time.Second))))

	_, err := r.ReadFrame()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFrameTimeout)
	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 20, te.Dropped)
	assert.Equal(t, 3*time.Second, te.Idle)

	fr, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, cosem.EncodeNotification(1, time.Time{}, list1), fr.Info)
}

func TestReaderSlowFrameWithinTimeout(t *testing.T) {
	t0 := time.Date(2020, 8, 20, 11, 27, 15, 0, time.UTC)
	src := &chunkReader{chunks: [][]byte{list2Frame[:20], list2Frame[20:]}}
	r := NewReader(src, WithClock(clock(t0, t0.Add(time.Second))))

	fr, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, cosem.EncodeNotification(1, time.Time{}, list2), fr.Info)
}

func TestReaderTimeoutDisabled(t *testing.T) {
	t0 := time.Date(2020, 8, 20, 11, 27, 15, 0, time.UTC)
	src := &chunkReader{chunks: [][]byte{list2Frame[:20], list2Frame[20:]}}
	r := NewReader(src, WithFrameTimeout(0), WithClock(clock(t0, t0.Add(time.Hour))))

	fr, err := r.ReadFrame()
	require.NoError(t, err)
	require.NotNil(t, fr)
}

func TestReaderMaxFrameLength(t *testing.T) {
	r := NewReader(strings.NewReader(string(concat(list2Frame, list1Frame))), WithMaxFrameLength(64))
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, hdlc.ErrFrameTooLong)
	fr, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, cosem.EncodeNotification(1, time.Time{}, list1), fr.Info)
}

func TestPipelineRun(t *testing.T) {
	bad := append([]byte{}, list1Frame...)
	bad[len(bad)-2] ^= 0xff
	stream := concat([]byte{1, 2, 3}, list2Frame, bad, list1Frame, cipheredFrame)

	log, hook := logtest.NewNullLogger()
	c := &meter.Collector{}
	p := NewPipeline(c, Config{Log: log})
	err := p.Run(context.Background(), NewReader(strings.NewReader(string(stream))))
	require.NoError(t, err)

	require.Len(t, c.Fields, 8)
	last := c.Fields[7]
	assert.Equal(t, meter.SlotPower, last.Slot)
	assert.Equal(t, 640.0, last.Value)
	assert.Equal(t, cosem.List1, last.List)

	s := p.Stats()
	assert.Equal(t, uint64(3), s.Frames)
	assert.Equal(t, uint64(2), s.Decoded)
	assert.Equal(t, uint64(1), s.DecodeErrors)
	assert.Equal(t, uint64(8), s.Fields)
	assert.Equal(t, uint64(0), s.FieldErrors)
	assert.Equal(t, map[string]uint64{"desync": 1, "frame_crc_mismatch": 1}, s.LinkErrors)
	assert.Equal(t, map[string]uint64{"list1": 1, "list2": 1}, s.Lists)

	var warnings int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)
}

func TestPipelineShortFrameOwnSlot(t *testing.T) {
	c := &meter.Collector{}
	log, _ := logtest.NewNullLogger()
	p := NewPipeline(c, Config{Log: log, Dispatch: meter.Config{ShortFrameOwnSlot: true}})
	require.NoError(t, p.Run(context.Background(), NewReader(strings.NewReader(string(concat(list2Frame, list1Frame))))))

	power, ok := c.Last(meter.SlotPower)
	require.True(t, ok)
	assert.Equal(t, 1122.0, power.Value)
	short, ok := c.Last(meter.SlotPowerShortFrame)
	require.True(t, ok)
	assert.Equal(t, 640.0, short.Value)
}

func TestPipelineFieldErrors(t *testing.T) {
	body := cosem.Array(
		reading(cosem.ObisActivePowerImport, cosem.VisibleString("oops")),
		reading(cosem.ObisVoltageL1, cosem.Unsigned(cosem.TagLongUnsigned, 230)),
	)
	c := &meter.Collector{}
	log, _ := logtest.NewNullLogger()
	p := NewPipeline(c, Config{Log: log})
	err := p.Process(&hdlc.Frame{Info: cosem.EncodeNotification(1, time.Time{}, body)})
	assert.ErrorIs(t, err, cosem.ErrTypeMismatch)
	assert.Len(t, c.Fields, 1)
	assert.Equal(t, uint64(1), p.Stats().FieldErrors)
	assert.Equal(t, uint64(1), p.Stats().Decoded)
}

func TestPipelineMaxDepth(t *testing.T) {
	c := &meter.Collector{}
	log, _ := logtest.NewNullLogger()
	p := NewPipeline(c, Config{Log: log, MaxDepth: 1})
	err := p.Process(&hdlc.Frame{Info: cosem.EncodeNotification(1, time.Time{}, list1)})
	assert.ErrorIs(t, err, cosem.ErrTooDeep)
	assert.Empty(t, c.Fields)
}

func TestPipelineDebugDump(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	p := NewPipeline(&meter.Collector{}, Config{Log: log})
	require.NoError(t, p.Process(&hdlc.Frame{Info: cosem.EncodeNotification(1, time.Time{}, list1)}))
	require.NotEmpty(t, hook.Entries)
	assert.Contains(t, hook.Entries[0].Message, "e6 e7 00 0f")
}

func TestPipelineStopsOnReaderError(t *testing.T) {
	p := NewPipeline(&meter.Collector{}, Config{})
	err := p.Run(context.Background(), NewReader(failingReader{}))
	assert.EqualError(t, err, "device gone")
}

func TestPipelineCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewPipeline(&meter.Collector{}, Config{})
	err := p.Run(ctx, NewReader(strings.NewReader(string(list1Frame))))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStatsLogFields(t *testing.T) {
	s := newStats()
	s.Frames = 2
	s.LinkErrors["desync"] = 1
	s.Lists["list1"] = 2
	f := s.LogFields()
	assert.Equal(t, uint64(2), f["frames"])
	assert.Equal(t, uint64(1), f["link_desync"])
	assert.Equal(t, uint64(2), f["list1"])

	c := s.clone()
	c.LinkErrors["desync"]++
	assert.Equal(t, uint64(1), s.LinkErrors["desync"])
}
