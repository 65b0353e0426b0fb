package apns

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameMarshal(t *testing.T) {
	t.Parallel()

	mknotify := func(id uint32, token, payload string, expiry uint32) *Notification {
		tb, err := hex.DecodeString(token)
		require.NoError(t, err, "code error in test")
		n := &Notification{Token: tb, Payload: []byte(payload), Expiry: expiry}
		n.assign(id)
		return n
	}

	cases := []struct {
		name  string
		proto Protocol
		n     *Notification
		hex   string
	}{
		{"enhanced", ProtocolEnhanced,
			mknotify(7, "deadbeef", "hi", 0x5e000000),
			"01000000075e0000000004deadbeef00026869"},
		{"enhanced/id-zero", ProtocolEnhanced,
			mknotify(0, "c0ffee", "x", 0),
			"0100000000000000000003c0ffee000178"},
		{"simple", ProtocolSimple,
			mknotify(7, "deadbeef", "hi", 0x5e000000),
			"000004deadbeef00026869"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			b, err := FrameMarshal(c.proto, c.n)
			require.NoError(t, err)
			assert.Equal(t, c.hex, hex.EncodeToString(b))
		})
	}
}

func TestFrameMarshalErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		n      *Notification
		expect error
	}{
		{"missing-token", &Notification{Payload: []byte("p")}, ErrMissingToken},
		{"payload-256", &Notification{Token: []byte{1}, Payload: bytes.Repeat([]byte("x"), PayloadMax+1)}, ErrPayloadTooLarge},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			b, err := FrameMarshal(ProtocolEnhanced, c.n)
			assert.Nil(t, b)
			assert.Equal(t, c.expect, err)
		})
	}

	t.Run("payload-255", func(t *testing.T) {
		n := &Notification{Token: []byte{1}, Payload: bytes.Repeat([]byte("x"), PayloadMax)}
		b, err := FrameMarshal(ProtocolEnhanced, n)
		require.NoError(t, err)
		assert.Equal(t, 1+4+4+2+1+2+PayloadMax, len(b))
	})
}

func TestFrameUnmarshalRoundtrip(t *testing.T) {
	t.Parallel()

	n := &Notification{Token: []byte{0xde, 0xad}, Payload: []byte(`{"aps":{}}`), Expiry: 12345}
	n.assign(42)
	for _, proto := range []Protocol{ProtocolSimple, ProtocolEnhanced} {
		proto := proto
		t.Run(proto.String(), func(t *testing.T) {
			b, err := FrameMarshal(proto, n)
			require.NoError(t, err)
			back, p, err := FrameUnmarshal(b)
			require.NoError(t, err)
			assert.Equal(t, proto, p)
			assert.Equal(t, n.Token, back.Token)
			assert.Equal(t, n.Payload, back.Payload)
			if proto == ProtocolEnhanced {
				assert.Equal(t, n.Expiry, back.Expiry)
				id, ok := back.Identifier()
				assert.True(t, ok)
				assert.Equal(t, uint32(42), id)
			}
		})
	}

	t.Run("trailing-garbage", func(t *testing.T) {
		b, err := FrameMarshal(ProtocolSimple, n)
		require.NoError(t, err)
		_, _, err = FrameUnmarshal(append(b, 0xff))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "trailing")
	})
}

func TestErrorFrameUnmarshal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		hex    string
		status byte
		id     uint32
		expect string
	}{
		{"080800000063", 8, 99, ""},
		{"080a00000000", 10, 0, ""},
		{"08ff00000001", 255, 1, ""},
		{"", 0, 0, "unexpected EOF"},
		{"08", 0, 0, "unexpected EOF"},
		{"0808000000", 0, 0, "unexpected EOF"},
		{"990800000063", 0, 0, "frame is invalid"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.hex, func(t *testing.T) {
			b, err := hex.DecodeString(c.hex)
			require.NoError(t, err, "code error in test")
			status, id, err := ErrorFrameUnmarshal(b)
			if c.expect == "" {
				require.NoError(t, err)
				assert.Equal(t, c.status, status)
				assert.Equal(t, c.id, id)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expect)
			}
		})
	}
}

func TestDecoderReadErrorFragmented(t *testing.T) {
	t.Parallel()

	b, _ := hex.DecodeString("080800000063")
	dec := Decoder{}
	// one byte at a time exercises partial-read buffering
	dec.Attach(bufio.NewReader(iotest.OneByteReader(bytes.NewReader(b))))
	status, id, err := dec.ReadError()
	require.NoError(t, err)
	assert.Equal(t, byte(8), status)
	assert.Equal(t, uint32(99), id)

	_, _, err = dec.ReadError()
	assert.Equal(t, io.EOF, err)
}

func TestDecoderReadErrorTruncated(t *testing.T) {
	t.Parallel()

	b, _ := hex.DecodeString("0808")
	dec := Decoder{}
	dec.Attach(bufio.NewReader(bytes.NewReader(b)))
	_, _, err := dec.ReadError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected EOF")
}

func TestDecoderReadFeedback(t *testing.T) {
	t.Parallel()

	b, _ := hex.DecodeString("5e5e5e5e0004deadbeef" + "000000010002c0de")
	dec := Decoder{}
	dec.Attach(bufio.NewReader(iotest.OneByteReader(bytes.NewReader(b))))

	ts, token, err := dec.ReadFeedback()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x5e5e5e5e), ts)
	assert.Equal(t, "deadbeef", hex.EncodeToString(token))

	ts, token, err = dec.ReadFeedback()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), ts)
	assert.Equal(t, "c0de", hex.EncodeToString(token))

	_, _, err = dec.ReadFeedback()
	assert.Equal(t, io.EOF, err)
}

func TestDecoderReadFeedbackTruncated(t *testing.T) {
	t.Parallel()

	b, _ := hex.DecodeString("5e5e5e5e0004dead")
	dec := Decoder{}
	dec.Attach(bufio.NewReader(bytes.NewReader(b)))
	_, _, err := dec.ReadFeedback()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unexpected EOF"))
}

func TestValidateNotification(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ErrMissingToken, ValidateNotification(&Notification{}))
	assert.NoError(t, ValidateNotification(&Notification{Token: []byte{1}}))
	assert.Equal(t, ErrPayloadTooLarge,
		ValidateNotification(&Notification{Token: []byte{1}, Payload: make([]byte, 256)}))
}
