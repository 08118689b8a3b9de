package steplink

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTelegramRoundTrip(t *testing.T) {
	in := MessagePrimitive{
		Dest:     3,
		Src:      HostAddr,
		Type:     Write,
		Register: RegMove,
		Data:     EncodeInt32(-1200)}
	out, err := DecodeTelegram(MakeTelegram(in))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("telegram changed in transit (-want +got):\n%s", diff)
	}
}

func TestTelegramEscapesSpecialBytes(t *testing.T) {
	// every special byte appears in the payload
	in := MessagePrimitive{
		Dest:     telEnd,
		Src:      telStart,
		Type:     Datagram,
		Register: RegNext,
		Data:     []byte{telStart, telEnd, specialCharFirstReplacement, 0x00}}
	tele := MakeTelegram(in)
	inner := tele[1 : len(tele)-1]
	if bytes.IndexByte(inner, telStart) >= 0 || bytes.IndexByte(inner, telEnd) >= 0 {
		t.Fatalf("telegram body contains unescaped framing bytes: % X", tele)
	}
	out, err := DecodeTelegram(tele)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("escaped telegram did not survive (-want +got):\n%s", diff)
	}
}

func TestDecodeTelegramCRCMismatch(t *testing.T) {
	tele := MakeTelegram(MessagePrimitive{Dest: 1, Src: HostAddr, Type: Read, Register: RegState})
	tele[3]++ // corrupt the type byte
	if _, err := DecodeTelegram(tele); err != ErrCRC {
		t.Errorf("expected ErrCRC, got %v", err)
	}
}

func TestDecodeTelegramFraming(t *testing.T) {
	if _, err := DecodeTelegram([]byte{1, 2, 3}); err != ErrNoStart {
		t.Errorf("expected ErrNoStart, got %v", err)
	}
	if _, err := DecodeTelegram([]byte{telStart, 1, 2, 3}); err != ErrNoEnd {
		t.Errorf("expected ErrNoEnd, got %v", err)
	}
	if _, err := DecodeTelegram([]byte{telStart, 1, 2, telEnd}); err != ErrShort {
		t.Errorf("expected ErrShort, got %v", err)
	}
}

func TestInt32Codec(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 2500, -2147483648, 2147483647} {
		got, err := DecodeInt32(EncodeInt32(v))
		if err != nil || got != v {
			t.Errorf("%d came back as %d (%v)", v, got, err)
		}
	}
	if _, err := DecodeInt32([]byte{1, 2}); err == nil {
		t.Error("a short register value should be an error")
	}
}

func TestMessageTypeString(t *testing.T) {
	cases := map[MessageType]string{
		Nack:            "Nack",
		CRCError:        "CRC Error",
		Datagram:        "Datagram",
		MessageType(42): "MessageType(42)",
	}
	for in, want := range cases {
		if got := in.String(); got != want {
			t.Errorf("%d.String() = %q, expected %q", byte(in), got, want)
		}
	}
}
