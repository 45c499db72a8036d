package imwire

import "testing"

func TestFrameHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		flags  byte
		length int
	}{
		{frameFlagPlain, 0},
		{frameFlagPlain, 1},
		{frameFlagEncrypted, 254},
		{frameFlagPlain, maxFrameLength},
		{frameFlagEncrypted, maxFrameLength},
	}
	for _, c := range cases {
		header := encodeFrameHeader(c.flags, c.length)
		gotFlags, gotLength := decodeFrameHeader(header)
		if gotFlags != c.flags || gotLength != c.length {
			t.Errorf("round trip(%x,%d) = (%x,%d)", c.flags, c.length, gotFlags, gotLength)
		}
	}
}

func TestFrameHeaderPlaintextNibbleIsZero(t *testing.T) {
	header := encodeFrameHeader(frameFlagPlain, 10)
	if header>>20 != 0 {
		t.Fatalf("plaintext frame header nibble = %x, want 0", header>>20)
	}
}

func TestFrameHeaderEncryptedNibbleIsEight(t *testing.T) {
	header := encodeFrameHeader(frameFlagEncrypted, 10)
	if header>>20 != 0x8 {
		t.Fatalf("encrypted frame header nibble = %x, want 8", header>>20)
	}
}
