package icmp

import (
	"bytes"
	"testing"
)

func TestChecksum(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want uint16
	}{
		{"empty", nil, 0xffff},
		{"rfc1071 example", []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}, 0x220d},
		{"odd trailing byte", []byte{0x01}, 0xfeff},
		{"all ones", []byte{0xff, 0xff, 0xff, 0xff}, 0x0000},
		// 65538 words of 0xffff overflow the 32-bit accumulator once.
		{"accumulator wraparound", bytes.Repeat([]byte{0xff}, 65538*2), 0x0001},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Checksum(tc.in); got != tc.want {
				t.Fatalf("Checksum=%#04x want %#04x", got, tc.want)
			}
		})
	}
}

func TestChecksumVerifiesToZero(t *testing.T) {
	for _, size := range []int{8, 9, 64, 192, 1001} {
		msg := EncodeRequest(0x1234, 7, size, fixedTime)
		if !Valid(msg) {
			t.Fatalf("payload %d: checksum does not verify", size)
		}
	}
}
