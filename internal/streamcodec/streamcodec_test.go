package streamcodec

import "testing"

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter()
	w.PutUint8(0xAB)
	w.PutUint16(0x1234)
	w.PutUint32(0xDEADBEEF)
	w.PutUint64(0x0102030405060708)
	w.PutBytes([]byte("hello"))

	r := NewReader(w.Bytes())

	u8, err := r.Uint8()
	if err != nil || u8 != 0xAB {
		t.Fatalf("Uint8 = %v, %v", u8, err)
	}
	u16, err := r.Uint16()
	if err != nil || u16 != 0x1234 {
		t.Fatalf("Uint16 = %v, %v", u16, err)
	}
	u32, err := r.Uint32()
	if err != nil || u32 != 0xDEADBEEF {
		t.Fatalf("Uint32 = %v, %v", u32, err)
	}
	u64, err := r.Uint64()
	if err != nil || u64 != 0x0102030405060708 {
		t.Fatalf("Uint64 = %v, %v", u64, err)
	}
	b, err := r.Bytes(5)
	if err != nil || string(b) != "hello" {
		t.Fatalf("Bytes = %q, %v", b, err)
	}
	if !r.AtEnd() {
		t.Fatalf("expected reader to be at end")
	}
}

func TestReaderUnexpectedEOF(t *testing.T) {
	r := NewReader([]byte{0x01})
	if _, err := r.Uint32(); err != ErrUnexpectedEOF {
		t.Fatalf("Uint32 on short buffer = %v, want ErrUnexpectedEOF", err)
	}
}

func TestFixedArray(t *testing.T) {
	w := NewWriter()
	w.PutBytes([]byte{1, 2, 3, 4})
	r := NewReader(w.Bytes())

	var dst [4]byte
	if err := r.FixedArray(dst[:]); err != nil {
		t.Fatalf("FixedArray: %v", err)
	}
	if dst != [4]byte{1, 2, 3, 4} {
		t.Fatalf("FixedArray = %v", dst)
	}
}

func TestRestAsUnframedByteVec(t *testing.T) {
	w := NewWriter()
	w.PutUint8(0x01)
	w.PutBytes([]byte{9, 8, 7})
	r := NewReader(w.Bytes())

	if _, err := r.Uint8(); err != nil {
		t.Fatalf("Uint8: %v", err)
	}
	rest := r.RestAsUnframedByteVec()
	if string(rest) != string([]byte{9, 8, 7}) {
		t.Fatalf("RestAsUnframedByteVec = %v", rest)
	}
	if !r.AtEnd() {
		t.Fatalf("expected reader to be at end after draining rest")
	}
}

func TestInvalidPacketTypeError(t *testing.T) {
	err := &InvalidPacketTypeError{Tag: 0x42}
	if err.Error() == "" {
		t.Fatalf("expected non-empty error message")
	}
}
