package sealed

import (
	"bytes"
	"testing"

	"github.com/dungeon-vr/netcore/internal/cryptocore"
	"github.com/dungeon-vr/netcore/internal/streamcodec"
)

func testSecret() cryptocore.SharedSecret {
	var secret cryptocore.SharedSecret
	copy(secret[:], bytes.Repeat([]byte{0x11}, cryptocore.KeySize))
	return secret
}

func encodeBytes(v []byte, w *streamcodec.Writer) { w.PutBytes(v) }
func decodeBytes(r *streamcodec.Reader) ([]byte, error) {
	return r.RestAsUnframedByteVec(), nil
}

func TestSealOpenRoundTrip(t *testing.T) {
	secret := testSecret()
	s, err := Seal([]byte("payload"), encodeBytes, secret)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	got, err := Open(s, decodeBytes, secret)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, []byte("payload")) {
		t.Fatalf("Open = %q", got)
	}
}

func TestOpenWrongSecretFails(t *testing.T) {
	secret := testSecret()
	var wrongSecret cryptocore.SharedSecret
	copy(wrongSecret[:], bytes.Repeat([]byte{0x22}, cryptocore.KeySize))

	s, err := Seal([]byte("payload"), encodeBytes, secret)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open(s, decodeBytes, wrongSecret); err != cryptocore.ErrDecrypt {
		t.Fatalf("Open with wrong secret = %v, want ErrDecrypt", err)
	}
}

func TestOpenTrailingDataRejected(t *testing.T) {
	secret := testSecret()
	s, err := Seal([]byte("payload"), encodeBytes, secret)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	decodeOneByte := func(r *streamcodec.Reader) ([]byte, error) {
		return r.Bytes(1)
	}
	if _, err := Open(s, decodeOneByte, secret); err != ErrTrailingData {
		t.Fatalf("Open with undersized decoder = %v, want ErrTrailingData", err)
	}
}

func TestReadFromWriteToRoundTrip(t *testing.T) {
	secret := testSecret()
	s, err := Seal([]byte("round trip"), encodeBytes, secret)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	w := streamcodec.NewWriter()
	s.WriteTo(w)

	r := streamcodec.NewReader(w.Bytes())
	got, err := ReadFrom[[]byte](r)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if got.Nonce != s.Nonce || !bytes.Equal(got.Data, s.Data) {
		t.Fatalf("ReadFrom round trip mismatch")
	}
	if !r.AtEnd() {
		t.Fatalf("expected reader to be at end")
	}
}

func TestCastReinterpretsWithoutTouchingBytes(t *testing.T) {
	secret := testSecret()
	s, err := Seal([]byte("cast me"), encodeBytes, secret)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	casted := Cast[string](s)
	if casted.Nonce != s.Nonce || !bytes.Equal(casted.Data, s.Data) {
		t.Fatalf("Cast changed bytes")
	}
}
