package zim

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestIntegerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeUint16(&buf, 0xBEEF); err != nil {
		t.Fatal(err)
	}
	if err := writeUint32(&buf, 0xDEADBEEF); err != nil {
		t.Fatal(err)
	}
	if err := writeUint64(&buf, 0x0123456789ABCDEF); err != nil {
		t.Fatal(err)
	}

	r := bytes.NewReader(buf.Bytes())
	v16, err := readUint16(r)
	if err != nil || v16 != 0xBEEF {
		t.Errorf("readUint16: got %#x, err %v", v16, err)
	}
	v32, err := readUint32(r)
	if err != nil || v32 != 0xDEADBEEF {
		t.Errorf("readUint32: got %#x, err %v", v32, err)
	}
	v64, err := readUint64(r)
	if err != nil || v64 != 0x0123456789ABCDEF {
		t.Errorf("readUint64: got %#x, err %v", v64, err)
	}
}

func TestLittleEndianLayout(t *testing.T) {
	var buf bytes.Buffer
	writeUint32(&buf, 0x44D495A)
	want := []byte{0x5A, 0x49, 0x4D, 0x04}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("magic bytes: got %v, want %v", buf.Bytes(), want)
	}
}

func TestReadCString(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("hello\x00world\x00"))
	s, err := readCString(r)
	if err != nil || s != "hello" {
		t.Errorf("got %q, err %v", s, err)
	}
	s, err = readCString(r)
	if err != nil || s != "world" {
		t.Errorf("got %q, err %v", s, err)
	}
}

func TestReadCStringUnterminated(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("dangling"))
	_, err := readCString(r)
	if !errors.Is(err, ErrCorruptArchive) {
		t.Errorf("expected ErrCorruptArchive, got %v", err)
	}
}
