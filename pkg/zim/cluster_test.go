package zim

import (
	"bytes"
	"errors"
	"testing"
)

// serializeAndReopen runs a writer-side cluster through serialize and
// hands the bytes back as a reader-side reference.
func serializeAndReopen(t *testing.T, cl *cluster) *clusterRef {
	t.Helper()
	data, err := cl.serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	ref, err := openClusterRef(bytes.NewReader(data), 0, uint64(len(data)))
	if err != nil {
		t.Fatalf("openClusterRef: %v", err)
	}
	return ref
}

func TestClusterRoundTripUncompressed(t *testing.T) {
	cl := newCluster(CompressionNone)
	blobs := []string{"first blob", "", "third-blob-payload"}
	for _, b := range blobs {
		cl.addContent(NewStringProvider(b), nil)
	}

	ref := serializeAndReopen(t, cl)
	if ref.compression != CompressionNone {
		t.Errorf("compression: got %s", ref.compression)
	}
	n, err := ref.blobCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != uint32(len(blobs)) {
		t.Fatalf("blobCount: got %d, want %d", n, len(blobs))
	}
	for i, want := range blobs {
		got, err := ref.blob(uint32(i))
		if err != nil {
			t.Fatalf("blob %d: %v", i, err)
		}
		if string(got) != want {
			t.Errorf("blob %d: got %q, want %q", i, got, want)
		}
		size, err := ref.blobSize(uint32(i))
		if err != nil || size != uint64(len(want)) {
			t.Errorf("blobSize %d: got %d (%v), want %d", i, size, err, len(want))
		}
	}
}

func TestClusterRoundTripZstd(t *testing.T) {
	cl := newCluster(CompressionZstd)
	payload := bytes.Repeat([]byte("compressible payload "), 100)
	cl.addContent(NewBytesProvider(payload), nil)
	cl.addContent(NewStringProvider("tiny"), nil)

	ref := serializeAndReopen(t, cl)
	if ref.compression != CompressionZstd {
		t.Errorf("compression: got %s", ref.compression)
	}
	got, err := ref.blob(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("blob 0 does not match payload after zstd round trip")
	}
	got, err = ref.blob(1)
	if err != nil || string(got) != "tiny" {
		t.Errorf("blob 1: got %q, err %v", got, err)
	}
}

func TestClusterRoundTripLzma(t *testing.T) {
	cl := newCluster(CompressionLzma)
	payload := bytes.Repeat([]byte("lzma payload "), 64)
	cl.addContent(NewBytesProvider(payload), nil)

	ref := serializeAndReopen(t, cl)
	got, err := ref.blob(0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("blob does not match payload after lzma round trip")
	}
}

func TestClusterBlobRange(t *testing.T) {
	cl := newCluster(CompressionNone)
	cl.addContent(NewStringProvider("hello world"), nil)

	ref := serializeAndReopen(t, cl)
	got, err := ref.blobRange(0, 6, 5)
	if err != nil || string(got) != "world" {
		t.Errorf("blobRange: got %q, err %v", got, err)
	}
	if _, err := ref.blobRange(0, 6, 6); !errors.Is(err, ErrInvalidBlob) {
		t.Errorf("out-of-range blobRange: got %v", err)
	}
}

func TestClusterBlobOutOfRange(t *testing.T) {
	cl := newCluster(CompressionNone)
	cl.addContent(NewStringProvider("x"), nil)

	ref := serializeAndReopen(t, cl)
	if _, err := ref.blob(1); !errors.Is(err, ErrInvalidBlob) {
		t.Errorf("blob past end: got %v", err)
	}
}

func TestClusterUnknownCompression(t *testing.T) {
	data := []byte{0x0B, 0, 0, 0, 0} // compression 11 does not exist
	if _, err := openClusterRef(bytes.NewReader(data), 0, uint64(len(data))); !errors.Is(err, ErrUnsupportedCompression) {
		t.Errorf("expected ErrUnsupportedCompression, got %v", err)
	}
}

func TestClusterCorruptOffsets(t *testing.T) {
	// Uncompressed cluster whose first offset points past the body.
	var buf bytes.Buffer
	buf.WriteByte(byte(CompressionNone))
	writeUint32(&buf, 4096)
	ref, err := openClusterRef(bytes.NewReader(buf.Bytes()), 0, uint64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ref.blobCount(); !errors.Is(err, ErrCorruptArchive) {
		t.Errorf("expected ErrCorruptArchive, got %v", err)
	}
}

func TestClusterNotExtendedForSmallPayload(t *testing.T) {
	cl := newCluster(CompressionNone)
	cl.addContent(NewStringProvider("small"), nil)
	if cl.isExtended() {
		t.Error("small cluster must not be extended")
	}
}
