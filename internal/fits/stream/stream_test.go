package stream

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitsgw/internal/fits/coords"
)

// memSource is a fixed in-memory FITS byte buffer satisfying Source.
type memSource struct {
	data []byte
	pos  int64
}

func (m *memSource) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func numCard(key string, value float64) string {
	return pad80(formatCard(key, value, ""))
}

func strCard(key, value string) string {
	return pad80(formatStringCard(key, value, ""))
}

func padToBlockBytes(s string) string {
	n := int64(len(s))
	return s + strings.Repeat(" ", int(padToBlock(n)))
}

func boolCard(key string, value bool) string {
	v := "F"
	if value {
		v = "T"
	}
	return pad80(fmt.Sprintf("%-8s= %s", key, v))
}

func cardIndex(cards []card, key string) int {
	for i, c := range cards {
		if c.key == key {
			return i
		}
	}
	return -1
}

// buildCompressedImageHDU builds a ZIMAGE=T BINTABLE extension storing a
// znaxis1 x znaxis2 int16 image as one GZIP_1-compressed full-width tile per
// row (ZTILE1 == ZNAXIS1), matching the only layout streamCompressedImage
// supports: each table row is an 8-byte variable-length-array descriptor
// (4-byte big-endian element count, 4-byte big-endian heap offset) pointing
// into a zlib-compressed heap region starting at THEAP bytes into the data
// segment. It returns the HDU bytes (header + data, block-padded) and the
// plaintext pixel matrix the compressed tiles encode, for building
// expectations without hand-computing compressed byte offsets.
func buildCompressedImageHDU(t *testing.T, znaxis1, znaxis2 int) ([]byte, [][]int16) {
	t.Helper()

	pixels := make([][]int16, znaxis2)
	for y := 0; y < znaxis2; y++ {
		row := make([]int16, znaxis1)
		for x := 0; x < znaxis1; x++ {
			row[x] = int16(y*znaxis1 + x + 1)
		}
		pixels[y] = row
	}

	var heap bytes.Buffer
	descriptors := make([]byte, 0, 8*znaxis2)
	for _, row := range pixels {
		rowBytes := make([]byte, 2*len(row))
		for i, v := range row {
			binary.BigEndian.PutUint16(rowBytes[2*i:], uint16(v))
		}

		var compressed bytes.Buffer
		zw := zlib.NewWriter(&compressed)
		_, err := zw.Write(rowBytes)
		require.NoError(t, err)
		require.NoError(t, zw.Close())

		var desc [8]byte
		binary.BigEndian.PutUint32(desc[0:4], uint32(compressed.Len()))
		binary.BigEndian.PutUint32(desc[4:8], uint32(heap.Len()))
		descriptors = append(descriptors, desc[:]...)
		heap.Write(compressed.Bytes())
	}

	naxis1 := int64(8) // one VLA descriptor column, 8 bytes per row
	naxis2 := int64(znaxis2)
	pcount := int64(heap.Len())

	var hb strings.Builder
	hb.WriteString(strCard("XTENSION", "BINTABLE"))
	hb.WriteString(numCard("BITPIX", 8))
	hb.WriteString(numCard("NAXIS", 2))
	hb.WriteString(numCard("NAXIS1", float64(naxis1)))
	hb.WriteString(numCard("NAXIS2", float64(naxis2)))
	hb.WriteString(numCard("PCOUNT", float64(pcount)))
	hb.WriteString(numCard("GCOUNT", 1))
	hb.WriteString(boolCard("ZIMAGE", true))
	hb.WriteString(strCard("ZCMPTYPE", "GZIP_1  "))
	hb.WriteString(numCard("ZBITPIX", 16))
	hb.WriteString(numCard("ZNAXIS1", float64(znaxis1)))
	hb.WriteString(numCard("ZNAXIS2", float64(znaxis2)))
	hb.WriteString(numCard("ZTILE1", float64(znaxis1)))
	hb.WriteString(numCard("THEAP", float64(naxis1*naxis2)))
	hb.WriteString(numCard("CRPIX1", float64(znaxis1)/2))
	hb.WriteString(numCard("CRPIX2", float64(znaxis2)/2))
	hb.WriteString(pad80("END"))
	header := padToBlockBytes(hb.String())

	data := append([]byte{}, descriptors...)
	data = append(data, heap.Bytes()...)
	data = append(data, make([]byte, padToBlock(int64(len(data))))...)

	full := append([]byte(header), data...)
	return full, pixels
}

// TestStream_CompressedImageCutout_DecompressesAndRewritesHeader covers
// spec.md's tile-compressed-source seed scenario: a ZIMAGE=T binary-table-
// stored image must stream out as a plain image extension, its pixel rows
// decompressed off the zlib heap and byte-swapped payload left in
// big-endian order, with PCOUNT=0/GCOUNT=1 inserted right after the
// rewritten NAXIS2.
func TestStream_CompressedImageCutout_DecompressesAndRewritesHeader(t *testing.T) {
	znaxis1, znaxis2 := 4, 3
	data, pixels := buildCompressedImageHDU(t, znaxis1, znaxis2)
	src := &memSource{data: data}

	box := coords.PixelBox{XMin: 2, YMin: 1, XMax: 3, YMax: 2}
	solve := func(hdr string, naxis1, naxis2 int64) (coords.PixelBox, bool, error) {
		assert.Equal(t, int64(znaxis1), naxis1)
		assert.Equal(t, int64(znaxis2), naxis2)
		assert.Contains(t, hdr, "ZCMPTYPE")
		return box, true, nil
	}

	var out bytes.Buffer
	err := Stream(src, &out, solve)
	require.NoError(t, err)
	assert.Equal(t, int64(0), int64(out.Len())%blockSize, "output must be block-aligned")

	r := bytes.NewReader(out.Bytes())
	extCards, _, err := readHeaderCards(r)
	require.NoError(t, err)

	xtension, ok := cardString(extCards, "XTENSION")
	require.True(t, ok)
	assert.Equal(t, "IMAGE", xtension, "a tile-compressed extension must be rewritten as a plain image extension")

	n1, ok := cardString(extCards, "NAXIS1")
	require.True(t, ok)
	assert.Equal(t, "2", n1)
	n2, ok := cardString(extCards, "NAXIS2")
	require.True(t, ok)
	assert.Equal(t, "2", n2)

	naxis2Idx := cardIndex(extCards, "NAXIS2")
	require.GreaterOrEqual(t, naxis2Idx, 0)
	require.Greater(t, len(extCards), naxis2Idx+2)
	assert.Equal(t, "PCOUNT", extCards[naxis2Idx+1].key)
	assert.Equal(t, "0", extCards[naxis2Idx+1].value)
	assert.Equal(t, "GCOUNT", extCards[naxis2Idx+2].key)
	assert.Equal(t, "1", extCards[naxis2Idx+2].value)

	var expected []byte
	for y := box.YMin; y <= box.YMax; y++ {
		row := pixels[y-1]
		for x := box.XMin; x <= box.XMax; x++ {
			var b2 [2]byte
			binary.BigEndian.PutUint16(b2[:], uint16(row[x-1]))
			expected = append(expected, b2[:]...)
		}
	}

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, expected, rest[:len(expected)], "decompressed cutout payload must preserve big-endian byte order exactly")
}

func buildInt16ImageHDU(naxis1, naxis2 int, extra ...string) ([]byte, []int16) {
	var b strings.Builder
	b.WriteString(strCard("SIMPLE", "T       "))
	b.WriteString(numCard("BITPIX", 16))
	b.WriteString(numCard("NAXIS", 2))
	b.WriteString(numCard("NAXIS1", float64(naxis1)))
	b.WriteString(numCard("NAXIS2", float64(naxis2)))
	b.WriteString(numCard("CRPIX1", 5))
	b.WriteString(numCard("CRPIX2", 5))
	b.WriteString(numCard("LTV1", 0))
	b.WriteString(numCard("LTV2", 0))
	for _, c := range extra {
		b.WriteString(pad80(c))
	}
	b.WriteString(pad80("END"))
	header := padToBlockBytes(b.String())

	pixels := make([]int16, naxis1*naxis2)
	buf := make([]byte, 2*len(pixels))
	for i := range pixels {
		pixels[i] = int16(i + 1)
		binary.BigEndian.PutUint16(buf[2*i:], uint16(pixels[i]))
	}
	pad := make([]byte, padToBlock(int64(len(buf))))
	full := append([]byte(header), buf...)
	full = append(full, pad...)
	return full, pixels
}

func TestStream_PlainImageCutout_RewritesHeaderAndPayload(t *testing.T) {
	data, pixels := buildInt16ImageHDU(10, 10, strCard("CHECKSUM", "ABCDEFGH"), strCard("DATASUM", "12345678"))
	src := &memSource{data: data}

	box := coords.PixelBox{XMin: 3, YMin: 3, XMax: 6, YMax: 6}
	solve := func(hdr string, naxis1, naxis2 int64) (coords.PixelBox, bool, error) {
		assert.Equal(t, int64(10), naxis1)
		assert.Equal(t, int64(10), naxis2)
		assert.Contains(t, hdr, "NAXIS1")
		return box, true, nil
	}

	var out bytes.Buffer
	err := Stream(src, &out, solve)
	require.NoError(t, err)

	assert.Equal(t, int64(0), int64(out.Len())%blockSize, "output must be block-aligned")

	cards, consumed, err := readHeaderCards(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	_ = consumed

	n1, ok := cardString(cards, "NAXIS1")
	require.True(t, ok)
	assert.Equal(t, "4", n1)
	n2, ok := cardString(cards, "NAXIS2")
	require.True(t, ok)
	assert.Equal(t, "4", n2)

	assert.Equal(t, 0.0+float64(box.XMin-1), cardFloat(cards, "LTV1", -999))
	assert.Equal(t, 5.0+float64(1-box.XMin), cardFloat(cards, "CRPIX1", -999))

	_, hasChecksum := cardString(cards, "CHECKSUM")
	assert.False(t, hasChecksum, "CHECKSUM must be dropped from a cutout header")
	_, hasDatasum := cardString(cards, "DATASUM")
	assert.False(t, hasDatasum, "DATASUM must be dropped from a cutout header")

	dataStart := int(consumed)
	rowsz := box.XMax - box.XMin + 1
	var expected []byte
	for y := box.YMin; y <= box.YMax; y++ {
		for x := box.XMin; x <= box.XMax; x++ {
			idx := (x - 1) + 10*(y-1)
			var b2 [2]byte
			binary.BigEndian.PutUint16(b2[:], uint16(pixels[idx]))
			expected = append(expected, b2[:]...)
		}
	}
	_ = rowsz
	got := out.Bytes()[dataStart : dataStart+len(expected)]
	assert.Equal(t, expected, got, "cutout payload must preserve big-endian byte order exactly")
}

func TestStream_VerbatimNonImageHDU(t *testing.T) {
	var b strings.Builder
	b.WriteString(strCard("XTENSION", "TABLE   "))
	b.WriteString(numCard("BITPIX", 8))
	b.WriteString(numCard("NAXIS", 2))
	b.WriteString(numCard("NAXIS1", 4))
	b.WriteString(numCard("NAXIS2", 1))
	b.WriteString(numCard("PCOUNT", 0))
	b.WriteString(numCard("GCOUNT", 1))
	b.WriteString(pad80("END"))
	header := padToBlockBytes(b.String())

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	pad := make([]byte, padToBlock(int64(len(payload))))
	data := append([]byte(header), payload...)
	data = append(data, pad...)

	src := &memSource{data: data}
	var out bytes.Buffer
	err := Stream(src, &out, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(0), int64(out.Len())%blockSize)
	assert.True(t, bytes.Contains(out.Bytes(), payload), "non-image HDU payload must be copied unchanged")
}

func TestStream_NoOverlapIsInternalError(t *testing.T) {
	data, _ := buildInt16ImageHDU(10, 10)
	src := &memSource{data: data}
	solve := func(string, int64, int64) (coords.PixelBox, bool, error) {
		return coords.PixelBox{}, false, nil
	}
	var out bytes.Buffer
	err := Stream(src, &out, solve)
	require.Error(t, err)
}

func TestStream_OtherNaxisIsRejected(t *testing.T) {
	var b strings.Builder
	b.WriteString(strCard("SIMPLE", "T       "))
	b.WriteString(numCard("BITPIX", 8))
	b.WriteString(numCard("NAXIS", 3))
	b.WriteString(numCard("NAXIS1", 2))
	b.WriteString(numCard("NAXIS2", 2))
	b.WriteString(numCard("NAXIS3", 2))
	b.WriteString(pad80("END"))
	header := padToBlockBytes(b.String())
	payload := make([]byte, 8)
	pad := make([]byte, padToBlock(int64(len(payload))))
	data := append([]byte(header), payload...)
	data = append(data, pad...)

	src := &memSource{data: data}
	var out bytes.Buffer
	err := Stream(src, &out, nil)
	require.Error(t, err)
}
