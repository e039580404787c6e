package decoders

import (
	"encoding/binary"
	"fmt"

	"github.com/darktable-org/rawspeed-go/internal/bitio"
	"github.com/darktable-org/rawspeed-go/internal/camera"
	"github.com/darktable-org/rawspeed-go/internal/decompress"
	"github.com/darktable-org/rawspeed-go/internal/rawimage"
	"github.com/darktable-org/rawspeed-go/internal/tiff"
)

// arwDecoder handles Sony ARW, SR2 and SRF files.
type arwDecoder struct {
	tiffDecoder
}

func newArwDecoder(root *tiff.RootIFD, file bitio.Buffer, opts Options) *arwDecoder {
	return &arwDecoder{tiffDecoder: newTiffDecoder(root, file, opts)}
}

func (d *arwDecoder) CheckSupport(db *camera.Database) error {
	return d.checkCameraSupported(db, d.id(), "")
}

func (d *arwDecoder) DecodeRaw() (*rawimage.Image, error) {
	data := d.root.GetIFDsWithTag(tiff.TagStripOffsets)

	if len(data) == 0 {
		// The A100 predates the regular layout; its raw lives behind a
		// bare SubIFD pointer.
		if e, ok := d.root.GetEntryRecursive(tiff.TagModel); ok {
			if model, err := e.GetString(); err == nil && model == "DSLR-A100" {
				return d.decodeA100()
			}
		}
		if d.hints.GetBool("srf_format", false) {
			return d.decodeSRF()
		}
		return nil, fmt.Errorf("%w: no image data found", ErrDecoder)
	}

	raw := data[0]
	compression := uint32(0)
	if e, ok := raw.GetEntry(tiff.TagCompression); ok {
		compression, _ = e.GetU32(0)
	}
	if compression == 1 {
		return d.decodeUncompressed(raw)
	}
	if compression != 32767 {
		return nil, fmt.Errorf("%w: unsupported ARW compression %d", ErrDecoder, compression)
	}

	offsets, ok0 := raw.GetEntry(tiff.TagStripOffsets)
	counts, ok1 := raw.GetEntry(tiff.TagStripByteCounts)
	if !ok0 || !ok1 {
		return nil, fmt.Errorf("%w: missing strip layout", ErrDecoder)
	}
	if offsets.Count != 1 || counts.Count != 1 {
		return nil, fmt.Errorf("%w: multiple strips found", ErrDecoder)
	}

	width := entryU32(raw, tiff.TagImageWidth)
	height := entryU32(raw, tiff.TagImageLength)
	bitPerPixel := entryU32(raw, tiff.TagBitsPerSample)

	switch bitPerPixel {
	case 8, 12, 14:
	default:
		return nil, fmt.Errorf("%w: unexpected bits per pixel %d", ErrDecoder, bitPerPixel)
	}

	// Some bodies mark 8bpp compressed ARW v2 with a 12-bit tag but
	// carry a second MAKE entry.
	if makers := d.root.GetIFDsWithTag(tiff.TagMake); len(makers) > 1 {
		for _, ifd := range makers {
			if e, ok := ifd.GetEntry(tiff.TagMake); ok {
				if s, err := e.GetString(); err == nil && s == "SONY" {
					bitPerPixel = 8
				}
			}
		}
	}

	if width == 0 || height == 0 || height%2 != 0 || width > 8000 || height > 5320 {
		return nil, fmt.Errorf("%w: unexpected ARW dimensions %dx%d", ErrDecoder, width, height)
	}

	count, _ := counts.GetU32(0)
	offset, _ := offsets.GetU32(0)

	arw1 := uint64(count)*8 != uint64(width)*uint64(height)*uint64(bitPerPixel)
	if arw1 {
		height += 8
	}

	d.img = rawimage.NewImage(rawimage.U16, rawimage.Point{X: int(width), Y: int(height)}, 1)
	d.img.IsCFA = true

	// The SONY_CURVE tag holds four spline knees; expand them into the
	// 14-bit-in linearization curve.
	curve := make([]uint16, 0x4001)
	sonyCurve := [6]uint32{0, 0, 0, 0, 0, 4095}
	if c, ok := raw.GetEntry(tagSonyCurve); ok {
		for i := uint32(0); i < 4; i++ {
			if v, err := c.GetU16(i); err == nil {
				sonyCurve[i+1] = uint32(v>>2) & 0xfff
			}
		}
	}
	for i := range curve {
		curve[i] = uint16(i)
	}
	for i := 0; i < 5; i++ {
		for j := sonyCurve[i] + 1; j <= sonyCurve[i+1]; j++ {
			curve[j] = curve[j-1] + (1 << uint(i))
		}
	}

	if !d.opts.UncorrectedRawValues {
		d.img.SetTable(rawimage.NewTable(curve, true))
		defer d.img.SetTable(nil)
	}

	if !d.isValidRange(offset, 0) {
		return nil, fmt.Errorf("%w: data offset after EOF", ErrDecoder)
	}
	if !d.isValidRange(offset, count) {
		count = uint32(d.file.Size()) - offset
	}
	in, err := d.fileStream(offset, count)
	if err != nil {
		return nil, err
	}

	if arw1 {
		if err := d.img.CreateData(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
		}
		a := decompress.NewArw1(in)
		if err := a.Decompress(d.img); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
		}
		return d.img, nil
	}
	return d.decodeARW2(in, int(width), int(height), int(bitPerPixel))
}

func (d *arwDecoder) decodeARW2(in *bitio.Stream, w, h, bpp int) (*rawimage.Image, error) {
	switch bpp {
	case 8:
		if err := d.img.CreateData(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
		}
		a2 := decompress.NewArw2(in)
		if err := a2.Decompress(d.img); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
		}
		return d.img, nil
	case 12:
		if err := d.img.CreateData(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
		}
		u := decompress.NewUncompressed(in)
		if err := u.Decode12BitRaw(d.img, w, h, false, false, false); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
		}
		// Black and white points share the compressed precision here.
		d.shiftDownScale = 2
		return d.img, nil
	}
	return nil, fmt.Errorf("%w: unsupported ARW2 bit depth %d", ErrDecoder, bpp)
}

func (d *arwDecoder) decodeUncompressed(raw *tiff.IFD) (*rawimage.Image, error) {
	width := entryU32(raw, tiff.TagImageWidth)
	height := entryU32(raw, tiff.TagImageLength)
	off := entryU32(raw, tiff.TagStripOffsets)
	count := entryU32(raw, tiff.TagStripByteCounts)

	if width == 0 || height == 0 || width > 8000 || height > 5320 {
		return nil, fmt.Errorf("%w: unexpected ARW dimensions %dx%d", ErrDecoder, width, height)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: strip is empty", ErrDecoder)
	}

	d.img = rawimage.NewImage(rawimage.U16, rawimage.Point{X: int(width), Y: int(height)}, 1)
	d.img.IsCFA = true
	if err := d.img.CreateData(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}

	in, err := d.fileStream(off, count)
	if err != nil {
		return nil, err
	}
	u := decompress.NewUncompressed(in)
	if d.hints.GetBool("sr2_format", false) {
		err = u.DecodeRawUnpacked(d.img, int(width), int(height), 14, true)
	} else {
		err = u.DecodeRawUnpacked(d.img, int(width), int(height), 16, false)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	return d.img, nil
}

func (d *arwDecoder) decodeA100() (*rawimage.Image, error) {
	raw, err := d.root.GetIFDWithTag(tiff.TagSubIFDs, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	e, ok := raw.GetEntry(tiff.TagSubIFDs)
	if !ok {
		return nil, fmt.Errorf("%w: missing A100 sub-IFD pointer", ErrDecoder)
	}
	off, err := e.GetU32(0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}

	const width, height = 3881, 2608
	d.img = rawimage.NewImage(rawimage.U16, rawimage.Point{X: width, Y: height}, 1)
	d.img.IsCFA = true
	if err := d.img.CreateData(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}

	in, err := d.fileStreamToEnd(off)
	if err != nil {
		return nil, err
	}
	a := decompress.NewArw1(in)
	if err := a.Decompress(d.img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	return d.img, nil
}

// decodeSRF handles the fixed-layout "encrypted" SRF files: the image
// buffer is xor-scrambled with a pad derived from a key hidden at fixed
// file offsets.
func (d *arwDecoder) decodeSRF() (*rawimage.Image, error) {
	raw, err := d.root.GetIFDWithTag(tiff.TagImageWidth, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	width := entryU32(raw, tiff.TagImageWidth)
	height := entryU32(raw, tiff.TagImageLength)

	if width == 0 || height == 0 || width > 3360 || height > 2460 {
		return nil, fmt.Errorf("%w: unexpected SRF dimensions %dx%d", ErrDecoder, width, height)
	}

	length := width * height * 2

	// Constants from the original format description.
	const off = 862144
	const keyOff = 200896
	const headOff = 164600

	keyData, err := d.file.GetData(keyOff, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	offset := int(keyData[0]) * 4
	keyData, err = d.file.GetData(keyOff+offset, 4)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	key := binary.BigEndian.Uint32(keyData)

	headOrig, err := d.file.GetData(headOff, 40)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	head := sonyDecrypt(headOrig, 10, key)
	for i := 26; i > 22; i-- {
		key = key<<8 | uint32(head[i-1])
	}

	imageData, err := d.file.GetData(off, int(length))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	decoded := sonyDecrypt(imageData, int(length)/4, key)

	d.img = rawimage.NewImage(rawimage.U16, rawimage.Point{X: int(width), Y: int(height)}, 1)
	d.img.IsCFA = true
	if err := d.img.CreateData(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}

	in := bitio.NewStream(bitio.NewBuffer(decoded, bitio.BigEndian))
	u := decompress.NewUncompressed(in)
	if err := u.DecodeRawUnpacked(d.img, int(width), int(height), 16, true); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	return d.img, nil
}

// sonyDecrypt undoes Sony's xor scrambling: a 127-word lagged-Fibonacci
// pad seeded from the key.
func sonyDecrypt(in []byte, words int, key uint32) []byte {
	out := make([]byte, len(in))
	copy(out, in)
	if words == 0 {
		return out
	}

	var pad [128]uint32
	for p := 0; p < 4; p++ {
		key = key*48828125 + 1
		pad[p] = key
	}
	pad[3] = pad[3]<<1 | (pad[0]^pad[2])>>31
	for p := 4; p < 127; p++ {
		pad[p] = (pad[p-4]^pad[p-2])<<1 | (pad[p-3]^pad[p-1])>>31
	}
	for p := 0; p < 127; p++ {
		b := [4]byte{}
		binary.BigEndian.PutUint32(b[:], pad[p])
		pad[p] = binary.LittleEndian.Uint32(b[:])
	}

	p := 127
	for w := 0; w < words && w*4+4 <= len(in); w++ {
		pad[p&127] = pad[(p+1)&127] ^ pad[(p+1+64)&127]
		bv := binary.LittleEndian.Uint32(in[w*4:])
		bv ^= pad[p&127]
		binary.LittleEndian.PutUint32(out[w*4:], bv)
		p++
	}
	return out
}

func (d *arwDecoder) DecodeMetadata(db *camera.Database) error {
	if d.img == nil {
		return fmt.Errorf("%w: no image decoded yet", ErrDecoder)
	}
	d.img.CFA = camera.NewCfaPattern(2, 2)
	d.img.CFA.SetColorAt(0, 0, camera.Red)
	d.img.CFA.SetColorAt(1, 0, camera.Green)
	d.img.CFA.SetColorAt(0, 1, camera.Green)
	d.img.CFA.SetColorAt(1, 1, camera.Blue)

	iso := d.isoSpeed()
	id := d.id()
	if err := d.setMetaData(db, id, "", iso); err != nil {
		return err
	}
	d.img.WhitePoint >>= d.shiftDownScale
	d.img.BlackLevel >>= d.shiftDownScale

	// White balance lives behind DNGPRIVATEDATA; failures here only
	// warn, the image stands without it.
	if err := d.getWB(); err != nil {
		d.img.SetError(err.Error())
	}
	return nil
}

// getWB finds and "decrypts" the Sony maker IFD carrying the
// white-balance levels.
func (d *arwDecoder) getWB() error {
	priv, ok := d.root.GetEntryRecursive(tagDNGPrivateData)
	if !ok {
		return nil
	}
	off, err := priv.GetU32(0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecoder, err)
	}

	fileData, err := d.file.GetData(0, d.file.Size())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	makerIFD, err := tiff.ParseStandalone(fileData, d.file.Order(), off)
	if err != nil {
		return fmt.Errorf("%w: maker IFD: %v", ErrDecoder, err)
	}

	sonyOffset, ok0 := makerIFD.GetEntryRecursive(tagSonyOffset)
	sonyLength, ok1 := makerIFD.GetEntryRecursive(tagSonyLength)
	sonyKey, ok2 := makerIFD.GetEntryRecursive(tagSonyKey)
	if !ok0 || !ok1 || !ok2 || sonyKey.Count != 4 {
		return fmt.Errorf("%w: no white balance metadata found", ErrDecoder)
	}

	encOff, err := sonyOffset.GetU32(0)
	if err != nil {
		return err
	}
	encLen, err := sonyLength.GetU32(0)
	if err != nil {
		return err
	}
	encLen -= encLen % 4

	keyData := sonyKey.Data()
	keyBytes, err := keyData.GetBytes(4)
	if err != nil {
		return err
	}
	key := binary.LittleEndian.Uint32(keyBytes)

	encrypted, err := d.file.GetData(int(encOff), int(encLen))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecoder, err)
	}
	// Decrypted offsets stay file-absolute, so rebuild a buffer with
	// the original padding in front.
	decBuf := make([]byte, int(encOff)+int(encLen))
	copy(decBuf[encOff:], sonyDecrypt(encrypted, int(encLen)/4, key))

	decIFD, err := tiff.ParseStandalone(decBuf, d.file.Order(), encOff)
	if err != nil {
		return fmt.Errorf("%w: encrypted IFD: %v", ErrDecoder, err)
	}

	if wb, ok := decIFD.GetEntry(tagSonyGRBGLevels); ok {
		if wb.Count != 4 {
			return fmt.Errorf("%w: GRBG white balance has %d entries", ErrDecoder, wb.Count)
		}
		g, _ := wb.GetFloat(0)
		r, _ := wb.GetFloat(1)
		b, _ := wb.GetFloat(2)
		d.img.Metadata.WBCoeffs = [4]float32{float32(r), float32(g), float32(b), 0}
	} else if wb, ok := decIFD.GetEntry(tagSonyRGGBLevels); ok {
		if wb.Count != 4 {
			return fmt.Errorf("%w: RGGB white balance has %d entries", ErrDecoder, wb.Count)
		}
		r, _ := wb.GetFloat(0)
		g, _ := wb.GetFloat(1)
		b, _ := wb.GetFloat(3)
		d.img.Metadata.WBCoeffs = [4]float32{float32(r), float32(g), float32(b), 0}
	}
	return nil
}

// entryU32 reads the first value of tag in ifd, or 0 when absent or
// unreadable.
func entryU32(ifd *tiff.IFD, tag tiff.Tag) uint32 {
	e, ok := ifd.GetEntry(tag)
	if !ok {
		return 0
	}
	v, err := e.GetU32(0)
	if err != nil {
		return 0
	}
	return v
}
