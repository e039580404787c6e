package decoders

import "github.com/darktable-org/rawspeed-go/internal/tiff"

// Vendor-specific and DNG tags the frontends consume; kept here rather
// than in the tiff package since only this layer interprets them.
const (
	tagNewSubFileType  tiff.Tag = 0x00FE
	tagSamplesPerPixel tiff.Tag = 0x0115
	tagPhotometric     tiff.Tag = 0x0106
	tagSampleFormat    tiff.Tag = 0x0153
	tagPredictor       tiff.Tag = 0x013D
	tagGrayResponse    tiff.Tag = 0x0123
	tagEpsonWB         tiff.Tag = 0x0E80
	tagExifCFAPattern  tiff.Tag = 0xA302

	// DNG.
	tagUniqueCameraModel  tiff.Tag = 0xC614
	tagCFALayout          tiff.Tag = 0xC617
	tagLinearizationTable tiff.Tag = 0xC618
	tagBlackLevelRepeat   tiff.Tag = 0xC619
	tagBlackLevelDeltaH   tiff.Tag = 0xC61B
	tagBlackLevelDeltaV   tiff.Tag = 0xC61C
	tagAsShotNeutral      tiff.Tag = 0xC628
	tagAsShotWhiteXY      tiff.Tag = 0xC629
	tagDNGPrivateData     tiff.Tag = 0xC634
	tagMaskedAreas        tiff.Tag = 0xC68E
	tagOpcodeList1        tiff.Tag = 0xC740

	// Sony.
	tagSonyCurve      tiff.Tag = 0x7010
	tagSonyOffset     tiff.Tag = 0x7200
	tagSonyLength     tiff.Tag = 0x7201
	tagSonyKey        tiff.Tag = 0x7221
	tagSonyGRBGLevels tiff.Tag = 0x7303
	tagSonyRGGBLevels tiff.Tag = 0x7313

	// Fuji RAF directory.
	tagFujiFullWidth  tiff.Tag = 0xF001
	tagFujiFullHeight tiff.Tag = 0xF002
	tagFujiLayout     tiff.Tag = 0xF009
	tagFujiStripOffs  tiff.Tag = 0xF007
	tagFujiStripBytes tiff.Tag = 0xF008
	tagFujiBlackLevel tiff.Tag = 0xF00A
	tagFujiWBGRB      tiff.Tag = 0xF00D
	tagFujiOldWB      tiff.Tag = 0x2FF0

	// Olympus.
	tagOlympusRedMul  tiff.Tag = 0x1017
	tagOlympusBlueMul tiff.Tag = 0x1018
	tagOlympusImgProc tiff.Tag = 0x2040

	// Panasonic RW2.
	tagPanaSensorWidth  tiff.Tag = 0x0002
	tagPanaSensorHeight tiff.Tag = 0x0003
	tagPanaCFAPattern   tiff.Tag = 0x0009
	tagPanaBitsPerSmpl  tiff.Tag = 0x000A
	tagPanaISO          tiff.Tag = 0x0017
	tagPanaWBRed        tiff.Tag = 0x0024
	tagPanaWBGreen      tiff.Tag = 0x0025
	tagPanaWBBlue       tiff.Tag = 0x0026
	tagPanaRawFormat    tiff.Tag = 0x002D
	tagPanaStripOffset  tiff.Tag = 0x0118
	tagPanaStripBytes   tiff.Tag = 0x0119

	// Samsung SRW.
	tagSrwSliceOffsets tiff.Tag = 0xA010 // 40976
	tagSrwBitDepth     tiff.Tag = 0xA011
)
