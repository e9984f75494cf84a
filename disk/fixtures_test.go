package disk

import (
	"bytes"
	"encoding/binary"
)

// buildD64 fills every sector with its track, sector and block number.
func buildD64(tracks int, errorBytes bool) []byte {
	total := D64TotalSectors(tracks)
	out := make([]byte, 0, total*D64_BYTES_PER_SECTOR+total)
	block := 0
	for t := 1; t <= tracks; t++ {
		for s := 0; s < D64SectorsPerTrack(t); s++ {
			sec := bytes.Repeat([]byte{byte(block)}, D64_BYTES_PER_SECTOR)
			sec[0], sec[1] = byte(t), byte(s)
			out = append(out, sec...)
			block++
		}
	}
	if errorBytes {
		out = append(out, make([]byte, total)...)
	}
	return out
}

// buildDSK returns a 35 track DOS ordered dump whose sector in file slot s
// of track t starts with t, s.
func buildDSK(spt int) []byte {
	out := make([]byte, STD_TRACKS_PER_DISK*spt*STD_BYTES_PER_SECTOR)
	for t := 0; t < STD_TRACKS_PER_DISK; t++ {
		for s := 0; s < spt; s++ {
			off := (t*spt + s) * STD_BYTES_PER_SECTOR
			out[off], out[off+1] = byte(t), byte(s)
		}
	}
	return out
}

// putVTOC writes a DOS 3.3 VTOC and a three sector catalog chain into a DOS
// ordered 16 sector dump.
func putVTOC(img []byte) {
	sec := func(t, s int) []byte {
		off := (t*STD_SECTORS_PER_TRACK + s) * STD_BYTES_PER_SECTOR
		return img[off : off+STD_BYTES_PER_SECTOR]
	}
	v := sec(VTOC_TRACK, 0)
	v[0x01], v[0x02], v[0x03] = VTOC_TRACK, 15, 3
	v[0x06] = 254
	v[0x27] = 122
	v[0x34], v[0x35] = STD_TRACKS_PER_DISK, STD_SECTORS_PER_TRACK
	v[0x36], v[0x37] = 0x00, 0x01
	for s := 15; s > 12; s-- {
		c := sec(VTOC_TRACK, s)
		c[1], c[2] = VTOC_TRACK, byte(s-1)
	}
	sec(VTOC_TRACK, 12)[1] = 0
}

func build2MG(format uint32, payload []byte) []byte {
	h := make([]byte, PREAMBLE_2MG_SIZE)
	copy(h, MAGIC_2MG)
	copy(h[4:], "TEST")
	binary.LittleEndian.PutUint16(h[0x08:], PREAMBLE_2MG_SIZE)
	binary.LittleEndian.PutUint16(h[0x0A:], 1)
	binary.LittleEndian.PutUint32(h[0x0C:], format)
	binary.LittleEndian.PutUint32(h[0x14:], uint32(len(payload)/PRODOS_BLOCK_BYTES))
	binary.LittleEndian.PutUint32(h[0x18:], PREAMBLE_2MG_SIZE)
	binary.LittleEndian.PutUint32(h[0x1C:], uint32(len(payload)))
	return append(h, payload...)
}

/* nibble track encoders, laid out the way a DOS 3.3 format writes them */

func oddEven(v byte) []byte {
	return []byte{0xAA | v>>1, 0xAA | v}
}

func ffs(n int) []byte {
	return bytes.Repeat([]byte{0xFF}, n)
}

func nibAddressField(prologue []byte, volume, track, sector byte) []byte {
	out := append([]byte(nil), prologue...)
	out = append(out, oddEven(volume)...)
	out = append(out, oddEven(track)...)
	out = append(out, oddEven(sector)...)
	out = append(out, oddEven(volume^track^sector)...)
	return append(out, FIELD_EPILOGUE...)
}

// encode62 writes a 6-and-2 data field for 256 bytes.
func encode62(data []byte) []byte {
	temp := make([]byte, NIB_62_NIBBLES)
	for i := 0; i < 256; i++ {
		temp[i] = data[i] >> 2
	}
	hi, med, low := 0x01, 0xAB, 0x55
	for i := 0; i < 0x56; i++ {
		temp[i+256] = (data[hi]&1)<<5 | (data[hi]&2)<<3 |
			(data[med]&1)<<3 | (data[med]&2)<<1 |
			(data[low]&1)<<1 | (data[low]&2)>>1
		hi = (hi - 1) & 0xFF
		med = (med - 1) & 0xFF
		low = (low - 1) & 0xFF
	}

	out := append([]byte(nil), DATA_PROLOGUE...)
	var last byte
	for i := len(temp) - 1; i > 255; i-- {
		out = append(out, NIBBLE_62[temp[i]^last])
		last = temp[i]
	}
	for i := 0; i < 256; i++ {
		out = append(out, NIBBLE_62[temp[i]^last])
		last = temp[i]
	}
	out = append(out, NIBBLE_62[last])
	return append(out, FIELD_EPILOGUE...)
}

// encode53 writes a 5-and-3 data field for 256 bytes.
func encode53(data []byte) []byte {
	top := make([]byte, 256)
	threes := make([]byte, 154)
	for t := 0; t < 256; t++ {
		top[t] = data[t] >> 3
	}
	for g := 0; g < 51; g++ {
		b0, b1, b2, b3, b4 := data[g], data[g+51], data[g+102], data[g+153], data[g+204]
		threes[g] = (b0&7)<<2 | (b3&4)>>1 | (b4&4)>>2
		threes[g+51] = (b1&7)<<2 | (b3 & 2) | (b4&2)>>1
		threes[g+102] = (b2&7)<<2 | (b3&1)<<1 | (b4 & 1)
	}
	threes[153] = data[255] & 7

	out := append([]byte(nil), DATA_PROLOGUE...)
	var last byte
	for i := 153; i >= 0; i-- {
		out = append(out, NIBBLE_53[threes[i]^last])
		last = threes[i]
	}
	for i := 0; i < 256; i++ {
		out = append(out, NIBBLE_53[top[i]^last])
		last = top[i]
	}
	out = append(out, NIBBLE_53[last])
	return append(out, FIELD_EPILOGUE...)
}

// sectorPattern is the content of logical sector s on track t in nibble
// fixtures.
func sectorPattern(t, s int) []byte {
	out := make([]byte, 256)
	for i := range out {
		out[i] = byte(i*7 + t*16 + s)
	}
	out[0], out[1] = byte(t), byte(s)
	return out
}

// nibTrack16 lays out 16 sectors of 416 nibbles in physical order. Physical
// sector p carries DOS logical sector DOS_33_SECTOR_ORDER[p].
func nibTrack16(track int) []byte {
	var out []byte
	for p := 0; p < STD_SECTORS_PER_TRACK; p++ {
		out = append(out, ffs(15)...)
		out = append(out, nibAddressField(ADDRESS_PROLOGUE_16, 254, byte(track), byte(p))...)
		out = append(out, ffs(6)...)
		out = append(out, encode62(sectorPattern(track, DOS_33_SECTOR_ORDER[p]))...)
		out = append(out, ffs(32)...)
	}
	return out
}

func nibTrack13(track int) []byte {
	var out []byte
	for p := 0; p < STD_SECTORS_PER_TRACK_OLD; p++ {
		out = append(out, ffs(15)...)
		out = append(out, nibAddressField(ADDRESS_PROLOGUE_13, 254, byte(track), byte(p))...)
		out = append(out, ffs(6)...)
		out = append(out, encode53(sectorPattern(track, p))...)
	}
	return append(out, ffs(TRACK_NIBBLE_LENGTH-len(out))...)
}

func buildNIB(tracks int, track func(int) []byte) []byte {
	var out []byte
	for t := 0; t < tracks; t++ {
		out = append(out, track(t)...)
	}
	return out
}

// nibSectorOffset is where physical sector p of a 16 sector fixture track
// starts within the track.
func nibSectorOffset(p int) int {
	return p * 416
}

/* STX records */

type stxSector struct {
	id     byte
	data   []byte
	badCRC bool
}

func stxFile(records ...[]byte) []byte {
	h := make([]byte, STX_HEADER_SIZE)
	copy(h, MAGIC_STX)
	binary.LittleEndian.PutUint16(h[4:], 3)
	binary.LittleEndian.PutUint16(h[6:], 0x01)
	h[10] = byte(len(records))
	h[11] = 2
	for _, r := range records {
		h = append(h, r...)
	}
	return h
}

func stxTrackHeader(blockSize, fuzzy, sectors, flags, track, side int) []byte {
	h := make([]byte, STX_TRACK_HEADER_SIZE)
	binary.LittleEndian.PutUint32(h[0:], uint32(blockSize))
	binary.LittleEndian.PutUint32(h[4:], uint32(fuzzy))
	binary.LittleEndian.PutUint16(h[8:], uint16(sectors))
	binary.LittleEndian.PutUint16(h[10:], uint16(flags))
	h[14] = byte(track | side<<7)
	return h
}

// stxTrack builds a record with sector headers. Sector data is stored in
// the order given, which is the physical order on the track.
func stxTrack(track, side int, sectors []stxSector) []byte {
	var headers, data []byte
	for _, s := range sectors {
		sh := make([]byte, STX_SECTOR_HEADER_SIZE)
		binary.LittleEndian.PutUint32(sh[0:], uint32(len(data)))
		sh[8], sh[9], sh[10], sh[11] = byte(track), byte(side), s.id, 2
		crc := STXSectorHeader{Track: byte(track), Head: byte(side), Sector: s.id, Size: 2}.IDCRC()
		if s.badCRC {
			crc ^= 0x5555
		}
		binary.BigEndian.PutUint16(sh[12:], crc)
		headers = append(headers, sh...)
		data = append(data, s.data...)
	}
	size := STX_TRACK_HEADER_SIZE + len(headers) + len(data)
	out := stxTrackHeader(size, 0, len(sectors), STX_TRACK_SECTOR_HEADERS, track, side)
	out = append(out, headers...)
	return append(out, data...)
}

// stxPlainTrack builds a record without sector headers.
func stxPlainTrack(track, side int, sectors [][]byte) []byte {
	size := STX_TRACK_HEADER_SIZE + len(sectors)*STX_PLAIN_SECTOR_SIZE
	out := stxTrackHeader(size, 0, len(sectors), 0, track, side)
	for _, s := range sectors {
		out = append(out, s...)
	}
	return out
}

func filled(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}
