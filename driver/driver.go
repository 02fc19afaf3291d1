package driver

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
	"github.com/xyproto/madras"
)

// Open sniffs path's magic bytes and returns a ready-to-use madras.BinFile
// with its FormatDriver already wired, loaded via madras.BinFile.Parse.
// This is the single entry point cmd/madrasctl uses instead of asking the
// caller to name a format up front.
func Open(path string) (*madras.BinFile, error) {
	magic, err := readMagic(path)
	if err != nil {
		return nil, err
	}

	bf := madras.New(path)

	switch {
	case magic == 0x464c457f: // "\x7fELF" little-endian read as uint32
		d, err := NewELF(path)
		if err != nil {
			return nil, err
		}
		bf.Driver = d
		if code := bf.Parse(d.Loader); code != madras.ErrNone {
			return nil, errors.Errorf("driver: load elf: %s", code)
		}
	case magic == 0x00905a4d || magic&0xffff == 0x5a4d: // "MZ"
		d, err := NewPE(path)
		if err != nil {
			return nil, err
		}
		bf.Driver = d
		if code := bf.Parse(d.Loader); code != madras.ErrNone {
			return nil, errors.Errorf("driver: load pe: %s", code)
		}
	case magic == 0xfeedfacf || magic == 0xcffaedfe || magic == 0xfeedface || magic == 0xcefaedfe:
		d, err := NewMachO(path)
		if err != nil {
			return nil, err
		}
		bf.Driver = d
		if code := bf.Parse(d.Loader); code != madras.ErrNone {
			return nil, errors.Errorf("driver: load macho: %s", code)
		}
	default:
		return nil, errors.Errorf("driver: %s: unrecognised format (magic %#x)", path, magic)
	}

	if code := bf.FinaliseLoad(); code != madras.ErrNone {
		return nil, errors.Errorf("driver: finalise load: %s", code)
	}
	return bf, nil
}

func readMagic(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "driver: open")
	}
	defer f.Close()
	var buf [4]byte
	if _, err := f.Read(buf[:]); err != nil {
		return 0, errors.Wrap(err, "driver: read magic")
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}
