package asm

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
)

const (
	elfHeaderSize        = 64
	elfProgramHeaderSize = 56
	elfSectionHeaderSize = 64
)

var defaultImageConfig = ImageConfig{
	BaseAddress:      0x401000,
	SegmentOffset:    0x1000,
	SegmentAlignment: 0x1000,
}

// ImageConfig controls how Program.ELFImage lays out the file.
type ImageConfig struct {
	Machine   elf.Machine
	ByteOrder binary.ByteOrder
	// BaseAddress is the virtual address of the first code byte. Relocations
	// are resolved against it.
	BaseAddress uint64
	// SegmentOffset is the file offset where the loadable segment begins.
	SegmentOffset    uint64
	SegmentAlignment uint64
}

func (cfg ImageConfig) withDefaults() ImageConfig {
	if cfg.BaseAddress == 0 {
		cfg.BaseAddress = defaultImageConfig.BaseAddress
	}
	if cfg.SegmentOffset == 0 {
		cfg.SegmentOffset = defaultImageConfig.SegmentOffset
	}
	if cfg.SegmentAlignment == 0 {
		cfg.SegmentAlignment = defaultImageConfig.SegmentAlignment
	}
	if cfg.ByteOrder == nil {
		cfg.ByteOrder = binary.LittleEndian
	}
	return cfg
}

func (cfg ImageConfig) validate() error {
	if cfg.Machine == elf.EM_NONE {
		return fmt.Errorf("asm: image machine not set")
	}
	if cfg.SegmentOffset < elfHeaderSize+elfProgramHeaderSize {
		return fmt.Errorf("asm: segment offset %#x too small for ELF headers", cfg.SegmentOffset)
	}
	if cfg.SegmentAlignment&(cfg.SegmentAlignment-1) != 0 {
		return fmt.Errorf("asm: segment alignment %#x is not a power of two", cfg.SegmentAlignment)
	}
	if cfg.SegmentOffset%cfg.SegmentAlignment != 0 {
		return fmt.Errorf("asm: segment offset %#x must be aligned to %#x", cfg.SegmentOffset, cfg.SegmentAlignment)
	}
	if (cfg.BaseAddress-cfg.SegmentOffset)%cfg.SegmentAlignment != 0 {
		return fmt.Errorf("asm: base address %#x not congruent with offset %#x", cfg.BaseAddress, cfg.SegmentOffset)
	}
	return nil
}

// ELFImage wraps the program in an executable ELF file with .text and
// .rodata sections so standard disassemblers can read it. The code is not
// runnable on its own: it expects its caller's calling convention.
func (p Program) ELFImage(cfg ImageConfig) ([]byte, error) {
	if cfg.ByteOrder == nil {
		cfg.ByteOrder = p.order
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	order := cfg.ByteOrder

	image := p.RelocatedCopy(uintptr(cfg.BaseAddress))
	shstr := []byte("\x00.text\x00.rodata\x00.shstrtab\x00")
	const (
		textName   = 1
		rodataName = 7
		shstrName  = 15
	)

	segOff := int(cfg.SegmentOffset)
	shstrOff := segOff + len(image)
	shOff := alignTo(shstrOff+len(shstr), 8)
	const sections = 4

	buf := make([]byte, shOff+sections*elfSectionHeaderSize)
	copy(buf[segOff:], image)
	copy(buf[shstrOff:], shstr)

	copy(buf, []byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS64), 0, byte(elf.EV_CURRENT)})
	buf[5] = byte(elf.ELFDATA2LSB)
	if order == binary.BigEndian {
		buf[5] = byte(elf.ELFDATA2MSB)
	}
	order.PutUint16(buf[16:], uint16(elf.ET_EXEC))
	order.PutUint16(buf[18:], uint16(cfg.Machine))
	order.PutUint32(buf[20:], uint32(elf.EV_CURRENT))
	order.PutUint64(buf[24:], cfg.BaseAddress)
	order.PutUint64(buf[32:], elfHeaderSize)
	order.PutUint64(buf[40:], uint64(shOff))
	order.PutUint16(buf[52:], elfHeaderSize)
	order.PutUint16(buf[54:], elfProgramHeaderSize)
	order.PutUint16(buf[56:], 1)
	order.PutUint16(buf[58:], elfSectionHeaderSize)
	order.PutUint16(buf[60:], sections)
	order.PutUint16(buf[62:], sections-1)

	ph := buf[elfHeaderSize:]
	order.PutUint32(ph[0:], uint32(elf.PT_LOAD))
	order.PutUint32(ph[4:], uint32(elf.PF_R|elf.PF_X))
	order.PutUint64(ph[8:], cfg.SegmentOffset)
	order.PutUint64(ph[16:], cfg.BaseAddress)
	order.PutUint64(ph[24:], cfg.BaseAddress)
	order.PutUint64(ph[32:], uint64(len(image)))
	order.PutUint64(ph[40:], uint64(len(image)))
	order.PutUint64(ph[48:], cfg.SegmentAlignment)

	section := func(idx int, name uint32, typ elf.SectionType, flags elf.SectionFlag, addr uint64, off, size int, align uint64) {
		sh := buf[shOff+idx*elfSectionHeaderSize:]
		order.PutUint32(sh[0:], name)
		order.PutUint32(sh[4:], uint32(typ))
		order.PutUint64(sh[8:], uint64(flags))
		order.PutUint64(sh[16:], addr)
		order.PutUint64(sh[24:], uint64(off))
		order.PutUint64(sh[32:], uint64(size))
		order.PutUint64(sh[48:], align)
	}
	section(1, textName, elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, cfg.BaseAddress, segOff, len(p.code), 16)
	section(2, rodataName, elf.SHT_PROGBITS, elf.SHF_ALLOC, cfg.BaseAddress+uint64(p.dataBase), segOff+p.dataBase, len(p.data), 16)
	section(3, shstrName, elf.SHT_STRTAB, 0, 0, shstrOff, len(shstr), 1)
	return buf, nil
}
