package asm

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/tinyrange/lirgen/internal/lir"
)

func TestELFImageSections(t *testing.T) {
	var rec Recorder
	rec.RecordDataReferenceInCode(lir.DoubleConstant(1.5), 8)
	prog := NewProgram([]byte{0x90, 0x90, 0xC3}, nil, &rec)

	image, err := prog.ELFImage(ImageConfig{Machine: elf.EM_X86_64})
	if err != nil {
		t.Fatalf("ELFImage failed: %v", err)
	}
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		t.Fatalf("parse image: %v", err)
	}
	defer f.Close()

	if f.Machine != elf.EM_X86_64 {
		t.Fatalf("machine=%v, want EM_X86_64", f.Machine)
	}
	if f.Entry != 0x401000 {
		t.Fatalf("entry=%#x, want 0x401000", f.Entry)
	}
	text := f.Section(".text")
	if text == nil {
		t.Fatalf("missing .text section")
	}
	code, err := text.Data()
	if err != nil {
		t.Fatalf("read .text: %v", err)
	}
	if !bytes.Equal(code, []byte{0x90, 0x90, 0xC3}) {
		t.Fatalf(".text=%x, want 9090c3", code)
	}
	rodata := f.Section(".rodata")
	if rodata == nil {
		t.Fatalf("missing .rodata section")
	}
	if got, want := rodata.Addr, uint64(0x401010); got != want {
		t.Fatalf(".rodata addr=%#x, want %#x", got, want)
	}
}

func TestELFImageBigEndian(t *testing.T) {
	prog := NewProgram([]byte{0x81, 0xC3, 0xE0, 0x08}, nil, nil)
	image, err := prog.ELFImage(ImageConfig{Machine: elf.EM_SPARCV9, ByteOrder: binary.BigEndian})
	if err != nil {
		t.Fatalf("ELFImage failed: %v", err)
	}
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		t.Fatalf("parse image: %v", err)
	}
	defer f.Close()
	if f.ByteOrder != binary.BigEndian {
		t.Fatalf("byte order=%v, want big endian", f.ByteOrder)
	}
}

func TestELFImageRejectsMissingMachine(t *testing.T) {
	prog := NewProgram([]byte{0xC3}, nil, nil)
	if _, err := prog.ELFImage(ImageConfig{}); err == nil {
		t.Fatalf("expected error for missing machine")
	}
}
