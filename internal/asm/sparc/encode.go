package sparc

import (
	"fmt"

	"github.com/tinyrange/lirgen/internal/lir"
)

// encoded is one instruction word plus what the context must patch.
type encoded struct {
	word uint32
	// branch is set when the displacement field refers to Inst.Label.
	branch bool
	// call is set for call disp30, bound when the program is installed.
	call bool
}

func regField(cl class, n uint8) uint32 {
	switch cl {
	case single:
		return Freg(n).field(false)
	case double:
		return Freg(n).field(true)
	}
	return uint32(n) & 0x1f
}

func checkReg(cl class, n uint8) error {
	switch cl {
	case gpr, single:
		if n > 31 {
			return fmt.Errorf("register %d out of range", n)
		}
	case double:
		if n > 62 || n&1 != 0 {
			return fmt.Errorf("double register %%f%d is not even or out of range", n)
		}
	}
	return nil
}

func format3(op, op3 uint32, rd, rs1 uint32) uint32 {
	return op<<30 | (rd&0x1f)<<25 | op3<<19 | (rs1&0x1f)<<14
}

// simm encodes the immediate half of a format 3 word, or rs2.
func (i *Inst) simm(bits uint, rs2 uint32) (uint32, error) {
	if !i.HasImm {
		return rs2 & 0x1f, nil
	}
	if !lir.IsSimm(i.Imm, bits) {
		return 0, fmt.Errorf("immediate %d does not fit simm%d", i.Imm, bits)
	}
	return 1<<13 | uint32(i.Imm)&(1<<bits-1), nil
}

// membarMask converts barrier bits to the mmask field order
// (#LoadLoad, #StoreLoad, #LoadStore, #StoreStore).
func membarMask(b lir.Barrier) uint32 {
	var m uint32
	if b&lir.LoadLoad != 0 {
		m |= 1
	}
	if b&lir.StoreLoad != 0 {
		m |= 2
	}
	if b&lir.LoadStore != 0 {
		m |= 4
	}
	if b&lir.StoreStore != 0 {
		m |= 8
	}
	return m
}

func ccField(cc CC) uint32 {
	if cc == XCC {
		return 2
	}
	return 0
}

func encodeInst(i *Inst) (encoded, error) {
	info, ok := opTable[i.Op]
	if !ok {
		return encoded{}, fmt.Errorf("unknown mnemonic %d", i.Op)
	}
	for _, f := range []struct {
		cl class
		n  uint8
	}{{info.rd, i.Rd}, {info.rs1, i.Rs1}, {info.rs2, i.Rs2}} {
		if err := checkReg(f.cl, f.n); err != nil {
			return encoded{}, err
		}
	}
	rd := regField(info.rd, i.Rd)
	rs1 := regField(info.rs1, i.Rs1)
	rs2 := regField(info.rs2, i.Rs2)

	switch info.format {
	case fmtNop:
		return encoded{word: 0x01000000}, nil

	case fmtArith, fmtMem:
		op := uint32(2)
		if info.format == fmtMem {
			op = 3
		}
		low, err := i.simm(13, rs2)
		if err != nil {
			return encoded{}, err
		}
		return encoded{word: format3(op, info.op3, rd, rs1) | low}, nil

	case fmtShift:
		w := format3(2, info.op3, rd, rs1)
		if info.x {
			w |= 1 << 12
		}
		if i.HasImm {
			limit := int64(31)
			if info.x {
				limit = 63
			}
			if i.Imm < 0 || i.Imm > limit {
				return encoded{}, fmt.Errorf("shift count %d out of range", i.Imm)
			}
			return encoded{word: w | 1<<13 | uint32(i.Imm)}, nil
		}
		return encoded{word: w | rs2}, nil

	case fmtSethi:
		if i.Imm < 0 || i.Imm >= 1<<22 {
			return encoded{}, fmt.Errorf("sethi value %#x out of range", i.Imm)
		}
		return encoded{word: rd<<25 | 4<<22 | uint32(i.Imm)}, nil

	case fmtMembar:
		return encoded{word: format3(2, info.op3, 0, 15) | 1<<13 | membarMask(lir.Barrier(i.Imm))}, nil

	case fmtMovcc:
		var cc uint32
		switch i.CC {
		case ICC:
			cc = 0b100
		case XCC:
			cc = 0b110
		case FCC0:
			cc = 0b000
		}
		w := format3(2, info.op3, rd, 0) | cc>>2<<18 | uint32(i.Cond&0xf)<<14 | (cc&3)<<11
		if i.HasImm {
			if !lir.IsSimm(i.Imm, 11) {
				return encoded{}, fmt.Errorf("immediate %d does not fit simm11", i.Imm)
			}
			return encoded{word: w | 1<<13 | uint32(i.Imm)&0x7ff}, nil
		}
		return encoded{word: w | rs2}, nil

	case fmtBranch:
		if i.CC == FCC0 {
			return encoded{}, fmt.Errorf("integer branch on %s", i.CC)
		}
		w := uint32(i.Cond&0xf)<<25 | 1<<22 | ccField(i.CC)<<20 | 1<<19
		if i.Annul {
			w |= 1 << 29
		}
		return encoded{word: w, branch: true}, nil

	case fmtFBranch:
		w := uint32(i.Cond&0xf)<<25 | 5<<22 | 1<<19
		if i.Annul {
			w |= 1 << 29
		}
		return encoded{word: w, branch: true}, nil

	case fmtCall:
		return encoded{word: 1 << 30, call: true}, nil

	case fmtFPop1:
		return encoded{word: format3(2, 0x34, rd, rs1) | info.opf<<5 | rs2}, nil

	case fmtFCmp:
		return encoded{word: format3(2, 0x35, 0, rs1) | info.opf<<5 | rs2}, nil

	case fmtFMovcc:
		var opfCC uint32
		switch i.CC {
		case ICC:
			opfCC = 4
		case XCC:
			opfCC = 6
		}
		return encoded{word: format3(2, 0x35, rd, 0) | uint32(i.Cond&0xf)<<14 | opfCC<<11 | info.opf<<5 | rs2}, nil

	case fmtVIS:
		return encoded{word: format3(2, 0x36, rd, 0) | info.opf<<5 | rs2}, nil
	}
	return encoded{}, fmt.Errorf("unhandled format for %s", info.name)
}
