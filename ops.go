// ═══════════════════════════════════════════════════════════════════════════
// SSM Instruction Set
// ═══════════════════════════════════════════════════════════════════════════
//
// One opcode byte followed by a fixed operand layout. Multi-byte
// operands are little-endian; jump offsets are signed and measured from
// the start of the current instruction. LONG and JTAG carry a
// length-prefixed payload, so their size is computed, not tabled.
//
// ═══════════════════════════════════════════════════════════════════════════

package ssm

// Op is a single-byte opcode.
type Op = byte

const (
	OpNOP          Op = 0  // -
	OpPOP          Op = 1  // u16 count
	OpPUSH         Op = 2  // i16 stack offset
	OpPUSHBP       Op = 3  // i16 bp offset (temporaries)
	OpPUSHAP       Op = 4  // i16 ap offset (arguments)
	OpPOPSET       Op = 5  // i16 stack offset
	OpPUSHI        Op = 6  // i32 immediate
	OpPUSHF        Op = 7  // f32 immediate
	OpPUSHFN       Op = 8  // i32 code offset
	OpPUSHGLOBAL   Op = 9  // u32 global index
	OpPOPSETGLOBAL Op = 10 // u32 global index
	OpPUSHISLONG   Op = 11 // i16 stack offset
	OpTUP          Op = 12 // u16 tag, u16 count
	OpPUSHTAG      Op = 13 // i16 stack offset
	OpPUSHLEN      Op = 14 // i16 stack offset
	OpPUSHELEM     Op = 15 // u32 element index
	OpLONG         Op = 16 // u32 length, length bytes
	OpPOPSETBYTE   Op = 17 // i16 stack offset
	OpPUSHLONGLEN  Op = 18 // i16 stack offset
	OpPUSHBYTE     Op = 19 // i16 stack offset
	OpJOIN         Op = 20 // -
	OpSUBLONG      Op = 21 // -
	OpLONGCMP      Op = 22 // -
	OpAPP          Op = 23 // u16 argc
	OpRET          Op = 24 // u16 argc
	OpRETAPP       Op = 25 // u16 argc
	OpINTADD       Op = 26 // -
	OpINTSUB       Op = 27 // -
	OpINTMUL       Op = 28 // -
	OpUINTMUL      Op = 29 // -
	OpINTDIV       Op = 30 // -
	OpUINTDIV      Op = 31 // -
	OpINTMOD       Op = 32 // -
	OpUINTMOD      Op = 33 // -
	OpINTUNM       Op = 34 // -
	OpINTSHL       Op = 35 // -
	OpINTSHR       Op = 36 // -
	OpUINTSHR      Op = 37 // -
	OpINTAND       Op = 38 // -
	OpINTOR        Op = 39 // -
	OpINTXOR       Op = 40 // -
	OpINTNEG       Op = 41 // -
	OpINTLT        Op = 42 // -
	OpINTLE        Op = 43 // -
	OpFLOATADD     Op = 44 // -
	OpFLOATSUB     Op = 45 // -
	OpFLOATMUL     Op = 46 // -
	OpFLOATDIV     Op = 47 // -
	OpFLOATUNM     Op = 48 // -
	OpFLOATLT      Op = 49 // -
	OpFLOATLE      Op = 50 // -
	OpEQ           Op = 51 // -
	OpNE           Op = 52 // -
	OpJMP          Op = 53 // i32 offset
	OpBEZ          Op = 54 // i16 offset
	OpBNE          Op = 55 // i16 offset
	OpBTAG         Op = 56 // u16 tag, i16 offset
	OpJTAG         Op = 57 // u32 length, length i32 offsets
	OpMAGIC        Op = 58 // u16 magic id
	OpXFN          Op = 59 // u16 argc, u16 reserved
	OpHEADER       Op = 60 // 4B magic, u32 size, u32 global off, u32 global count

	// NumOps bounds the opcode space; anything at or above is rejected
	// by the verifier.
	NumOps = 61
)

// opSizeVariable marks LONG and JTAG in the size table.
const opSizeVariable = 0

// opSize is the total instruction size in bytes, opcode included.
var opSize = [NumOps]uint8{
	OpNOP:          1,
	OpPOP:          3,
	OpPUSH:         3,
	OpPUSHBP:       3,
	OpPUSHAP:       3,
	OpPOPSET:       3,
	OpPUSHI:        5,
	OpPUSHF:        5,
	OpPUSHFN:       5,
	OpPUSHGLOBAL:   5,
	OpPOPSETGLOBAL: 5,
	OpPUSHISLONG:   3,
	OpTUP:          5,
	OpPUSHTAG:      3,
	OpPUSHLEN:      3,
	OpPUSHELEM:     5,
	OpLONG:         opSizeVariable,
	OpPOPSETBYTE:   3,
	OpPUSHLONGLEN:  3,
	OpPUSHBYTE:     3,
	OpJOIN:         1,
	OpSUBLONG:      1,
	OpLONGCMP:      1,
	OpAPP:          3,
	OpRET:          3,
	OpRETAPP:       3,
	OpINTADD:       1,
	OpINTSUB:       1,
	OpINTMUL:       1,
	OpUINTMUL:      1,
	OpINTDIV:       1,
	OpUINTDIV:      1,
	OpINTMOD:       1,
	OpUINTMOD:      1,
	OpINTUNM:       1,
	OpINTSHL:       1,
	OpINTSHR:       1,
	OpUINTSHR:      1,
	OpINTAND:       1,
	OpINTOR:        1,
	OpINTXOR:       1,
	OpINTNEG:       1,
	OpINTLT:        1,
	OpINTLE:        1,
	OpFLOATADD:     1,
	OpFLOATSUB:     1,
	OpFLOATMUL:     1,
	OpFLOATDIV:     1,
	OpFLOATUNM:     1,
	OpFLOATLT:      1,
	OpFLOATLE:      1,
	OpEQ:           1,
	OpNE:           1,
	OpJMP:          5,
	OpBEZ:          3,
	OpBNE:          3,
	OpBTAG:         5,
	OpJTAG:         opSizeVariable,
	OpMAGIC:        3,
	OpXFN:          5,
	OpHEADER:       17,
}

// opName is used only in diagnostics.
var opName = [NumOps]string{
	"NOP", "POP", "PUSH", "PUSHBP", "PUSHAP", "POPSET", "PUSHI", "PUSHF",
	"PUSHFN", "PUSHGLOBAL", "POPSETGLOBAL", "PUSHISLONG", "TUP", "PUSHTAG",
	"PUSHLEN", "PUSHELEM", "LONG", "POPSETBYTE", "PUSHLONGLEN", "PUSHBYTE",
	"JOIN", "SUBLONG", "LONGCMP", "APP", "RET", "RETAPP", "INTADD",
	"INTSUB", "INTMUL", "UINTMUL", "INTDIV", "UINTDIV", "INTMOD",
	"UINTMOD", "INTUNM", "INTSHL", "INTSHR", "UINTSHR", "INTAND", "INTOR",
	"INTXOR", "INTNEG", "INTLT", "INTLE", "FLOATADD", "FLOATSUB",
	"FLOATMUL", "FLOATDIV", "FLOATUNM", "FLOATLT", "FLOATLE", "EQ", "NE",
	"JMP", "BEZ", "BNE", "BTAG", "JTAG", "MAGIC", "XFN", "HEADER",
}

// ═══════════════════════════════════════════════════════════════════════════
// Magic syscall catalog
// ═══════════════════════════════════════════════════════════════════════════
//
// The catalog is reserved wire space: the verifier bounds the id, the
// interpreter faults on every entry until an implementation lands.

// Magic is a syscall id carried by OpMAGIC.
type Magic = uint16

const (
	MagicNOP        Magic = 0
	MagicPTOP       Magic = 1
	MagicHALT       Magic = 2
	MagicNEWVM      Magic = 3
	MagicNEWPROCESS Magic = 4
	MagicVMSELF     Magic = 5
	MagicVMPARENT   Magic = 6
	MagicDUP        Magic = 7
	MagicGLOBALC    Magic = 8
	MagicEXECUTE    Magic = 9
	MagicHALTED     Magic = 10
	MagicSENDMSG    Magic = 11
	MagicHASMSG     Magic = 12
	MagicRECVMSG    Magic = 13
	MagicEVAL       Magic = 14
	MagicFOPEN      Magic = 15
	MagicFCLOSE     Magic = 16
	MagicFFLUSH     Magic = 17
	MagicFREAD      Magic = 18
	MagicFWRITE     Magic = 19
	MagicFTELL      Magic = 20
	MagicFSEEK      Magic = 21
	MagicFEOF       Magic = 22
	MagicSTDREAD    Magic = 23
	MagicSTDWRITE   Magic = 24
	MagicSTDERROR   Magic = 25
	MagicREMOVE     Magic = 26
	MagicRENAME     Magic = 27
	MagicTMPFILE    Magic = 28
	MagicREADFILE   Magic = 29
	MagicWRITEFILE  Magic = 30
	MagicMALLOC     Magic = 31
	MagicFREE       Magic = 32
	MagicSRAND      Magic = 33
	MagicRAND       Magic = 34
	MagicARG        Magic = 35
	MagicENV        Magic = 36
	MagicEXIT       Magic = 37
	MagicSYSTEM     Magic = 38
	MagicPI         Magic = 39
	MagicE          Magic = 40
	MagicABS        Magic = 41
	MagicSIN        Magic = 42
	MagicCOS        Magic = 43
	MagicTAN        Magic = 44
	MagicASIN       Magic = 45
	MagicACOS       Magic = 46
	MagicATAN       Magic = 47
	MagicATAN2      Magic = 48
	MagicEXP        Magic = 49
	MagicLOG        Magic = 50
	MagicLOG10      Magic = 51
	MagicMODF       Magic = 52
	MagicPOW        Magic = 53
	MagicSQRT       Magic = 54
	MagicCEIL       Magic = 55
	MagicFLOOR      Magic = 56
	MagicFABS       Magic = 57
	MagicFMOD       Magic = 58
	MagicCLOCK      Magic = 59
	MagicTIME       Magic = 60
	MagicCWD        Magic = 61
	MagicISDIR      Magic = 62
	MagicISFILE     Magic = 63
	MagicMKDIR      Magic = 64
	MagicRMDIR      Magic = 65
	MagicCHDIR      Magic = 66
	MagicFILES      Magic = 67
	MagicJOINPATH   Magic = 68
	MagicFFILOAD    Magic = 69
	MagicOS         Magic = 70
	MagicARCH       Magic = 71
	MagicENDIAN     Magic = 72
	MagicVERSION    Magic = 73

	// NumMagics bounds the catalog; the verifier rejects ids at or
	// above it.
	NumMagics = 74
)
