package regmap

import (
	"log"

	"github.com/Jon-Bright/clktree/clk"
)

// BankShift is where the bank number sits in an offset handed to Banked.
const BankShift = 24

// BankOffset combines a bank number and an offset inside that bank.
func BankOffset(bank int, off uint32) uint32 {
	return uint32(bank)<<BankShift | off&(1<<BankShift-1)
}

// Banked presents several register blocks as one port, chosen by the top byte of the offset.
// SoCs whose clock registers are split over more than one block are driven through it.
type Banked struct {
	banks []clk.Port
}

func NewBanked(banks ...clk.Port) *Banked {
	return &Banked{banks: banks}
}

func (b *Banked) port(off uint32) (clk.Port, uint32) {
	n := int(off >> BankShift)
	if n >= len(b.banks) || b.banks[n] == nil {
		log.Printf("register offset %#x is in unmapped bank %d", off, n)
		return nil, 0
	}
	return b.banks[n], off & (1<<BankShift - 1)
}

func (b *Banked) Read(off uint32) uint32 {
	p, o := b.port(off)
	if p == nil {
		return 0
	}
	return p.Read(o)
}

func (b *Banked) Write(off, val uint32) {
	if p, o := b.port(off); p != nil {
		p.Write(o, val)
	}
}
