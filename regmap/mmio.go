package regmap

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"unsafe"

	mmap "github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"
)

const MEM_FILE = "/dev/mem"

// MMIO is a block of 32-bit registers mapped from physical memory.
type MMIO struct {
	name string
	buf  mmap.MMap
	regs []uint32
}

// Map maps size bytes of registers starting at physAddr from /dev/mem.
func Map(name string, physAddr uintptr, size int) (*MMIO, error) {
	return MapFile(MEM_FILE, name, physAddr, size)
}

// MapFile opens path and maps the region holding physAddr. Since the mapping has to start at a
// page boundary, the address is rounded down to the nearest page and the registers start at
// physAddr%pagesize into the mapping.
func MapFile(path, name string, physAddr uintptr, size int) (*MMIO, error) {
	if size <= 0 || size%4 != 0 {
		return nil, fmt.Errorf("couldn't map %s: size %d isn't a positive multiple of 4", name, size)
	}
	if physAddr%4 != 0 {
		return nil, fmt.Errorf("couldn't map %s: address %#x isn't 4-byte aligned", name, physAddr)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, os.ModePerm)
	if err != nil {
		return nil, fmt.Errorf("couldn't open %s: %v", path, err)
	}
	defer f.Close() // The mapping outlives the file

	pagemask := ^uintptr(unix.Getpagesize() - 1)
	mapAddr := physAddr & pagemask
	offs := physAddr - mapAddr
	mm, err := mmap.MapRegion(f, size+int(offs), mmap.RDWR, 0, int64(mapAddr))
	if err != nil {
		return nil, fmt.Errorf("couldn't map region (%#x, %d) for %s: %v", physAddr, size, name, err)
	}
	log.Printf("mapped %s: %d bytes at %#x, offset %d", name, size, physAddr, offs)
	return &MMIO{
		name: name,
		buf:  mm,
		regs: unsafe.Slice((*uint32)(unsafe.Pointer(&mm[offs])), size/4),
	}, nil
}

func (m *MMIO) reg(off uint32) *uint32 {
	if off%4 != 0 || int(off/4) >= len(m.regs) {
		log.Printf("%s: register offset %#x outside the %d-byte block", m.name, off, 4*len(m.regs))
		return nil
	}
	return &m.regs[off/4]
}

func (m *MMIO) Read(off uint32) uint32 {
	r := m.reg(off)
	if r == nil {
		return 0
	}
	return atomic.LoadUint32(r)
}

func (m *MMIO) Write(off, val uint32) {
	if r := m.reg(off); r != nil {
		atomic.StoreUint32(r, val)
	}
}

func (m *MMIO) Close() error {
	if m.buf == nil {
		return nil
	}
	err := m.buf.Unmap()
	m.buf = nil
	m.regs = nil
	return err
}
