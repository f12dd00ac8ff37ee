package kernel

// MMIO is 32-bit access to device registers.
type MMIO interface {
	Read32(reg uintptr) uint32
	Write32(reg uintptr, v uint32)
	// Delay spins for roughly count cycles.
	Delay(count int32)
}

// Offsets from the peripheral base.
const (
	gpioOffset  = 0x200000
	uart0Offset = 0x201000
)

// GPIO and PL011 registers, relative to their blocks.
const (
	gppud     = 0x94
	gppudclk0 = 0x98

	uartDR   = 0x00
	uartFR   = 0x18
	uartIBRD = 0x24
	uartFBRD = 0x28
	uartLCRH = 0x2C
	uartCR   = 0x30
	uartIMSC = 0x38
	uartICR  = 0x44

	frRXFE = 1 << 4 // receive FIFO empty
	frTXFF = 1 << 5 // transmit FIFO full
)

// UART is the PL011 UART0, the kernel console.
type UART struct {
	io   MMIO
	gpio uintptr
	base uintptr
}

// NewUART returns the console for a peripheral window at periph.
func NewUART(io MMIO, periph uintptr) *UART {
	return &UART{io: io, gpio: periph + gpioOffset, base: periph + uart0Offset}
}

// Init routes GPIO 14/15 to the UART and sets 115200 8N1 with FIFOs.
func (u *UART) Init() {
	u.io.Write32(u.base+uartCR, 0)

	u.io.Write32(u.gpio+gppud, 0)
	u.io.Delay(150)
	u.io.Write32(u.gpio+gppudclk0, (1<<14)|(1<<15))
	u.io.Delay(150)
	u.io.Write32(u.gpio+gppudclk0, 0)

	u.io.Write32(u.base+uartICR, 0x7FF)

	// 3 MHz UART clock: divisor 1.627 = 1 + 40/64.
	u.io.Write32(u.base+uartIBRD, 1)
	u.io.Write32(u.base+uartFBRD, 40)

	u.io.Write32(u.base+uartLCRH, (1<<4)|(1<<5)|(1<<6))
	u.io.Write32(u.base+uartIMSC, (1<<1)|(1<<4)|(1<<5)|(1<<6)|
		(1<<7)|(1<<8)|(1<<9)|(1<<10))
	u.io.Write32(u.base+uartCR, (1<<0)|(1<<8)|(1<<9))
}

// Putc blocks until the transmit FIFO has room.
func (u *UART) Putc(c byte) {
	for u.io.Read32(u.base+uartFR)&frTXFF != 0 {
	}
	u.io.Write32(u.base+uartDR, uint32(c))
}

// Getc blocks until a byte arrives.
func (u *UART) Getc() byte {
	for u.io.Read32(u.base+uartFR)&frRXFE != 0 {
	}
	return byte(u.io.Read32(u.base + uartDR))
}

// Write sends p, expanding "\n" to "\r\n" for terminals.
func (u *UART) Write(p []byte) (int, error) {
	for _, c := range p {
		if c == '\n' {
			u.Putc('\r')
		}
		u.Putc(c)
	}
	return len(p), nil
}
